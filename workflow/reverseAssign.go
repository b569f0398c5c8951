package workflow

import (
	"bitbucket.org/mmdatafocus/qrtrace_backend/models"
	"bitbucket.org/mmdatafocus/qrtrace_backend/utils"
)

// ReplacementAssignment tags one pending job item as either a manual operator
// pick or a candidate for auto-assignment from the case's buffer pool.
type ReplacementAssignment struct {
	Item         models.QrReverseJobItem
	Manual       bool
	ManualCodeId int
}

// ResolvedReplacement pairs a spoiled sequence with the buffer that takes its
// place.
type ResolvedReplacement struct {
	ItemId            int
	SpoiledSequenceNo int
	Buffer            models.QrCode
}

// ItemFailure is an item-level failure that does not abort the job.
type ItemFailure struct {
	ItemId int
	Reason string
}

// ClassifyJobItems splits pending items into manual and auto assignments.
// An item with a replacement_code_id is an operator pick and is validated
// individually; everything else draws from the pool.
func ClassifyJobItems(items []models.QrReverseJobItem) []ReplacementAssignment {
	assignments := make([]ReplacementAssignment, 0, len(items))
	for _, it := range items {
		a := ReplacementAssignment{Item: it}
		if it.ReplacementCodeId != nil {
			a.Manual = true
			a.ManualCodeId = *it.ReplacementCodeId
		}
		assignments = append(assignments, a)
	}
	return assignments
}

// ValidateManualBuffer checks an operator-picked replacement against the job's
// order and case. Returns an empty string when the pick is usable, otherwise
// the reason recorded on the failed item. Buffers never cross orders or cases.
func ValidateManualBuffer(code *models.QrCode, jobOrderId, jobCaseNo int) string {
	if code.OrderId != jobOrderId {
		return "replacement belongs to a different order"
	}
	if code.CaseNo != jobCaseNo {
		return "replacement belongs to a different case"
	}
	if !utils.DereferencePtr(code.IsBuffer) {
		return "replacement is not a buffer code"
	}
	switch code.Status {
	case models.QrCodeStatusBufferUsed:
		return "buffer already used"
	case models.QrCodeStatusAvailable, models.QrCodeStatusBufferAvailable:
		return ""
	default:
		return "buffer not available"
	}
}
