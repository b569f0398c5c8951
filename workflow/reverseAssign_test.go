package workflow

import (
	"testing"

	"bitbucket.org/mmdatafocus/qrtrace_backend/models"
)

func TestClassifyJobItems(t *testing.T) {
	manualId := 77
	items := []models.QrReverseJobItem{
		{ID: 1, SpoiledSequenceNo: 10},
		{ID: 2, SpoiledSequenceNo: 11, ReplacementCodeId: &manualId},
		{ID: 3, SpoiledSequenceNo: 12},
	}

	assignments := ClassifyJobItems(items)
	if len(assignments) != 3 {
		t.Fatalf("got %d assignments, want 3", len(assignments))
	}
	if assignments[0].Manual || assignments[2].Manual {
		t.Fatal("items without replacement_code_id must be auto assignments")
	}
	if !assignments[1].Manual || assignments[1].ManualCodeId != 77 {
		t.Fatalf("item 2 should be manual pick of code 77, got %+v", assignments[1])
	}
	// Submission order is preserved.
	for i, a := range assignments {
		if a.Item.ID != items[i].ID {
			t.Fatalf("assignment %d out of order: item %d", i, a.Item.ID)
		}
	}
}

func TestValidateManualBuffer(t *testing.T) {
	buffer := func(orderId, caseNo int, status models.QrCodeStatus, isBuffer bool) *models.QrCode {
		b := isBuffer
		return &models.QrCode{OrderId: orderId, CaseNo: caseNo, Status: status, IsBuffer: &b}
	}

	cases := []struct {
		name       string
		code       *models.QrCode
		jobOrderId int
		jobCaseNo  int
		wantReason string
	}{
		{"usable available buffer", buffer(7, 3, models.QrCodeStatusBufferAvailable, true), 7, 3, ""},
		{"usable generic available buffer", buffer(7, 3, models.QrCodeStatusAvailable, true), 7, 3, ""},
		{"wrong order", buffer(999, 3, models.QrCodeStatusBufferAvailable, true), 7, 3, "replacement belongs to a different order"},
		{"wrong order with matching case", buffer(999, 1, models.QrCodeStatusBufferAvailable, true), 7, 1, "replacement belongs to a different order"},
		{"wrong case", buffer(7, 2, models.QrCodeStatusBufferAvailable, true), 7, 3, "replacement belongs to a different case"},
		{"not a buffer", buffer(7, 3, models.QrCodeStatusAvailable, false), 7, 3, "replacement is not a buffer code"},
		{"already consumed", buffer(7, 3, models.QrCodeStatusBufferUsed, true), 7, 3, "buffer already used"},
		{"spoiled buffer", buffer(7, 3, models.QrCodeStatusSpoiled, true), 7, 3, "buffer not available"},
		{"received buffer", buffer(7, 3, models.QrCodeStatusReceivedWarehouse, true), 7, 3, "buffer not available"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ValidateManualBuffer(tc.code, tc.jobOrderId, tc.jobCaseNo)
			if got != tc.wantReason {
				t.Fatalf("got reason %q, want %q", got, tc.wantReason)
			}
		})
	}

	// nil IsBuffer pointer behaves like false.
	code := &models.QrCode{OrderId: 7, CaseNo: 1, Status: models.QrCodeStatusAvailable}
	if got := ValidateManualBuffer(code, 7, 1); got != "replacement is not a buffer code" {
		t.Fatalf("nil is_buffer: got %q", got)
	}
}

func TestBufferShortfallMessage(t *testing.T) {
	err := failJob("buffer shortfall for case %d: needed %d, available %d", 4, 3, 2)
	want := "buffer shortfall for case 4: needed 3, available 2"
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
}
