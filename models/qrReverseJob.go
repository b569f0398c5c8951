package models

import (
	"time"
)

// QrReverseJob is one case's worth of spoiled-code replacement work, submitted
// from the manufacturing floor and consumed by the Mode C reverse worker.
type QrReverseJob struct {
	ID          int              `gorm:"primary_key" json:"id"`
	BusinessId  string           `gorm:"index;not null" json:"business_id"`
	OrderId     int              `gorm:"index;not null" json:"order_id"`
	BatchId     int              `gorm:"index" json:"batch_id"`
	CaseNo      int              `gorm:"not null" json:"case_no"`
	VariantCode string           `gorm:"size:50" json:"variant_code"`
	Status      ReverseJobStatus `gorm:"size:20;index;default:queued" json:"status"`

	TotalItems     int `gorm:"default:0" json:"total_items"`
	ReplacedCount  int `gorm:"default:0" json:"replaced_count"`
	FailedCount    int `gorm:"default:0" json:"failed_count"`
	FinalUnitCount int `gorm:"default:0" json:"final_unit_count"`

	SubmittedBy  *int       `json:"submitted_by"`
	StartedAt    *time.Time `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`
	ErrorMessage *string    `gorm:"type:text" json:"error_message"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Items []QrReverseJobItem `gorm:"foreignKey:JobId" json:"items"`
}

// QrReverseJobItem is one spoiled sequence to replace. ReplacementCodeId is the
// operator's manual buffer choice; nil means the worker auto-assigns from the
// case's buffer pool.
type QrReverseJobItem struct {
	ID                int                  `gorm:"primary_key" json:"id"`
	BusinessId        string               `gorm:"index;not null" json:"business_id"`
	JobId             int                  `gorm:"index;not null" json:"job_id"`
	SpoiledSequenceNo int                  `gorm:"not null" json:"spoiled_sequence_no"`
	ReplacementCodeId *int                 `json:"replacement_code_id"`
	Status            ReverseJobItemStatus `gorm:"size:20;index;default:pending" json:"status"`

	ReplacedByCodeId     *int    `json:"replaced_by_code_id"`
	ReplacedBySequenceNo *int    `json:"replaced_by_sequence_no"`
	FailureReason        *string `gorm:"size:255" json:"failure_reason"`

	ProcessedAt *time.Time `gorm:"index" json:"processed_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
}
