package models

import (
	"time"
)

// QrCode represents one individually trackable item.
//
// The (batch_id, sequence_no) unique key makes a re-run of an already-inserted
// chunk a safe no-op: the pipeline inserts with ON CONFLICT DO NOTHING, so a
// crash between a chunk insert and the checkpoint write can never duplicate rows.
type QrCode struct {
	ID          int          `gorm:"primary_key" json:"id"`
	BusinessId  string       `gorm:"index;not null" json:"business_id"`
	BatchId     int          `gorm:"uniqueIndex:uniq_qr_codes_batch_seq,priority:1;not null" json:"batch_id"`
	OrderId     int          `gorm:"index;not null" json:"order_id"`
	Code        string       `gorm:"size:64;uniqueIndex;not null" json:"code"`
	SequenceNo  int          `gorm:"uniqueIndex:uniq_qr_codes_batch_seq,priority:2;not null" json:"sequence_no"`
	CaseNo      int          `gorm:"index;not null" json:"case_no"`
	ProductCode string       `gorm:"size:50" json:"product_code"`
	VariantCode string       `gorm:"size:50;index" json:"variant_code"`
	IsBuffer    *bool        `gorm:"not null;default:false;index" json:"is_buffer"`
	Status      QrCodeStatus `gorm:"size:30;index;default:generated" json:"status"`

	MasterCodeId       *int `gorm:"index" json:"master_code_id"`
	ReplacesSequenceNo *int `json:"replaces_sequence_no"`

	LastScannedBy *int       `json:"last_scanned_by"`
	LastScannedAt *time.Time `json:"last_scanned_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
