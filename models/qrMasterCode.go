package models

import (
	"time"
)

// QrMasterCode represents one physical case aggregating many unit codes.
//
// actual_unit_count must always equal the count of non-spoiled unit codes whose
// master_code_id references this row; the recalculator is the sole writer that
// enforces this.
type QrMasterCode struct {
	ID                int              `gorm:"primary_key" json:"id"`
	BusinessId        string           `gorm:"index;not null" json:"business_id"`
	BatchId           int              `gorm:"index;not null" json:"batch_id"`
	OrderId           int              `gorm:"index;not null" json:"order_id"`
	Code              string           `gorm:"size:64;uniqueIndex;not null" json:"code"`
	CaseNo            int              `gorm:"index;not null" json:"case_no"`
	VariantCode       string           `gorm:"size:50" json:"variant_code"`
	ExpectedUnitCount int              `gorm:"not null" json:"expected_unit_count"`
	ActualUnitCount   int              `gorm:"default:0" json:"actual_unit_count"`
	Status            MasterCodeStatus `gorm:"size:30;index;default:generated" json:"status"`
	ManufacturerOrgId int              `gorm:"index" json:"manufacturer_org_id"`
	WarehouseOrgId    int              `gorm:"index" json:"warehouse_org_id"`

	ReceivedAt     *time.Time `json:"received_at"`
	ReceivedBy     *int       `json:"received_by"`
	LastVerifiedBy *int       `json:"last_verified_by"`
	LastVerifiedAt *time.Time `json:"last_verified_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
