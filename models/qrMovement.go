package models

import (
	"time"
)

// QrMovement is the append-only movement/audit log. Every warehouse receive
// writes one row per master code, independent of the inventory posting.
type QrMovement struct {
	ID           int               `gorm:"primary_key" json:"id"`
	BusinessId   string            `gorm:"index;not null" json:"business_id"`
	MovementType StockMovementType `gorm:"size:30;index;not null" json:"movement_type"`
	MasterCodeId int               `gorm:"index;not null" json:"master_code_id"`
	OrderId      int               `gorm:"index" json:"order_id"`
	CaseNo       int               `json:"case_no"`
	UnitCount    int               `json:"unit_count"`
	OrgId        int               `gorm:"index" json:"org_id"`

	ActorId       *int      `json:"actor_id"`
	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}
