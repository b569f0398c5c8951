package models

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ProductInventory is the per (org, variant) on-hand view with case/unit
// breakdown. It is mutated ONLY through record_stock_movement postings;
// this model is never written directly by application code.
type ProductInventory struct {
	ID           int             `gorm:"primary_key" json:"id"`
	BusinessId   string          `gorm:"index:idx_inventory_biz_org_variant,priority:1;not null" json:"business_id"`
	OrgId        int             `gorm:"index:idx_inventory_biz_org_variant,priority:2;not null" json:"org_id"`
	VariantCode  string          `gorm:"index:idx_inventory_biz_org_variant,priority:3;size:50" json:"variant_code"`
	QtyOnHand    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty_on_hand"`
	QtyAvailable decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty_available"`
	CaseQty      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"case_qty"`
	UnitQty      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_qty"`
}

// RecordStockMovement posts one inventory delta through the stored procedure,
// the sole writer of inventory state, and returns the movement id.
// Quantities are the COUNTED values, never the nominal/expected ones.
func RecordStockMovement(tx *gorm.DB, ctx context.Context, businessId string, movementType StockMovementType,
	variantCode string, orgId int, qtyChange decimal.Decimal, caseChange int,
	referenceType string, referenceId int) (int, error) {

	if businessId == "" {
		return 0, errors.New("business id is required")
	}
	if orgId <= 0 {
		return 0, errors.New("org id is required")
	}

	var movementId int
	err := tx.WithContext(ctx).Raw(
		"SELECT record_stock_movement(?, ?, ?, ?, ?, ?, ?, ?)",
		businessId, string(movementType), variantCode, orgId,
		qtyChange, caseChange, referenceType, referenceId,
	).Scan(&movementId).Error
	if err != nil {
		return 0, err
	}
	if movementId <= 0 {
		return 0, errors.New("record_stock_movement returned no movement id")
	}
	return movementId, nil
}
