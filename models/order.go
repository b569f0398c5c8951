package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/qrtrace_backend/config"
	"bitbucket.org/mmdatafocus/qrtrace_backend/utils"
	"gorm.io/gorm"
)

// Order is a read-only input to code generation. Creation and approval live in
// the buyer-side workflow; this backend only consumes approved orders.
type Order struct {
	ID                  int        `gorm:"primary_key" json:"id"`
	BusinessId          string     `gorm:"index;not null" json:"business_id"`
	OrderNo             string     `gorm:"size:50;index;not null" json:"order_no"`
	ManufacturerOrgId   int        `gorm:"index;not null" json:"manufacturer_org_id"`
	WarehouseOrgId      int        `gorm:"index" json:"warehouse_org_id"`
	ManufacturerCode    string     `gorm:"size:20;not null" json:"manufacturer_code"`
	BufferPercent       int        `gorm:"default:0" json:"buffer_percent"`
	DefaultUnitsPerCase int        `gorm:"default:0" json:"default_units_per_case"`
	PerItemCaseSize     *bool      `gorm:"not null;default:false" json:"per_item_case_size"`
	ApprovedAt          *time.Time `json:"approved_at"`
	CreatedAt           time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Items []OrderItem `gorm:"foreignKey:OrderId" json:"items"`
}

type OrderItem struct {
	ID           int       `gorm:"primary_key" json:"id"`
	BusinessId   string    `gorm:"index;not null" json:"business_id"`
	OrderId      int       `gorm:"index;not null" json:"order_id"`
	ProductCode  string    `gorm:"size:50;not null" json:"product_code"`
	VariantCode  string    `gorm:"size:50" json:"variant_code"`
	Qty          int       `gorm:"not null" json:"qty"`
	UnitsPerCase int       `gorm:"default:0" json:"units_per_case"`
	Position     int       `gorm:"default:0" json:"position"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// GetOrderWithItems loads an order and its line items in declaration order.
func GetOrderWithItems(ctx context.Context, orderId int) (*Order, error) {
	db := config.GetDB()
	var order Order
	if err := db.WithContext(ctx).
		Preload("Items", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("position ASC, id ASC")
		}).
		Where("id = ?", orderId).
		First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderVariantCodes returns the distinct variant codes of an order's items,
// cached in redis since warehouse receive hits this on every legacy-data scan.
func GetOrderVariantCodes(ctx context.Context, businessId string, orderId int) ([]string, error) {
	if orderId <= 0 {
		return nil, errors.New("order id is required")
	}

	variants := make([]string, 0)
	redisKey := fmt.Sprintf("orderVariants:%s:%d", businessId, orderId)
	exists, err := config.GetRedisObject(redisKey, &variants)
	if err != nil {
		return nil, err
	}
	if exists {
		return variants, nil
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(&OrderItem{}).
		Where("business_id = ? AND order_id = ?", businessId, orderId).
		Distinct().
		Pluck("variant_code", &variants).Error; err != nil {
		return nil, err
	}
	variants = utils.UniqueSlice(variants)

	if err := config.SetRedisObject(redisKey, &variants, 10*time.Minute); err != nil {
		return nil, err
	}
	return variants, nil
}
