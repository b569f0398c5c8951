package workflow

import (
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/qrtrace_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DeriveMasterStatus picks the status the recalculator writes.
//
// "partial" is the single canonical non-complete value (call sites used to
// disagree on this, which corrupted dashboards); "packed" is the complete
// value. Shipping/receiving statuses are owned by their own flows and are
// never demoted by a recount.
func DeriveMasterStatus(current models.MasterCodeStatus, actual, expected int) models.MasterCodeStatus {
	switch current {
	case models.MasterCodeStatusReadyToShip, models.MasterCodeStatusReceivedWarehouse:
		return current
	}
	if actual >= expected {
		return models.MasterCodeStatusPacked
	}
	return models.MasterCodeStatusPartial
}

// RecalculateMasterCaseStats recomputes a master case's aggregate unit count
// and status from its linked unit codes. Always a full recount, never an
// increment. Calling it twice in a row yields the same row, so both the
// reverse worker and warehouse receive can invoke it freely.
func RecalculateMasterCaseStats(tx *gorm.DB, logger *logrus.Logger, masterCodeId int) (int, error) {
	var master models.QrMasterCode
	if err := tx.Where("id = ?", masterCodeId).First(&master).Error; err != nil {
		return 0, fmt.Errorf("load master code %d: %w", masterCodeId, err)
	}

	var count int64
	if err := tx.Model(&models.QrCode{}).
		Where("master_code_id = ? AND status <> ?", masterCodeId, models.QrCodeStatusSpoiled).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count linked codes for master %d: %w", masterCodeId, err)
	}

	updates := map[string]interface{}{
		"actual_unit_count": int(count),
		"status":            DeriveMasterStatus(master.Status, int(count), master.ExpectedUnitCount),
	}

	// Stamp "last verified" from the most recent scan among linked codes.
	var lastScanned models.QrCode
	err := tx.Where("master_code_id = ? AND last_scanned_at IS NOT NULL", masterCodeId).
		Order("last_scanned_at DESC").
		First(&lastScanned).Error
	if err == nil {
		updates["last_verified_by"] = lastScanned.LastScannedBy
		now := time.Now().UTC()
		updates["last_verified_at"] = &now
	} else if err != gorm.ErrRecordNotFound {
		return 0, fmt.Errorf("sample last scanner for master %d: %w", masterCodeId, err)
	}

	if err := tx.Model(&models.QrMasterCode{}).
		Where("id = ?", masterCodeId).
		Updates(updates).Error; err != nil {
		return 0, fmt.Errorf("update master %d stats: %w", masterCodeId, err)
	}

	if logger != nil {
		logger.WithFields(logrus.Fields{
			"module":         "workflow",
			"master_code_id": masterCodeId,
			"actual_count":   count,
			"expected_count": master.ExpectedUnitCount,
		}).Debug("recalculated master case stats")
	}
	return int(count), nil
}
