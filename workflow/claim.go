package workflow

import (
	"gorm.io/gorm"
)

// TryClaim is the claim primitive every worker uses: a conditional
// "set status=to where status=from" update. Exactly one of two concurrent
// claimants sees RowsAffected=1; the loser moves on to the next candidate.
// All mutual exclusion in this codebase is expressed this way: there are no
// in-process locks to coordinate the stateless, time-boxed invocations.
func TryClaim(tx *gorm.DB, model interface{}, id int, fromStatus, toStatus interface{}) (bool, error) {
	res := tx.Model(model).
		Where("id = ? AND status = ?", id, fromStatus).
		Update("status", toStatus)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// TryClaimWith is TryClaim plus extra columns written atomically with the
// transition (claim stamps, started_at and the like).
func TryClaimWith(tx *gorm.DB, model interface{}, id int, fromStatus, toStatus interface{}, extra map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": toStatus}
	for k, v := range extra {
		updates[k] = v
	}
	res := tx.Model(model).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
