package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/qrtrace_backend/config"
	"bitbucket.org/mmdatafocus/qrtrace_backend/models"
	"bitbucket.org/mmdatafocus/qrtrace_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type ReceiveOutcome string

const (
	ReceiveOutcomeReceived         ReceiveOutcome = "received"
	ReceiveOutcomeAlreadyReceived  ReceiveOutcome = "already_received"
	ReceiveOutcomeWrongOrder       ReceiveOutcome = "wrong_order"
	ReceiveOutcomeNotFound         ReceiveOutcome = "not_found"
	ReceiveOutcomeInvalidStatus    ReceiveOutcome = "invalid_status"
	ReceiveOutcomeDuplicateRequest ReceiveOutcome = "duplicate_request"
	ReceiveOutcomeInvalidFormat    ReceiveOutcome = "invalid_format"
	ReceiveOutcomeError            ReceiveOutcome = "error"
)

// ReceiveRequest carries one scan batch. OrderId is an optional constraint:
// when set, every scanned master must belong to it (wrong_order otherwise);
// when zero, each master resolves its own order. WarehouseOrgId falls back to
// the master's stamped warehouse when zero.
type ReceiveRequest struct {
	OrderId        int      `json:"order_id" validate:"omitempty,gt=0"`
	WarehouseOrgId int      `json:"warehouse_org_id" validate:"omitempty,gt=0"`
	Codes          []string `json:"codes" validate:"required,min=1,max=500"`
	IdempotencyKey string   `json:"idempotency_key"`
	ActorId        *int     `json:"actor_id"`
}

type ReceiveCodeResult struct {
	Code       string         `json:"code"`
	Outcome    ReceiveOutcome `json:"outcome"`
	CaseNo     int            `json:"case_no,omitempty"`
	UnitCount  int            `json:"unit_count,omitempty"`
	MovementId int            `json:"movement_id,omitempty"`
	ReceivedAt *time.Time     `json:"received_at,omitempty"`
	ReceivedBy *int           `json:"received_by,omitempty"`
	Message    string         `json:"message,omitempty"`
}

type ReceiveSummary struct {
	OrderId          int                 `json:"order_id"`
	Received         int                 `json:"received"`
	AlreadyReceived  int                 `json:"already_received"`
	WrongOrder       int                 `json:"wrong_order"`
	NotFound         int                 `json:"not_found"`
	InvalidStatus    int                 `json:"invalid_status"`
	DuplicateRequest int                 `json:"duplicate_request"`
	InvalidFormat    int                 `json:"invalid_format"`
	Errors           int                 `json:"errors"`
	Failed           int                 `json:"failed"`
	Results          []ReceiveCodeResult `json:"results"`
}

// addOutcome tallies one per-code outcome into the summary. Failed stays the
// total of every non-success outcome on top of the per-outcome counters.
func (s *ReceiveSummary) addOutcome(outcome ReceiveOutcome) {
	switch outcome {
	case ReceiveOutcomeReceived:
		s.Received++
		return
	case ReceiveOutcomeAlreadyReceived:
		s.AlreadyReceived++
		return
	case ReceiveOutcomeWrongOrder:
		s.WrongOrder++
	case ReceiveOutcomeNotFound:
		s.NotFound++
	case ReceiveOutcomeInvalidStatus:
		s.InvalidStatus++
	case ReceiveOutcomeDuplicateRequest:
		s.DuplicateRequest++
	case ReceiveOutcomeInvalidFormat:
		s.InvalidFormat++
	default:
		s.Errors++
	}
	s.Failed++
}

// WarehouseReceiveService scans a batch of master codes into a warehouse:
// integrity check, status transitions, inventory postings, and the movement
// audit trail, one transaction per case.
type WarehouseReceiveService struct {
	DB     *gorm.DB
	Logger *logrus.Logger
	Now    func() time.Time
}

func NewWarehouseReceiveService(db *gorm.DB, logger *logrus.Logger) *WarehouseReceiveService {
	return &WarehouseReceiveService{DB: db, Logger: logger, Now: time.Now}
}

// NormalizeScannedCode reduces a raw scanner payload to the bare code value.
// Scanner apps often deliver the full printed URL; only the last path segment
// is the code. Returns ok=false when nothing usable remains.
func NormalizeScannedCode(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return "", false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '-' && r != '_' {
			return "", false
		}
	}
	return s, true
}

// SummarizeVariantCounts groups a case's countable unit codes by variant so
// each variant gets its own inventory posting.
func SummarizeVariantCounts(units []models.QrCode) map[string]int {
	counts := make(map[string]int)
	for _, u := range units {
		counts[u.VariantCode]++
	}
	return counts
}

// Receive processes every scanned code independently and returns a per-code
// outcome plus an aggregate summary. A bad code never blocks its siblings.
func (s *WarehouseReceiveService) Receive(ctx context.Context, req *ReceiveRequest) (*ReceiveSummary, error) {
	if fieldErrors := utils.ValidateStruct(req); len(fieldErrors) > 0 {
		return nil, fmt.Errorf("invalid receive request: %v", fieldErrors)
	}
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, fmt.Errorf("business id is required in context")
	}

	// Request-level idempotency, best effort: a retried request with the same
	// key gets the original summary back instead of double-posting inventory.
	cacheKey := ""
	if req.IdempotencyKey != "" {
		cacheKey = fmt.Sprintf("qrReceive:%s:%s", businessId, req.IdempotencyKey)
		if cached, found, err := config.GetRedisValue(cacheKey); err == nil && found {
			var summary ReceiveSummary
			if err := utils.UnmarshalFromJSON([]byte(cached), &summary); err == nil {
				return &summary, nil
			}
		}
	}

	var constraining *models.Order
	if req.OrderId > 0 {
		order, err := models.GetOrderWithItems(ctx, req.OrderId)
		if err != nil {
			return nil, fmt.Errorf("load order %d: %w", req.OrderId, err)
		}
		constraining = order
	}

	summary := &ReceiveSummary{OrderId: req.OrderId}
	seen := make(map[string]bool, len(req.Codes))

	for _, raw := range req.Codes {
		result := s.receiveOne(ctx, businessId, constraining, req, raw, seen)
		summary.Results = append(summary.Results, result)
		summary.addOutcome(result.Outcome)
	}

	if cacheKey != "" {
		if encoded, err := utils.MarshalToJSON(summary); err == nil {
			_ = config.SetRedisValue(cacheKey, encoded, 24*time.Hour)
		}
	}
	return summary, nil
}

func (s *WarehouseReceiveService) receiveOne(ctx context.Context, businessId string, constraining *models.Order,
	req *ReceiveRequest, raw string, seen map[string]bool) ReceiveCodeResult {

	code, ok := NormalizeScannedCode(raw)
	if !ok {
		return ReceiveCodeResult{Code: raw, Outcome: ReceiveOutcomeInvalidFormat, Message: "unrecognized code format"}
	}
	if seen[code] {
		return ReceiveCodeResult{Code: code, Outcome: ReceiveOutcomeDuplicateRequest, Message: "code repeated in request"}
	}
	seen[code] = true

	db := s.DB.WithContext(ctx)

	var master models.QrMasterCode
	if err := db.Where("code = ?", code).First(&master).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return ReceiveCodeResult{Code: code, Outcome: ReceiveOutcomeNotFound, Message: "master code not found"}
		}
		config.LogError(s.Logger, "warehouseReceive", "receiveOne", "load master", code, err)
		return ReceiveCodeResult{Code: code, Outcome: ReceiveOutcomeError, Message: "store error"}
	}

	if constraining != nil && master.OrderId != constraining.ID {
		return ReceiveCodeResult{Code: code, Outcome: ReceiveOutcomeWrongOrder, CaseNo: master.CaseNo,
			Message: fmt.Sprintf("master belongs to order %d", master.OrderId)}
	}
	if master.Status == models.MasterCodeStatusReceivedWarehouse {
		return ReceiveCodeResult{Code: code, Outcome: ReceiveOutcomeAlreadyReceived, CaseNo: master.CaseNo,
			UnitCount: master.ActualUnitCount, ReceivedAt: master.ReceivedAt, ReceivedBy: master.ReceivedBy}
	}

	if master.Status != models.MasterCodeStatusPacked && master.Status != models.MasterCodeStatusReadyToShip {
		return ReceiveCodeResult{Code: code, Outcome: ReceiveOutcomeInvalidStatus, CaseNo: master.CaseNo,
			Message: fmt.Sprintf("master is %s, expected packed or ready_to_ship", master.Status)}
	}

	order := constraining
	if order == nil {
		resolved, err := models.GetOrderWithItems(ctx, master.OrderId)
		if err != nil {
			config.LogError(s.Logger, "warehouseReceive", "receiveOne", "resolve order", master.OrderId, err)
			return ReceiveCodeResult{Code: code, Outcome: ReceiveOutcomeError, CaseNo: master.CaseNo,
				Message: fmt.Sprintf("resolve order %d: %v", master.OrderId, err)}
		}
		order = resolved
	}

	orgId := req.WarehouseOrgId
	if orgId == 0 {
		orgId = master.WarehouseOrgId
	}

	var units []models.QrCode
	if err := db.
		Where("master_code_id = ? AND status <> ?", master.ID, models.QrCodeStatusSpoiled).
		Find(&units).Error; err != nil {
		config.LogError(s.Logger, "warehouseReceive", "receiveOne", "load units", master.ID, err)
		return ReceiveCodeResult{Code: code, Outcome: ReceiveOutcomeError, Message: "store error"}
	}

	// Integrity gate: the physical case must match the system exactly.
	for _, u := range units {
		if u.CaseNo != master.CaseNo {
			return ReceiveCodeResult{Code: code, Outcome: ReceiveOutcomeError, CaseNo: master.CaseNo,
				Message: fmt.Sprintf("unit sequence %d is linked across cases (%d vs %d)", u.SequenceNo, u.CaseNo, master.CaseNo)}
		}
	}
	if len(units) != master.ExpectedUnitCount {
		return ReceiveCodeResult{Code: code, Outcome: ReceiveOutcomeError, CaseNo: master.CaseNo,
			UnitCount: len(units),
			Message:   fmt.Sprintf("case integrity check failed: expected %d units, found %d", master.ExpectedUnitCount, len(units))}
	}

	variantCounts := SummarizeVariantCounts(units)
	if blank := variantCounts[""]; blank > 0 {
		attributed, err := s.attributeBlankVariants(ctx, businessId, order, variantCounts, blank)
		if err != nil {
			return ReceiveCodeResult{Code: code, Outcome: ReceiveOutcomeError, CaseNo: master.CaseNo, Message: err.Error()}
		}
		if !attributed {
			return ReceiveCodeResult{Code: code, Outcome: ReceiveOutcomeError, CaseNo: master.CaseNo,
				Message: fmt.Sprintf("%d units have no variant code", blank)}
		}
	}

	movementId := 0
	err := db.Transaction(func(tx *gorm.DB) error {
		now := s.Now().UTC()
		if err := tx.Model(&models.QrCode{}).
			Where("master_code_id = ? AND status <> ?", master.ID, models.QrCodeStatusSpoiled).
			Updates(map[string]interface{}{
				"status":          models.QrCodeStatusReceivedWarehouse,
				"last_scanned_by": req.ActorId,
				"last_scanned_at": &now,
			}).Error; err != nil {
			return err
		}

		res := tx.Model(&models.QrMasterCode{}).
			Where("id = ? AND status IN ?", master.ID,
				[]models.MasterCodeStatus{models.MasterCodeStatusPacked, models.MasterCodeStatusReadyToShip}).
			Updates(map[string]interface{}{
				"status":      models.MasterCodeStatusReceivedWarehouse,
				"received_at": &now,
				"received_by": req.ActorId,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("master %s changed status concurrently", master.Code)
		}

		// One posting per variant; the whole-case credit goes with the case's
		// single variant only; a mixed case has no meaningful case quantity.
		singleVariant := len(variantCounts) == 1
		for variant, qty := range variantCounts {
			caseChange := 0
			if singleVariant {
				caseChange = 1
			}
			if _, err := models.RecordStockMovement(tx, ctx, businessId,
				models.StockMovementTypeReceiveWarehouse, variant, orgId,
				decimal.NewFromInt(int64(qty)), caseChange,
				string(models.QrEventReferenceTypeMasterCode), master.ID); err != nil {
				return err
			}
		}

		movement := models.QrMovement{
			BusinessId:    businessId,
			MovementType:  models.StockMovementTypeReceiveWarehouse,
			MasterCodeId:  master.ID,
			OrderId:       order.ID,
			CaseNo:        master.CaseNo,
			UnitCount:     len(units),
			OrgId:         orgId,
			ActorId:       req.ActorId,
			CorrelationId: correlationIdOrEmpty(ctx),
		}
		if err := tx.Create(&movement).Error; err != nil {
			return err
		}
		movementId = movement.ID

		if _, err := RecalculateMasterCaseStats(tx, s.Logger, master.ID); err != nil {
			return err
		}

		return models.EmitQrEvent(ctx, tx, businessId, master.ID,
			models.QrEventReferenceTypeMasterCode, models.QrEventTypeCaseReceived,
			map[string]interface{}{
				"order_id":   order.ID,
				"case_no":    master.CaseNo,
				"unit_count": len(units),
				"org_id":     orgId,
			})
	})
	if err != nil {
		config.LogError(s.Logger, "warehouseReceive", "receiveOne", "receive transaction", master.ID, err)
		return ReceiveCodeResult{Code: code, Outcome: ReceiveOutcomeError, CaseNo: master.CaseNo, Message: err.Error()}
	}

	return ReceiveCodeResult{
		Code:       code,
		Outcome:    ReceiveOutcomeReceived,
		CaseNo:     master.CaseNo,
		UnitCount:  len(units),
		MovementId: movementId,
	}
}

// attributeBlankVariants folds units carrying no variant code into the order's
// sole variant. Old printing runs stamped units with only a product code; those
// orders always carried exactly one variant, so the attribution is safe. Gated
// so the fallback can be switched off once the legacy stock drains.
func (s *WarehouseReceiveService) attributeBlankVariants(ctx context.Context, businessId string,
	order *models.Order, variantCounts map[string]int, blank int) (bool, error) {

	if !config.ReceiveLegacyVariantFallback() {
		return false, nil
	}
	variants, err := models.GetOrderVariantCodes(ctx, businessId, order.ID)
	if err != nil {
		return false, fmt.Errorf("resolve order variants: %w", err)
	}
	if len(variants) != 1 {
		return false, nil
	}
	delete(variantCounts, "")
	variantCounts[variants[0]] += blank
	return true, nil
}

func correlationIdOrEmpty(ctx context.Context) string {
	if id, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		return id
	}
	return ""
}
