package models

// BatchStatus is the lifecycle of one code-generation run.
type BatchStatus string

const (
	BatchStatusQueued     BatchStatus = "queued"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
)

// MasterCodeStatus tracks one physical case from generation to warehouse receipt.
//
// "partial" is the canonical non-complete value written by the recalculator;
// "packed" is its complete value. ready_to_ship and received_warehouse are set
// by shipping/receiving flows and are never demoted by recalculation.
type MasterCodeStatus string

const (
	MasterCodeStatusGenerated         MasterCodeStatus = "generated"
	MasterCodeStatusPrinted           MasterCodeStatus = "printed"
	MasterCodeStatusPartial           MasterCodeStatus = "partial"
	MasterCodeStatusPacked            MasterCodeStatus = "packed"
	MasterCodeStatusReadyToShip       MasterCodeStatus = "ready_to_ship"
	MasterCodeStatusReceivedWarehouse MasterCodeStatus = "received_warehouse"
)

// QrCodeStatus tracks one unit code.
type QrCodeStatus string

const (
	QrCodeStatusGenerated         QrCodeStatus = "generated"
	QrCodeStatusPrinted           QrCodeStatus = "printed"
	QrCodeStatusAvailable         QrCodeStatus = "available"
	QrCodeStatusBufferAvailable   QrCodeStatus = "buffer_available"
	QrCodeStatusBufferUsed        QrCodeStatus = "buffer_used"
	QrCodeStatusSpoiled           QrCodeStatus = "spoiled"
	QrCodeStatusPacked            QrCodeStatus = "packed"
	QrCodeStatusReceivedWarehouse QrCodeStatus = "received_warehouse"
)

// ReverseJobStatus is the lifecycle of one spoiled-code reconciliation request.
type ReverseJobStatus string

const (
	ReverseJobStatusQueued    ReverseJobStatus = "queued"
	ReverseJobStatusRunning   ReverseJobStatus = "running"
	ReverseJobStatusCompleted ReverseJobStatus = "completed"
	ReverseJobStatusFailed    ReverseJobStatus = "failed"
	ReverseJobStatusCancelled ReverseJobStatus = "cancelled"
)

// ReverseJobItemStatus is the per-item outcome within a reverse job.
type ReverseJobItemStatus string

const (
	ReverseJobItemStatusPending  ReverseJobItemStatus = "pending"
	ReverseJobItemStatusReplaced ReverseJobItemStatus = "replaced"
	ReverseJobItemStatusFailed   ReverseJobItemStatus = "failed"
)

// StockMovementType classifies inventory postings made through record_stock_movement.
type StockMovementType string

const (
	StockMovementTypeReceiveWarehouse StockMovementType = "receive_warehouse"
	StockMovementTypeAdjustment       StockMovementType = "adjustment"
)

// QrEventType values published through the event outbox.
type QrEventType string

const (
	QrEventTypeBatchCompleted      QrEventType = "qr_batch_completed"
	QrEventTypeReverseJobCompleted QrEventType = "qr_reverse_job_completed"
	QrEventTypeCaseReceived        QrEventType = "qr_case_received"
)

// QrEventReferenceType names the aggregate an outbox event points at.
type QrEventReferenceType string

const (
	QrEventReferenceTypeBatch      QrEventReferenceType = "qr_batch"
	QrEventReferenceTypeReverseJob QrEventReferenceType = "qr_reverse_job"
	QrEventReferenceTypeMasterCode QrEventReferenceType = "qr_master_code"
)

// Outbox publish lifecycle.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)
