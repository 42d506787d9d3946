package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Model struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Actor is the resolved identity performing a command. Authentication and
// role resolution happen upstream; the engine only records what it is handed.
type Actor struct {
	ID    uuid.UUID `json:"id" validate:"required"`
	Email string    `json:"email" validate:"required,email"`
	Role  string    `json:"role" validate:"required"`
}

// Payment is owned by the external ledger. Amounts are minor units.
type Payment struct {
	ID            uuid.UUID     `json:"id" validate:"required"`
	TransactionID string        `json:"transaction_id,omitempty"`
	AppointmentID string        `json:"appointment_id,omitempty"`
	MemberID      uuid.UUID     `json:"member_id"`
	MemberType    MemberType    `json:"member_type,omitempty"`
	Amount        int64         `json:"amount" validate:"required,gt=0"`
	Currency      string        `json:"currency" validate:"required,len=3"`
	Method        PaymentMethod `json:"method" validate:"required"`
	Status        PaymentStatus `json:"status" validate:"required"`
	RefundAmount  int64         `json:"refund_amount,omitempty"`
	RefundedAt    *time.Time    `json:"refunded_at,omitempty"`
	Model
}

type RefundRequest struct {
	ID              uuid.UUID       `json:"id" validate:"required"`
	RequestNumber   string          `json:"request_number"`
	PaymentID       uuid.UUID       `json:"payment_id" validate:"required"`
	OriginalAmount  int64           `json:"original_amount" validate:"required,gt=0"`
	RefundAmount    int64           `json:"refund_amount" validate:"required,gt=0"`
	RefundType      RefundType      `json:"refund_type" validate:"required,oneof=FULL PARTIAL"`
	RefundMethod    RefundMethod    `json:"refund_method" validate:"required"`
	Reason          string          `json:"reason" validate:"required"`
	Status          RefundStatus    `json:"status" validate:"required"`
	RequestedBy     Actor           `json:"requested_by"`
	ApprovedBy      *Actor          `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time      `json:"approved_at,omitempty"`
	RejectedBy      *Actor          `json:"rejected_by,omitempty"`
	RejectedAt      *time.Time      `json:"rejected_at,omitempty"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
	ProcessedBy     *Actor          `json:"processed_by,omitempty"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	GatewayRefundID string          `json:"gateway_refund_id,omitempty"`
	GatewayResponse json.RawMessage `json:"gateway_response,omitempty"`
	IdempotencyKey  string          `json:"idempotency_key" validate:"required"`
	Model
}

type ReversalRequest struct {
	ID                uuid.UUID       `json:"id" validate:"required"`
	RequestNumber     string          `json:"request_number"`
	PaymentID         uuid.UUID       `json:"payment_id" validate:"required"`
	OriginalAmount    int64           `json:"original_amount" validate:"required,gt=0"`
	ReversalType      ReversalType    `json:"reversal_type" validate:"required"`
	Reason            string          `json:"reason" validate:"required"`
	AutoDetected      bool            `json:"auto_detected"`
	Status            ReversalStatus  `json:"status" validate:"required"`
	RequestedBy       Actor           `json:"requested_by"`
	ProcessedBy       *Actor          `json:"processed_by,omitempty"`
	ProcessedAt       *time.Time      `json:"processed_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	GatewayReversalID string          `json:"gateway_reversal_id,omitempty"`
	GatewayResponse   json.RawMessage `json:"gateway_response,omitempty"`
	IdempotencyKey    string          `json:"idempotency_key" validate:"required"`
	Model
}

type TopUpRequest struct {
	ID              uuid.UUID   `json:"id" validate:"required"`
	RequestNumber   string      `json:"request_number"`
	MemberID        uuid.UUID   `json:"member_id" validate:"required"`
	MemberType      MemberType  `json:"member_type" validate:"required"`
	Amount          int64       `json:"amount" validate:"required,gt=0"`
	PreviousBalance int64       `json:"previous_balance"`
	NewBalance      int64       `json:"new_balance"`
	Method          TopUpMethod `json:"method" validate:"required"`
	Reason          string      `json:"reason" validate:"required"`
	Status          TopUpStatus `json:"status" validate:"required"`
	ProcessedBy     Actor       `json:"processed_by"`
	ApprovedBy      *Actor      `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time  `json:"approved_at,omitempty"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
	IdempotencyKey  string      `json:"idempotency_key" validate:"required"`
	Model
}

// AuditLogEntry is append-only. Rows are never updated or deleted.
type AuditLogEntry struct {
	ID                int64           `json:"id"`
	Action            AuditAction     `json:"action" validate:"required"`
	PaymentID         *uuid.UUID      `json:"payment_id,omitempty"`
	RefundRequestID   *uuid.UUID      `json:"refund_request_id,omitempty"`
	ReversalRequestID *uuid.UUID      `json:"reversal_request_id,omitempty"`
	TopUpRequestID    *uuid.UUID      `json:"top_up_request_id,omitempty"`
	Actor             Actor           `json:"actor" validate:"required"`
	PreviousState     json.RawMessage `json:"previous_state,omitempty"`
	NewState          json.RawMessage `json:"new_state,omitempty"`
	Amount            int64           `json:"amount,omitempty"`
	Reason            string          `json:"reason,omitempty"`
	Metadata          json.RawMessage `json:"metadata,omitempty"`
	IdempotencyKey    string          `json:"idempotency_key,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

type ReconciliationRun struct {
	ID                     uuid.UUID            `json:"id" validate:"required"`
	RunNumber              string               `json:"run_number"`
	StartDate              time.Time            `json:"start_date" validate:"required"`
	EndDate                time.Time            `json:"end_date" validate:"required"`
	TotalTransactions      int                  `json:"total_transactions"`
	MatchedTransactions    int                  `json:"matched_transactions"`
	MismatchedTransactions int                  `json:"mismatched_transactions"`
	IncompleteTransactions int                  `json:"incomplete_transactions"`
	TotalAmount            int64                `json:"total_amount"`
	MatchedAmount          int64                `json:"matched_amount"`
	MismatchedAmount       int64                `json:"mismatched_amount"`
	Status                 ReconciliationStatus `json:"status" validate:"required"`
	Discrepancies          []Discrepancy        `json:"discrepancies,omitempty"`
	SuccessRate            float64              `json:"success_rate"`
	PerformedBy            Actor                `json:"performed_by"`
	CompletedAt            *time.Time           `json:"completed_at,omitempty"`
	Model
}

type Discrepancy struct {
	PaymentID      uuid.UUID       `json:"payment_id" validate:"required"`
	TransactionID  string          `json:"transaction_id,omitempty"`
	ExpectedStatus PaymentStatus   `json:"expected_status"`
	ActualStatus   PaymentStatus   `json:"actual_status"`
	ExpectedAmount int64           `json:"expected_amount"`
	ActualAmount   int64           `json:"actual_amount"`
	Type           DiscrepancyType `json:"type" validate:"required,oneof=INCOMPLETE STATUS_MISMATCH"`
	Details        string          `json:"details"`
}

// PaymentOption is per-member enablement and limit configuration for one
// payment method. Not a state machine; consulted by workflows.
type PaymentOption struct {
	ID                  uuid.UUID     `json:"id" validate:"required"`
	MemberID            uuid.UUID     `json:"member_id" validate:"required"`
	MemberType          MemberType    `json:"member_type" validate:"required"`
	Method              PaymentMethod `json:"method" validate:"required"`
	Enabled             bool          `json:"enabled"`
	Default             bool          `json:"default"`
	MaxTransactionLimit int64         `json:"max_transaction_limit,omitempty"`
	DailyLimit          int64         `json:"daily_limit,omitempty"`
	MonthlyLimit        int64         `json:"monthly_limit,omitempty"`
	ConfiguredBy        Actor         `json:"configured_by"`
	Model
}
