// Package types holds the command and query DTOs exchanged with the thin
// transport layer. Queries are explicit structs with typed optional fields,
// resolved once at the command boundary.
package types

import (
	"encoding/json"
	"time"

	"github.com/carebook/paydesk/internal/model"
	"github.com/google/uuid"
)

type InitiateRefundRequest struct {
	PaymentID    uuid.UUID          `json:"payment_id" validate:"required"`
	RefundAmount int64              `json:"refund_amount" validate:"required,gt=0"`
	RefundType   model.RefundType   `json:"refund_type" validate:"required,oneof=FULL PARTIAL"`
	RefundMethod model.RefundMethod `json:"refund_method,omitempty"`
	Reason       string             `json:"reason" validate:"required"`
}

type ApproveRefundRequest struct {
	RefundRequestID uuid.UUID `json:"refund_request_id" validate:"required"`
	InternalNotes   string    `json:"internal_notes,omitempty"`
}

type RejectRefundRequest struct {
	RefundRequestID uuid.UUID `json:"refund_request_id" validate:"required"`
	RejectionReason string    `json:"rejection_reason" validate:"required"`
}

type ProcessRefundRequest struct {
	RefundRequestID uuid.UUID       `json:"refund_request_id" validate:"required"`
	GatewayRefundID string          `json:"gateway_refund_id" validate:"required"`
	GatewayResponse json.RawMessage `json:"gateway_response,omitempty"`
}

type InitiateReversalRequest struct {
	PaymentID    uuid.UUID          `json:"payment_id" validate:"required"`
	ReversalType model.ReversalType `json:"reversal_type" validate:"required"`
	Reason       string             `json:"reason" validate:"required"`
	AutoDetected bool               `json:"auto_detected"`
}

type ProcessReversalRequest struct {
	ReversalRequestID uuid.UUID       `json:"reversal_request_id" validate:"required"`
	GatewayReversalID string          `json:"gateway_reversal_id" validate:"required"`
	GatewayResponse   json.RawMessage `json:"gateway_response,omitempty"`
}

type CreateTopUpRequest struct {
	MemberID   uuid.UUID         `json:"member_id" validate:"required"`
	MemberType model.MemberType  `json:"member_type" validate:"required"`
	Amount     int64             `json:"amount" validate:"required,gt=0"`
	Method     model.TopUpMethod `json:"method" validate:"required"`
	Reason     string            `json:"reason" validate:"required"`
}

type ApproveTopUpRequest struct {
	TopUpID       uuid.UUID `json:"top_up_id" validate:"required"`
	InternalNotes string    `json:"internal_notes,omitempty"`
}

type RunReconciliationRequest struct {
	StartDate time.Time `json:"start_date" validate:"required"`
	EndDate   time.Time `json:"end_date" validate:"required"`
}

type UpdatePaymentOptionsRequest struct {
	MemberID            uuid.UUID           `json:"member_id" validate:"required"`
	MemberType          model.MemberType    `json:"member_type" validate:"required"`
	Method              model.PaymentMethod `json:"method" validate:"required"`
	Enabled             bool                `json:"enabled"`
	Default             bool                `json:"default"`
	MaxTransactionLimit int64               `json:"max_transaction_limit,omitempty" validate:"gte=0"`
	DailyLimit          int64               `json:"daily_limit,omitempty" validate:"gte=0"`
	MonthlyLimit        int64               `json:"monthly_limit,omitempty" validate:"gte=0"`
}

// Page bounds list queries.
type Page struct {
	Number int `json:"page" validate:"gte=1"`
	Size   int `json:"size" validate:"gte=1,lte=100"`
}

func (p Page) Offset() int {
	if p.Number <= 1 {
		return 0
	}
	return (p.Number - 1) * p.Size
}

func (p Page) Limit() int {
	if p.Size <= 0 {
		return 20
	}
	return p.Size
}

type RefundQuery struct {
	Status    *model.RefundStatus `json:"status,omitempty"`
	PaymentID *uuid.UUID          `json:"payment_id,omitempty"`
	StartDate *time.Time          `json:"start_date,omitempty"`
	EndDate   *time.Time          `json:"end_date,omitempty"`
	Page      Page                `json:"page"`
}

type ReversalQuery struct {
	Status    *model.ReversalStatus `json:"status,omitempty"`
	PaymentID *uuid.UUID            `json:"payment_id,omitempty"`
	StartDate *time.Time            `json:"start_date,omitempty"`
	EndDate   *time.Time            `json:"end_date,omitempty"`
	Page      Page                  `json:"page"`
}

type TopUpQuery struct {
	Status    *model.TopUpStatus `json:"status,omitempty"`
	MemberID  *uuid.UUID         `json:"member_id,omitempty"`
	StartDate *time.Time         `json:"start_date,omitempty"`
	EndDate   *time.Time         `json:"end_date,omitempty"`
	Page      Page               `json:"page"`
}

type AuditLogQuery struct {
	Action    *model.AuditAction `json:"action,omitempty"`
	ActorID   *uuid.UUID         `json:"actor_id,omitempty"`
	PaymentID *uuid.UUID         `json:"payment_id,omitempty"`
	StartDate *time.Time         `json:"start_date,omitempty"`
	EndDate   *time.Time         `json:"end_date,omitempty"`
	Page      Page               `json:"page"`
}
