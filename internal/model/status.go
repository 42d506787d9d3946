package model

// PaymentStatus is owned by the external ledger. The engine only ever writes
// the COMPLETED -> REFUNDED and COMPLETED -> CANCELLED transitions.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
	PaymentCancelled PaymentStatus = "CANCELLED"
	PaymentUnpaid    PaymentStatus = "UNPAID"
)

type RefundStatus string

const (
	RefundRequested       RefundStatus = "REQUESTED"
	RefundPendingApproval RefundStatus = "PENDING_APPROVAL"
	RefundApproved        RefundStatus = "APPROVED"
	RefundProcessing      RefundStatus = "PROCESSING"
	RefundCompleted       RefundStatus = "COMPLETED"
	RefundRejected        RefundStatus = "REJECTED"
	RefundFailed          RefundStatus = "FAILED"
	RefundCancelled       RefundStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is legal.
func (s RefundStatus) IsTerminal() bool {
	switch s {
	case RefundCompleted, RefundRejected, RefundFailed, RefundCancelled:
		return true
	}
	return false
}

// Approvable statuses for a refund request.
func (s RefundStatus) Approvable() bool {
	return s == RefundRequested || s == RefundPendingApproval
}

// Rejectable statuses for a refund request.
func (s RefundStatus) Rejectable() bool {
	return s == RefundRequested || s == RefundPendingApproval || s == RefundApproved
}

type ReversalStatus string

const (
	ReversalPending    ReversalStatus = "PENDING"
	ReversalInProgress ReversalStatus = "IN_PROGRESS"
	ReversalCompleted  ReversalStatus = "COMPLETED"
	ReversalFailed     ReversalStatus = "FAILED"
	ReversalCancelled  ReversalStatus = "CANCELLED"
)

func (s ReversalStatus) IsTerminal() bool {
	switch s {
	case ReversalCompleted, ReversalFailed, ReversalCancelled:
		return true
	}
	return false
}

type TopUpStatus string

const (
	TopUpPending         TopUpStatus = "PENDING"
	TopUpPendingApproval TopUpStatus = "PENDING_APPROVAL"
	TopUpCompleted       TopUpStatus = "COMPLETED"
	TopUpRejected        TopUpStatus = "REJECTED"
	TopUpFailed          TopUpStatus = "FAILED"
	TopUpCancelled       TopUpStatus = "CANCELLED"
)

func (s TopUpStatus) IsTerminal() bool {
	switch s {
	case TopUpCompleted, TopUpRejected, TopUpFailed, TopUpCancelled:
		return true
	}
	return false
}

func (s TopUpStatus) Approvable() bool {
	return s == TopUpPending || s == TopUpPendingApproval
}

type ReconciliationStatus string

const (
	ReconciliationInProgress        ReconciliationStatus = "IN_PROGRESS"
	ReconciliationCompleted         ReconciliationStatus = "COMPLETED"
	ReconciliationWithDiscrepancies ReconciliationStatus = "COMPLETED_WITH_DISCREPANCIES"
	ReconciliationFailed            ReconciliationStatus = "FAILED"
)

type DiscrepancyType string

const (
	DiscrepancyIncomplete     DiscrepancyType = "INCOMPLETE"
	DiscrepancyStatusMismatch DiscrepancyType = "STATUS_MISMATCH"
)

type RefundType string

const (
	RefundFull    RefundType = "FULL"
	RefundPartial RefundType = "PARTIAL"
)

type RefundMethod string

const (
	RefundOriginalMethod RefundMethod = "ORIGINAL_METHOD"
	RefundBankTransfer   RefundMethod = "BANK_TRANSFER"
	RefundCredit         RefundMethod = "CREDIT"
	RefundCash           RefundMethod = "CASH"
	RefundOther          RefundMethod = "OTHER"
)

type ReversalType string

const (
	ReversalAppointmentCancellation ReversalType = "APPOINTMENT_CANCELLATION"
	ReversalDuplicatePayment        ReversalType = "DUPLICATE_PAYMENT"
	ReversalSystemError             ReversalType = "SYSTEM_ERROR"
	ReversalFraud                   ReversalType = "FRAUD"
	ReversalChargeback              ReversalType = "CHARGEBACK"
	ReversalIncompleteTransaction   ReversalType = "INCOMPLETE_TRANSACTION"
	ReversalOther                   ReversalType = "OTHER"
)

type TopUpMethod string

const (
	TopUpBankTransfer       TopUpMethod = "BANK_TRANSFER"
	TopUpCash               TopUpMethod = "CASH"
	TopUpCreditCard         TopUpMethod = "CREDIT_CARD"
	TopUpDebitCard          TopUpMethod = "DEBIT_CARD"
	TopUpCheque             TopUpMethod = "CHEQUE"
	TopUpInternalAdjustment TopUpMethod = "INTERNAL_ADJUSTMENT"
)

type MemberType string

const (
	MemberPatient   MemberType = "PATIENT"
	MemberDoctor    MemberType = "DOCTOR"
	MemberHospital  MemberType = "HOSPITAL"
	MemberAgent     MemberType = "AGENT"
	MemberCorporate MemberType = "CORPORATE"
)

type PaymentMethod string

const (
	MethodCreditCard    PaymentMethod = "CREDIT_CARD"
	MethodDebitCard     PaymentMethod = "DEBIT_CARD"
	MethodBankTransfer  PaymentMethod = "BANK_TRANSFER"
	MethodCash          PaymentMethod = "CASH"
	MethodMobilePayment PaymentMethod = "MOBILE_PAYMENT"
)

// AuditAction identifies the state-changing command an audit entry records.
type AuditAction string

const (
	ActionInitiateRefund       AuditAction = "INITIATE_REFUND"
	ActionApproveRefund        AuditAction = "APPROVE_REFUND"
	ActionRejectRefund         AuditAction = "REJECT_REFUND"
	ActionCompleteRefund       AuditAction = "COMPLETE_REFUND"
	ActionInitiateReversal     AuditAction = "INITIATE_REVERSAL"
	ActionCompleteReversal     AuditAction = "COMPLETE_REVERSAL"
	ActionTopUpMember          AuditAction = "TOP_UP_MEMBER"
	ActionApproveTopUp         AuditAction = "APPROVE_TOP_UP"
	ActionUpdatePaymentOptions AuditAction = "UPDATE_PAYMENT_OPTIONS"
	ActionRunReconciliation    AuditAction = "RUN_RECONCILIATION"
)
