package constants

// Operator-facing request number prefixes. Uniqueness of the generated
// numbers is cosmetic; the row ID is the real identity.
const (
	RefundPrefix         = "REF"
	ReversalPrefix       = "REV"
	TopUpPrefix          = "TOP"
	ReconciliationPrefix = "REC"
)

// Idempotency namespaces. Keys are unique within a namespace.
const (
	NamespaceRefund         = "refund"
	NamespaceReversal       = "reversal"
	NamespaceTopUp          = "topup"
	NamespaceReconciliation = "reconciliation"
	NamespaceOptions        = "options"
)
