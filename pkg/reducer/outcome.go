package reducer

// RejectReason is the closed set of reasons an operation can be refused.
// The string values appear in telemetry records and debug logs.
type RejectReason string

const (
	RejectUnknownType        RejectReason = "UnknownType"
	RejectMalformedPayload   RejectReason = "MalformedPayload"
	RejectMissingParent      RejectReason = "MissingParent"
	RejectDuplicateID        RejectReason = "DuplicateId"
	RejectMissingRef         RejectReason = "MissingRef"
	RejectRefRemoved         RejectReason = "RefRemoved"
	RejectCyclicMove         RejectReason = "CyclicMove"
	RejectReorderMismatch    RejectReason = "ReorderMismatch"
	RejectCardinalityClash   RejectReason = "CardinalityClash"
	RejectInvariantViolation RejectReason = "InvariantViolation"
)

// Outcome is the reducer's verdict on one operation.
type Outcome struct {
	Accepted bool         `json:"accepted"`
	Reason   RejectReason `json:"reason,omitempty"`
}

func accepted() Outcome { return Outcome{Accepted: true} }

func rejected(reason RejectReason) Outcome { return Outcome{Reason: reason} }
