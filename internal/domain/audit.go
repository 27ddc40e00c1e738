package domain

import "time"

// AuditKind classifies an execution audit entry.
type AuditKind string

const (
	AuditRequest AuditKind = "request"
	AuditSuccess AuditKind = "success"
	AuditError   AuditKind = "error"
)

// AuditEntry is a best-effort record of an execution attempt.
type AuditEntry struct {
	ID            string
	Kind          AuditKind
	Symbol        string
	Side          OrderSide
	ClientOrderID string
	Detail        string // JSON document
	CreatedAt     time.Time
}

// IdempotencyRecord is a claimed key and its expiry.
type IdempotencyRecord struct {
	Key       string
	ExpiresAt time.Time
}
