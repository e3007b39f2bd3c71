package model

import "time"

// Audit action tags. SuspiciousAccess is the only one emitted from the check
// path; the rest come from administrative mutations.
const (
	ActionLogin            = "LOGIN"
	ActionSuspiciousAccess = "SUSPICIOUS_ACCESS"
	ActionCreateLicense    = "CREATE_LICENSE"
	ActionUpdateLicense    = "UPDATE_LICENSE"
	ActionDeleteLicense    = "DELETE_LICENSE"
	ActionRemoveDevice     = "REMOVE_DEVICE"
	ActionDeleteDevice     = "DELETE_DEVICE"
)

// AuditLog is an append-only record of a security-relevant or administrative
// action. It is a pure side channel: nothing in the decision path reads it.
type AuditLog struct {
	ID        int64     `json:"id" db:"id"`
	Action    string    `json:"action" db:"action"`
	TargetID  int64     `json:"target_id" db:"target_id"`
	Details   string    `json:"details" db:"details"`
	IPAddress string    `json:"ip_address" db:"ip_address"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
