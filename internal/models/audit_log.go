package models

// AuditAction names an audited account or transaction operation.
type AuditAction string

const (
	AuditRegister          AuditAction = "REGISTER"
	AuditLogin             AuditAction = "LOGIN"
	AuditLogout            AuditAction = "LOGOUT"
	AuditCreateTransaction AuditAction = "CREATE_TRANSACTION"
	AuditDeleteTransaction AuditAction = "DELETE_TRANSACTION"
	AuditImport            AuditAction = "IMPORT_TRANSACTIONS"
)

// AuditLog is one row of the append-only audit trail. TransactionID is empty
// for session events and bulk imports; Details holds a JSON object.
type AuditLog struct {
	Base
	UserID        string      `gorm:"type:uuid;not null;index" json:"user_id"`
	Action        AuditAction `gorm:"size:64;not null" json:"action"`
	TransactionID string      `gorm:"size:64" json:"transaction_id,omitempty"`
	IPAddress     string      `gorm:"size:64" json:"ip_address"`
	Details       string      `json:"details,omitempty"`
}
