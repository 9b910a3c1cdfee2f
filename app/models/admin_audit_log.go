package models

import "time"

const (
	AuditActionForceCancel = "force_cancel"
	AuditActionForceExpire = "force_expire"
	AuditActionReinstate   = "reinstate"
	AuditActionGrantPlan   = "grant_plan"
	AuditActionBulkExpire  = "bulk_expire"
)

// AdminAuditLog is written in the same transaction as every administrative
// billing override.
type AdminAuditLog struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	RequestID            string     `gorm:"type:char(36);index" json:"request_id"`
	ActorID              uint       `gorm:"not null;index" json:"actor_id"`
	ActorIP              string     `gorm:"type:varchar(45)" json:"actor_ip"`
	Action               string     `gorm:"type:varchar(50);not null;index" json:"action"`
	TargetUserID         uint       `gorm:"not null;index" json:"target_user_id"`
	TargetSubscriptionID *uint      `gorm:"index" json:"target_subscription_id,omitempty"`
	PriorState           string     `gorm:"type:varchar(20)" json:"prior_state"`
	NewState             string     `gorm:"type:varchar(20)" json:"new_state"`
	Reason               string     `gorm:"type:varchar(500)" json:"reason"`
	ArchivedAt           *time.Time `gorm:"type:timestamp;default:null;index" json:"archived_at,omitempty"`
	CreatedAt            time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}
