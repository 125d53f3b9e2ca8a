package models

import "time"

// Типы событий журнала безопасности.
const (
	EventAccessCheck       = "access_check"
	EventSessionAccess     = "session_access"
	EventFreeSessionUsed   = "free_session_used"
	EventTokenDeducted     = "token_deducted"
	EventRateLimitExceeded = "rate_limit_exceeded"
	EventSuspiciousInput   = "suspicious_input"
	EventTrialExpired      = "trial_expired"
	EventClientReported    = "client_event"
)

// SecurityEvent неизменяемая запись журнала безопасности, только добавление.
type SecurityEvent struct {
	EventType string         `json:"event_type"`
	EventData map[string]any `json:"event_data,omitempty"`
	UserUID   string         `json:"user_uid,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
