package models

import "time"

// SubscriptionStatus сырое значение subscription_status из профиля.
// Пустая строка соответствует NULL в базе.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionTrial    SubscriptionStatus = "trial"
	SubscriptionExpired  SubscriptionStatus = "expired"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionNone     SubscriptionStatus = ""
)

// AccessStatus вычисленный уровень доступа пользователя на момент проверки.
type AccessStatus string

const (
	StatusActive  AccessStatus = "active"
	StatusTrial   AccessStatus = "trial"
	StatusFree    AccessStatus = "free"
	StatusExpired AccessStatus = "expired"
)

// Premium возвращает true для уровней без ограничения числа сессий.
func (s AccessStatus) Premium() bool {
	return s == StatusActive || s == StatusTrial
}

// Entitlement профиль доступа пользователя. Один на пользователя,
// создаётся при регистрации и никогда не удаляется.
type Entitlement struct {
	UserUID            string
	IsAdmin            bool
	SubscriptionStatus SubscriptionStatus
	TrialEndDate       *time.Time
	FreeSessionsUsed   int
	FreeSessionsLimit  int
	TokenBalance       int64
}

// FreeSessionsRemaining количество оставшихся бесплатных сессий, не меньше нуля.
func (e *Entitlement) FreeSessionsRemaining() int {
	if rem := e.FreeSessionsLimit - e.FreeSessionsUsed; rem > 0 {
		return rem
	}
	return 0
}

// TokenBalance баланс токенов пользователя после атомарного списания.
type TokenBalance struct {
	UserUID string
	Balance int64
}

// SessionUsage счётчики бесплатных сессий после атомарного инкремента.
type SessionUsage struct {
	UserUID string
	Used    int
	Limit   int
}
