// Package models содержит доменную модель пользователя системы,
// включающую данные учётной записи, хэш пароля и дату создания.
// Структура используется в бизнес‑логике и при работе с хранилищем.
package models

import "time"

// User представляет зарегистрированного пользователя системы.
type User struct {
	UUID         string    // Уникальный идентификатор пользователя
	Email        string    // Электронная почта
	Username     string    // Имя пользователя (уникальное)
	PasswordHash string    // Хэш пароля пользователя
	IsAdmin      bool      // Администратор обходит все проверки доступа
	CreatedAt    time.Time // Дата регистрации
}

// TrialNotice сообщение для брокера об окончании или скором окончании пробного периода.
type TrialNotice struct {
	UserUID      string    `json:"user_uid"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	TrialEndDate time.Time `json:"trial_end_date"`
}
