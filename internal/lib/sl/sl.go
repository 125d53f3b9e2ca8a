// Package sl содержит вспомогательные функции для работы с логгером slog.
// Пакет задаёт единые ключи структурированных полей для всех сервисов.
package sl

import "log/slog"

// Err возвращает slog.Attr с ключом "error" и текстом ошибки.
// Для nil возвращает пустое значение, чтобы лог не падал на пути без ошибки.
//
// Пример:
//
//	log.Error("failed to resolve entitlement", sl.Err(err))
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// User возвращает slog.Attr с идентификатором пользователя.
func User(userUID string) slog.Attr {
	return slog.String("user_uid", userUID)
}
