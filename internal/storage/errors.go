// Package storage содержит ошибки, общие для всех реализаций хранилища.
package storage

import "errors"

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
)
