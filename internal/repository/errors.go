package repository

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("задача не найдена")

	// ErrConflict - сериализационный конфликт или нарушение уникальности приоритета,
	// операцию можно повторить целиком
	ErrConflict = errors.New("конфликт параллельного изменения")

	ErrLockTimeout = fmt.Errorf("таймаут ожидания блокировки владельца: %w", ErrConflict)
)
