package service

import (
	"errors"
	"fmt"
	repo "taskTracker/internal/repository"

	"github.com/google/uuid"
)

const (
	CodeValidation  = "VALIDATION_ERROR"
	CodeNotFound    = "NOT_FOUND"
	CodeTaskDeleted = "TASK_DELETED"
	CodeConflict    = "CONCURRENCY_CONFLICT"
	CodeUnavailable = "STORE_UNAVAILABLE"
)

type BusinessError struct {
	Code    string
	Message string
	Details map[string]any
	Err     error
}

type Detail struct {
	Key     string
	Payload any
}

func (b *BusinessError) Error() string {
	if b.Err != nil {
		return fmt.Sprintf("[%s] %s: %s", b.Code, b.Message, b.Err.Error())
	}
	return fmt.Sprintf("[%s] %s", b.Code, b.Message)
}

func (b *BusinessError) Unwrap() error {
	return b.Err
}

func ToDetail(key string, payload any) Detail {
	return Detail{
		Key:     key,
		Payload: payload,
	}
}

func NewBusinessError(code string, message string, details ...Detail) *BusinessError {
	busErr := &BusinessError{
		Code:    code,
		Message: message,
		Details: make(map[string]any),
	}

	for _, detail := range details {
		busErr.Details[detail.Key] = detail.Payload
	}

	return busErr
}

func NewNotFound(id uuid.UUID) *BusinessError {
	return &BusinessError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("задача %s не найдена", id),
		Details: map[string]any{
			"resource": "task",
			"id":       id.String(),
		},
	}
}

func NewValidationError(field, reason string) *BusinessError {
	return &BusinessError{
		Code:    CodeValidation,
		Message: fmt.Sprintf("Неверное значение поля '%s': %s", field, reason),
		Details: map[string]any{
			"field":  field,
			"reason": reason,
		},
	}
}

func NewTaskDeleted(id uuid.UUID) *BusinessError {
	return NewBusinessError(CodeTaskDeleted, fmt.Sprintf("задача %s удалена", id), ToDetail("id", id.String()))
}

// IsRetryable - операцию стоит повторить целиком
func IsRetryable(err error) bool {
	var busErr *BusinessError
	return errors.As(err, &busErr) && busErr.Code == CodeConflict
}

// toBusinessError переводит ошибку хранилища в бизнес-ошибку
func toBusinessError(err error, id uuid.UUID) error {
	if err == nil {
		return nil
	}

	var busErr *BusinessError
	if errors.As(err, &busErr) {
		return busErr
	}

	switch {
	case errors.Is(err, repo.ErrNotFound):
		return NewNotFound(id)
	case errors.Is(err, repo.ErrConflict):
		return &BusinessError{
			Code:    CodeConflict,
			Message: "параллельное изменение задач владельца, повторите запрос",
			Details: map[string]any{"retryable": true},
			Err:     err,
		}
	default:
		return &BusinessError{
			Code:    CodeUnavailable,
			Message: "хранилище недоступно",
			Details: map[string]any{},
			Err:     err,
		}
	}
}
