// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound — заявка не найдена.
	ErrNotFound = errors.New("заявка не найдена")
	// ErrForbidden — актор аутентифицирован, но операция ему недоступна
	// (не владелец и не администратор).
	ErrForbidden = errors.New("операция недоступна")
	// ErrStateConflict — переход не прошёл проверку статуса на момент
	// записи (например, согласование не-PENDING заявки).
	ErrStateConflict = errors.New("конфликт состояния заявки")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
)

// FieldError — ошибка валидации одного поля.
type FieldError struct {
	Field   string
	Message string
}

// ValidationErrors — структурированный список ошибок валидации.
// Совместим с errors.Is(err, ErrValidation).
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, fe := range v {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return "ошибка валидации: " + strings.Join(parts, "; ")
}

// Is позволяет сопоставлять список с сентинелом ErrValidation.
func (v ValidationErrors) Is(target error) bool {
	return target == ErrValidation
}
