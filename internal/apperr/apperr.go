// Package apperr описывает типизированные ошибки, которые сервис отдаёт вызывающему коду.
package apperr

import (
	"errors"
	"fmt"
)

// Kind описывает класс ошибки.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindValidation
	KindForbidden
	KindConflict
	KindServiceFailure
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindServiceFailure:
		return "service_failure"
	}
	return "unknown"
}

// Error описывает ошибку с классом и сообщением, пригодным для показа пользователю.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NotFound: сущность с указанным идентификатором не найдена.
func NotFound(format string, args ...any) *Error { return newf(KindNotFound, format, args...) }

// Validation: некорректный ввод или нарушение бизнес-правила.
func Validation(format string, args ...any) *Error { return newf(KindValidation, format, args...) }

// Forbidden: нет права на действие или переход из текущего статуса недопустим.
func Forbidden(format string, args ...any) *Error { return newf(KindForbidden, format, args...) }

// Conflict: нарушение уникальности или исчерпаны попытки при конкурентной записи.
func Conflict(format string, args ...any) *Error { return newf(KindConflict, format, args...) }

// ServiceFailure оборачивает отказ внешней зависимости. Причина не попадает в Message.
func ServiceFailure(err error, format string, args ...any) *Error {
	e := newf(KindServiceFailure, format, args...)
	e.Err = err
	return e
}

// KindOf возвращает класс ошибки или KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// MessageOf возвращает сообщение для пользователя, если ошибка типизирована.
func MessageOf(err error) (string, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Message, true
	}
	return "", false
}

// Is сообщает, принадлежит ли ошибка указанному классу.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
