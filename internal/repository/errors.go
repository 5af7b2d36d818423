package repository

import "errors"

var (
	// ErrNotFound возвращается, если запись не найдена.
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict возвращается, если заём изменён с момента чтения.
	ErrVersionConflict = errors.New("loan version conflict")
	// ErrLoanNumberExists возвращается при повторном использовании номера займа.
	ErrLoanNumberExists = errors.New("loan number already exists")
)
