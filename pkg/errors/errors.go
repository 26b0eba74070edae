// Package errors defines the error taxonomy shared by the address-map
// packages. Every error carries a code; errors.Is matches on the code
// alone, so the Err* values below serve as match targets.
package errors

import (
	"errors"
	"fmt"
)

const (
	CodeUnknown            = "UNKNOWN_ERROR"
	CodeSymbolsUnavailable = "SYMBOLS_UNAVAILABLE"
	CodeReadFailed         = "READ_FAILED"
	CodeStructureError     = "STRUCTURE_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeInvalidInput       = "INVALID_INPUT"
	CodeCanceled           = "CANCELED"
	CodeConfigError        = "CONFIG_ERROR"
	CodeStorageError       = "STORAGE_ERROR"
	CodeDatabaseError      = "DATABASE_ERROR"
)

// AppError is a coded error with an optional cause.
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	msg := "[" + e.Code + "] " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AppError) Unwrap() error { return e.Err }

// Is matches any AppError with the same code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Newf(code, format string, args ...any) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches code and message to cause.
func Wrap(code, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Err: cause}
}

var (
	ErrSymbolsUnavailable = New(CodeSymbolsUnavailable, "symbols unavailable")
	ErrReadFailed         = New(CodeReadFailed, "memory read failed")
	ErrStructureError     = New(CodeStructureError, "inconsistent target structure")
	ErrNotFound           = New(CodeNotFound, "not found")
	ErrInvalidInput       = New(CodeInvalidInput, "invalid input")
	ErrCanceled           = New(CodeCanceled, "operation canceled")
	ErrConfigError        = New(CodeConfigError, "configuration error")
	ErrStorageError       = New(CodeStorageError, "storage error")
	ErrDatabaseError      = New(CodeDatabaseError, "database error")
)

// SymbolsUnavailable names the missing type or symbol as module!name.
func SymbolsUnavailable(module, name string) *AppError {
	return Newf(CodeSymbolsUnavailable, "symbols unavailable: %s!%s", module, name)
}

// ReadFailed reports a failed memory access at addr.
func ReadFailed(addr uint64, err error) *AppError {
	return Wrap(CodeReadFailed, fmt.Sprintf("read at 0x%x failed", addr), err)
}

func IsSymbolsUnavailable(err error) bool { return errors.Is(err, ErrSymbolsUnavailable) }
func IsReadFailed(err error) bool         { return errors.Is(err, ErrReadFailed) }
func IsStructureError(err error) bool     { return errors.Is(err, ErrStructureError) }
func IsNotFound(err error) bool           { return errors.Is(err, ErrNotFound) }
func IsInvalidInput(err error) bool       { return errors.Is(err, ErrInvalidInput) }
func IsCanceled(err error) bool           { return errors.Is(err, ErrCanceled) }

// GetErrorCode returns the code of the outermost AppError in err's chain,
// or CodeUnknown.
func GetErrorCode(err error) string {
	if appErr := asAppError(err); appErr != nil {
		return appErr.Code
	}
	return CodeUnknown
}

// GetErrorMessage returns the AppError message without code or cause, or
// err.Error() for other errors.
func GetErrorMessage(err error) string {
	if appErr := asAppError(err); appErr != nil {
		return appErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func asAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}
