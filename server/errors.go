package server

import (
	"context"
	stderrors "errors"
	"net/http"

	apperrors "github.com/goliatone/go-errors"

	scripting "github.com/goliatone/go-scripting"
)

// ErrorEnvelope is the JSON error body.
type ErrorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MapError maps engine error codes to HTTP statuses.
func MapError(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	var tooLarge *http.MaxBytesError
	if stderrors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}

	switch scripting.ErrorCode(err) {
	case scripting.ErrCodeEngineNotStarted,
		scripting.ErrCodeEngineAlreadyStarted,
		scripting.ErrCodeResultAlreadySet:
		return http.StatusConflict
	case scripting.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case scripting.ErrCodeEngineTerminated,
		scripting.ErrCodeEngineExited,
		scripting.ErrCodeEngineReset:
		return http.StatusGone
	case scripting.ErrCodeEngineSetupFailed:
		return http.StatusServiceUnavailable
	case scripting.ErrCodeExecutionFailed,
		scripting.ErrCodeScriptPanic:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func envelope(err error) ErrorEnvelope {
	code := scripting.ErrorCode(err)
	if code == "" {
		code = "INTERNAL"
	}
	return ErrorEnvelope{Code: code, Message: describe(err)}
}

// describe prefers the wrapped cause, which carries the script's own message.
func describe(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		if ge.Source != nil {
			return ge.Message + ": " + ge.Source.Error()
		}
		return ge.Message
	}
	return err.Error()
}
