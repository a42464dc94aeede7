package scripting

import (
	stderrors "errors"
	"strings"

	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeEngineNotStarted     = "ENGINE_NOT_STARTED"
	ErrCodeEngineAlreadyStarted = "ENGINE_ALREADY_STARTED"
	ErrCodeEngineSetupFailed    = "ENGINE_SETUP_FAILED"
	ErrCodeEngineExited         = "ENGINE_EXITED"
	ErrCodeEngineReset          = "ENGINE_RESET"
	ErrCodeEngineTerminated     = "ENGINE_TERMINATED"
	ErrCodeInvalidInput         = "INVALID_SCRIPT_INPUT"
	ErrCodeExecutionFailed      = "SCRIPT_EXECUTION_FAILED"
	ErrCodeScriptPanic          = "SCRIPT_PANIC"
	ErrCodeResultAlreadySet     = "RESULT_ALREADY_SET"
)

var (
	ErrEngineNotStarted = apperrors.New("engine is not started yet, cannot run code", apperrors.CategoryConflict).
				WithTextCode(ErrCodeEngineNotStarted)
	ErrEngineAlreadyStarted = apperrors.New("engine already started", apperrors.CategoryConflict).
				WithTextCode(ErrCodeEngineAlreadyStarted)
	ErrEngineSetupFailed = apperrors.New("engine setup failed", apperrors.CategoryExternal).
				WithTextCode(ErrCodeEngineSetupFailed)
	ErrEngineExited = apperrors.New("script engine exited", apperrors.CategoryConflict).
			WithTextCode(ErrCodeEngineExited)
	ErrEngineReset = apperrors.New("script engine got reset", apperrors.CategoryConflict).
			WithTextCode(ErrCodeEngineReset)
	ErrEngineTerminated = apperrors.New("script engine terminated", apperrors.CategoryConflict).
				WithTextCode(ErrCodeEngineTerminated)
	ErrInvalidInput = apperrors.New("invalid script input detected", apperrors.CategoryBadInput).
			WithTextCode(ErrCodeInvalidInput)
	ErrExecutionFailed = apperrors.New("script execution failed", apperrors.CategoryHandler).
				WithTextCode(ErrCodeExecutionFailed)
	ErrScriptPanic = apperrors.New("script execution panicked", apperrors.CategoryHandler).
			WithTextCode(ErrCodeScriptPanic)
	ErrResultAlreadySet = apperrors.New("script result already set", apperrors.CategoryConflict).
				WithTextCode(ErrCodeResultAlreadySet)
)

// newError returns a copy of base so callers never share metadata maps.
func newError(base *apperrors.Error, message string, source error, metadata map[string]any) *apperrors.Error {
	err := base.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// ErrorCode returns the text code of the first go-errors error in the chain.
func ErrorCode(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

func IsEngineNotStarted(err error) bool { return ErrorCode(err) == ErrCodeEngineNotStarted }
func IsEngineExited(err error) bool     { return ErrorCode(err) == ErrCodeEngineExited }
func IsEngineReset(err error) bool      { return ErrorCode(err) == ErrCodeEngineReset }
func IsEngineTerminated(err error) bool { return ErrorCode(err) == ErrCodeEngineTerminated }
func IsInvalidInput(err error) bool     { return ErrorCode(err) == ErrCodeInvalidInput }
func IsExecutionFailed(err error) bool  { return ErrorCode(err) == ErrCodeExecutionFailed }

// sourceMessage is the text echoed to the error stream: the backend's own
// message when the failure wraps one.
func sourceMessage(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) && ge.Source != nil {
		return ge.Source.Error()
	}
	return err.Error()
}
