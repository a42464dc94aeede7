package scripting

import (
	"errors"
	"fmt"
)

// OutcomeKind tags how a script body finished.
type OutcomeKind int

const (
	OutcomePending OutcomeKind = iota
	OutcomeSuccess
	OutcomeExit
	OutcomeBreak
	OutcomeFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeExit:
		return "exit"
	case OutcomeBreak:
		return "break"
	case OutcomeFailure:
		return "failure"
	default:
		return "pending"
	}
}

// Outcome is the tagged result of a single execution. Exit and Break carry
// a value and collapse to a successful ScriptResult.
type Outcome struct {
	Kind  OutcomeKind
	Value any
	Err   error
}

// Successful reports whether the outcome resolves a ScriptResult with a value.
func (o Outcome) Successful() bool {
	return o.Kind == OutcomeSuccess || o.Kind == OutcomeExit || o.Kind == OutcomeBreak
}

// ExitSignal requests that the current script body stop, yielding Value.
type ExitSignal struct {
	Value any
}

func (s *ExitSignal) Error() string {
	if s.Value == nil {
		return "script exit"
	}
	return fmt.Sprintf("script exit: %v", s.Value)
}

// BreakSignal requests an unwind out of the current script scope, yielding Value.
type BreakSignal struct {
	Value any
}

func (s *BreakSignal) Error() string {
	if s.Value == nil {
		return "script break"
	}
	return fmt.Sprintf("script break: %v", s.Value)
}

// Exit returns the control-flow error a Backend raises to end a script early.
func Exit(value any) error {
	return &ExitSignal{Value: value}
}

// Break returns the control-flow error a Backend raises to unwind a scope.
func Break(value any) error {
	return &BreakSignal{Value: value}
}

// Classify turns the raw return of Backend.Execute into an Outcome.
func Classify(value any, err error) Outcome {
	if err == nil {
		return Outcome{Kind: OutcomeSuccess, Value: value}
	}

	var exit *ExitSignal
	if errors.As(err, &exit) {
		return Outcome{Kind: OutcomeExit, Value: exit.Value}
	}

	var brk *BreakSignal
	if errors.As(err, &brk) {
		return Outcome{Kind: OutcomeBreak, Value: brk.Value}
	}

	return Outcome{Kind: OutcomeFailure, Err: err}
}
