package scripting

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"

	"github.com/oklog/ulid/v2"
)

// Source is content that knows how to produce its own code, such as a
// pre-parsed unit owned by a concrete backend.
type Source interface {
	Code() (io.Reader, error)
}

// FilePath is script content read from disk. It doubles as the script's file
// reference.
type FilePath string

func (p FilePath) Code() (io.Reader, error) {
	return os.Open(string(p))
}

func (p FilePath) FileName() string {
	return string(p)
}

// Script is one submitted unit of source content plus its pending result.
type Script struct {
	id        string
	content   any
	reference any
	result    *ScriptResult
}

// ScriptOption configures a Script at construction.
type ScriptOption func(*Script)

// WithReference sets the file reference reported to the FileTrace.
func WithReference(ref any) ScriptOption {
	return func(s *Script) {
		s.reference = ref
	}
}

// WithScriptID overrides the generated identifier.
func WithScriptID(id string) ScriptOption {
	return func(s *Script) {
		if id != "" {
			s.id = id
		}
	}
}

// NewScript wraps content in a Script with a fresh ScriptResult.
func NewScript(content any, opts ...ScriptOption) *Script {
	s := &Script{
		id:      ulid.Make().String(),
		content: content,
		result:  NewScriptResult(),
	}

	switch c := content.(type) {
	case FilePath:
		s.reference = c
	case *os.File:
		if c != nil {
			s.reference = FilePath(c.Name())
		}
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Script) ID() string            { return s.id }
func (s *Script) Content() any          { return s.content }
func (s *Script) Reference() any        { return s.reference }
func (s *Script) Result() *ScriptResult { return s.result }

// Code materializes the executable code. A nil reader with a nil error means
// the content carries nothing executable.
func (s *Script) Code() (io.Reader, error) {
	switch c := s.content.(type) {
	case nil:
		return nil, nil
	case Source:
		return c.Code()
	case string:
		return strings.NewReader(c), nil
	case []byte:
		return bytes.NewReader(c), nil
	case io.Reader:
		return c, nil
	default:
		return nil, nil
	}
}

type scriptKey struct{}

// ContextWithScript attaches the executing Script to ctx.
func ContextWithScript(ctx context.Context, s *Script) context.Context {
	return context.WithValue(ctx, scriptKey{}, s)
}

// ScriptFromContext returns the Script a Backend is executing, if any.
func ScriptFromContext(ctx context.Context) *Script {
	if s, ok := ctx.Value(scriptKey{}).(*Script); ok {
		return s
	}
	return nil
}
