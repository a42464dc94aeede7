package scripting

import (
	"fmt"
	"path/filepath"
)

// TraceEntry is one level of script nesting.
type TraceEntry struct {
	Reference any
	FileName  string
}

// FileTrace is the stack of files currently executing, innermost last.
//
// It is not synchronized. Only the goroutine running a script body may
// push or pop, which is why Engine.Inject must be called from the worker
// (typically from inside a running script) or under external exclusion.
type FileTrace struct {
	entries []TraceEntry
}

func NewFileTrace() *FileTrace {
	return &FileTrace{}
}

// Push adds ref on top. An entry without a nameable reference inherits the
// enclosing file name so anonymous code resolves paths like its includer.
func (t *FileTrace) Push(ref any) TraceEntry {
	name := ReferenceName(ref)
	if name == "" && len(t.entries) > 0 {
		name = t.entries[len(t.entries)-1].FileName
	}
	entry := TraceEntry{Reference: ref, FileName: name}
	t.entries = append(t.entries, entry)
	return entry
}

// Pop removes the top entry. Popping an empty trace returns false.
func (t *FileTrace) Pop() (TraceEntry, bool) {
	if len(t.entries) == 0 {
		return TraceEntry{}, false
	}
	top := t.entries[len(t.entries)-1]
	t.entries = t.entries[:len(t.entries)-1]
	return top, true
}

func (t *FileTrace) Peek() (TraceEntry, bool) {
	if len(t.entries) == 0 {
		return TraceEntry{}, false
	}
	return t.entries[len(t.entries)-1], true
}

func (t *FileTrace) Depth() int {
	return len(t.entries)
}

// FileName is the name of the innermost file, or "" when empty.
func (t *FileTrace) FileName() string {
	top, _ := t.Peek()
	return top.FileName
}

// Includer returns the entry that encloses the innermost one.
func (t *FileTrace) Includer() (TraceEntry, bool) {
	if len(t.entries) < 2 {
		return TraceEntry{}, false
	}
	return t.entries[len(t.entries)-2], true
}

// Entries returns a copy, outermost first.
func (t *FileTrace) Entries() []TraceEntry {
	out := make([]TraceEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Resolve turns a relative path into one rooted at the innermost file's
// directory. Absolute paths and an empty trace return path unchanged.
func (t *FileTrace) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	base := t.FileName()
	if base == "" {
		return path
	}
	return filepath.Join(filepath.Dir(base), path)
}

// ReferenceName derives a file name from a script reference.
func ReferenceName(ref any) string {
	switch r := ref.(type) {
	case nil:
		return ""
	case string:
		return r
	case interface{ FileName() string }:
		return r.FileName()
	case interface{ Name() string }:
		return r.Name()
	case fmt.Stringer:
		return r.String()
	default:
		return ""
	}
}
