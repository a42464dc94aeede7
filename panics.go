package scripting

import (
	"fmt"
	"runtime"
	"strings"
)

// panicError converts a value recovered from a Backend into a SCRIPT_PANIC
// failure carrying the cleaned stack in its metadata.
func panicError(recovered any, fields map[string]any) error {
	fullStack := make([]byte, 8096)
	n := runtime.Stack(fullStack, false)

	source, ok := recovered.(error)
	if !ok {
		source = fmt.Errorf("%v", recovered)
	}

	meta := mergeFields(fields, map[string]any{
		"panic": fmt.Sprintf("%v", recovered),
		"type":  fmt.Sprintf("%T", recovered),
		"stack": string(cleanStackTrace(fullStack[:n])),
	})

	return newError(ErrScriptPanic, fmt.Sprintf("script execution panicked: %v", recovered), source, meta)
}

func cleanStackTrace(stack []byte) []byte {
	lines := strings.Split(string(stack), "\n")

	panicLineIndex := -1
	for i, line := range lines {
		if strings.Contains(line, "panic(") {
			panicLineIndex = i
			break
		}
	}

	// drop the panic() frame and its file line
	if panicLineIndex >= 0 && panicLineIndex+2 < len(lines) {
		lines = lines[panicLineIndex+2:]
	}

	return []byte(strings.Join(lines, "\n"))
}
