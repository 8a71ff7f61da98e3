package event

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CircularSentinel replaces an argument that cannot be serialized.
const CircularSentinel = "[Circular Object]"

// DefaultStringifyDepth bounds how deep nested objects are rendered.
const DefaultStringifyDepth = 6

// FormatArgs renders console arguments the way the page hook does:
// strings verbatim, scalars with %v, everything else as indented JSON,
// joined by single spaces.
func FormatArgs(args ...any) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		parts = append(parts, Stringify(a, DefaultStringifyDepth))
	}
	return strings.Join(parts, " ")
}

// Stringify renders v with nested values cut off below depth.
// It never panics: cycles and marshal failures yield CircularSentinel.
func Stringify(v any, depth int) (out string) {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case error:
		return t.Error()
	case fmt.Stringer:
		return t.String()
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(t)
	}

	defer func() {
		if recover() != nil {
			out = CircularSentinel
		}
	}()

	raw, err := json.Marshal(v)
	if err != nil {
		return CircularSentinel
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return CircularSentinel
	}
	pretty, err := json.MarshalIndent(prune(generic, depth), "", "  ")
	if err != nil {
		return CircularSentinel
	}
	return string(pretty)
}

// prune replaces containers below depth with a short placeholder.
func prune(v any, depth int) any {
	switch t := v.(type) {
	case map[string]any:
		if depth <= 0 {
			return "[Object]"
		}
		for k, child := range t {
			t[k] = prune(child, depth-1)
		}
		return t
	case []any:
		if depth <= 0 {
			return "[Array]"
		}
		for i, child := range t {
			t[i] = prune(child, depth-1)
		}
		return t
	}
	return v
}
