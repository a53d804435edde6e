// Package envelope bounds every observation surfaced to the planner:
// long strings are truncated, long arrays clipped, deep objects folded,
// and oversized values spilled to raw output storage with a small preview.
package envelope

import (
	"encoding/json"
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/toolboxlabs/planner/pkg/masking"
)

const (
	// MaxStringChars is the per-string limit before the …[N chars] suffix.
	MaxStringChars = 500
	// MaxArrayItems is the per-array limit before the …+M more sentinel.
	MaxArrayItems = 20
	// MaxDepth is the deepest container level kept; deeper containers
	// become type markers.
	MaxDepth = 3
	// MaxPreviewBytes caps the serialized preview; larger values move to
	// raw output storage.
	MaxPreviewBytes = 2048

	// summaryItems is how much of a spilled value the preview retains.
	summaryItems = 5
)

// Bounded is the outcome of bounding one observation.
type Bounded struct {
	// Observation is the trimmed (and redacted) value surfaced to the
	// planner, or the spill summary when Stored.
	Observation any
	// Preview is Observation serialized as JSON, always ≤ MaxPreviewBytes.
	Preview string
	// Stored reports that the full value moved to raw output storage.
	Stored bool
	// StoredValue is the full redacted value to place under StoredKey.
	StoredValue any
	StoredKey   string

	OriginalBytes   int
	CompressedBytes int
}

// Envelope applies the bounding rules. Redaction runs before either
// storage or preview so sensitive values never survive in any form.
type Envelope struct {
	masker *masking.Service
}

// New builds an envelope around the given masking service (nil disables
// redaction).
func New(masker *masking.Service) *Envelope {
	return &Envelope{masker: masker}
}

// RedactLogs masks captured log lines with the same service that guards
// observations. A nil masker returns the lines unchanged.
func (e *Envelope) RedactLogs(lines []string) []string {
	if e.masker == nil {
		return lines
	}
	return e.masker.RedactLogs(lines)
}

// ToolKey names the raw output slot for a tool step.
func ToolKey(toolID string, stepID int) string {
	return fmt.Sprintf("tool:%s:%d", toolID, stepID)
}

// SandboxKey names the raw output slot for a sandbox step.
func SandboxKey(label string, stepID int) string {
	return fmt.Sprintf("sandbox:%s:%d", label, stepID)
}

// Bound trims value to the preview limits. When the trimmed serialization
// still exceeds MaxPreviewBytes and storeKey is non-empty, the full
// redacted value is handed back for storage and the preview becomes a
// {"_stored": key, …} summary. With an empty storeKey the value is
// reduced in place instead.
func (e *Envelope) Bound(value any, storeKey string) Bounded {
	redacted := value
	if e.masker != nil {
		redacted = e.masker.RedactValue(value)
	}

	original := marshalLen(redacted)
	trimmed := trim(redacted, 0)
	preview, ok := marshalWithin(trimmed, MaxPreviewBytes)
	if ok {
		return Bounded{
			Observation:     trimmed,
			Preview:         preview,
			OriginalBytes:   original,
			CompressedBytes: len(preview),
		}
	}

	if storeKey == "" {
		reduced := reduceUntilFits(trimmed)
		preview, _ = marshalWithin(reduced, MaxPreviewBytes)
		return Bounded{
			Observation:     reduced,
			Preview:         preview,
			OriginalBytes:   original,
			CompressedBytes: len(preview),
		}
	}

	summary := spillSummary(redacted, storeKey)
	preview, ok = marshalWithin(summary, MaxPreviewBytes)
	if !ok {
		summary = map[string]any{"_stored": storeKey}
		preview, _ = marshalWithin(summary, MaxPreviewBytes)
	}
	return Bounded{
		Observation:     summary,
		Preview:         preview,
		Stored:          true,
		StoredValue:     redacted,
		StoredKey:       storeKey,
		OriginalBytes:   original,
		CompressedBytes: len(preview),
	}
}

// trim applies the string/array/depth rules recursively.
func trim(v any, depth int) any {
	switch val := v.(type) {
	case map[string]any:
		if depth >= MaxDepth {
			return fmt.Sprintf("object (%d fields)", len(val))
		}
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = trim(inner, depth+1)
		}
		return out
	case []any:
		if depth >= MaxDepth {
			return fmt.Sprintf("array (%d items)", len(val))
		}
		items := val
		clipped := 0
		if len(items) > MaxArrayItems {
			clipped = len(items) - MaxArrayItems
			items = items[:MaxArrayItems]
		}
		out := make([]any, 0, len(items)+1)
		for _, inner := range items {
			out = append(out, trim(inner, depth+1))
		}
		if clipped > 0 {
			out = append(out, fmt.Sprintf("…+%d more", clipped))
		}
		return out
	case string:
		return TruncateString(val, MaxStringChars)
	default:
		return v
	}
}

// TruncateString cuts s to max runes and appends the …[N chars] marker
// carrying the original character count. Cuts are rune-safe.
func TruncateString(s string, max int) string {
	n := utf8.RuneCountInString(s)
	if n <= max {
		return s
	}
	runes := []rune(s)
	return fmt.Sprintf("%s…[%d chars]", string(runes[:max]), n)
}

// spillSummary builds the small preview that replaces a stored value.
func spillSummary(v any, key string) map[string]any {
	out := map[string]any{"_stored": key}
	switch val := v.(type) {
	case []any:
		out["total"] = len(val)
		n := summaryItems
		if len(val) < n {
			n = len(val)
		}
		first := make([]any, 0, n)
		for _, item := range val[:n] {
			first = append(first, shallow(item))
		}
		out["first"] = first
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out["fields"] = len(keys)
		sample := make(map[string]any, summaryItems)
		for _, k := range keys {
			if len(sample) == summaryItems {
				break
			}
			sample[k] = shallow(val[k])
		}
		out["sample"] = sample
	case string:
		out["chars"] = utf8.RuneCountInString(val)
		out["head"] = TruncateString(val, 300)
	default:
		out["value"] = val
	}
	return out
}

// shallow renders one level of a value for spill summaries.
func shallow(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			switch t := inner.(type) {
			case map[string]any:
				out[k] = fmt.Sprintf("object (%d fields)", len(t))
			case []any:
				out[k] = fmt.Sprintf("array (%d items)", len(t))
			case string:
				out[k] = TruncateString(t, 120)
			default:
				out[k] = t
			}
		}
		return out
	case []any:
		return fmt.Sprintf("array (%d items)", len(val))
	case string:
		return TruncateString(val, 120)
	default:
		return v
	}
}

// reduceUntilFits shrinks a trimmed value that has no storage slot until
// its serialization fits the preview limit.
func reduceUntilFits(v any) any {
	for _, keep := range []int{summaryItems, 2, 1} {
		reduced := reduceTo(v, keep)
		if _, ok := marshalWithin(reduced, MaxPreviewBytes); ok {
			return reduced
		}
	}
	return "object too large"
}

func reduceTo(v any, keep int) any {
	switch val := v.(type) {
	case []any:
		n := keep
		if len(val) < n {
			n = len(val)
		}
		out := make([]any, 0, n+1)
		for _, item := range val[:n] {
			out = append(out, shallow(item))
		}
		if len(val) > n {
			out = append(out, fmt.Sprintf("…+%d more", len(val)-n))
		}
		return out
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, keep)
		for _, k := range keys {
			if len(out) == keep {
				break
			}
			out[k] = shallow(val[k])
		}
		if len(val) > keep {
			out["_omitted"] = len(val) - keep
		}
		return out
	case string:
		return TruncateString(val, 200)
	default:
		return val
	}
}

func marshalLen(v any) int {
	b, err := json.Marshal(v)
	if err != nil {
		return len(fmt.Sprintf("%v", v))
	}
	return len(b)
}

// marshalWithin serializes v and reports whether it fits the limit.
func marshalWithin(v any, limit int) (string, bool) {
	b, err := json.Marshal(v)
	if err != nil {
		s := TruncateString(fmt.Sprintf("%v", v), MaxStringChars)
		return fmt.Sprintf("%q", s), len(s) <= limit
	}
	return string(b), len(b) <= limit
}
