// Package masking redacts sensitive material from observations, logs, and
// event payloads before they reach the planner, history, or any sink.
package masking

import (
	"log/slog"
	"regexp"
	"strings"
)

// RedactedPlaceholder replaces every value held under a sensitive key.
const RedactedPlaceholder = "<redacted>"

// failClosedNotice replaces tool data that could not be safely processed.
const failClosedNotice = "data masking failure - tool result could not be safely processed"

// sensitiveKeys is the built-in case-insensitive key set. Values under
// these keys never appear in history, logs, or events.
var sensitiveKeys = []string{
	"token",
	"authorization",
	"password",
	"api_key",
	"secret",
	"refresh_token",
	"access_token",
}

// CompiledPattern is a pre-compiled value pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// PatternConfig declares a custom regex pattern in config.
type PatternConfig struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// Config controls the masking service.
type Config struct {
	Enabled bool `yaml:"enabled"`
	// ExtraKeys extends the built-in sensitive key set.
	ExtraKeys []string `yaml:"extra_keys"`
	// Patterns are additional regex value patterns applied to strings.
	Patterns []PatternConfig `yaml:"patterns"`
}

// builtinPatterns catch credential shapes that appear inside string values
// rather than under a well-named key.
var builtinPatterns = []PatternConfig{
	{Name: "bearer_token", Pattern: `(?i)\bBearer\s+[A-Za-z0-9\-._~+/]{8,}=*`, Replacement: "Bearer " + RedactedPlaceholder},
	{Name: "slack_token", Pattern: `\bxox[baprs]-[A-Za-z0-9-]{10,}`, Replacement: RedactedPlaceholder},
	{Name: "api_secret_key", Pattern: `\bsk-[A-Za-z0-9_-]{20,}`, Replacement: RedactedPlaceholder},
}

// Service applies key-based and pattern-based redaction. Created once at
// startup; thread-safe and stateless aside from compiled patterns.
type Service struct {
	enabled  bool
	keys     map[string]struct{}
	patterns []*CompiledPattern
	logger   *slog.Logger
}

// NewService compiles the built-in and configured patterns. Invalid custom
// patterns are logged and skipped.
func NewService(cfg Config) *Service {
	s := &Service{
		enabled: cfg.Enabled,
		keys:    make(map[string]struct{}, len(sensitiveKeys)+len(cfg.ExtraKeys)),
		logger:  slog.Default().With("component", "masking"),
	}
	for _, k := range sensitiveKeys {
		s.keys[strings.ToLower(k)] = struct{}{}
	}
	for _, k := range cfg.ExtraKeys {
		s.keys[strings.ToLower(k)] = struct{}{}
	}
	for _, p := range append(append([]PatternConfig{}, builtinPatterns...), cfg.Patterns...) {
		compiled, err := regexp.Compile(p.Pattern)
		if err != nil {
			s.logger.Error("Failed to compile masking pattern, skipping",
				"pattern", p.Name, "error", err)
			continue
		}
		s.patterns = append(s.patterns, &CompiledPattern{
			Name:        p.Name,
			Regex:       compiled,
			Replacement: p.Replacement,
		})
	}
	return s
}

// IsSensitiveKey reports whether a key's value must be redacted.
func (s *Service) IsSensitiveKey(key string) bool {
	_, ok := s.keys[strings.ToLower(key)]
	return ok
}

// RedactValue returns a deep copy of v with every value under a sensitive
// key replaced by the placeholder and every string run through the value
// patterns. The input is never mutated.
func (s *Service) RedactValue(v any) any {
	if s == nil || !s.enabled {
		return v
	}
	return s.redact(v)
}

func (s *Service) redact(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if s.IsSensitiveKey(k) {
				out[k] = RedactedPlaceholder
				continue
			}
			out[k] = s.redact(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = s.redact(inner)
		}
		return out
	case string:
		return s.RedactString(val)
	default:
		return v
	}
}

// RedactString applies the value patterns to a plain string (log lines,
// error messages).
func (s *Service) RedactString(in string) string {
	if s == nil || !s.enabled || in == "" {
		return in
	}
	out := in
	for _, p := range s.patterns {
		out = p.Regex.ReplaceAllString(out, p.Replacement)
	}
	return out
}

// RedactToolData redacts a tool response data map. Fail-closed: if the
// walk panics on a hostile value shape, the whole payload is replaced with
// a redaction notice rather than passed through unmasked.
func (s *Service) RedactToolData(data map[string]any) (out map[string]any) {
	if s == nil || !s.enabled {
		return data
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Masking failed, redacting content (fail-closed)", "panic", r)
			out = map[string]any{"_redacted": failClosedNotice}
		}
	}()
	redacted := s.redact(data)
	m, ok := redacted.(map[string]any)
	if !ok {
		return map[string]any{"_redacted": failClosedNotice}
	}
	return m
}

// RedactLogs applies string redaction to each log line.
func (s *Service) RedactLogs(lines []string) []string {
	if s == nil || !s.enabled || len(lines) == 0 {
		return lines
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = s.RedactString(l)
	}
	return out
}
