// Package planner contains the orchestrator loop and the command parser
// that together drive one task run: prompt the LLM, parse its reply into
// a command, execute it, and fold the outcome back into run state.
package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/toolboxlabs/planner/pkg/models"
)

// previewMax caps the reply excerpt carried inside a ProtocolError.
const previewMax = 200

// ProtocolError reports an LLM reply that could not be turned into a
// valid command. Reason says what was wrong; Preview carries the start
// of the offending text for logs and synthetic step observations.
type ProtocolError struct {
	Reason  string
	Preview string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s (reply: %q)", e.Reason, e.Preview)
}

func protocolErrorf(text string, format string, args ...any) *ProtocolError {
	return &ProtocolError{
		Reason:  fmt.Sprintf(format, args...),
		Preview: previewText(text),
	}
}

// ParseCommand turns raw LLM output into a validated planner command.
// Extraction is tolerant: the first balanced JSON object is located even
// when wrapped in prose or markdown fences, and near-JSON is run through
// jsonrepair before rejection. Validation is strict: every deviation
// from the per-type schema is a *ProtocolError.
func ParseCommand(text string) (models.Command, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return models.Command{}, protocolErrorf(text, "empty planner reply")
	}

	candidate := extractObject(trimmed)
	if candidate == "" {
		candidate = trimmed
	}

	obj, err := decodeObject(candidate)
	if err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(candidate)
		if repairErr != nil {
			return models.Command{}, protocolErrorf(text, "planner reply is not a JSON object: %s", err)
		}
		obj, err = decodeObject(repaired)
		if err != nil {
			return models.Command{}, protocolErrorf(text, "planner reply is not a JSON object: %s", err)
		}
	}

	dec := &commandDecoder{obj: obj, text: text}

	cmdType, perr := dec.requireString("type")
	if perr != nil {
		return models.Command{}, perr
	}
	reasoning, perr := dec.requireString("reasoning")
	if perr != nil {
		return models.Command{}, perr
	}

	cmd := models.Command{Type: models.CommandType(cmdType), Reasoning: reasoning}
	switch cmd.Type {
	case models.CommandSearch:
		perr = dec.decodeSearch(&cmd)
	case models.CommandTool:
		perr = dec.decodeTool(&cmd)
	case models.CommandSandbox:
		perr = dec.decodeSandbox(&cmd)
	case models.CommandFinish:
		perr = dec.decodeFinish(&cmd)
	case models.CommandFail:
		perr = dec.decodeFail(&cmd)
	default:
		perr = protocolErrorf(text, "unknown command type %q", cmdType)
	}
	if perr != nil {
		return models.Command{}, perr
	}
	return cmd, nil
}

// commandDecoder validates fields of one decoded reply object. It keeps
// the raw reply text so every error carries the same preview.
type commandDecoder struct {
	obj  map[string]json.RawMessage
	text string
}

func (d *commandDecoder) decodeSearch(cmd *models.Command) *ProtocolError {
	query, perr := d.requireString("query")
	if perr != nil {
		return perr
	}
	cmd.Query = query

	detail, present, perr := d.optionalString("detail_level")
	if perr != nil {
		return perr
	}
	if present {
		if detail != models.DetailSummary && detail != models.DetailFull {
			return protocolErrorf(d.text, "field %q must be %q or %q", "detail_level", models.DetailSummary, models.DetailFull)
		}
		cmd.DetailLevel = detail
	}

	limit, present, perr := d.optionalInt("limit")
	if perr != nil {
		return perr
	}
	if present {
		if limit < 1 || limit > models.SearchLimitMax {
			return protocolErrorf(d.text, "field %q must be between 1 and %d", "limit", models.SearchLimitMax)
		}
		cmd.Limit = limit
	}
	return nil
}

func (d *commandDecoder) decodeTool(cmd *models.Command) *ProtocolError {
	toolID, perr := d.requireString("tool_id")
	if perr != nil {
		return perr
	}
	provider, name, ok := strings.Cut(toolID, ".")
	if !ok || provider == "" || name == "" {
		return protocolErrorf(d.text, "field %q must have the form provider.tool_name, got %q", "tool_id", toolID)
	}
	cmd.ToolID = toolID

	server, perr := d.requireString("server")
	if perr != nil {
		return perr
	}
	cmd.Server = server

	args, present, perr := d.objectField("args")
	if perr != nil {
		return perr
	}
	if !present {
		return protocolErrorf(d.text, "missing required field %q", "args")
	}
	cmd.Args = args
	return nil
}

func (d *commandDecoder) decodeSandbox(cmd *models.Command) *ProtocolError {
	label, perr := d.requireString("label")
	if perr != nil {
		return perr
	}
	cmd.Label = label

	code, perr := d.requireString("code")
	if perr != nil {
		return perr
	}
	cmd.Code = code
	return nil
}

func (d *commandDecoder) decodeFinish(cmd *models.Command) *ProtocolError {
	summary, perr := d.requireString("summary")
	if perr != nil {
		return perr
	}
	cmd.Summary = summary

	outputs, present, perr := d.objectField("outputs")
	if perr != nil {
		return perr
	}
	if present {
		cmd.Outputs = outputs
	}
	return nil
}

func (d *commandDecoder) decodeFail(cmd *models.Command) *ProtocolError {
	reason, perr := d.requireString("reason")
	if perr != nil {
		return perr
	}
	cmd.Reason = reason
	return nil
}

// requireString returns a non-empty string field or a ProtocolError.
func (d *commandDecoder) requireString(key string) (string, *ProtocolError) {
	raw, ok := d.obj[key]
	if !ok {
		return "", protocolErrorf(d.text, "missing required field %q", key)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", protocolErrorf(d.text, "field %q must be a string", key)
	}
	if strings.TrimSpace(s) == "" {
		return "", protocolErrorf(d.text, "field %q must not be empty", key)
	}
	return s, nil
}

// optionalString returns (value, present, error) for a string field.
func (d *commandDecoder) optionalString(key string) (string, bool, *ProtocolError) {
	raw, ok := d.obj[key]
	if !ok {
		return "", false, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false, protocolErrorf(d.text, "field %q must be a string", key)
	}
	return s, true, nil
}

// optionalInt returns (value, present, error) for an integer field.
// Fractional values are rejected rather than truncated.
func (d *commandDecoder) optionalInt(key string) (int, bool, *ProtocolError) {
	raw, ok := d.obj[key]
	if !ok {
		return 0, false, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false, protocolErrorf(d.text, "field %q must be an integer", key)
	}
	n := int(f)
	if float64(n) != f {
		return 0, false, protocolErrorf(d.text, "field %q must be an integer", key)
	}
	return n, true, nil
}

// objectField returns (value, present, error) for a JSON-object field.
func (d *commandDecoder) objectField(key string) (map[string]any, bool, *ProtocolError) {
	raw, ok := d.obj[key]
	if !ok {
		return nil, false, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false, protocolErrorf(d.text, "field %q must be an object", key)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, true, nil
}

func decodeObject(text string) (map[string]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("reply decodes to null")
	}
	return obj, nil
}

// extractObject returns the first balanced JSON object in text, skipping
// any prose or markdown fencing around it. Braces inside JSON strings do
// not count toward the balance. Returns "" when no complete object is
// present (for example truncated output), letting the caller fall back
// to repair.
func extractObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// previewText clamps the offending reply to previewMax runes.
func previewText(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= previewMax {
		return text
	}
	return string(runes[:previewMax])
}
