package toolindex

import (
	"strings"
)

// parseDocstring splits a wrapper docstring into the free-text
// description and the per-parameter docs from a "Params:" (or "Args:")
// section. Section entries are "name: doc" lines; indented continuation
// lines append to the previous entry.
func parseDocstring(doc string) (string, map[string]string) {
	params := make(map[string]string)
	if strings.TrimSpace(doc) == "" {
		return "", params
	}

	lines := strings.Split(doc, "\n")
	var descLines []string
	inParams := false
	current := ""

	for _, raw := range lines {
		line := strings.TrimRight(raw, " \t")
		trimmed := strings.TrimSpace(line)

		if !inParams {
			if isParamsHeader(trimmed) {
				inParams = true
				continue
			}
			descLines = append(descLines, trimmed)
			continue
		}

		if trimmed == "" {
			current = ""
			continue
		}

		// A new "name: doc" entry, or a continuation of the previous one.
		name, text, ok := splitParamLine(trimmed)
		if ok {
			params[name] = text
			current = name
			continue
		}
		if current != "" {
			params[current] = strings.TrimSpace(params[current] + " " + trimmed)
		}
	}

	description := strings.TrimSpace(strings.Join(descLines, "\n"))
	return description, params
}

func isParamsHeader(line string) bool {
	switch strings.ToLower(strings.TrimSuffix(line, ":")) {
	case "params", "args", "arguments", "parameters":
		return strings.HasSuffix(line, ":")
	}
	return false
}

// splitParamLine parses "name: doc text". The name must look like an
// identifier; anything else is treated as continuation text.
func splitParamLine(line string) (string, string, bool) {
	idx := strings.Index(line, ":")
	if idx <= 0 {
		return "", "", false
	}
	name := strings.TrimSpace(line[:idx])
	if !isIdentifier(name) {
		return "", "", false
	}
	return name, strings.TrimSpace(line[idx+1:]), true
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		isAlpha := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_'
		isDigit := r >= '0' && r <= '9'
		if i == 0 && !isAlpha {
			return false
		}
		if !isAlpha && !isDigit {
			return false
		}
	}
	return true
}
