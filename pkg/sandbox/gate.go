package sandbox

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/toolboxlabs/planner/pkg/models"
)

// GateError is a snippet rejection produced before any subprocess is
// spawned. Code carries the machine-readable classification for the step
// result.
type GateError struct {
	Code    models.ErrorCode
	Message string
}

func (e *GateError) Error() string { return e.Message }

func gateErrorf(code models.ErrorCode, format string, args ...any) *GateError {
	return &GateError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// The three import forms plan snippets may use to reach generated
// wrappers. Anything else (stdlib imports, local helpers) passes through
// untouched.
var (
	fromServersRe  = regexp.MustCompile(`^from\s+sandbox_py\.servers\s+import\s+(.+)$`)
	fromProviderRe = regexp.MustCompile(`^from\s+sandbox_py\.servers\.([A-Za-z_]\w*)\s+import\s+(.+)$`)
	importModuleRe = regexp.MustCompile(`^import\s+sandbox_py\.servers\.([A-Za-z_]\w*)(?:\s+as\s+([A-Za-z_]\w*))?\s*$`)

	dottedCallRe = regexp.MustCompile(`\bsandbox_py\.servers\.([A-Za-z_]\w*)\.([A-Za-z_]\w*)\s*\(`)

	mainDefRe    = regexp.MustCompile(`^(?:async\s+)?def\s+main\s*\(`)
	nameGuardRe  = regexp.MustCompile(`^if\s+__name__`)
	asyncioRunRe = regexp.MustCompile(`\basyncio\.run\s*\(`)
)

// CheckSnippet statically validates a plan snippet against the run's
// discovered-tool set. It extracts sandbox_py.servers imports and the
// attribute calls made through them, and rejects references the planner
// never discovered. The scaffold-owned constructs (a main definition,
// asyncio.run, an __name__ guard) are rejected at the snippet's top
// level. A nil return means the snippet may be handed to the runner.
func CheckSnippet(code string, discovered map[string]struct{}) error {
	lines := strings.Split(code, "\n")
	aliases := map[string]string{}

	for _, raw := range lines {
		line := strings.TrimRight(raw, " \t")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		if topLevel(line) {
			if err := checkScaffoldConflicts(line); err != nil {
				return err
			}
		}

		if m := fromProviderRe.FindStringSubmatch(trimmed); m != nil {
			provider := m[1]
			if err := checkProvider(provider, discovered); err != nil {
				return err
			}
			for _, name := range splitImportList(m[2]) {
				if err := checkTool(provider, name.name, discovered); err != nil {
					return err
				}
			}
			continue
		}
		if m := fromServersRe.FindStringSubmatch(trimmed); m != nil {
			for _, name := range splitImportList(m[1]) {
				if err := checkProvider(name.name, discovered); err != nil {
					return err
				}
				aliases[name.local()] = name.name
			}
			continue
		}
		if m := importModuleRe.FindStringSubmatch(trimmed); m != nil {
			provider := m[1]
			if err := checkProvider(provider, discovered); err != nil {
				return err
			}
			if m[2] != "" {
				aliases[m[2]] = provider
			}
			continue
		}
	}

	return checkAttributeCalls(lines, aliases, discovered)
}

// topLevel reports whether a snippet line sits at zero indentation.
func topLevel(line string) bool {
	return line != "" && line[0] != ' ' && line[0] != '\t'
}

func checkScaffoldConflicts(line string) error {
	switch {
	case mainDefRe.MatchString(line):
		return gateErrorf(models.ErrCodeSandboxBody,
			"plan snippet must not define main; the runtime wraps the snippet in one")
	case nameGuardRe.MatchString(line):
		return gateErrorf(models.ErrCodeSandboxBody,
			"plan snippet must not contain an __name__ guard")
	case asyncioRunRe.MatchString(line):
		return gateErrorf(models.ErrCodeSandboxBody,
			"plan snippet must not call asyncio.run; the runtime drives the event loop")
	}
	return nil
}

// checkProvider accepts a provider when the builtin toolbox is named or
// at least one of its tools was discovered.
func checkProvider(provider string, discovered map[string]struct{}) error {
	if provider == models.ToolboxProvider {
		return nil
	}
	prefix := provider + "."
	for id := range discovered {
		if strings.HasPrefix(id, prefix) {
			return nil
		}
	}
	return gateErrorf(models.ErrCodeUnknownServer,
		"provider %q has no discovered tools; search for its tools before importing it", provider)
}

func checkTool(provider, tool string, discovered map[string]struct{}) error {
	toolID := provider + "." + tool
	if toolID == models.InspectToolID {
		return nil
	}
	if _, ok := discovered[toolID]; !ok {
		return gateErrorf(models.ErrCodeUndiscoveredTool,
			"tool %q has not been discovered in this run; search for it first", toolID)
	}
	return nil
}

// checkAttributeCalls scans for alias.func(...) and fully dotted
// sandbox_py.servers calls and validates each referenced tool.
func checkAttributeCalls(lines []string, aliases map[string]string, discovered map[string]struct{}) error {
	type aliasPattern struct {
		provider string
		re       *regexp.Regexp
	}
	names := make([]string, 0, len(aliases))
	for name := range aliases {
		names = append(names, name)
	}
	sort.Strings(names)

	patterns := make([]aliasPattern, 0, len(names))
	for _, name := range names {
		patterns = append(patterns, aliasPattern{
			provider: aliases[name],
			re:       regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\.([A-Za-z_]\w*)\s*\(`),
		})
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		for _, m := range dottedCallRe.FindAllStringSubmatch(line, -1) {
			if err := checkProvider(m[1], discovered); err != nil {
				return err
			}
			if err := checkTool(m[1], m[2], discovered); err != nil {
				return err
			}
		}
		for _, p := range patterns {
			for _, m := range p.re.FindAllStringSubmatch(line, -1) {
				if err := checkTool(p.provider, m[1], discovered); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// importedName is one entry of a Python import list, e.g. `github` or
// `github as gh`.
type importedName struct {
	name  string
	alias string
}

func (n importedName) local() string {
	if n.alias != "" {
		return n.alias
	}
	return n.name
}

// splitImportList parses a comma-separated import list, tolerating a
// single-line parenthesized form. Entries that are not identifiers are
// dropped; the interpreter rejects them later anyway.
func splitImportList(list string) []importedName {
	list = strings.TrimSpace(list)
	list = strings.TrimPrefix(list, "(")
	list = strings.TrimSuffix(list, ")")

	var names []importedName
	for _, part := range strings.Split(list, ",") {
		fields := strings.Fields(part)
		switch {
		case len(fields) == 1 && isPyIdent(fields[0]):
			names = append(names, importedName{name: fields[0]})
		case len(fields) == 3 && fields[1] == "as" && isPyIdent(fields[0]) && isPyIdent(fields[2]):
			names = append(names, importedName{name: fields[0], alias: fields[2]})
		}
	}
	return names
}

func isPyIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		alpha := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		if i == 0 && !alpha {
			return false
		}
		if !alpha && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
