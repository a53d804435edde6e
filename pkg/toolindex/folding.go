package toolindex

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// MaxSummaryFields caps the output_fields lines produced per tool.
const MaxSummaryFields = 30

// tier1Pattern keeps identity-bearing leaves regardless of depth.
var tier1Pattern = regexp.MustCompile(`^(?:|.*\.|\[\]\.)(id|.*_id|name|title|status|type|url|email|price|amount|created|updated|timestamp)$`)

// leaf is one primitive field in a flattened schema. Array item
// traversal appends a "[]" path segment.
type leaf struct {
	path string
	typ  string
	desc string
}

// Summarize renders a bounded output_fields listing for a JSON-Schema
// style map. The bool reports whether anything was hidden behind a fold
// marker or pruned.
//
// Priority: tier 1 keeps identity leaves at any depth; tier 2 keeps
// primitive children of the root; tier 3 fills the remaining budget with
// whole subtrees. A subtree that does not fit is folded to a single
// marker naming the drill-down path.
func Summarize(schema map[string]any) ([]string, bool) {
	if len(schema) == 0 {
		return []string{}, false
	}

	all := flattenLeaves(schema, "")

	lines := make([]string, 0, MaxSummaryFields)
	reserved := make(map[string]bool)
	hidden := false

	for _, l := range all {
		if !tier1Pattern.MatchString(l.path) {
			continue
		}
		if len(lines) == MaxSummaryFields {
			hidden = true
			break
		}
		lines = append(lines, leafLine(l))
		reserved[l.path] = true
	}
	budget := MaxSummaryFields - len(lines)

	type child struct {
		basePath string
		schema   map[string]any
	}
	var prims, containers []child

	if schemaType(schema) == "object" {
		props, names := properties(schema)
		for _, n := range names {
			c := child{basePath: n, schema: props[n]}
			if isContainerAt(c.schema, c.basePath) {
				containers = append(containers, c)
			} else {
				prims = append(prims, c)
			}
		}
	} else {
		c := child{basePath: "", schema: schema}
		if isContainerAt(schema, "") {
			containers = append(containers, c)
		} else {
			prims = append(prims, c)
		}
	}

	for _, c := range prims {
		l := flattenLeaves(c.schema, c.basePath)[0]
		if reserved[l.path] {
			continue
		}
		if budget == 0 {
			hidden = true
			continue
		}
		lines = append(lines, leafLine(l))
		reserved[l.path] = true
		budget--
	}

	for _, c := range containers {
		leaves := flattenLeaves(c.schema, c.basePath)
		unres := leaves[:0:0]
		for _, l := range leaves {
			if !reserved[l.path] {
				unres = append(unres, l)
			}
		}
		if len(unres) == 0 {
			continue
		}
		if len(unres) <= budget {
			for _, l := range unres {
				lines = append(lines, leafLine(l))
				reserved[l.path] = true
			}
			budget -= len(unres)
			continue
		}
		hidden = true
		if budget > 0 {
			lines = append(lines, foldLine(foldPath(c.basePath), subFieldCount(c.schema)))
			budget--
		}
	}

	return lines, hidden
}

// unfoldSchema flattens the subtree at fieldPath without any budget.
func unfoldSchema(schema map[string]any, fieldPath string) ([]string, error) {
	node := schema
	if fieldPath != "" {
		for _, seg := range strings.Split(fieldPath, ".") {
			if seg == "[]" {
				item := itemSchema(node)
				if item == nil {
					return nil, fmt.Errorf("field path %q: %q is not an array", fieldPath, seg)
				}
				node = item
				continue
			}
			props, _ := properties(node)
			next, ok := props[seg]
			if !ok {
				return nil, fmt.Errorf("field path %q: unknown segment %q", fieldPath, seg)
			}
			node = next
		}
	}

	leaves := flattenLeaves(node, fieldPath)
	lines := make([]string, 0, len(leaves))
	for _, l := range leaves {
		lines = append(lines, leafLine(l))
	}
	return lines, nil
}

// flattenLeaves walks a schema depth-first with sorted keys, producing
// one leaf per primitive field.
func flattenLeaves(s map[string]any, prefix string) []leaf {
	switch schemaType(s) {
	case "object":
		props, names := properties(s)
		if len(names) == 0 {
			return []leaf{{path: prefix, typ: "object", desc: schemaDescription(s)}}
		}
		var out []leaf
		for _, n := range names {
			out = append(out, flattenLeaves(props[n], joinPath(prefix, n))...)
		}
		return out
	case "array":
		item := itemSchema(s)
		if item == nil {
			return []leaf{{path: prefix, typ: "array", desc: schemaDescription(s)}}
		}
		switch schemaType(item) {
		case "object", "array":
			return flattenLeaves(item, joinPath(prefix, "[]"))
		default:
			return []leaf{{path: prefix, typ: schemaType(item) + "[]", desc: schemaDescription(s)}}
		}
	default:
		return []leaf{{path: prefix, typ: schemaType(s), desc: schemaDescription(s)}}
	}
}

// isContainerAt reports whether the schema flattens beyond a single leaf
// at its own path.
func isContainerAt(s map[string]any, basePath string) bool {
	leaves := flattenLeaves(s, basePath)
	return len(leaves) > 1 || (len(leaves) == 1 && leaves[0].path != basePath)
}

func leafLine(l leaf) string {
	p := l.path
	if p == "" {
		p = "value"
	}
	line := p + ": " + l.typ
	if l.desc != "" {
		line += " - " + l.desc
	}
	return line
}

func foldLine(path string, n int) string {
	return fmt.Sprintf("%s: object (contains %d sub-fields; inspect_tool_output(..., field_path=%q))", path, n, path)
}

// foldPath names the drill-down path for a folded container. The root
// of an array schema folds at "[]".
func foldPath(basePath string) string {
	if basePath == "" {
		return "[]"
	}
	return basePath
}

func subFieldCount(s map[string]any) int {
	switch schemaType(s) {
	case "object":
		_, names := properties(s)
		return len(names)
	case "array":
		item := itemSchema(s)
		if item == nil {
			return 0
		}
		return subFieldCount(item)
	default:
		return 0
	}
}

func schemaType(s map[string]any) string {
	if t, ok := s["type"].(string); ok {
		return t
	}
	if _, ok := s["properties"]; ok {
		return "object"
	}
	if _, ok := s["items"]; ok {
		return "array"
	}
	return "any"
}

func schemaDescription(s map[string]any) string {
	d, _ := s["description"].(string)
	return d
}

func properties(s map[string]any) (map[string]map[string]any, []string) {
	raw, ok := s["properties"].(map[string]any)
	if !ok {
		return nil, nil
	}
	out := make(map[string]map[string]any, len(raw))
	names := make([]string, 0, len(raw))
	for k, v := range raw {
		child, ok := v.(map[string]any)
		if !ok {
			child = map[string]any{}
		}
		out[k] = child
		names = append(names, k)
	}
	sort.Strings(names)
	return out, names
}

func itemSchema(s map[string]any) map[string]any {
	item, _ := s["items"].(map[string]any)
	return item
}

func joinPath(prefix, seg string) string {
	if prefix == "" {
		return seg
	}
	return prefix + "." + seg
}
