// Package toolindex builds searchable tool indexes from registered
// wrapper definitions: signatures, docstring-derived parameter docs, and
// output-schema summaries with fold markers for drill-down.
//
// An Index is an immutable snapshot. Providers publish new definition
// sets when authorization changes; runs keep the snapshot they started
// with.
package toolindex

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/toolboxlabs/planner/pkg/models"
)

// Param is one parameter of a wrapper function signature.
type Param struct {
	Name       string
	Type       string
	Doc        string // overrides the docstring params section when set
	HasDefault bool
	Default    string // rendered literal, e.g. `"open"` or `10`
}

// Definition is one registered wrapper as reported by a provider. Params
// is the raw signature: the first entry is the tenant context and is
// never surfaced to the planner.
type Definition struct {
	Provider           string
	Name               string
	Doc                string // docstring: description plus optional Params: section
	Params             []Param
	OutputSchema       map[string]any
	OutputSchemaPretty string
}

// ToolID returns the provider.name identifier for the definition.
func (d Definition) ToolID() string {
	return d.Provider + "." + d.Name
}

// Spec is the indexed form of one tool.
type Spec struct {
	Provider string
	Name     string
	ToolID   string

	// Signature is the Pythonic rendering of the exposed parameters,
	// e.g. `list_issues(owner: str, repo: str, state: str = "open")`.
	Signature   string
	Description string

	// Params holds only the exposed parameters, in signature order.
	Params []Param

	// InputParams maps each exposed parameter to its formatted doc line.
	InputParams map[string]string

	OutputSchema       map[string]any
	OutputSchemaPretty string
	OutputFields       []string
	HasHiddenFields    bool
}

// Index is an immutable tool index snapshot for one tenant.
type Index struct {
	specs       map[string]*Spec
	order       []string // tool ids ascending
	inventory   map[string][]string
	fingerprint string
}

// Build indexes the given definitions. Tool ids must be unique.
func Build(defs []Definition) (*Index, error) {
	ix := &Index{
		specs:     make(map[string]*Spec, len(defs)),
		inventory: make(map[string][]string),
	}

	for _, def := range defs {
		if def.Provider == "" || def.Name == "" {
			return nil, fmt.Errorf("definition missing provider or name: %q.%q", def.Provider, def.Name)
		}
		id := def.ToolID()
		if _, exists := ix.specs[id]; exists {
			return nil, fmt.Errorf("duplicate tool id %q", id)
		}

		spec, err := buildSpec(def)
		if err != nil {
			return nil, fmt.Errorf("index %s: %w", id, err)
		}
		ix.specs[id] = spec
		ix.order = append(ix.order, id)
		ix.inventory[def.Provider] = append(ix.inventory[def.Provider], def.Name)
	}

	sort.Strings(ix.order)
	for provider := range ix.inventory {
		sort.Strings(ix.inventory[provider])
	}
	ix.fingerprint = fingerprintSpecs(ix)
	return ix, nil
}

func buildSpec(def Definition) (*Spec, error) {
	exposed := exposeParams(def.Params)
	description, paramDocs := parseDocstring(def.Doc)

	inputParams := make(map[string]string, len(exposed))
	for i := range exposed {
		p := &exposed[i]
		if p.Doc == "" {
			p.Doc = paramDocs[p.Name]
		}
		inputParams[p.Name] = formatParamDoc(*p)
	}

	fields, hidden := Summarize(def.OutputSchema)

	pretty := def.OutputSchemaPretty
	if pretty == "" && def.OutputSchema != nil {
		b, err := json.MarshalIndent(def.OutputSchema, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("render output schema: %w", err)
		}
		pretty = string(b)
	}

	return &Spec{
		Provider:           def.Provider,
		Name:               def.Name,
		ToolID:             def.ToolID(),
		Signature:          renderSignature(def.Name, exposed),
		Description:        description,
		Params:             exposed,
		InputParams:        inputParams,
		OutputSchema:       def.OutputSchema,
		OutputSchemaPretty: pretty,
		OutputFields:       fields,
		HasHiddenFields:    hidden,
	}, nil
}

// exposeParams drops the leading tenant-context parameter and any
// parameter named "context".
func exposeParams(params []Param) []Param {
	if len(params) == 0 {
		return nil
	}
	out := make([]Param, 0, len(params)-1)
	for i, p := range params {
		if i == 0 || p.Name == "context" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func renderSignature(name string, params []Param) string {
	parts := make([]string, 0, len(params))
	for _, p := range params {
		typ := p.Type
		if typ == "" {
			typ = "Any"
		}
		s := p.Name + ": " + typ
		if p.HasDefault {
			s += " = " + p.Default
		}
		parts = append(parts, s)
	}
	return name + "(" + strings.Join(parts, ", ") + ")"
}

// formatParamDoc renders "<type> (required|optional, default=X) - <doc>".
func formatParamDoc(p Param) string {
	typ := p.Type
	if typ == "" {
		typ = "Any"
	}
	var b strings.Builder
	b.WriteString(typ)
	if p.HasDefault {
		b.WriteString(" (optional, default=")
		b.WriteString(p.Default)
		b.WriteString(")")
	} else {
		b.WriteString(" (required)")
	}
	if p.Doc != "" {
		b.WriteString(" - ")
		b.WriteString(p.Doc)
	}
	return b.String()
}

// Lookup returns the spec for a tool id.
func (ix *Index) Lookup(toolID string) (*Spec, bool) {
	spec, ok := ix.specs[toolID]
	return spec, ok
}

// Len returns the number of indexed tools.
func (ix *Index) Len() int {
	return len(ix.order)
}

// All returns every spec in tool-id order.
func (ix *Index) All() []*Spec {
	out := make([]*Spec, 0, len(ix.order))
	for _, id := range ix.order {
		out = append(out, ix.specs[id])
	}
	return out
}

// InventoryView returns a copy of the provider → tool-name tree used to
// seed the prompt.
func (ix *Index) InventoryView() map[string][]string {
	out := make(map[string][]string, len(ix.inventory))
	for provider, names := range ix.inventory {
		out[provider] = append([]string(nil), names...)
	}
	return out
}

// Fingerprint identifies the built index contents. Two builds over the
// same definitions produce the same fingerprint and byte-identical
// descriptors.
func (ix *Index) Fingerprint() string {
	return ix.fingerprint
}

// Descriptor renders the compact descriptor for one spec at the given
// detail level.
func (ix *Index) Descriptor(toolID, detail string) (models.ToolDescriptor, bool) {
	spec, ok := ix.specs[toolID]
	if !ok {
		return models.ToolDescriptor{}, false
	}
	return describeSpec(spec, detail), true
}

func describeSpec(spec *Spec, detail string) models.ToolDescriptor {
	d := models.ToolDescriptor{
		ToolID:          spec.ToolID,
		Server:          spec.Provider,
		Signature:       spec.Signature,
		Description:     spec.Description,
		InputParams:     spec.InputParams,
		OutputFields:    spec.OutputFields,
		HasHiddenFields: spec.HasHiddenFields,
	}
	if d.InputParams == nil {
		d.InputParams = map[string]string{}
	}
	if d.OutputFields == nil {
		d.OutputFields = []string{}
	}
	if detail == models.DetailFull {
		d.OutputSchemaPretty = spec.OutputSchemaPretty
	}
	return d
}

// Unfold expands the output-schema subtree behind a fold marker,
// returning the full leaf listing under fieldPath. An empty fieldPath
// flattens the whole schema.
func (ix *Index) Unfold(toolID, fieldPath string) ([]string, error) {
	spec, ok := ix.specs[toolID]
	if !ok {
		return nil, fmt.Errorf("unknown tool id %q", toolID)
	}
	if spec.OutputSchema == nil {
		return nil, fmt.Errorf("tool %q has no output schema", toolID)
	}
	return unfoldSchema(spec.OutputSchema, fieldPath)
}

// Search scores tools lexically: exact tool_id match above provider-name
// match above token frequency over name and description. Ties break by
// tool_id ascending. Results are capped at limit (default 10, max 50).
func (ix *Index) Search(query, detail string, limit int) []models.ToolDescriptor {
	if limit <= 0 {
		limit = models.SearchLimitDefault
	}
	if limit > models.SearchLimitMax {
		limit = models.SearchLimitMax
	}

	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return []models.ToolDescriptor{}
	}
	qTokens := tokenize(q)

	type scored struct {
		id    string
		score int
	}
	var hits []scored
	for _, id := range ix.order {
		spec := ix.specs[id]
		score := scoreSpec(spec, q, qTokens)
		if score > 0 {
			hits = append(hits, scored{id: id, score: score})
		}
	}

	// ix.order is ascending, so a stable sort by score keeps ties in
	// tool_id order.
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]models.ToolDescriptor, 0, len(hits))
	for _, h := range hits {
		out = append(out, describeSpec(ix.specs[h.id], detail))
	}
	return out
}

const (
	scoreExactID  = 1000
	scoreProvider = 500
)

func scoreSpec(spec *Spec, q string, qTokens []string) int {
	score := 0
	if q == strings.ToLower(spec.ToolID) {
		score += scoreExactID
	}
	provider := strings.ToLower(spec.Provider)
	if q == provider {
		score += scoreProvider
	} else {
		for _, tok := range qTokens {
			if tok == provider {
				score += scoreProvider
				break
			}
		}
	}

	haystack := tokenize(strings.ToLower(spec.Name + " " + spec.Description))
	freq := make(map[string]int, len(haystack))
	for _, tok := range haystack {
		freq[tok]++
	}
	for _, tok := range qTokens {
		score += freq[tok]
	}
	return score
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		isLower := r >= 'a' && r <= 'z'
		isDigit := r >= '0' && r <= '9'
		return !isLower && !isDigit
	})
}

// fingerprintSpecs hashes the full-detail descriptors in tool-id order.
func fingerprintSpecs(ix *Index) string {
	h := sha256.New()
	for _, id := range ix.order {
		b, err := json.Marshal(describeSpec(ix.specs[id], models.DetailFull))
		if err != nil {
			continue
		}
		h.Write(b)
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
