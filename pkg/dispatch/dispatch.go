// Package dispatch routes tool invocations for one run. Every call,
// whether from a tool step or from sandbox IPC, goes through the run's
// captured registry snapshot and tool index: builtin toolbox tools
// execute against the index, provider tools against the snapshot's
// adapters, and returned data is masked before anyone sees it.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/toolboxlabs/planner/pkg/masking"
	"github.com/toolboxlabs/planner/pkg/metrics"
	"github.com/toolboxlabs/planner/pkg/models"
	"github.com/toolboxlabs/planner/pkg/registry"
	"github.com/toolboxlabs/planner/pkg/toolindex"
)

// DefaultTimeout bounds one dispatcher call end to end.
const DefaultTimeout = 30 * time.Second

// toolIDRegex validates the "provider.name" format. Both halves must
// start with a word character and contain only word characters and
// hyphens.
var toolIDRegex = regexp.MustCompile(`^([\w][\w-]*)\.([\w][\w-]*)$`)

// SplitToolID splits "provider.name" into (provider, tool, error).
func SplitToolID(toolID string) (provider, tool string, err error) {
	matches := toolIDRegex.FindStringSubmatch(toolID)
	if matches == nil {
		return "", "", fmt.Errorf(
			"invalid tool id %q: must be in 'provider.name' format "+
				"(e.g., 'github.list_issues')", toolID)
	}
	return matches[1], matches[2], nil
}

// Dispatcher routes invocations for a single run against the snapshot
// and index the run captured at start.
type Dispatcher struct {
	snapshot *registry.Snapshot
	index    *toolindex.Index
	masker   *masking.Service
	metrics  *metrics.Metrics
	logger   *slog.Logger
	timeout  time.Duration
}

// New creates a dispatcher. masker and m may be nil (masking and metrics
// disabled).
func New(snapshot *registry.Snapshot, index *toolindex.Index, masker *masking.Service, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		snapshot: snapshot,
		index:    index,
		masker:   masker,
		metrics:  m,
		logger:   slog.Default().With("component", "dispatcher"),
		timeout:  DefaultTimeout,
	}
}

// WithTimeout overrides the per-call deadline and returns the dispatcher.
func (d *Dispatcher) WithTimeout(timeout time.Duration) *Dispatcher {
	d.timeout = timeout
	return d
}

// Invoke executes one tool call and always returns a normalized
// response. Authorization, routing, and transport failures are response
// errors, never Go errors; the caller decides what they mean for the run.
func (d *Dispatcher) Invoke(ctx context.Context, tenant models.TenantContext, toolID string, args map[string]any) models.ActionResponse {
	start := time.Now()

	provider, tool, err := SplitToolID(toolID)
	if err != nil {
		return models.ErrorResponse("%s", err)
	}
	if args == nil {
		args = map[string]any{}
	}

	opCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var resp models.ActionResponse
	if provider == models.ToolboxProvider {
		resp = d.invokeBuiltin(tool, args)
	} else {
		resp = d.invokeProvider(opCtx, tenant, provider, tool, args)
	}
	resp = resp.Normalize()

	resp.Data = d.masker.RedactToolData(resp.Data)
	resp.Error = d.masker.RedactString(resp.Error)

	d.metrics.RecordToolInvocation(provider, tool, resp.Successful, time.Since(start).Seconds())
	if !resp.Successful {
		d.logger.Debug("Tool invocation failed",
			"tool_id", toolID, "user_id", tenant.UserID, "error", resp.Error)
	}
	return resp
}

// invokeBuiltin handles toolbox tools against the run's index.
func (d *Dispatcher) invokeBuiltin(tool string, args map[string]any) models.ActionResponse {
	if models.ToolboxProvider+"."+tool != models.InspectToolID {
		return models.ErrorResponse("unknown tool %q on provider %q", tool, models.ToolboxProvider)
	}

	target, ok := args["tool_id"].(string)
	if !ok || target == "" {
		return models.ErrorResponse("inspect_tool_output requires a tool_id argument")
	}
	fieldPath := ""
	if v, present := args["field_path"]; present && v != nil {
		s, isString := v.(string)
		if !isString {
			return models.ErrorResponse("field_path must be a string, got %T", v)
		}
		fieldPath = s
	}

	fields, err := d.index.Unfold(target, fieldPath)
	if err != nil {
		return models.ErrorResponse("%s", err)
	}
	return models.ActionResponse{
		Successful: true,
		Data: map[string]any{
			"tool_id":       target,
			"field_path":    fieldPath,
			"output_fields": fields,
		},
	}
}

func (d *Dispatcher) invokeProvider(ctx context.Context, tenant models.TenantContext, provider, tool string, args map[string]any) models.ActionResponse {
	if !d.snapshot.Authorized(provider) {
		return models.ErrorResponse(
			"provider %q is not available for this run. Available providers: %s",
			provider, strings.Join(d.snapshot.ProviderNames(), ", "))
	}
	if _, ok := d.index.Lookup(provider + "." + tool); !ok {
		return models.ErrorResponse("unknown tool %q on provider %q", tool, provider)
	}
	p, ok := d.snapshot.Provider(provider)
	if !ok {
		return models.ErrorResponse("provider %q is not available for this run", provider)
	}
	return p.Invoke(ctx, tenant, tool, args)
}
