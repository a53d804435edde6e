package registry

import (
	"context"

	"github.com/toolboxlabs/planner/pkg/config"
	"github.com/toolboxlabs/planner/pkg/models"
	"github.com/toolboxlabs/planner/pkg/toolindex"
)

// InvokeFunc handles one tool invocation on a scripted provider.
type InvokeFunc func(ctx context.Context, tenant models.TenantContext, tool string, args map[string]any) models.ActionResponse

// StubProvider serves canned responses declared in configuration. Used
// for demos and for exercising the planner loop without live backends.
type StubProvider struct {
	name   string
	defs   []toolindex.Definition
	invoke InvokeFunc
}

// NewStubProvider builds a provider from stub tool declarations. Each
// tool returns its configured response object on every invocation.
func NewStubProvider(name string, tools []config.StubToolConfig) *StubProvider {
	defs := make([]toolindex.Definition, 0, len(tools))
	responses := make(map[string]map[string]any, len(tools))
	for _, tool := range tools {
		defs = append(defs, stubDefinition(name, tool))
		responses[tool.Name] = tool.Response
	}

	return &StubProvider{
		name: name,
		defs: defs,
		invoke: func(_ context.Context, _ models.TenantContext, tool string, _ map[string]any) models.ActionResponse {
			resp, ok := responses[tool]
			if !ok {
				return models.ErrorResponse("unknown tool %q on provider %q", tool, name)
			}
			data := make(map[string]any, len(resp))
			for k, v := range resp {
				data[k] = v
			}
			return models.ActionResponse{Successful: true, Data: data}
		},
	}
}

// NewScriptedProvider builds a provider whose invocations run through the
// given handler. Used by tests.
func NewScriptedProvider(name string, defs []toolindex.Definition, handler InvokeFunc) *StubProvider {
	return &StubProvider{name: name, defs: defs, invoke: handler}
}

// Name implements Provider.
func (p *StubProvider) Name() string { return p.name }

// Definitions implements Provider.
func (p *StubProvider) Definitions(context.Context) ([]toolindex.Definition, error) {
	return p.defs, nil
}

// Invoke implements Provider.
func (p *StubProvider) Invoke(ctx context.Context, tenant models.TenantContext, tool string, args map[string]any) models.ActionResponse {
	return p.invoke(ctx, tenant, tool, args)
}

// Close implements Provider.
func (p *StubProvider) Close() error { return nil }

func stubDefinition(provider string, tool config.StubToolConfig) toolindex.Definition {
	params := make([]toolindex.Param, 0, len(tool.Params)+1)
	params = append(params, toolindex.Param{Name: "tenant", Type: "TenantContext"})
	for _, pc := range tool.Params {
		typ := pc.Type
		if typ == "" {
			typ = "str"
		}
		param := toolindex.Param{Name: pc.Name, Type: typ, Doc: pc.Doc}
		if pc.Default != nil {
			param.HasDefault = true
			param.Default = *pc.Default
		}
		params = append(params, param)
	}
	return toolindex.Definition{
		Provider:     provider,
		Name:         tool.Name,
		Doc:          tool.Description,
		Params:       params,
		OutputSchema: tool.OutputSchema,
	}
}
