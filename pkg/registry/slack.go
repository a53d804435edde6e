package registry

import (
	"context"
	"log/slog"
	"os"
	"sync"

	goslack "github.com/slack-go/slack"

	"github.com/toolboxlabs/planner/pkg/config"
	"github.com/toolboxlabs/planner/pkg/models"
	"github.com/toolboxlabs/planner/pkg/toolindex"
)

// slackTokenCredential is the tenant credential key carrying a Slack bot
// token. Falls back to the provider's token_env when absent.
const slackTokenCredential = "slack_token"

// SlackProvider exposes a fixed set of Slack tools through the slack-go
// SDK. Clients are created lazily per token so tenants with their own
// bot tokens do not share rate limits.
type SlackProvider struct {
	name     string
	tokenEnv string
	apiURL   string
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[string]*goslack.Client
}

// NewSlackProvider builds the adapter. No connection is made until the
// first invocation.
func NewSlackProvider(name string, cfg config.ProviderConfig) *SlackProvider {
	return &SlackProvider{
		name:     name,
		tokenEnv: cfg.TokenEnv,
		apiURL:   cfg.APIURL,
		logger:   slog.Default().With("component", "slack-provider", "provider", name),
		clients:  make(map[string]*goslack.Client),
	}
}

// Name implements Provider.
func (p *SlackProvider) Name() string { return p.name }

// Close implements Provider.
func (p *SlackProvider) Close() error { return nil }

// Definitions implements Provider. Slack tools are declared statically.
func (p *SlackProvider) Definitions(context.Context) ([]toolindex.Definition, error) {
	return slackDefinitions(p.name), nil
}

// Invoke implements Provider.
func (p *SlackProvider) Invoke(ctx context.Context, tenant models.TenantContext, tool string, args map[string]any) models.ActionResponse {
	api, err := p.clientFor(tenant)
	if err != nil {
		return models.ErrorResponse("%s", err)
	}

	switch tool {
	case "post_message":
		return p.postMessage(ctx, api, args)
	case "list_channels":
		return p.listChannels(ctx, api, args)
	case "user_info":
		return p.userInfo(ctx, api, args)
	default:
		return models.ErrorResponse("unknown tool %q on provider %q", tool, p.name)
	}
}

func (p *SlackProvider) clientFor(tenant models.TenantContext) (*goslack.Client, error) {
	token := tenant.Credentials[slackTokenCredential]
	if token == "" && p.tokenEnv != "" {
		token = os.Getenv(p.tokenEnv)
	}
	if token == "" {
		return nil, &noTokenError{provider: p.name}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if api, ok := p.clients[token]; ok {
		return api, nil
	}

	opts := []goslack.Option{}
	if p.apiURL != "" {
		opts = append(opts, goslack.OptionAPIURL(p.apiURL))
	}
	api := goslack.New(token, opts...)
	p.clients[token] = api
	return api, nil
}

type noTokenError struct {
	provider string
}

func (e *noTokenError) Error() string {
	return "no Slack token available for provider \"" + e.provider + "\""
}

func (p *SlackProvider) postMessage(ctx context.Context, api *goslack.Client, args map[string]any) models.ActionResponse {
	channel, err := stringArg(args, "channel")
	if err != nil {
		return models.ErrorResponse("%s", err)
	}
	text, err := stringArg(args, "text")
	if err != nil {
		return models.ErrorResponse("%s", err)
	}
	threadTS, err := optStringArg(args, "thread_ts", "")
	if err != nil {
		return models.ErrorResponse("%s", err)
	}

	opts := []goslack.MsgOption{goslack.MsgOptionText(text, false)}
	if threadTS != "" {
		opts = append(opts, goslack.MsgOptionTS(threadTS))
	}

	respChannel, ts, err := api.PostMessageContext(ctx, channel, opts...)
	if err != nil {
		return models.ErrorResponse("chat.postMessage failed: %s", err)
	}
	return models.ActionResponse{
		Successful: true,
		Data:       map[string]any{"channel": respChannel, "ts": ts},
	}
}

func (p *SlackProvider) listChannels(ctx context.Context, api *goslack.Client, args map[string]any) models.ActionResponse {
	limit, err := optIntArg(args, "limit", 100)
	if err != nil {
		return models.ErrorResponse("%s", err)
	}
	cursor, err := optStringArg(args, "cursor", "")
	if err != nil {
		return models.ErrorResponse("%s", err)
	}
	excludeArchived, err := optBoolArg(args, "exclude_archived", true)
	if err != nil {
		return models.ErrorResponse("%s", err)
	}

	params := &goslack.GetConversationsParameters{
		Limit:           limit,
		Cursor:          cursor,
		ExcludeArchived: excludeArchived,
		Types:           []string{"public_channel"},
	}
	channels, nextCursor, err := api.GetConversationsContext(ctx, params)
	if err != nil {
		return models.ErrorResponse("conversations.list failed: %s", err)
	}

	items := make([]any, 0, len(channels))
	for _, ch := range channels {
		items = append(items, map[string]any{
			"id":          ch.ID,
			"name":        ch.Name,
			"is_private":  ch.IsPrivate,
			"is_archived": ch.IsArchived,
			"num_members": ch.NumMembers,
			"topic":       ch.Topic.Value,
			"purpose":     ch.Purpose.Value,
		})
	}
	return models.ActionResponse{
		Successful: true,
		Data:       map[string]any{"channels": items, "next_cursor": nextCursor},
	}
}

func (p *SlackProvider) userInfo(ctx context.Context, api *goslack.Client, args map[string]any) models.ActionResponse {
	user, err := stringArg(args, "user")
	if err != nil {
		return models.ErrorResponse("%s", err)
	}

	info, err := api.GetUserInfoContext(ctx, user)
	if err != nil {
		return models.ErrorResponse("users.info failed: %s", err)
	}
	return models.ActionResponse{
		Successful: true,
		Data: map[string]any{
			"id":           info.ID,
			"name":         info.Name,
			"real_name":    info.RealName,
			"display_name": info.Profile.DisplayName,
			"email":        info.Profile.Email,
			"is_bot":       info.IsBot,
			"tz":           info.TZ,
		},
	}
}

// slackDefinitions declares the wrapper signatures, docstrings, and output
// schemas for the Slack toolset.
func slackDefinitions(provider string) []toolindex.Definition {
	return []toolindex.Definition{
		{
			Provider: provider,
			Name:     "post_message",
			Doc: "Post a message to a Slack channel.\n\n" +
				"Params:\n" +
				"    channel: Channel ID to post to, e.g. \"C0123456789\".\n" +
				"    text: Message text, Slack mrkdwn formatting.\n" +
				"    thread_ts: Parent message timestamp. Empty posts a top-level message.",
			Params: []toolindex.Param{
				{Name: "tenant", Type: "TenantContext"},
				{Name: "channel", Type: "str"},
				{Name: "text", Type: "str"},
				{Name: "thread_ts", Type: "str", HasDefault: true, Default: `""`},
			},
			OutputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"channel": map[string]any{"type": "string", "description": "Channel the message was posted to."},
					"ts":      map[string]any{"type": "string", "description": "Timestamp of the posted message, usable as thread_ts."},
				},
			},
		},
		{
			Provider: provider,
			Name:     "list_channels",
			Doc: "List public channels in the workspace, paginated by cursor.\n\n" +
				"Params:\n" +
				"    limit: Maximum channels per page.\n" +
				"    cursor: Pagination cursor from a previous call. Empty starts from the first page.\n" +
				"    exclude_archived: Skip archived channels.",
			Params: []toolindex.Param{
				{Name: "tenant", Type: "TenantContext"},
				{Name: "limit", Type: "int", HasDefault: true, Default: "100"},
				{Name: "cursor", Type: "str", HasDefault: true, Default: `""`},
				{Name: "exclude_archived", Type: "bool", HasDefault: true, Default: "True"},
			},
			OutputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"channels": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"id":          map[string]any{"type": "string", "description": "Channel ID."},
								"name":        map[string]any{"type": "string", "description": "Channel name without the leading #."},
								"is_private":  map[string]any{"type": "boolean"},
								"is_archived": map[string]any{"type": "boolean"},
								"num_members": map[string]any{"type": "integer"},
								"topic":       map[string]any{"type": "string", "description": "Channel topic text."},
								"purpose":     map[string]any{"type": "string", "description": "Channel purpose text."},
							},
						},
					},
					"next_cursor": map[string]any{"type": "string", "description": "Cursor for the next page, empty when exhausted."},
				},
			},
		},
		{
			Provider: provider,
			Name:     "user_info",
			Doc: "Look up a workspace user by ID.\n\n" +
				"Params:\n" +
				"    user: User ID, e.g. \"U0123456789\".",
			Params: []toolindex.Param{
				{Name: "tenant", Type: "TenantContext"},
				{Name: "user", Type: "str"},
			},
			OutputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":           map[string]any{"type": "string"},
					"name":         map[string]any{"type": "string", "description": "Login name."},
					"real_name":    map[string]any{"type": "string"},
					"display_name": map[string]any{"type": "string"},
					"email":        map[string]any{"type": "string"},
					"is_bot":       map[string]any{"type": "boolean"},
					"tz":           map[string]any{"type": "string", "description": "IANA timezone, e.g. \"America/New_York\"."},
				},
			},
		},
	}
}
