package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/oracle/internal/community"
	"github.com/kalambet/oracle/internal/pipeline"
)

// ContentVersionURI is the MCP resource reporting the loaded content table.
const ContentVersionURI = "oracle://content/version"

// NewMCPServer creates an MCP server with all oracle tools and resources
// registered.
func NewMCPServer(deps Deps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"oracle",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("oracle: culturally-aware guidance that respects the sovereignty of the traditions it draws on."),
		server.WithRecovery(),
	)

	queryTypes := make([]string, len(pipeline.QueryTypes))
	for i, q := range pipeline.QueryTypes {
		queryTypes[i] = string(q)
	}

	s.AddTool(
		mcp.NewTool("process_query",
			mcp.WithDescription("Run a guidance query through the oracle pipeline and return the gated response."),
			mcp.WithString("userInput", mcp.Description("What the user is asking or sharing"), mcp.Required()),
			mcp.WithString("userId", mcp.Description("Stable identifier of the user"), mcp.Required()),
			mcp.WithString("queryType", mcp.Description("Which payloads to return (default comprehensive)"), mcp.Enum(queryTypes...)),
			mcp.WithString("userProfile", mcp.Description("Optional JSON object with culturalBackground, culturalIdentities, preferredLanguages, ancestralLineages")),
			mcp.WithString("intendedUse", mcp.Description("How the wisdom will be used (default personal_guidance)")),
			mcp.WithBoolean("consent", mcp.Description("Whether the user consents to receiving tradition-specific wisdom (default true)")),
		),
		mcpProcessQuery(deps),
	)

	s.AddTool(
		mcp.NewTool("check_sovereignty",
			mcp.WithDescription("Check whether wisdom from a tradition may be shared with a requester."),
			mcp.WithString("tradition", mcp.Description("Tradition identifier, e.g. celtic"), mcp.Required()),
			mcp.WithString("requesterCulture", mcp.Description("Cultural background of the requester")),
			mcp.WithString("intendedUse", mcp.Description("Intended use (default personal_guidance)")),
			mcp.WithBoolean("consent", mcp.Description("Whether consent was given (default true)")),
		),
		mcpCheckSovereignty(deps),
	)

	s.AddTool(
		mcp.NewTool("share_wisdom",
			mcp.WithDescription("Share wisdom with a community. The share is gated and published asynchronously."),
			mcp.WithString("userId", mcp.Description("Sharing user"), mcp.Required()),
			mcp.WithString("community", mcp.Description("Community name"), mcp.Required()),
			mcp.WithString("tradition", mcp.Description("Tradition the content comes from"), mcp.Required()),
			mcp.WithString("content", mcp.Description("Text to share"), mcp.Required()),
			mcp.WithString("intendedUse", mcp.Description("Intended use (default personal_guidance)")),
			mcp.WithBoolean("consent", mcp.Description("Whether consent was given (default true)")),
		),
		mcpShareWisdom(deps),
	)

	s.AddTool(
		mcp.NewTool("get_user_state",
			mcp.WithDescription("Return the stored cultural profile, shadow, purpose and dream state of a user."),
			mcp.WithString("userId", mcp.Description("User identifier"), mcp.Required()),
		),
		mcpGetUserState(deps),
	)

	s.AddResource(
		mcp.NewResource(
			ContentVersionURI,
			"Content Version",
			mcp.WithResourceDescription("Version of the loaded content table"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceContentVersion(deps),
	)

	return s
}

func mcpProcessQuery(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		input, err := req.RequireString("userInput")
		if err != nil {
			return mcpError("userInput is required"), nil
		}
		userID, err := req.RequireString("userId")
		if err != nil {
			return mcpError("userId is required"), nil
		}

		preq := pipeline.Request{
			UserInput:   input,
			UserID:      userID,
			QueryType:   pipeline.QueryType(req.GetString("queryType", string(pipeline.Comprehensive))),
			IntendedUse: req.GetString("intendedUse", ""),
			Consent:     optionalBool(req, "consent"),
		}
		if hint := req.GetString("userProfile", ""); hint != "" {
			preq.ProfileHint = json.RawMessage(hint)
		}

		resp, err := deps.process(ctx, preq)
		if err != nil {
			var serr *pipeline.StageFailure
			if errors.As(err, &serr) {
				deps.logger().Error("pipeline failed", "stage", serr.Stage, "error", serr.Err)
				return mcpError(fmt.Sprintf("pipeline failed at stage %s", serr.Stage)), nil
			}
			return mcpError(err.Error()), nil
		}
		return mcpJSON(resp)
	}
}

func mcpCheckSovereignty(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tradition, err := req.RequireString("tradition")
		if err != nil || tradition == "" {
			return mcpError("tradition is required"), nil
		}
		d := deps.checkSovereignty(
			tradition,
			req.GetString("requesterCulture", ""),
			req.GetString("intendedUse", ""),
			optionalBool(req, "consent"),
		)
		return mcpJSON(d)
	}
}

func mcpShareWisdom(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		share := community.ShareRequest{
			UserID:      req.GetString("userId", ""),
			Community:   req.GetString("community", ""),
			Tradition:   req.GetString("tradition", ""),
			Content:     req.GetString("content", ""),
			IntendedUse: req.GetString("intendedUse", ""),
			Consent:     optionalBool(req, "consent"),
		}
		res, err := deps.Community.Share(ctx, share)
		if err != nil {
			return mcpError(fmt.Sprintf("share failed: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

func mcpGetUserState(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("userId")
		if err != nil {
			return mcpError("userId is required"), nil
		}
		st, err := deps.userState(ctx, userID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load user state: %v", err)), nil
		}
		if st.empty() {
			return mcpError(fmt.Sprintf("no state stored for user %q", userID)), nil
		}
		return mcpJSON(st)
	}
}

func mcpResourceContentVersion(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(map[string]string{"version": deps.Content.Table().Version})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal content version: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

// optionalBool distinguishes an absent argument from an explicit false.
func optionalBool(req mcp.CallToolRequest, key string) *bool {
	if _, ok := req.GetArguments()[key]; !ok {
		return nil
	}
	v := req.GetBool(key, true)
	return &v
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
