package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/opn-tools/permit-assistant/internal/bootstrap"
	"github.com/opn-tools/permit-assistant/internal/config"
	"github.com/opn-tools/permit-assistant/internal/core/domain"
	"github.com/opn-tools/permit-assistant/internal/core/retrieval"
	"github.com/opn-tools/permit-assistant/internal/observability/logging"
)

// The MCP binary exposes the retrieval engine as tools over stdio, so
// assistants can search the spatial-planning knowledge base directly.
func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("permit-assistant-mcp", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	engine, ok := app.Retriever.(*retrieval.Engine)
	if !ok {
		log.Fatalf("retriever does not support free-text search")
	}

	s := server.NewMCPServer(
		"permit-assistant",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	searchTool := mcp.NewTool("search_spatial_rules",
		mcp.WithDescription("Poišče relevantna prostorska pravila (OPN) za podan opis gradnje in vrne citiran kontekst."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Opis nameravane gradnje ali vprašanje o prostorskih pogojih."),
		),
		mcp.WithNumber("top_k",
			mcp.Description("Največje število vrnjenih odlomkov (privzeto po nastavitvi strežnika)."),
		),
	)
	s.AddTool(searchTool, func(toolCtx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := request.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if strings.TrimSpace(query) == "" {
			return mcp.NewToolResultError("query must not be empty"), nil
		}
		topK := request.GetInt("top_k", 0)

		contextText, _, err := engine.GetContextForText(toolCtx, query, topK)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("retrieval failed: %v", err)), nil
		}
		if contextText == "" {
			return mcp.NewToolResultText("Ni neposredno ustreznih določb v bazi znanja."), nil
		}
		return mcp.NewToolResultText(contextText), nil
	})

	sessionTool := mcp.NewTool("get_session",
		mcp.WithDescription("Vrne stanje in rezultate preverjanja skladnosti za podano sejo."),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Identifikator seje preverjanja."),
		),
	)
	s.AddTool(sessionTool, func(toolCtx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := request.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		session, err := app.Sessions.GetByID(toolCtx, sessionID)
		if err != nil {
			if domain.IsKind(err, domain.ErrSessionNotFound) {
				return mcp.NewToolResultError("session not found: " + sessionID), nil
			}
			return mcp.NewToolResultError(fmt.Sprintf("get session failed: %v", err)), nil
		}

		payload, err := json.MarshalIndent(session, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encode session: %v", err)), nil
		}
		return mcp.NewToolResultText(string(payload)), nil
	})

	if err := server.ServeStdio(s); err != nil {
		log.Fatalf("mcp server error: %v", err)
	}
}
