// Package mcp exposes the orchestrator as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/threadline"
	"github.com/aretw0/threadline/internal/logging"
	"github.com/aretw0/threadline/pkg/domain"
	"github.com/aretw0/threadline/pkg/ports"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Tool and resource names.
const (
	ToolChat         = "chat"
	ToolSuggest      = "suggest"
	ToolCapabilities = "list_capabilities"

	CapabilitiesURI  = "threadline://capabilities"
	threadURIPrefix  = "threadline://threads/"
	threadURIPattern = threadURIPrefix + "{thread_id}"
)

// Engine is the orchestrator surface the server needs.
type Engine interface {
	ports.Orchestrator
	Thread(ctx context.Context, threadID string) (*domain.ConversationState, error)
}

// Server wraps the engine and exposes it as an MCP server.
type Server struct {
	engine    Engine
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates a new MCP server instance.
func NewServer(engine Engine, opts ...Option) *Server {
	s := &Server{
		engine:    engine,
		logger:    logging.NewNop(),
		mcpServer: server.NewMCPServer("threadline", strings.TrimSpace(threadline.Version)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio serves on Stdin/Stdout until the stream closes.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves on addr using SSE until ctx is cancelled.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())
	httpServer := &http.Server{Addr: addr, Handler: mux}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

// Definitions lists the tools the server registers.
func Definitions() []mcp.Tool {
	return []mcp.Tool{
		mcp.NewTool(ToolChat,
			mcp.WithDescription("Ask the assistant a question. Pass the returned thread_id on later calls to continue the conversation."),
			mcp.WithString("query", mcp.Required(), mcp.Description("The user question")),
			mcp.WithString("thread_id", mcp.Description("Conversation to continue (optional)")),
			mcp.WithOutputSchema[domain.ChatResponse](),
		),
		mcp.NewTool(ToolSuggest,
			mcp.WithDescription("Suggest follow-up questions for an answer or for the last answer of a thread."),
			mcp.WithString("final_answer", mcp.Description("Answer to build on (wins over thread_id)")),
			mcp.WithString("thread_id", mcp.Description("Conversation whose last answer to use")),
			mcp.WithOutputSchema[domain.SuggestResponse](),
		),
		mcp.NewTool(ToolCapabilities,
			mcp.WithDescription("List the capabilities the assistant can route questions to."),
		),
	}
}

func (s *Server) registerTools() {
	handlers := map[string]server.ToolHandlerFunc{
		ToolChat:         s.HandleChat,
		ToolSuggest:      s.HandleSuggest,
		ToolCapabilities: s.HandleCapabilities,
	}
	for _, tool := range Definitions() {
		s.mcpServer.AddTool(tool, handlers[tool.Name])
	}
}

// HandleChat runs one turn. Turn failures are tool errors, not protocol errors.
func (s *Server) HandleChat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resp, err := s.engine.Chat(ctx, domain.ChatRequest{
		Query:    req.GetString("query", ""),
		ThreadID: req.GetString("thread_id", ""),
	})
	if err != nil {
		s.logger.Warn("MCP chat failed", "kind", domain.ErrorKind(err), "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("%s: %v", domain.ErrorKind(err), err)), nil
	}
	return mcp.NewToolResultStructured(resp, resp.Answer), nil
}

// HandleSuggest produces follow-up questions. It never fails.
func (s *Server) HandleSuggest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resp := s.engine.Suggest(ctx, domain.SuggestRequest{
		FinalAnswer: req.GetString("final_answer", ""),
		ThreadID:    req.GetString("thread_id", ""),
	})
	return mcp.NewToolResultStructured(resp, strings.Join(resp.Suggestions, "\n")), nil
}

// HandleCapabilities lists the registered capabilities as JSON.
func (s *Server) HandleCapabilities(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(s.engine.Capabilities())
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(CapabilitiesURI, "Capability catalogue",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		data, err := json.Marshal(s.engine.Capabilities())
		if err != nil {
			return nil, err
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: CapabilitiesURI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})

	s.mcpServer.AddResourceTemplate(mcp.NewResourceTemplate(threadURIPattern, "Conversation thread",
		mcp.WithTemplateDescription("Stored transcript of a thread"),
		mcp.WithTemplateMIMEType("application/json"),
	), s.ReadThread)
}

// ReadThread serves threadline://threads/{thread_id}.
func (s *Server) ReadThread(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := request.Params.URI
	id := strings.TrimPrefix(uri, threadURIPrefix)
	if id == "" || id == uri {
		return nil, fmt.Errorf("invalid thread uri %q", uri)
	}
	state, err := s.engine.Thread(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: uri, MIMEType: "application/json", Text: string(data)},
	}, nil
}
