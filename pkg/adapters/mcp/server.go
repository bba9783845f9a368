package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/productflow"
	"github.com/aretw0/productflow/internal/logging"
	"github.com/aretw0/productflow/pkg/codec"
	"github.com/aretw0/productflow/pkg/domain"
	"github.com/aretw0/productflow/pkg/orchestrator"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const statesURI = "productflow://states"

// Orchestrator defines the workflow exposed as MCP tools.
// *orchestrator.Service implements it.
type Orchestrator interface {
	CreateSession(ctx context.Context, req orchestrator.CreateRequest) (*domain.Session, error)
	AddProductData(ctx context.Context, sessionID string, data domain.ProductData, operationID string) (*domain.Session, error)
	AddTargetData(ctx context.Context, sessionID string, data domain.TargetConfig, operationID string) (*domain.Session, error)
	CommitSession(ctx context.Context, sessionID, operationID string) (*domain.CommitResult, error)
	GetSessionProgress(ctx context.Context, sessionID string) (*domain.Session, error)
}

// Server exposes the orchestrator as an MCP server.
type Server struct {
	orchestrator Orchestrator
	mcpServer    *server.MCPServer
	logger       *slog.Logger
}

// NewServer creates a new MCP Server instance. A nil logger discards output.
func NewServer(o Orchestrator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		orchestrator: o,
		mcpServer:    server.NewMCPServer("productflow-mcp", productflow.Version),
		logger:       logger,
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves the MCP SSE transport on addr until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())

	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	// Channel to listen for errors coming from the listener.
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

func (s *Server) registerTools() {
	// TOOL: create_session
	createTool := mcp.NewTool("create_session",
		mcp.WithDescription("Start a product onboarding session. Only ADMIN and MAIN users may create sessions."),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Caller user id")),
		mcp.WithString("privilege", mcp.Required(), mcp.Description("Caller privilege: ADMIN, MAIN, MANAGER or MEMBER")),
		mcp.WithString("organization_id", mcp.Required(), mcp.Description("Organization the product belongs to")),
		mcp.WithString("operation_id", mcp.Description("Correlation id (generated when omitted)")),
		mcp.WithOutputSchema[domain.Session](),
	)
	s.mcpServer.AddTool(createTool, mcp.NewStructuredToolHandler(s.handleCreateSession))

	// TOOL: add_product
	productTool := mcp.NewTool("add_product",
		mcp.WithDescription("Add the product definition to a session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
		mcp.WithObject("product", mcp.Required(), mcp.Description(
			"Product fields: productCode, name, description, productType, price, currency, isActive, validFrom, validTo, maxMembers")),
		mcp.WithString("operation_id", mcp.Description("Correlation id")),
		mcp.WithOutputSchema[domain.Session](),
	)
	s.mcpServer.AddTool(productTool, mcp.NewStructuredToolHandler(s.handleAddProduct))

	// TOOL: add_target
	targetTool := mcp.NewTool("add_target",
		mcp.WithDescription("Add the audience target to a session. Requires product data. Omitted fields are unrestricted."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
		mcp.WithObject("target", mcp.Required(), mcp.Description(
			"Target fields: minAge, maxAge, gender, memberTypes, regions, membershipStatus, minTenureMonths")),
		mcp.WithString("operation_id", mcp.Description("Correlation id")),
		mcp.WithOutputSchema[domain.Session](),
	)
	s.mcpServer.AddTool(targetTool, mcp.NewStructuredToolHandler(s.handleAddTarget))

	// TOOL: commit_session
	commitTool := mcp.NewTool("commit_session",
		mcp.WithDescription("Create the product and its target in the record system, with retries."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
		mcp.WithString("operation_id", mcp.Description("Correlation id")),
		mcp.WithOutputSchema[domain.CommitResult](),
	)
	s.mcpServer.AddTool(commitTool, mcp.NewStructuredToolHandler(s.handleCommit))

	// TOOL: get_session
	getTool := mcp.NewTool("get_session",
		mcp.WithDescription("Read the progress of a session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
		mcp.WithOutputSchema[domain.Session](),
	)
	s.mcpServer.AddTool(getTool, mcp.NewStructuredToolHandler(s.handleGetSession))
}

// Handler methods for structured tools

func (s *Server) handleCreateSession(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (domain.Session, error) {
	userID, _ := args["user_id"].(string)
	privilege, _ := args["privilege"].(string)
	orgID, _ := args["organization_id"].(string)
	operationID, _ := args["operation_id"].(string)

	sess, err := s.orchestrator.CreateSession(ctx, orchestrator.CreateRequest{
		UserID:           userID,
		Privilege:        domain.Privilege(privilege),
		OrganizationGUID: orgID,
		OperationID:      operationID,
	})
	if err != nil {
		return domain.Session{}, s.toolError("create_session", err)
	}
	return *sess, nil
}

func (s *Server) handleAddProduct(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (domain.Session, error) {
	sessionID, _ := args["session_id"].(string)
	operationID, _ := args["operation_id"].(string)

	var data domain.ProductData
	if err := decodeObject(args, "product", &data); err != nil {
		return domain.Session{}, err
	}

	sess, err := s.orchestrator.AddProductData(ctx, sessionID, data, operationID)
	if err != nil {
		return domain.Session{}, s.toolError("add_product", err)
	}
	return *sess, nil
}

func (s *Server) handleAddTarget(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (domain.Session, error) {
	sessionID, _ := args["session_id"].(string)
	operationID, _ := args["operation_id"].(string)

	var data domain.TargetConfig
	if err := decodeObject(args, "target", &data); err != nil {
		return domain.Session{}, err
	}

	sess, err := s.orchestrator.AddTargetData(ctx, sessionID, data, operationID)
	if err != nil {
		return domain.Session{}, s.toolError("add_target", err)
	}
	return *sess, nil
}

func (s *Server) handleCommit(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (domain.CommitResult, error) {
	sessionID, _ := args["session_id"].(string)
	operationID, _ := args["operation_id"].(string)

	result, err := s.orchestrator.CommitSession(ctx, sessionID, operationID)
	if err != nil {
		return domain.CommitResult{}, s.toolError("commit_session", err)
	}
	return *result, nil
}

func (s *Server) handleGetSession(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (domain.Session, error) {
	sessionID, _ := args["session_id"].(string)

	sess, err := s.orchestrator.GetSessionProgress(ctx, sessionID)
	if err != nil {
		return domain.Session{}, s.toolError("get_session", err)
	}
	return *sess, nil
}

// decodeObject accepts the payload as an object or as a JSON string.
func decodeObject(args map[string]interface{}, key string, out any) error {
	raw := args[key]
	if str, ok := raw.(string); ok {
		var obj map[string]any
		if err := json.Unmarshal([]byte(str), &obj); err != nil {
			return fmt.Errorf("%s must be a JSON object: %w", key, err)
		}
		raw = obj
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return fmt.Errorf("%s must be an object", key)
	}
	if err := codec.Decode(obj, out); err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	return nil
}

// toolError keeps the error kind visible to the model.
func (s *Server) toolError(tool string, err error) error {
	kind := "internal"
	if k := domain.KindOf(err); k != nil {
		kind = k.Error()
	}
	s.logger.Warn("MCP tool failed", "tool", tool, "kind", kind, "err", err)
	return fmt.Errorf("[%s] %w", kind, err)
}

func (s *Server) registerResources() {
	// EXPOSE: productflow://states
	s.mcpServer.AddResource(mcp.NewResource(statesURI, "Session State Machine",
		mcp.WithResourceDescription("Session states and their allowed transitions"),
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		jsonBytes, err := json.Marshal(stateTable())
		if err != nil {
			return nil, err
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      statesURI,
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})
}

func stateTable() map[domain.SessionState][]domain.SessionState {
	table := make(map[domain.SessionState][]domain.SessionState, len(domain.AllStates))
	for _, st := range domain.AllStates {
		table[st] = domain.AllowedTransitions(st)
	}
	return table
}
