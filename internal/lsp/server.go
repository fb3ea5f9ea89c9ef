package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mamaar/vbarefactor/pkg/codemodule"
	"github.com/mamaar/vbarefactor/pkg/refactor"
	"github.com/mamaar/vbarefactor/pkg/types"
)

// ServerName is reported to clients on initialize.
const ServerName = "vbarefactor-lsp"

var errExit = errors.New("exit requested")

// Server represents the LSP server
type Server struct {
	mu           sync.Mutex
	engine       *refactor.DefaultEngine
	rootPath     string
	initialized  bool
	capabilities ServerCapabilities
	version      string

	conn   *Connection
	nextID atomic.Int64
	logger *slog.Logger
}

// NewServer creates a new LSP server instance
func NewServer(version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		version: version,
		logger:  logger,
		capabilities: ServerCapabilities{
			CodeActionProvider: &CodeActionOptions{
				CodeActionKinds: []string{CodeActionKindMove},
			},
			ExecuteCommandProvider: &ExecuteCommandOptions{
				Commands: []string{CommandMoveCloserToUsage},
			},
			HoverProvider:      true,
			DefinitionProvider: true,
			ReferencesProvider: true,
			TextDocumentSync: &TextDocumentSyncOptions{
				OpenClose: true,
				Change:    TextDocumentSyncKindFull,
				Save: &SaveOptions{
					IncludeText: false,
				},
			},
		},
	}
}

// Start starts the LSP server
func (s *Server) Start(ctx context.Context, port int) error {
	if port == 0 {
		return s.ServeStdio(ctx)
	}
	return s.ServeTCP(ctx, port)
}

// ServeStdio serves the LSP over stdio
func (s *Server) ServeStdio(ctx context.Context) error {
	s.logger.Info("starting LSP server on stdio")
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// ServeTCP serves the LSP over TCP, one client at a time.
func (s *Server) ServeTCP(ctx context.Context, port int) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", port, err)
	}
	defer listener.Close()
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("starting LSP server", "port", port)
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("failed to accept connection", "err", err)
			continue
		}
		if err := s.Serve(ctx, conn, conn); err != nil {
			s.logger.Warn("error serving connection", "err", err)
		}
		conn.Close()
	}
}

// Serve handles the LSP protocol over the given reader/writer until the
// stream ends, the client sends exit, or ctx is cancelled.
func (s *Server) Serve(ctx context.Context, reader io.Reader, writer io.Writer) error {
	connection := NewConnection(reader, writer, s.logger)
	s.mu.Lock()
	s.conn = connection
	s.mu.Unlock()

	messages := make(chan *Message)
	readErr := make(chan error, 1)
	go func() {
		for {
			message, err := connection.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case messages <- message:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var message *Message
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				s.logger.Info("connection closed")
				return nil
			}
			return fmt.Errorf("failed to read message: %w", err)
		case message = <-messages:
		}

		response, err := s.handleMessage(ctx, message)
		if errors.Is(err, errExit) {
			return nil
		}
		if err != nil {
			s.logger.Warn("error handling message", "method", message.Method, "err", err)
			continue
		}
		if response != nil {
			if err := connection.WriteMessage(response); err != nil {
				return fmt.Errorf("failed to write response: %w", err)
			}
		}
	}
}

// handleMessage processes an LSP message and returns a response
func (s *Server) handleMessage(ctx context.Context, message *Message) (*Message, error) {
	switch message.Method {
	case "initialize":
		return s.handleInitialize(message)
	case "initialized":
		return s.handleInitialized(ctx, message)
	case "shutdown":
		return s.handleShutdown(message)
	case "exit":
		return nil, errExit
	case "textDocument/didOpen":
		return s.handleTextDocumentDidOpen(message)
	case "textDocument/didChange":
		return s.handleTextDocumentDidChange(message)
	case "textDocument/didSave":
		return s.handleTextDocumentDidSave(message)
	case "textDocument/didClose":
		return s.handleTextDocumentDidClose(message)
	case "textDocument/hover":
		return s.handleTextDocumentHover(ctx, message)
	case "textDocument/definition":
		return s.handleTextDocumentDefinition(ctx, message)
	case "textDocument/references":
		return s.handleTextDocumentReferences(ctx, message)
	case "textDocument/codeAction":
		return s.handleTextDocumentCodeAction(ctx, message)
	case "workspace/executeCommand":
		return s.handleWorkspaceExecuteCommand(ctx, message)
	case "":
		// Response to a request sent by the server, e.g. workspace/applyEdit.
		return nil, nil
	default:
		s.logger.Debug("unhandled method", "method", message.Method)
		if message.ID != nil {
			return s.errorResponse(message.ID, CodeMethodNotFound, "Method not found", message.Method)
		}
		return nil, nil
	}
}

func (s *Server) handleInitialize(message *Message) (*Message, error) {
	var params InitializeParams
	if err := json.Unmarshal(message.Params, &params); err != nil {
		return s.errorResponse(message.ID, CodeInvalidParams, "Invalid params", err.Error())
	}

	s.mu.Lock()
	s.rootPath = params.RootURI
	if s.rootPath == "" {
		s.rootPath = params.RootPath
	}
	if s.rootPath == "" && len(params.WorkspaceFolders) > 0 {
		s.rootPath = params.WorkspaceFolders[0].URI
	}
	s.rootPath = uriToPath(s.rootPath)
	s.mu.Unlock()
	s.logger.Info("initialize", "root", s.rootPath)

	return s.successResponse(message.ID, InitializeResult{
		Capabilities: s.capabilities,
		ServerInfo: &ServerInfo{
			Name:    ServerName,
			Version: s.version,
		},
	})
}

func (s *Server) handleInitialized(ctx context.Context, message *Message) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rootPath == "" {
		s.logger.Warn("no root path set, skipping workspace initialization")
		return nil, nil
	}
	if err := s.loadWorkspaceLocked(ctx, s.rootPath); err != nil {
		s.logger.Error("failed to load workspace", "root", s.rootPath, "err", err)
		s.showMessage(MessageTypeError, fmt.Sprintf("vbarefactor: %v", err))
	}
	return nil, nil
}

// LoadWorkspace loads the module files under root, replacing any workspace
// loaded before.
func (s *Server) LoadWorkspace(ctx context.Context, root string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadWorkspaceLocked(ctx, root)
}

func (s *Server) loadWorkspaceLocked(ctx context.Context, root string) error {
	cfg, err := refactor.LoadConfig(root)
	if err != nil {
		return err
	}
	engine := refactor.CreateEngineWithConfig(cfg, &clientNotifier{server: s}, s.logger)
	if _, err := engine.LoadWorkspace(ctx, root); err != nil {
		return err
	}
	s.engine = engine
	s.rootPath = root
	s.initialized = true
	return nil
}

func (s *Server) handleShutdown(message *Message) (*Message, error) {
	s.mu.Lock()
	s.initialized = false
	s.engine = nil
	s.mu.Unlock()

	return s.successResponse(message.ID, nil)
}

func (s *Server) successResponse(id interface{}, result interface{}) (*Message, error) {
	return &Message{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}, nil
}

func (s *Server) errorResponse(id interface{}, code int, message string, data interface{}) (*Message, error) {
	return &Message{
		JSONRPC: "2.0",
		ID:      id,
		Error: &ResponseError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}, nil
}

// notify sends a notification to the client.
func (s *Server) notify(method string, params interface{}) {
	s.send(&Message{JSONRPC: "2.0", Method: method}, params)
}

// request sends a request to the client without waiting for the response.
func (s *Server) request(method string, params interface{}) {
	s.send(&Message{JSONRPC: "2.0", ID: s.nextID.Add(1), Method: method}, params)
}

func (s *Server) send(message *Message, params interface{}) {
	raw, err := json.Marshal(params)
	if err != nil {
		s.logger.Error("failed to marshal params", "method", message.Method, "err", err)
		return
	}
	message.Params = raw
	if s.conn == nil {
		s.logger.Debug("no client connection", "method", message.Method)
		return
	}
	if err := s.conn.WriteMessage(message); err != nil {
		s.logger.Warn("failed to send message", "method", message.Method, "err", err)
	}
}

func (s *Server) showMessage(kind MessageType, text string) {
	s.notify("window/showMessage", ShowMessageParams{Type: kind, Message: text})
}

// clientNotifier shows precondition failures in the editor.
type clientNotifier struct {
	server *Server
}

func (n *clientNotifier) Notify(err *types.RefactorError) {
	n.server.showMessage(MessageTypeWarning, err.Message)
}

// moduleForURI returns the loaded module behind a document. The caller must
// hold the lock.
func (s *Server) moduleForURI(uri string) (*codemodule.Buffer, bool) {
	if !s.initialized {
		return nil, false
	}
	return s.engine.Project().ModuleByPath(uriToPath(uri))
}

func (s *Server) isModuleFile(path string) bool {
	return s.initialized && codemodule.HasModuleExtension(path, s.engine.Config().ModuleExtensions)
}

// toCodePosition converts an LSP position in the file to a 1-based position
// in the module's code, below its attribute header.
func toCodePosition(buf *codemodule.Buffer, pos Position) (line, column int) {
	return pos.Line + 1 - buf.HeaderLines(), pos.Character + 1
}

// toRange converts a code selection to an LSP range in the file.
func toRange(buf *codemodule.Buffer, sel types.Selection) Range {
	h := buf.HeaderLines()
	return Range{
		Start: Position{Line: sel.StartLine - 1 + h, Character: sel.StartColumn - 1},
		End:   Position{Line: sel.EndLine - 1 + h, Character: sel.EndColumn - 1},
	}
}

func uriToPath(uri string) string {
	if !strings.HasPrefix(uri, "file://") {
		return uri
	}
	u, err := url.Parse(uri)
	if err != nil {
		return strings.TrimPrefix(uri, "file://")
	}
	return filepath.FromSlash(u.Path)
}

func pathToURI(path string) string {
	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}
