package lsp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const (
	testModule1 = "Attribute VB_Name = \"Module1\"\n" +
		"Option Explicit\n" +
		"Public total As Long\n"
	testModule2 = "Attribute VB_Name = \"Module2\"\n" +
		"Public Sub Sum(ByVal n As Long)\n" +
		"    Module1.total = Module1.total + n\n" +
		"End Sub\n"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range map[string]string{"Module1.bas": testModule1, "Module2.bas": testModule2} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

// setupServer loads a workspace and captures what the server sends to the
// client.
func setupServer(t *testing.T) (*Server, string, *bytes.Buffer) {
	t.Helper()
	dir := writeWorkspace(t)
	server := NewServer("test", discardLogger())
	if err := server.LoadWorkspace(context.Background(), dir); err != nil {
		t.Fatalf("LoadWorkspace failed: %v", err)
	}
	sent := &bytes.Buffer{}
	server.conn = NewConnection(strings.NewReader(""), sent, discardLogger())
	return server, dir, sent
}

func newMessage(t *testing.T, method string, params interface{}) *Message {
	t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("Failed to marshal params: %v", err)
	}
	return &Message{JSONRPC: "2.0", ID: 1, Method: method, Params: raw}
}

func uriOf(dir, name string) string {
	return pathToURI(filepath.Join(dir, name))
}

func TestServer_Initialize(t *testing.T) {
	server := NewServer("test", discardLogger())
	dir := t.TempDir()

	response, err := server.handleInitialize(newMessage(t, "initialize", InitializeParams{RootURI: pathToURI(dir)}))
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if response.Error != nil {
		t.Fatalf("Initialize returned error: %v", response.Error)
	}

	result, ok := response.Result.(InitializeResult)
	if !ok {
		t.Fatalf("Expected InitializeResult, got %T", response.Result)
	}
	if result.ServerInfo.Name != ServerName {
		t.Errorf("Expected server name '%s', got '%s'", ServerName, result.ServerInfo.Name)
	}
	if !result.Capabilities.HoverProvider || !result.Capabilities.ReferencesProvider {
		t.Error("Expected hover and references providers to be enabled")
	}
	if cmds := result.Capabilities.ExecuteCommandProvider.Commands; len(cmds) != 1 || cmds[0] != CommandMoveCloserToUsage {
		t.Errorf("Unexpected commands %v", cmds)
	}
	if server.rootPath != dir {
		t.Errorf("Expected root path %s, got %s", dir, server.rootPath)
	}
}

func TestConnection_ReadWriteMessage(t *testing.T) {
	jsonContent := "{\"jsonrpc\":\"2.0\",\"method\":\"test\",\"id\":1}"
	reader := strings.NewReader(fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(jsonContent), jsonContent))
	writer := &strings.Builder{}

	conn := NewConnection(reader, writer, discardLogger())

	message, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	if message.JSONRPC != "2.0" {
		t.Errorf("Expected JSONRPC '2.0', got '%s'", message.JSONRPC)
	}
	if message.Method != "test" {
		t.Errorf("Expected method 'test', got '%s'", message.Method)
	}

	if err := conn.WriteMessage(&Message{JSONRPC: "2.0", ID: 1, Result: "success"}); err != nil {
		t.Fatalf("Failed to write message: %v", err)
	}
	output := writer.String()
	if !strings.HasPrefix(output, "Content-Length:") {
		t.Error("Expected Content-Length header in output")
	}
	if !strings.Contains(output, "\"result\":\"success\"") {
		t.Error("Expected result in JSON output")
	}
}

func TestConnection_MissingContentLength(t *testing.T) {
	conn := NewConnection(strings.NewReader("X-Other: 1\r\n\r\n{}"), io.Discard, discardLogger())
	if _, err := conn.ReadMessage(); err == nil {
		t.Error("Expected an error without Content-Length")
	}
}

func TestServer_Hover(t *testing.T) {
	server, dir, _ := setupServer(t)

	// On "total" in "    Module1.total = ..."
	params := TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: uriOf(dir, "Module2.bas")},
		Position:     Position{Line: 2, Character: 12},
	}
	response, err := server.handleTextDocumentHover(context.Background(), newMessage(t, "textDocument/hover", params))
	if err != nil {
		t.Fatalf("Hover failed: %v", err)
	}
	hover, ok := response.Result.(*Hover)
	if !ok {
		t.Fatalf("Expected *Hover, got %T", response.Result)
	}
	for _, want := range []string{"**total**", "As Long", "References: 2", "Can be moved closer to its usage."} {
		if !strings.Contains(hover.Contents.Value, want) {
			t.Errorf("Expected hover to contain %q, got:\n%s", want, hover.Contents.Value)
		}
	}

	// On the attribute header
	params.Position = Position{Line: 0, Character: 3}
	response, _ = server.handleTextDocumentHover(context.Background(), newMessage(t, "textDocument/hover", params))
	if response.Result != nil {
		t.Errorf("Expected no hover on the header, got %v", response.Result)
	}
}

func TestServer_DefinitionAndReferences(t *testing.T) {
	server, dir, _ := setupServer(t)
	pos := TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: uriOf(dir, "Module2.bas")},
		Position:     Position{Line: 2, Character: 12},
	}

	response, err := server.handleTextDocumentDefinition(context.Background(), newMessage(t, "textDocument/definition", pos))
	if err != nil {
		t.Fatalf("Definition failed: %v", err)
	}
	loc, ok := response.Result.(*Location)
	if !ok {
		t.Fatalf("Expected *Location, got %T", response.Result)
	}
	if loc.URI != uriOf(dir, "Module1.bas") {
		t.Errorf("Expected definition in Module1.bas, got %s", loc.URI)
	}
	expected := Range{Start: Position{Line: 2, Character: 7}, End: Position{Line: 2, Character: 12}}
	if loc.Range != expected {
		t.Errorf("Expected range %+v, got %+v", expected, loc.Range)
	}

	for _, tt := range []struct {
		include  bool
		expected int
	}{{false, 2}, {true, 3}} {
		params := ReferenceParams{TextDocumentPositionParams: pos, Context: ReferenceContext{IncludeDeclaration: tt.include}}
		response, err := server.handleTextDocumentReferences(context.Background(), newMessage(t, "textDocument/references", params))
		if err != nil {
			t.Fatalf("References failed: %v", err)
		}
		locations, ok := response.Result.([]Location)
		if !ok {
			t.Fatalf("Expected []Location, got %T", response.Result)
		}
		if len(locations) != tt.expected {
			t.Errorf("includeDeclaration=%v: expected %d locations, got %d", tt.include, tt.expected, len(locations))
		}
	}
}

func TestServer_CodeActions(t *testing.T) {
	server, dir, _ := setupServer(t)
	uri := uriOf(dir, "Module1.bas")

	tests := []struct {
		name     string
		position Position
		only     []string
		expected int
	}{
		{"on a movable variable", Position{Line: 2, Character: 8}, nil, 1},
		{"filtered by refactor kind", Position{Line: 2, Character: 8}, []string{"refactor"}, 1},
		{"filtered out", Position{Line: 2, Character: 8}, []string{"quickfix"}, 0},
		{"on Option Explicit", Position{Line: 1, Character: 2}, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := CodeActionParams{
				TextDocument: TextDocumentIdentifier{URI: uri},
				Range:        Range{Start: tt.position, End: tt.position},
				Context:      CodeActionContext{Only: tt.only},
			}
			response, err := server.handleTextDocumentCodeAction(context.Background(), newMessage(t, "textDocument/codeAction", params))
			if err != nil {
				t.Fatalf("Code action failed: %v", err)
			}
			actions, ok := response.Result.([]CodeAction)
			if !ok {
				t.Fatalf("Expected []CodeAction, got %T", response.Result)
			}
			if len(actions) != tt.expected {
				t.Fatalf("Expected %d actions, got %d", tt.expected, len(actions))
			}
			if tt.expected == 1 {
				action := actions[0]
				if action.Kind != CodeActionKindMove || action.Command.Command != CommandMoveCloserToUsage {
					t.Errorf("Unexpected action %+v", action)
				}
				if action.Title != "Move closer to usage: 'total'" {
					t.Errorf("Unexpected title %q", action.Title)
				}
			}
		})
	}
}

func executeMove(t *testing.T, server *Server, uri string, line, character int) *Message {
	t.Helper()
	args := []json.RawMessage{}
	for _, v := range []interface{}{uri, line, character} {
		raw, _ := json.Marshal(v)
		args = append(args, raw)
	}
	response, err := server.handleWorkspaceExecuteCommand(context.Background(), newMessage(t, "workspace/executeCommand",
		ExecuteCommandParams{Command: CommandMoveCloserToUsage, Arguments: args}))
	if err != nil {
		t.Fatalf("Execute command failed: %v", err)
	}
	return response
}

func TestServer_ExecuteMoveCloserToUsage(t *testing.T) {
	server, dir, sent := setupServer(t)

	response := executeMove(t, server, uriOf(dir, "Module1.bas"), 2, 8)
	if response.Error != nil {
		t.Fatalf("Execute command returned error: %v", response.Error)
	}
	edit, ok := response.Result.(*WorkspaceEdit)
	if !ok {
		t.Fatalf("Expected *WorkspaceEdit, got %T", response.Result)
	}
	if len(edit.Changes) != 2 {
		t.Fatalf("Expected edits for 2 documents, got %d", len(edit.Changes))
	}

	module2 := edit.Changes[uriOf(dir, "Module2.bas")]
	if len(module2) != 1 {
		t.Fatalf("Expected one edit for Module2.bas, got %v", module2)
	}
	expected := "Attribute VB_Name = \"Module2\"\n" +
		"Public Sub Sum(ByVal n As Long)\n" +
		"    Dim total As Long\n" +
		"    total = total + n\n" +
		"End Sub\n"
	if module2[0].NewText != expected {
		t.Errorf("Unexpected Module2.bas text:\n%s", module2[0].NewText)
	}
	if module2[0].Range.End != (Position{Line: 4, Character: 0}) {
		t.Errorf("Expected the edit to cover the old document, got %+v", module2[0].Range)
	}

	if !strings.Contains(sent.String(), "workspace/applyEdit") {
		t.Error("Expected the edit to be sent to the client")
	}

	data, err := os.ReadFile(filepath.Join(dir, "Module2.bas"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != testModule2 {
		t.Error("Expected the file on disk to be left to the editor")
	}
}

func TestServer_ExecuteMoveCloserToUsageRefused(t *testing.T) {
	server, dir, sent := setupServer(t)

	response := executeMove(t, server, uriOf(dir, "Module1.bas"), 1, 2)
	if response.Error != nil {
		t.Fatalf("Expected a refusal to be shown, not returned: %v", response.Error)
	}
	if edit, _ := response.Result.(*WorkspaceEdit); edit != nil {
		t.Errorf("Expected no edit, got %+v", edit)
	}
	if !strings.Contains(sent.String(), "window/showMessage") || !strings.Contains(sent.String(), "Invalid selection.") {
		t.Errorf("Expected the refusal to be shown, got:\n%s", sent.String())
	}

	bad := newMessage(t, "workspace/executeCommand", ExecuteCommandParams{Command: CommandMoveCloserToUsage})
	response, _ = server.handleWorkspaceExecuteCommand(context.Background(), bad)
	if response.Error == nil || response.Error.Code != CodeInvalidParams {
		t.Errorf("Expected invalid params, got %+v", response.Error)
	}
}

func TestServer_DidChangeUpdatesModule(t *testing.T) {
	server, dir, _ := setupServer(t)
	uri := uriOf(dir, "Module1.bas")

	changed := testModule1 + "Private count As Integer\n"
	params := DidChangeTextDocumentParams{
		TextDocument:   VersionedTextDocumentIdentifier{TextDocumentIdentifier: TextDocumentIdentifier{URI: uri}, Version: 2},
		ContentChanges: []TextDocumentContentChangeEvent{{Text: changed}},
	}
	if _, err := server.handleTextDocumentDidChange(newMessage(t, "textDocument/didChange", params)); err != nil {
		t.Fatalf("didChange failed: %v", err)
	}

	hover := TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
		Position:     Position{Line: 3, Character: 9},
	}
	response, _ := server.handleTextDocumentHover(context.Background(), newMessage(t, "textDocument/hover", hover))
	h, ok := response.Result.(*Hover)
	if !ok || !strings.Contains(h.Contents.Value, "**count**") {
		t.Fatalf("Expected hover on the new variable, got %v", response.Result)
	}

	// Closing without saving goes back to the file on disk.
	closeParams := DidCloseTextDocumentParams{TextDocument: TextDocumentIdentifier{URI: uri}}
	if _, err := server.handleTextDocumentDidClose(newMessage(t, "textDocument/didClose", closeParams)); err != nil {
		t.Fatalf("didClose failed: %v", err)
	}
	buf, _ := server.engine.Project().Module("Module1")
	if buf.Contents() != testModule1 {
		t.Errorf("Expected Module1 to match the file again, got:\n%s", buf.Contents())
	}
}

func frame(t *testing.T, messages ...*Message) io.Reader {
	t.Helper()
	var b bytes.Buffer
	for _, m := range messages {
		raw, err := json.Marshal(m)
		if err != nil {
			t.Fatal(err)
		}
		fmt.Fprintf(&b, "Content-Length: %d\r\n\r\n%s", len(raw), raw)
	}
	return &b
}

func TestServer_Serve(t *testing.T) {
	dir := writeWorkspace(t)
	server := NewServer("test", discardLogger())

	initialized := &Message{JSONRPC: "2.0", Method: "initialized", Params: json.RawMessage("{}")}
	shutdown := &Message{JSONRPC: "2.0", ID: 2, Method: "shutdown"}
	exit := &Message{JSONRPC: "2.0", Method: "exit"}
	input := frame(t, newMessage(t, "initialize", InitializeParams{RootURI: pathToURI(dir)}), initialized, shutdown, exit)

	var output bytes.Buffer
	if err := server.Serve(context.Background(), input, &output); err != nil {
		t.Fatalf("Serve failed: %v", err)
	}
	if !strings.Contains(output.String(), ServerName) {
		t.Errorf("Expected the initialize response, got:\n%s", output.String())
	}
	if server.initialized {
		t.Error("Expected shutdown to unload the workspace")
	}
}

func TestURIConversion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "My Module.bas")
	uri := pathToURI(path)
	if !strings.HasPrefix(uri, "file://") || strings.Contains(uri, " ") {
		t.Errorf("Unexpected URI %s", uri)
	}
	if got := uriToPath(uri); got != path {
		t.Errorf("Expected %s, got %s", path, got)
	}
}
