package lsp

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
)

// Connection handles LSP message framing over a byte stream.
type Connection struct {
	reader *bufio.Reader

	mu     sync.Mutex
	writer io.Writer
	logger *slog.Logger
}

// NewConnection creates a new LSP connection
func NewConnection(reader io.Reader, writer io.Writer, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		reader: bufio.NewReader(reader),
		writer: writer,
		logger: logger,
	}
}

// ReadMessage reads the next framed message.
func (c *Connection) ReadMessage() (*Message, error) {
	length, err := c.readContentLength()
	if err != nil {
		return nil, err
	}
	content := make([]byte, length)
	if _, err := io.ReadFull(c.reader, content); err != nil {
		return nil, fmt.Errorf("failed to read message content: %w", err)
	}

	message := new(Message)
	if err := json.Unmarshal(content, message); err != nil {
		return nil, fmt.Errorf("failed to parse JSON message: %w", err)
	}
	c.logger.Debug("lsp message received", "method", message.Method, "id", message.ID)
	return message, nil
}

// readContentLength consumes a header block and returns its Content-Length.
// Other headers are ignored.
func (c *Connection) readContentLength() (int, error) {
	length := -1
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return 0, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "Content-Length") {
			continue
		}
		if length, err = strconv.Atoi(strings.TrimSpace(value)); err != nil || length < 0 {
			return 0, fmt.Errorf("invalid Content-Length %q", strings.TrimSpace(value))
		}
	}
	if length < 0 {
		return 0, fmt.Errorf("missing Content-Length header")
	}
	return length, nil
}

// WriteMessage writes an LSP message to the connection. It is safe for
// concurrent use.
func (c *Connection) WriteMessage(message *Message) error {
	content, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.writer, "Content-Length: %d\r\n\r\n", len(content)); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}
	if _, err := c.writer.Write(content); err != nil {
		return fmt.Errorf("failed to write content: %w", err)
	}
	c.logger.Debug("lsp message sent", "method", message.Method, "id", message.ID)
	return nil
}
