package host

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/conneroisu/lsphost/internal/queue"
	"github.com/conneroisu/lsphost/internal/types"
)

// Transport is one bidirectional message stream to an editor. Reads and
// writes carry whole JSON-RPC frames.
type Transport interface {
	ReadMessage(ctx context.Context) ([]byte, error)
	WriteMessage(ctx context.Context, data []byte) error
	Close() error
}

// Connection serializes one editor connection's message handling on a serial
// AsyncQueue: a did-change notification and the request that follows it are
// handled in arrival order even though each runs asynchronously.
type Connection struct {
	host      *LanguageHost
	transport Transport
	queue     *queue.AsyncQueue

	writeMu sync.Mutex

	docMu     sync.Mutex
	documents map[types.DocumentURI]bool
}

func newConnection(host *LanguageHost, transport Transport, name string) *Connection {
	return &Connection{
		host:      host,
		transport: transport,
		queue:     queue.New(queue.Serial, name),
		documents: make(map[types.DocumentURI]bool),
	}
}

// Serve reads frames until the transport fails or ctx ends. Handling of each
// frame is enqueued, not awaited, so a slow handler never stops the read
// loop from preserving arrival order for the rest.
func (c *Connection) Serve(ctx context.Context) error {
	c.host.addConnection(c)
	defer c.close()

	for {
		data, err := c.transport.ReadMessage(ctx)
		if err != nil {
			return err
		}
		c.dispatch(data)
	}
}

func (c *Connection) dispatch(data []byte) {
	var message Message
	if err := json.Unmarshal(data, &message); err != nil {
		c.writeError(nil, codeParseError, fmt.Sprintf("invalid frame: %v", err))
		return
	}

	priority := types.PriorityMedium
	if message.IsRequest() {
		priority = types.PriorityUserInitiated
	}

	queue.Enqueue(c.queue, priority, func(ctx context.Context) (struct{}, error) {
		c.handle(ctx, &message)
		return struct{}{}, nil
	})
}

func (c *Connection) handle(ctx context.Context, message *Message) {
	handler, ok := c.host.handlerFor(message.Method)
	if !ok {
		if message.IsRequest() {
			c.writeError(message.ID, codeMethodNotFound, errMethodNotFound.Error())
		} else {
			c.host.logger.Debug(ctx, "dropping notification without handler", "method", message.Method)
		}
		return
	}

	result, err := handler(ctx, c, message.Params)
	if message.IsNotification() {
		if err != nil {
			c.host.logger.Warn(ctx, err, "notification handler failed", "method", message.Method)
		}
		return
	}

	response, _ := newResponse(message.ID, result, err)
	c.write(response)
}

// Notify sends a server-initiated notification to the editor.
func (c *Connection) Notify(method string, params json.RawMessage) {
	c.write(&Message{JSONRPC: jsonrpcVersion, Method: method, Params: params})
}

func (c *Connection) write(message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		c.host.logger.Error(context.Background(), err, "failed to encode response")
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.transport.WriteMessage(context.Background(), data); err != nil {
		c.host.logger.Debug(context.Background(), "write failed", "error", err.Error())
	}
}

func (c *Connection) writeError(id *json.RawMessage, code int, message string) {
	c.write(&Message{JSONRPC: jsonrpcVersion, ID: id, Error: &ResponseError{Code: code, Message: message}})
}

func (c *Connection) trackDocument(uri types.DocumentURI) {
	c.docMu.Lock()
	defer c.docMu.Unlock()
	c.documents[uri] = true
}

func (c *Connection) untrackDocument(uri types.DocumentURI) {
	c.docMu.Lock()
	defer c.docMu.Unlock()
	delete(c.documents, uri)
}

// close drops the connection's watches so the settings layer's
// reference counts stay balanced when an editor disappears without closing
// its documents.
func (c *Connection) close() {
	c.host.removeConnection(c)
	c.docMu.Lock()
	documents := make([]types.DocumentURI, 0, len(c.documents))
	for uri := range c.documents {
		documents = append(documents, uri)
	}
	c.documents = make(map[types.DocumentURI]bool)
	c.docMu.Unlock()
	for _, uri := range documents {
		c.host.settings.UnregisterForChangeNotifications(uri)
	}
	c.queue.Close()
	c.transport.Close()
}
