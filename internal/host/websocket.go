package host

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// Server exposes the host over websocket JSON-RPC, the transport browser
// editors speak.
type Server struct {
	host       *LanguageHost
	httpServer *http.Server
}

// NewServer creates a websocket server for the host at the given address.
func NewServer(host *LanguageHost, addr string) *Server {
	s := &Server{host: host}
	mux := http.NewServeMux()
	mux.HandleFunc("/lsp", s.handleLSP)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleLSP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{})
	if err != nil {
		s.host.logger.Warn(r.Context(), err, "websocket accept failed")
		return
	}
	transport := &wsTransport{conn: conn}
	connection := newConnection(s.host, transport, "connection-"+r.RemoteAddr)
	if err := connection.Serve(r.Context()); err != nil {
		s.host.logger.Debug(r.Context(), "connection closed", "remote", r.RemoteAddr, "reason", err.Error())
	}
}

// wsTransport adapts a websocket connection to the Transport interface.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) ReadMessage(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	return data, err
}

func (t *wsTransport) WriteMessage(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "")
}
