package capture

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// StreamSource is a Device backed by a websocket audio feed. Binary frames
// from the peer become capture chunks; text frames are ignored.
type StreamSource struct {
	url     string
	header  http.Header
	formats map[string]bool
	logger  *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	out     chan []byte
	release sync.Once
}

// NewStreamSource builds a websocket device for the given endpoint. formats
// lists the MIME types the remote feed can produce.
func NewStreamSource(url string, header http.Header, formats []string, logger *slog.Logger) *StreamSource {
	if logger == nil {
		logger = slog.Default()
	}
	supported := make(map[string]bool, len(formats))
	for _, f := range formats {
		supported[f] = true
	}
	return &StreamSource{
		url:     url,
		header:  header,
		formats: supported,
		logger:  logger,
	}
}

func (s *StreamSource) Supports(mime string) bool {
	return s.formats[mime]
}

// Acquire dials the stream endpoint and starts forwarding binary frames. A
// dial failure is the stream equivalent of a denied device.
func (s *StreamSource) Acquire(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{Proxy: http.ProxyFromEnvironment}
	conn, _, err := dialer.DialContext(ctx, s.url, s.header)
	if err != nil {
		s.logger.Error("stream_dial_failed",
			slog.String("url", s.url),
			slog.String("error", err.Error()))
		return err
	}

	s.conn = conn
	s.out = make(chan []byte, 32)
	s.release = sync.Once{}
	s.logger.Info("stream_connected", slog.String("url", s.url))

	go s.readLoop(conn, s.out)
	return nil
}

func (s *StreamSource) Chunks() <-chan []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out
}

// Release closes the connection; the chunk channel closes when the read loop
// observes the closed socket.
func (s *StreamSource) Release() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	var err error
	s.release.Do(func() {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = conn.Close()
	})
	return err
}

func (s *StreamSource) readLoop(conn *websocket.Conn, out chan<- []byte) {
	defer close(out)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("stream_read_error", slog.String("error", err.Error()))
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		out <- data
	}
}

var _ Device = (*StreamSource)(nil)
