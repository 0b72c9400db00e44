package worker

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	streamBuffer     = 1024
	reconnectDelay   = 5 * time.Second
	streamWriteWait  = 10 * time.Second
	streamPingPeriod = 30 * time.Second
)

// LogStream forwards build output to the coordinator's log hub as
// discrete records. It is an io.Writer so it can sit directly on a
// command's stdout; records are split on both LF and CR so progress
// bars redrawn with carriage returns stream as separate updates.
type LogStream struct {
	endpoint string
	logger   *slog.Logger

	mu      sync.Mutex
	partial strings.Builder
	records chan string
}

// NewLogStream builds a streamer for the given coordinator base URL.
func NewLogStream(baseURL, hostname string, logger *slog.Logger) (*LogStream, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/api/ws/worker/" + hostname

	return &LogStream{
		endpoint: u.String(),
		logger:   logger,
		records:  make(chan string, streamBuffer),
	}, nil
}

// Write implements io.Writer. Never blocks; records are dropped when
// the send buffer is full or the hub is unreachable.
func (s *LogStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	complete := splitAppend(&s.partial, string(p))
	s.mu.Unlock()

	for _, rec := range complete {
		select {
		case s.records <- rec:
		default:
		}
	}
	return len(p), nil
}

// Flush pushes out any buffered partial record.
func (s *LogStream) Flush() {
	s.mu.Lock()
	rest := s.partial.String()
	s.partial.Reset()
	s.mu.Unlock()

	if rest == "" {
		return
	}
	select {
	case s.records <- sanitizeRecord(rest):
	default:
	}
}

// Run maintains the websocket connection until ctx is cancelled,
// reconnecting after transport failures.
func (s *LogStream) Run(ctx context.Context) {
	for {
		if err := s.serve(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("log stream disconnected", "endpoint", s.endpoint, "error", err)
		}
		select {
		case <-time.After(reconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

func (s *LogStream) serve(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.endpoint, nil)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		select {
		case rec := <-s.records:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(rec)); err != nil {
				return err
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		}
	}
}

// splitAppend feeds a chunk into the partial-record buffer and returns
// the records completed by it. CRLF counts as a single terminator.
func splitAppend(partial *strings.Builder, chunk string) []string {
	var complete []string
	for {
		idx := strings.IndexAny(chunk, "\r\n")
		if idx < 0 {
			partial.WriteString(chunk)
			return complete
		}
		partial.WriteString(chunk[:idx])
		complete = append(complete, sanitizeRecord(partial.String()))
		partial.Reset()
		if chunk[idx] == '\r' && idx+1 < len(chunk) && chunk[idx+1] == '\n' {
			idx++
		}
		chunk = chunk[idx+1:]
	}
}

// sanitizeRecord strips bytes that are not valid UTF-8 so a torn
// multibyte sequence at a chunk boundary cannot poison the stream.
func sanitizeRecord(rec string) string {
	return strings.ToValidUTF8(rec, "")
}
