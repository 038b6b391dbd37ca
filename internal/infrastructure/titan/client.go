package titan

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/stevesarmiento/maximus/internal/application/port"
	"github.com/stevesarmiento/maximus/internal/domain"
)

var (
	// ErrMissingToken means no API token was configured. Raised at
	// construction, never deferred to connect time.
	ErrMissingToken = errors.New("titan: api token required")

	// ErrInsecureProduction means TLS verification was disabled while a
	// production environment marker is set.
	ErrInsecureProduction = errors.New("titan: insecure tls is not allowed in production")
)

// ProtocolError is a server-reported error: an Error reply or a StreamEnd
// carrying an error code.
type ProtocolError struct {
	Code    int
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("titan: server error %d: %s", e.Code, e.Message)
}

const (
	handshakeTimeout = 15 * time.Second
	responseTimeout  = 30 * time.Second
	// After a stop is requested the reader drains at most this long for the
	// server's StreamEnd before giving up.
	stopDrainTimeout = 5 * time.Second
)

// Config carries the connection settings for one client.
type Config struct {
	URL      string
	APIToken string
	Insecure bool // skip TLS verification, development only
}

// Client speaks the streaming-quote protocol over one persistent WebSocket
// connection. A client is scoped to one quote request; it does not retry
// failed connects — retry policy belongs to the caller, since a quote request
// has caller-visible parameters and must not silently restart.
type Client struct {
	url      string
	token    string
	insecure bool

	reqID atomic.Uint64

	mu        sync.Mutex // guards conn, streamID, streaming
	conn      *websocket.Conn
	streamID  any
	streaming bool

	writeMu sync.Mutex
}

// NewClient validates configuration. A missing token is a configuration
// error here; connect problems surface later from Connect.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIToken == "" {
		return nil, ErrMissingToken
	}
	if cfg.Insecure && inProduction() {
		return nil, ErrInsecureProduction
	}
	if cfg.Insecure {
		log.Warn().Msg("titan: tls certificate verification disabled")
	}
	return &Client{url: cfg.URL, token: cfg.APIToken, insecure: cfg.Insecure}, nil
}

func inProduction() bool {
	for _, key := range []string{"ENV", "NODE_ENV", "GO_ENV"} {
		switch os.Getenv(key) {
		case "production", "prod":
			return true
		}
	}
	return false
}

// Connect performs the authenticated WebSocket handshake. Certificate
// verification is on unless the client was built insecure.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		Subprotocols:     []string{Subprotocol},
	}
	if c.insecure {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	conn, resp, err := dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("titan: connect %s: %s: %w", c.url, resp.Status, err)
		}
		return fmt.Errorf("titan: connect %s: %w", c.url, err)
	}
	c.conn = conn
	log.Debug().Str("url", c.url).Msg("titan connected")
	return nil
}

// Close tears down the connection. Safe on an unconnected client.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (c *Client) connection(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		return conn, nil
	}
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	conn = c.conn
	c.mu.Unlock()
	return conn, nil
}

// send encodes one framed request. The write lock keeps StopStream safe to
// issue while the stream reader holds the connection in a blocking read.
func (c *Client) send(conn *websocket.Conn, data requestData) error {
	id := c.reqID.Add(1)
	b, err := encodeEnvelope(id, data)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.BinaryMessage, b)
}

func (c *Client) readEnvelope(conn *websocket.Conn, deadline time.Duration) (*serverEnvelope, error) {
	if deadline > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(deadline))
	} else {
		_ = conn.SetReadDeadline(time.Time{})
	}
	_, b, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return decodeEnvelope(b)
}

// GetInfo is a plain request/response used for capability discovery; it is
// not part of the streaming lifecycle.
func (c *Client) GetInfo(ctx context.Context) (map[string]any, error) {
	conn, err := c.connection(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.send(conn, requestData{GetInfo: &getInfo{}}); err != nil {
		return nil, fmt.Errorf("titan: get info: %w", err)
	}
	env, err := c.readEnvelope(conn, responseTimeout)
	if err != nil {
		return nil, fmt.Errorf("titan: get info: %w", err)
	}
	switch {
	case env.Data.Error != nil:
		return nil, &ProtocolError{Code: env.Data.Error.Code, Message: env.Data.Error.Message}
	case env.Data.Response != nil:
		if env.Data.Response.Data != nil {
			return env.Data.Response.Data.GetInfo, nil
		}
		return map[string]any{}, nil
	default:
		return nil, errors.New("titan: get info: unexpected reply")
	}
}

// OpenQuoteStream sends NewSwapQuoteStream and, on a successful Response,
// retains the server-assigned stream id and starts the reader that yields
// snapshots. Stream teardown always attempts a StopStream for the retained
// id, including when the caller's ctx is cancelled mid-read.
func (c *Client) OpenQuoteStream(ctx context.Context, req domain.SwapQuoteRequest) (port.QuoteStream, error) {
	payload, err := newStreamRequest(req)
	if err != nil {
		return nil, err
	}
	conn, err := c.connection(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.send(conn, requestData{NewSwapQuoteStream: payload}); err != nil {
		return nil, fmt.Errorf("titan: open stream: %w", err)
	}
	env, err := c.readEnvelope(conn, responseTimeout)
	if err != nil {
		return nil, fmt.Errorf("titan: open stream: %w", err)
	}
	switch {
	case env.Data.Error != nil:
		return nil, &ProtocolError{Code: env.Data.Error.Code, Message: env.Data.Error.Message}
	case env.Data.Response != nil && env.Data.Response.Stream != nil:
		c.mu.Lock()
		c.streamID = env.Data.Response.Stream.ID
		c.streaming = true
		c.mu.Unlock()
	default:
		return nil, errors.New("titan: open stream: reply carried no stream id")
	}

	s := &stream{
		c:       c,
		conn:    conn,
		updates: make(chan domain.SwapQuotes, 8),
		stopped: make(chan struct{}),
	}
	go s.watchCancel(ctx)
	go s.run(ctx, req)

	log.Debug().Str("stream", streamIDString(c.StreamID())).Msg("quote stream opened")
	return s, nil
}

// StopStream sends the stop frame for the retained stream id. While a stream
// reader is active the server's acknowledgement is consumed there; otherwise
// it is awaited here. A missing acknowledgement is non-fatal — the server
// expires the session on its own.
func (c *Client) StopStream(ctx context.Context) error {
	c.mu.Lock()
	id := c.streamID
	conn := c.conn
	streaming := c.streaming
	c.mu.Unlock()
	if id == nil || conn == nil {
		return nil
	}

	if err := c.send(conn, requestData{StopStream: &stopStream{ID: id}}); err != nil {
		return fmt.Errorf("titan: stop stream: %w", err)
	}
	if streaming {
		return nil
	}

	env, err := c.readEnvelope(conn, responseTimeout)
	if err != nil {
		return fmt.Errorf("titan: stop stream: %w", err)
	}
	if env.Data.Error != nil {
		return &ProtocolError{Code: env.Data.Error.Code, Message: env.Data.Error.Message}
	}
	c.clearStreamID()
	return nil
}

// StreamID exposes the retained stream id, nil when no stream is held.
func (c *Client) StreamID() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamID
}

func (c *Client) clearStreamID() {
	c.mu.Lock()
	c.streamID = nil
	c.streaming = false
	c.mu.Unlock()
}

// stream is one live server-push session.
type stream struct {
	c    *Client
	conn *websocket.Conn

	updates chan domain.SwapQuotes

	stopOnce sync.Once
	stopped  chan struct{}

	// end of the post-stop drain window; written before stopped is closed
	drainUntil time.Time

	err error // set before updates is closed
}

func (s *stream) Updates() <-chan domain.SwapQuotes { return s.updates }

// Err reports the terminal stream error. Valid once Updates is closed.
func (s *stream) Err() error { return s.err }

// Stop requests a graceful end: the stop frame goes out on the write side
// while the reader keeps draining toward the server's StreamEnd, bounded by
// a short deadline so a silent server cannot wedge teardown.
func (s *stream) Stop() {
	s.stopOnce.Do(func() {
		s.drainUntil = time.Now().Add(stopDrainTimeout)
		close(s.stopped)
		if err := s.c.StopStream(context.Background()); err != nil {
			log.Debug().Err(err).Msg("stop stream frame failed")
		}
		_ = s.conn.SetReadDeadline(s.drainUntil)
	})
}

func (s *stream) isStopped() bool {
	select {
	case <-s.stopped:
		return true
	default:
		return false
	}
}

func (s *stream) watchCancel(ctx context.Context) {
	select {
	case <-ctx.Done():
		s.Stop()
	case <-s.stopped:
	}
}

// readNext blocks for the next envelope. After a stop is requested each read
// is bounded by the fixed drain window: the deadline is re-armed to the same
// absolute instant per read, so late frames cannot extend it.
func (s *stream) readNext() (*serverEnvelope, error) {
	if s.isStopped() {
		_ = s.conn.SetReadDeadline(s.drainUntil)
	} else {
		_ = s.conn.SetReadDeadline(time.Time{})
		// Stop can arm the drain deadline between the check and the clear;
		// re-check so the bound is never lost.
		if s.isStopped() {
			_ = s.conn.SetReadDeadline(s.drainUntil)
		}
	}
	_, b, err := s.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return decodeEnvelope(b)
}

func (s *stream) run(ctx context.Context, req domain.SwapQuoteRequest) {
	defer close(s.updates)

	for {
		env, err := s.readNext()
		if err != nil {
			// After a requested stop, a read error or close is a normal end.
			if s.isStopped() || ctx.Err() != nil {
				return
			}
			s.err = fmt.Errorf("titan: stream read: %w", err)
			return
		}

		switch {
		case env.Data.Response != nil:
			// Acknowledgement of our StopStream.
			s.c.clearStreamID()

		case env.Data.Error != nil:
			s.err = &ProtocolError{Code: env.Data.Error.Code, Message: env.Data.Error.Message}
			return

		case env.Data.StreamEnd != nil:
			end := env.Data.StreamEnd
			if end.ErrorCode != nil && !s.isStopped() {
				s.err = &ProtocolError{Code: *end.ErrorCode, Message: end.ErrorMessage}
			}
			return

		case env.Data.StreamData != nil:
			if env.Data.StreamData.Payload.SwapQuotes == nil {
				continue
			}
			snapshot := toDomainQuotes(env.Data.StreamData.Payload.SwapQuotes, req)
			select {
			case s.updates <- snapshot:
			case <-s.stopped:
				// Consumer is gone; drop the update and drain to StreamEnd.
			}

		default:
			log.Debug().Msg("titan: unhandled frame, dropped")
		}
	}
}

var _ port.QuoteStreamer = (*Client)(nil)
var _ port.QuoteStream = (*stream)(nil)
