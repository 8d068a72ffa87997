package danmu

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/streamrec/core/config"
	"github.com/streamrec/core/engine"
	"github.com/streamrec/core/log"
	"github.com/streamrec/core/model"
	"github.com/streamrec/core/session"
)

// Service implements session.DanmuService: one per-segment websocket
// capture per Start call, reconnecting after dropped connections with
// exponential backoff between failed dial attempts, reusing the same
// RetryConfig/engine.DelayForAttempt this codebase already uses for
// job-queue and engine-start retries.
type Service struct {
	Registry *Registry
	// Reconnect governs the dial retry loop; NewService fills it from the
	// config.DefaultDanmu* tunables, and a zero value is used as is.
	Reconnect   model.RetryConfig
	DialTimeout time.Duration
}

// NewService builds a Service with the platform defaults.
func NewService(registry *Registry) *Service {
	return &Service{
		Registry:    registry,
		Reconnect:   defaultReconnectPolicy(),
		DialTimeout: config.DefaultDanmuDialTimeout,
	}
}

func defaultReconnectPolicy() model.RetryConfig {
	return model.RetryConfig{
		MaxRetries:        config.DefaultDanmuMaxReconnectAttempts,
		InitialDelay:      config.DefaultDanmuBaseReconnectDelay,
		MaxDelay:          config.DefaultDanmuMaxReconnectDelay,
		BackoffMultiplier: 2.0,
		UseJitter:         true,
	}
}

// handle is the running capture returned to the orchestrator; Finalize
// stops the reconnect loop and closes the XML sidecar so it covers
// exactly this segment's interval.
type handle struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	werr error
}

func (h *handle) Finalize(ctx context.Context) error {
	h.cancel()
	select {
	case <-h.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.werr
}

// Start resolves the protocol for info.URL, opens the segment's XML
// sidecar, and launches the background capture loop. A platform with
// no registered Protocol, or a URL no Protocol recognizes, is reported
// as an error rather than silently no-op: the caller (session.go) only
// calls Start when danmu is enabled and sampled for this segment, so a
// missing protocol is a real misconfiguration worth surfacing in logs.
func (s *Service) Start(ctx context.Context, info model.StreamInfo, cfg model.DanmuConfig, segmentPath string) (session.DanmuHandle, error) {
	proto, ok := s.Registry.ForURL(info.URL)
	if !ok {
		return nil, fmt.Errorf("danmu: no protocol registered for url %q", info.URL)
	}
	roomID, ok := proto.ExtractRoomID(info.URL)
	if !ok {
		return nil, fmt.Errorf("danmu: protocol %s could not extract a room id from %q", proto.Platform(), info.URL)
	}

	xmlPath := sidecarPath(segmentPath)
	w, err := newXMLWriter(xmlPath)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	h := &handle{cancel: cancel, done: make(chan struct{})}

	runner := &captureLoop{
		service: s,
		proto:   proto,
		roomID:  roomID,
		writer:  w,
		proxy:   cfg.WebsocketProxy,
		start:   config.Clock.GetTime(),
	}

	go func() {
		defer close(h.done)
		werr := runner.run(runCtx)
		if cerr := w.close(); werr == nil {
			werr = cerr
		}
		h.mu.Lock()
		h.werr = werr
		h.mu.Unlock()
	}()

	return h, nil
}

var _ session.DanmuService = (*Service)(nil)
var _ session.DanmuHandle = (*handle)(nil)

// sidecarPath mirrors the convention DanmakuFactoryProcessor expects:
// the segment's media path with its extension replaced by ".xml".
func sidecarPath(segmentPath string) string {
	if i := strings.LastIndexByte(segmentPath, '.'); i > 0 {
		return segmentPath[:i] + ".xml"
	}
	return segmentPath + ".xml"
}

// captureLoop owns one websocket connection's reconnect/read/heartbeat
// cycle for the lifetime of a segment.
type captureLoop struct {
	service *Service
	proto   Protocol
	roomID  string
	writer  *xmlWriter
	proxy   string
	start   time.Time
}

func (c *captureLoop) run(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		conn, err := c.dial(ctx)
		if err != nil {
			attempt++
			if attempt > c.service.Reconnect.MaxRetries {
				return fmt.Errorf("danmu: giving up on %s room %s after %d reconnect attempts: %w", c.proto.Platform(), c.roomID, attempt-1, err)
			}
			delay := engine.DelayForAttempt(c.service.Reconnect, attempt)
			log.LogNoRequestID("danmu: connect failed, retrying", "platform", c.proto.Platform(), "room_id", c.roomID, "attempt", attempt, "delay", delay, "err", err)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		attempt = 0
		lost := c.serve(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		if lost != nil {
			log.LogNoRequestID("danmu: connection lost, reconnecting", "platform", c.proto.Platform(), "room_id", c.roomID, "err", lost)
		}
	}
}

func (c *captureLoop) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.service.DialTimeout)
	defer cancel()

	wsURL, err := c.proto.WebSocketURL(dialCtx, c.roomID)
	if err != nil {
		return nil, fmt.Errorf("resolving websocket url: %w", err)
	}

	header := http.Header{}
	for k, v := range c.proto.Headers(c.roomID) {
		header.Set(k, v)
	}
	if cookie := c.proto.Cookies(); cookie != "" {
		if existing := header.Get("Cookie"); existing != "" {
			header.Set("Cookie", existing+"; "+cookie)
		} else {
			header.Set("Cookie", cookie)
		}
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.service.DialTimeout}
	if proxy := c.proxy; proxy != "" {
		proxyURL, perr := url.Parse(proxy)
		if perr != nil {
			return nil, fmt.Errorf("parsing websocket proxy %q: %w", proxy, perr)
		}
		dialer.Proxy = http.ProxyURL(proxyURL)
	}

	conn, _, err := dialer.DialContext(dialCtx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", wsURL, err)
	}

	msgs, herr := c.proto.HandshakeMessages(dialCtx, c.roomID)
	if herr != nil {
		conn.Close()
		return nil, fmt.Errorf("building handshake messages: %w", herr)
	}
	for _, m := range msgs {
		if werr := conn.WriteMessage(websocket.BinaryMessage, m); werr != nil {
			conn.Close()
			return nil, fmt.Errorf("sending handshake message: %w", werr)
		}
	}
	return conn, nil
}

// serve drives reads and heartbeats for one live connection until it
// errs, closes, or ctx is cancelled.
func (c *captureLoop) serve(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)

	// conn.ReadMessage blocks with no context awareness of its own, so
	// a ctx cancellation (Finalize) has to be translated into closing
	// the connection to unblock the read loop below.
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	frame, hasHeartbeat := c.proto.HeartbeatMessage()
	interval := c.proto.HeartbeatInterval()
	if interval <= 0 {
		hasHeartbeat = false
	}

	if hasHeartbeat {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
						return
					}
				case <-done:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		msgs, reply, err := c.proto.DecodeMessage(raw, c.roomID)
		if err != nil {
			log.LogNoRequestID("danmu: decoding message failed, skipping", "platform", c.proto.Platform(), "room_id", c.roomID, "err", err)
			continue
		}
		if reply != nil {
			if werr := conn.WriteMessage(websocket.BinaryMessage, reply); werr != nil {
				return werr
			}
		}
		for _, m := range msgs {
			if m.Sent.IsZero() {
				m.Sent = config.Clock.GetTime()
			}
			if m.Time == 0 {
				m.Time = m.Sent.Sub(c.start)
			}
			if werr := c.writer.write(m); werr != nil {
				return werr
			}
		}
	}
}
