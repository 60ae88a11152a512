// Package stream maintains the websocket connection to the push-event feed
// and turns raw frames into decoded events for the ingester. Connection
// management (reconnect, backoff) lives here; event semantics live in ingest.
package stream

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"tradesync/internal/config"
	"tradesync/internal/ingest"
	"tradesync/internal/logger"
)

const (
	readLimit  = 1 << 20
	pongWait   = 75 * time.Second
	pingPeriod = 30 * time.Second
)

// Source dials the feed and pushes decoded events onto Events(). Frames that
// fail validation are logged and dropped; they never tear down the
// connection.
type Source struct {
	url        string
	minBackoff time.Duration
	maxBackoff time.Duration
	events     chan ingest.Event

	dialFn func(ctx context.Context, url string) (*websocket.Conn, error)
}

// NewSource builds a source from stream configuration.
func NewSource(cfg config.StreamConfig) *Source {
	minB := time.Duration(cfg.ReconnectMinSeconds) * time.Second
	if minB <= 0 {
		minB = time.Second
	}
	maxB := time.Duration(cfg.ReconnectMaxSeconds) * time.Second
	if maxB < minB {
		maxB = minB
	}
	return &Source{
		url:        cfg.URL,
		minBackoff: minB,
		maxBackoff: maxB,
		events:     make(chan ingest.Event, 256),
		dialFn:     dial,
	}
}

// Events is the decoded event feed. Closed when Run returns.
func (s *Source) Events() <-chan ingest.Event {
	return s.events
}

// Run connects, reads until the connection drops, and reconnects with
// exponential backoff until ctx is cancelled. A successful read session
// resets the backoff.
func (s *Source) Run(ctx context.Context) {
	defer close(s.events)
	backoff := s.minBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := s.dialFn(ctx, s.url)
		if err != nil {
			logger.Warnf("stream: dial %s failed: %v, retrying in %s", s.url, err, backoff)
			if !sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, s.maxBackoff)
			continue
		}
		logger.Infof("stream: connected url=%s", s.url)
		backoff = s.minBackoff
		s.readLoop(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Warnf("stream: connection lost, reconnecting in %s", backoff)
		if !sleep(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff, s.maxBackoff)
	}
}

func (s *Source) readLoop(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logger.Warnf("stream: read failed: %v", err)
			}
			return
		}
		evt, err := ingest.ParseEvent(raw)
		if err != nil {
			logger.Warnf("stream: drop frame: %v", err)
			continue
		}
		select {
		case s.events <- evt:
		case <-ctx.Done():
			return
		}
	}
}

func dial(ctx context.Context, url string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
