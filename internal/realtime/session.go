package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/voxlabs/voicebridge/internal/observability"
)

// Session is the abstract bidirectional channel to the remote
// speech/response model. The orchestrator depends only on this surface.
type Session interface {
	// Events yields inbound typed events. The channel is closed after a
	// terminal Disconnected event or Close.
	Events() <-chan ServerEvent

	// Send transmits one outbound message.
	Send(ctx context.Context, msg ClientMessage) error

	Close() error
}

// DialConfig configures a websocket session.
type DialConfig struct {
	URL    string
	APIKey string
	Model  string
}

// WSSession is a websocket-backed Session.
type WSSession struct {
	conn   *websocket.Conn
	events chan ServerEvent
	logger zerolog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Dial connects to the remote realtime endpoint and starts the read pump.
func Dial(ctx context.Context, cfg DialConfig) (*WSSession, error) {
	endpoint, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse realtime url: %w", err)
	}
	q := endpoint.Query()
	q.Set("model", cfg.Model)
	endpoint.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.APIKey)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial realtime session: %w (status %s)", err, resp.Status)
		}
		return nil, fmt.Errorf("dial realtime session: %w", err)
	}

	s := &WSSession{
		conn:   conn,
		events: make(chan ServerEvent, 64),
		logger: observability.WithComponent("realtime.session"),
	}
	go s.readPump()

	s.logger.Info().Str("model", cfg.Model).Msg("Realtime session connected")
	return s, nil
}

// Events implements Session.
func (s *WSSession) Events() <-chan ServerEvent {
	return s.events
}

// Send implements Session. Writes are serialized; gorilla connections
// support one concurrent writer.
func (s *WSSession) Send(ctx context.Context, msg ClientMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := MarshalClientMessage(msg)
	if err != nil {
		return fmt.Errorf("marshal client message: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(deadline)
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write client message: %w", err)
	}
	return nil
}

// Close tears down the transport. The read pump then delivers its terminal
// event and closes the event channel.
func (s *WSSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}

// readPump decodes inbound frames into typed events until the connection
// ends. Per-source ordering is preserved: events appear on the channel in
// the order the wire delivered them.
func (s *WSSession) readPump() {
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("Realtime session read error")
			}
			s.events <- Disconnected{Err: err}
			return
		}

		ev, err := ParseServerEvent(data)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to parse server event")
			continue
		}
		s.events <- ev
	}
}
