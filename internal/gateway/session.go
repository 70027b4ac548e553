package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1 MiB

	sendBufferSize = 64
)

var errSessionClosed = errors.New("gateway: session closed")

// Session is one authenticated websocket connection. It owns the read and
// write pumps and the table of deliveries awaiting a client acknowledgment.
type Session struct {
	id         string
	memberID   string
	memberName string

	socket *websocket.Conn
	send   chan Envelope

	mu      sync.Mutex
	pending map[string]chan json.RawMessage

	once    sync.Once
	done    chan struct{}
	onClose func(*Session)
	log     *zap.Logger
}

func newSession(socket *websocket.Conn, memberID, memberName string, log *zap.Logger, onClose func(*Session)) *Session {
	return &Session{
		id:         uuid.NewString(),
		memberID:   memberID,
		memberName: memberName,
		socket:     socket,
		send:       make(chan Envelope, sendBufferSize),
		pending:    make(map[string]chan json.RawMessage),
		done:       make(chan struct{}),
		onClose:    onClose,
		log:        log,
	}
}

// ID identifies the connection, not the member.
func (s *Session) ID() string { return s.id }

// MemberID identifies the member this session authenticated as.
func (s *Session) MemberID() string { return s.memberID }

// MemberName is the display name presented at handshake time.
func (s *Session) MemberName() string { return s.memberName }

// Alive reports whether the session can still carry traffic.
func (s *Session) Alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Deliver sends the event and blocks until the client acknowledges it, the
// context expires or the session closes. The returned payload is the body of
// the acknowledgment envelope.
func (s *Session) Deliver(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("gateway: encode %s payload: %w", event, err)
	}

	id := uuid.NewString()
	ack := make(chan json.RawMessage, 1)

	s.mu.Lock()
	s.pending[id] = ack
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	if err := s.enqueue(Envelope{ID: id, Event: event, Data: data}); err != nil {
		return nil, err
	}

	select {
	case body, ok := <-ack:
		if !ok {
			return nil, errSessionClosed
		}
		return body, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, errSessionClosed
	}
}

// Push sends the event without waiting for an acknowledgment.
func (s *Session) Push(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("gateway: encode %s payload: %w", event, err)
	}
	return s.enqueue(Envelope{Event: event, Data: data})
}

// Respond answers a client request identified by requestID.
func (s *Session) Respond(requestID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("gateway: encode result payload: %w", err)
	}
	return s.enqueue(Envelope{ID: requestID, Event: EventResult, Data: data})
}

// Close tears the session down exactly once: pending deliveries are failed,
// the registry callback runs and the socket closes.
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.done)

		s.mu.Lock()
		for id, ack := range s.pending {
			close(ack)
			delete(s.pending, id)
		}
		s.mu.Unlock()

		if s.onClose != nil {
			s.onClose(s)
		}
		_ = s.socket.Close()
	})
}

func (s *Session) enqueue(envelope Envelope) error {
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}

	select {
	case s.send <- envelope:
		return nil
	case <-s.done:
		return errSessionClosed
	default:
		// A client that cannot drain its queue is dropped rather than letting
		// it stall the rest of the fan-out.
		s.log.Warn("dropping backpressure session",
			zap.String("member_id", s.memberID),
			zap.String("session_id", s.id))
		s.Close()
		return errSessionClosed
	}
}

// run pumps the connection until it closes. Requests dispatch on their own
// goroutines so a handler blocked on downstream acknowledgments never stops
// this session from answering acknowledgments of its own.
func (s *Session) run(handler func(*Session, Envelope)) {
	go s.writeLoop()
	s.readLoop(handler)
}

func (s *Session) readLoop(handler func(*Session, Envelope)) {
	defer s.Close()

	s.socket.SetReadLimit(maxMessageSize)
	_ = s.socket.SetReadDeadline(time.Now().Add(pongWait))
	s.socket.SetPongHandler(func(string) error {
		_ = s.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := s.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Warn("unexpected close",
					zap.String("member_id", s.memberID), zap.Error(err))
			}
			return
		}
		if len(payload) == 0 {
			continue
		}

		var envelope Envelope
		if err := json.Unmarshal(payload, &envelope); err != nil {
			s.log.Warn("invalid envelope",
				zap.String("member_id", s.memberID), zap.Error(err))
			continue
		}

		if envelope.Event == EventAck {
			s.resolveAck(envelope)
			continue
		}

		go handler(s, envelope)
	}
}

func (s *Session) resolveAck(envelope Envelope) {
	s.mu.Lock()
	ack, ok := s.pending[envelope.ID]
	if ok {
		delete(s.pending, envelope.ID)
	}
	s.mu.Unlock()

	if !ok {
		// Late acknowledgments for timed-out deliveries land here.
		return
	}
	ack <- envelope.Data
}

func (s *Session) writeLoop() {
	defer s.Close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case envelope := <-s.send:
			_ = s.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.socket.WriteJSON(envelope); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			_ = s.socket.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.socket.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
