// Package session binds one WebSocket connection to an aide. Inbound frames
// drive the orchestrator (turns, direct edits, interrupts); outbound events
// arrive from the fan-out hub through a bounded queue drained by a single
// writer goroutine, so send order is enqueue order.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/aidekit/scribe/pkg/events"
	"github.com/aidekit/scribe/pkg/llm"
	"github.com/aidekit/scribe/pkg/orchestrator"
	"github.com/aidekit/scribe/pkg/turnerr"
	"github.com/aidekit/scribe/pkg/wire"
)

// writeTimeout bounds one WebSocket send.
const writeTimeout = 10 * time.Second

// outboundQueueSize is the per-session event buffer. A client that falls
// this far behind is closed rather than served gaps.
const outboundQueueSize = 256

// turnQueueSize bounds messages waiting behind the active turn.
const turnQueueSize = 8

// Runner is the orchestrator surface a session drives.
type Runner interface {
	RunTurn(ctx context.Context, req orchestrator.TurnRequest) error
	DirectEdit(ctx context.Context, aideID, userID string, op wire.Op) error
}

// ProfileSwitcher changes replay pacing. Implemented by the replay client;
// nil outside mock mode.
type ProfileSwitcher interface {
	SetProfile(p llm.ReplayProfile)
}

type turnItem struct {
	messageID string
	content   string
}

// Session is one live connection. Turns submitted on this session run one at
// a time in submission order; events for the aide fan in from every session
// through the hub.
type Session struct {
	id       string
	aideID   string
	userID   string
	conn     *websocket.Conn
	hub      *events.Hub
	runner   Runner
	profiles ProfileSwitcher
	logger   *slog.Logger

	outbound chan []byte
	turns    chan turnItem

	mu         sync.Mutex
	turnCancel context.CancelFunc

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a session for an accepted connection. profiles may be nil; the
// set_profile message is then rejected.
func New(aideID, userID string, conn *websocket.Conn, hub *events.Hub, runner Runner, profiles ProfileSwitcher, logger *slog.Logger) *Session {
	id := "sess-" + uuid.NewString()
	return &Session{
		id:       id,
		aideID:   aideID,
		userID:   userID,
		conn:     conn,
		hub:      hub,
		runner:   runner,
		profiles: profiles,
		logger:   logger.With("session_id", id, "aide_id", aideID),
		outbound: make(chan []byte, outboundQueueSize),
		turns:    make(chan turnItem, turnQueueSize),
	}
}

// ID implements events.Subscriber.
func (s *Session) ID() string { return s.id }

// Enqueue implements events.Subscriber. It never blocks; a full queue means
// the client cannot keep up, and the session closes so the client reconnects
// and reloads the snapshot instead of rendering a gap.
func (s *Session) Enqueue(data []byte) bool {
	select {
	case s.outbound <- data:
		return true
	default:
		s.cancel()
		return false
	}
}

// Run services the connection until it closes or parentCtx is cancelled.
// Closing mid-turn behaves like an interrupt: the turn context is cancelled
// and the orchestrator finalizes with the operations accepted so far.
func (s *Session) Run(parentCtx context.Context) {
	ctx, cancel := context.WithCancel(parentCtx)
	s.cancel = cancel
	defer cancel()

	s.wg.Add(2)
	go s.writeLoop(ctx)
	go s.turnLoop(ctx)

	s.hub.Subscribe(s.aideID, s)
	defer s.hub.Unsubscribe(s.aideID, s.id)

	s.sendControl(map[string]string{
		"type":       "session.established",
		"session_id": s.id,
		"aide_id":    s.aideID,
	})
	s.logger.Info("Session opened", "user_id", s.userID)

	s.readLoop(ctx)

	cancel()
	s.wg.Wait()
	_ = s.conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("Session closed")
}

func (s *Session) readLoop(ctx context.Context) {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return
		}

		var msg InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError("malformed message")
			continue
		}
		if err := msg.Validate(); err != nil {
			s.sendError(err.Error())
			continue
		}
		s.dispatch(ctx, &msg)
	}
}

func (s *Session) dispatch(ctx context.Context, msg *InboundMessage) {
	switch msg.Type {
	case ClientMessage:
		item := turnItem{messageID: msg.MessageID, content: msg.Content}
		if item.messageID == "" {
			item.messageID = uuid.NewString()
		}
		select {
		case s.turns <- item:
		default:
			s.sendError("too many queued messages, wait for the current turn to finish")
		}

	case ClientDirectEdit:
		op, err := wire.DecodeOp(msg.Op)
		if err != nil {
			s.sendError("invalid operation: " + err.Error())
			return
		}
		if err := s.runner.DirectEdit(ctx, s.aideID, s.userID, op); err != nil {
			var terr *turnerr.Error
			if errors.As(err, &terr) {
				s.sendError(terr.Message)
				return
			}
			s.sendError(err.Error())
		}

	case ClientInterrupt:
		s.interruptActive()

	case ClientSetProfile:
		if s.profiles == nil {
			s.sendError("profile switching requires mock mode")
			return
		}
		p, ok := llm.ParseProfile(msg.Profile)
		if !ok {
			s.sendError("unknown profile: " + msg.Profile)
			return
		}
		s.profiles.SetProfile(p)
		s.sendControl(map[string]string{"type": "profile.set", "profile": string(p)})
	}
}

// turnLoop runs queued turns strictly one at a time. The turn context is a
// child of the session context, so both an interrupt frame and a session
// close cancel the active turn.
func (s *Session) turnLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-s.turns:
			turnCtx, cancel := context.WithCancel(ctx)
			s.setTurnCancel(cancel)
			err := s.runner.RunTurn(turnCtx, orchestrator.TurnRequest{
				AideID:    s.aideID,
				UserID:    s.userID,
				MessageID: item.messageID,
				Message:   item.content,
			})
			s.setTurnCancel(nil)
			cancel()
			if err != nil {
				// The terminal event is already on the wire; this is
				// for the server log only.
				s.logger.Warn("Turn ended with error", "error", err)
			}
		}
	}
}

func (s *Session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-s.outbound:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := s.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				s.logger.Warn("WebSocket write failed", "error", err)
				s.cancel()
				return
			}
		}
	}
}

func (s *Session) setTurnCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	s.turnCancel = cancel
	s.mu.Unlock()
}

func (s *Session) interruptActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turnCancel != nil {
		s.turnCancel()
	}
}

func (s *Session) sendError(message string) {
	s.sendControl(map[string]string{"type": "error", "message": message})
}

// sendControl enqueues a session-local frame on the same queue as hub
// events, preserving relative order.
func (s *Session) sendControl(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case s.outbound <- data:
	default:
		s.logger.Warn("Dropping control frame, outbound queue full")
	}
}
