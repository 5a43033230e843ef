package chat

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/casebot/backend/internal/metrics"
	"github.com/casebot/backend/pkg/logger"
)

// Transport is one client connection. Receive blocks until a message arrives
// or the connection fails.
type Transport interface {
	Receive(ctx context.Context) ([]byte, error)
	Send(ctx context.Context, text string) error
}

// Conversation is the state machine for one connection. Turns are handled one
// at a time; the session created by the first turn is reused by later turns
// that carry no session_id.
type Conversation struct {
	orch      *Orchestrator
	state     atomic.Int32
	sessionID atomic.Value
}

func NewConversation(orch *Orchestrator) *Conversation {
	c := &Conversation{orch: orch}
	c.sessionID.Store("")
	return c
}

func (c *Conversation) State() State {
	return State(c.state.Load())
}

func (c *Conversation) SessionID() string {
	return c.sessionID.Load().(string)
}

func (c *Conversation) setState(s State) {
	c.state.Store(int32(s))
}

// Run reads and answers messages until the transport fails or ctx ends. A
// transport failure cancels the turn in flight. The error that ended the
// loop is returned.
func (c *Conversation) Run(ctx context.Context, t Transport) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.setState(StateDisconnected)

	inbox := make(chan []byte)
	readErr := make(chan error, 1)

	go func() {
		defer close(inbox)
		for {
			raw, err := t.Receive(ctx)
			if err != nil {
				readErr <- err
				cancel()
				return
			}
			select {
			case inbox <- raw:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		c.setState(StateAwaitingMessage)

		var raw []byte
		select {
		case <-ctx.Done():
			return c.exitErr(ctx, readErr)
		case msg, ok := <-inbox:
			if !ok {
				return c.exitErr(ctx, readErr)
			}
			raw = msg
		}

		reply, ok := c.turn(ctx, raw)
		if !ok {
			continue
		}

		if err := t.Send(ctx, reply.Text); err != nil {
			logger.Warn("Failed to send chat reply", zap.String("session_id", reply.SessionID), zap.Error(err))
			return err
		}
	}
}

func (c *Conversation) turn(ctx context.Context, raw []byte) (Reply, bool) {
	req, err := ParseRequest(raw)
	if err != nil {
		logger.Warn("Discarding malformed chat payload", zap.Error(err))
		metrics.ChatMessages.WithLabelValues("malformed").Inc()
		return Reply{}, false
	}

	if req.SessionID == "" {
		req.SessionID = c.SessionID()
	}

	reply, err := c.orch.process(ctx, req, c.setState)
	if err != nil {
		logger.Info("Turn abandoned", zap.String("session_id", req.SessionID), zap.Error(err))
		return Reply{}, false
	}

	c.sessionID.Store(reply.SessionID)
	return reply, true
}

func (c *Conversation) exitErr(ctx context.Context, readErr <-chan error) error {
	select {
	case err := <-readErr:
		return err
	default:
		return ctx.Err()
	}
}
