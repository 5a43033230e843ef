// Package chat runs the per-connection conversation: session resolution,
// history, retrieval, generation and persistence of each turn.
package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/casebot/backend/internal/metrics"
	"github.com/casebot/backend/internal/retrieval"
	"github.com/casebot/backend/internal/storage"
	"github.com/casebot/backend/internal/storage/models"
	"github.com/casebot/backend/pkg/logger"
)

type Store interface {
	CreateSession(ctx context.Context, sessionID, name string) error
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	InsertChatTurn(ctx context.Context, turn models.ChatTurn) error
	RecentChatTurns(ctx context.Context, sessionID string, n int) ([]models.ChatTurn, error)
	InsertQuestion(ctx context.Context, q models.Question) error
	GroupFileNames(ctx context.Context, groupIDs []int64) ([]string, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) (retrieval.Outcome, error)
	RetrieveScoped(ctx context.Context, ids []string, query string, threshold float64, k int) (retrieval.Outcome, error)
}

type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}

type Outcome string

const (
	// OutcomeAnswered is a reply grounded in retrieved documents.
	OutcomeAnswered Outcome = "answered"
	// OutcomeNoMaterial is a reply generated without any matching documents.
	OutcomeNoMaterial Outcome = "no_material"
	// OutcomeGenerationFailed is the fixed apology reply.
	OutcomeGenerationFailed Outcome = "generation_failed"
)

type Reply struct {
	SessionID string
	Text      string
	Outcome   Outcome
	Retrieval retrieval.Status
}

type Options struct {
	HistoryTurns int
	TopK         int
	Threshold    float64
	MaxTokens    int
}

type Orchestrator struct {
	store     Store
	retriever Retriever
	generator Generator
	opts      Options
	newID     func() string
}

func NewOrchestrator(store Store, retriever Retriever, generator Generator, opts Options) *Orchestrator {
	if opts.HistoryTurns <= 0 {
		opts.HistoryTurns = 5
	}
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 150
	}
	return &Orchestrator{
		store:     store,
		retriever: retriever,
		generator: generator,
		opts:      opts,
		newID:     uuid.NewString,
	}
}

// HandleMessage parses raw and runs one turn. Malformed input is logged and
// yields ok == false with no reply.
func (o *Orchestrator) HandleMessage(ctx context.Context, raw []byte) (Reply, bool) {
	req, err := ParseRequest(raw)
	if err != nil {
		logger.Warn("Discarding malformed chat payload", zap.Error(err))
		metrics.ChatMessages.WithLabelValues("malformed").Inc()
		return Reply{}, false
	}

	reply, err := o.Handle(ctx, req)
	if err != nil {
		return Reply{}, false
	}
	return reply, true
}

// Handle runs one turn for a parsed request. The only error is ctx's, when
// the caller went away mid-turn.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (Reply, error) {
	return o.process(ctx, req, func(State) {})
}

func (o *Orchestrator) process(ctx context.Context, req Request, step func(State)) (Reply, error) {
	step(StateResolvingSession)
	sessionID := o.resolveSession(ctx, req.SessionID)

	o.persistTurn(ctx, sessionID, models.SenderUser, req.Message)
	o.recordQuestion(ctx, sessionID, req.Message)

	step(StateBuildingContext)
	history := o.history(ctx, sessionID, req.Message)

	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}

	step(StateRetrieving)
	outcome := o.retrieve(ctx, req)

	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}

	step(StateGenerating)
	prompt := BuildPrompt(history, outcome.Results)
	reply := Reply{SessionID: sessionID, Retrieval: outcome.Status, Outcome: OutcomeNoMaterial}
	if outcome.Status == retrieval.StatusFound {
		reply.Outcome = OutcomeAnswered
	}

	text, err := o.generator.Generate(ctx, prompt, o.opts.MaxTokens)
	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("empty completion")
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Reply{}, ctxErr
		}
		logger.Error("Generation failed, sending fallback", zap.String("session_id", sessionID), zap.Error(err))
		metrics.GenerationFailures.Inc()
		text = FallbackReply
		reply.Outcome = OutcomeGenerationFailed
	}
	reply.Text = text

	step(StateReplying)
	o.persistTurn(ctx, sessionID, models.SenderBot, text)

	metrics.ChatMessages.WithLabelValues(string(reply.Outcome)).Inc()
	return reply, nil
}

// resolveSession returns the id to use for this turn, creating the session
// when it is new or unknown to the store.
func (o *Orchestrator) resolveSession(ctx context.Context, sessionID string) string {
	if sessionID == "" {
		sessionID = o.newID()
		o.createSession(ctx, sessionID)
		return sessionID
	}

	_, err := o.store.GetSession(ctx, sessionID)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		o.createSession(ctx, sessionID)
	default:
		logger.Error("Session lookup failed", zap.String("session_id", sessionID), zap.Error(err))
		metrics.PersistenceFailures.WithLabelValues("get_session").Inc()
	}
	return sessionID
}

func (o *Orchestrator) createSession(ctx context.Context, sessionID string) {
	if err := o.store.CreateSession(ctx, sessionID, models.DefaultSessionName); err != nil {
		logger.Error("Failed to create session", zap.String("session_id", sessionID), zap.Error(err))
		metrics.PersistenceFailures.WithLabelValues("create_session").Inc()
		return
	}
	logger.Info("Session created", zap.String("session_id", sessionID))
}

func (o *Orchestrator) persistTurn(ctx context.Context, sessionID, sender, message string) {
	err := o.store.InsertChatTurn(ctx, models.ChatTurn{SessionID: sessionID, Sender: sender, Message: message})
	if err != nil {
		logger.Error("Failed to persist chat turn",
			zap.String("session_id", sessionID),
			zap.String("sender", sender),
			zap.Error(err),
		)
		metrics.PersistenceFailures.WithLabelValues("insert_chat_turn").Inc()
	}
}

func (o *Orchestrator) recordQuestion(ctx context.Context, sessionID, text string) {
	err := o.store.InsertQuestion(ctx, models.Question{QuestionID: o.newID(), SessionID: sessionID, Text: text})
	if err != nil {
		logger.Warn("Failed to record question", zap.String("session_id", sessionID), zap.Error(err))
		metrics.PersistenceFailures.WithLabelValues("insert_question").Inc()
	}
}

// history renders the last turns. If the store cannot be read, the current
// message stands alone.
func (o *Orchestrator) history(ctx context.Context, sessionID, current string) string {
	turns, err := o.store.RecentChatTurns(ctx, sessionID, o.opts.HistoryTurns)
	if err != nil {
		logger.Error("Failed to read chat history", zap.String("session_id", sessionID), zap.Error(err))
		metrics.PersistenceFailures.WithLabelValues("read_chat_history").Inc()
		turns = nil
	}

	// The user turn may be missing after a failed write.
	if len(turns) == 0 || turns[len(turns)-1].Sender != models.SenderUser || turns[len(turns)-1].Message != current {
		turns = append(turns, models.ChatTurn{Sender: models.SenderUser, Message: current})
		if len(turns) > o.opts.HistoryTurns {
			turns = turns[len(turns)-o.opts.HistoryTurns:]
		}
	}

	return RenderHistory(turns)
}

// retrieve never fails; errors degrade to an empty outcome.
func (o *Orchestrator) retrieve(ctx context.Context, req Request) retrieval.Outcome {
	if len(req.GroupIDs) == 0 {
		out, err := o.retriever.Retrieve(ctx, req.Message, o.opts.TopK)
		if err != nil {
			logger.Error("Retrieval failed", zap.Error(err))
			return retrieval.Outcome{Mode: retrieval.ModeUnscoped, Status: retrieval.StatusNoMatches}
		}
		return out
	}

	names, err := o.store.GroupFileNames(ctx, req.GroupIDs)
	if err != nil {
		logger.Error("Failed to resolve group files", zap.Int64s("group_ids", req.GroupIDs), zap.Error(err))
		metrics.PersistenceFailures.WithLabelValues("group_file_names").Inc()
		return retrieval.Outcome{Mode: retrieval.ModeScoped, Status: retrieval.StatusEmptyScope}
	}

	out, err := o.retriever.RetrieveScoped(ctx, names, req.Message, o.opts.Threshold, o.opts.TopK)
	if err != nil {
		logger.Error("Scoped retrieval failed", zap.Int64s("group_ids", req.GroupIDs), zap.Error(err))
		return retrieval.Outcome{Mode: retrieval.ModeScoped, Status: retrieval.StatusEmptyScope}
	}
	return out
}
