package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casebot/backend/internal/retrieval"
	"github.com/casebot/backend/internal/storage/models"
	"github.com/casebot/backend/internal/vector"
)

func newTestOrchestrator(store *fakeStore, r *fakeRetriever, g *fakeGenerator) *Orchestrator {
	return NewOrchestrator(store, r, g, Options{HistoryTurns: 5, TopK: 3, Threshold: 0.8, MaxTokens: 150})
}

func found(ids ...string) retrieval.Outcome {
	out := retrieval.Outcome{Status: retrieval.StatusFound}
	for _, id := range ids {
		out.Results = append(out.Results, vector.Result{ID: id, Text: "text of " + id, Similarity: 0.9})
	}
	return out
}

func TestParseRequest(t *testing.T) {
	req, err := ParseRequest([]byte(`{"session_id":" s1 ","message":"hi","group_ids":[1,2]}`))
	require.NoError(t, err)
	assert.Equal(t, Request{SessionID: "s1", Message: "hi", GroupIDs: []int64{1, 2}}, req)

	for _, raw := range []string{`{not json`, `{"message":"   "}`, `{}`, `[]`, ``} {
		_, err := ParseRequest([]byte(raw))
		assert.ErrorIs(t, err, ErrMalformedRequest, raw)
	}
}

func TestHandleMessageMalformedProducesNoReply(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGenerator{text: "answer"}
	o := newTestOrchestrator(store, &fakeRetriever{}, gen)

	_, ok := o.HandleMessage(context.Background(), []byte(`{"message": 42`))
	assert.False(t, ok)
	assert.Empty(t, store.turns)
	assert.Empty(t, gen.prompts)
}

func TestSessionRoundTrip(t *testing.T) {
	store := newFakeStore()
	o := newTestOrchestrator(store, &fakeRetriever{outcome: found("a.txt")}, &fakeGenerator{text: "answer"})
	ctx := context.Background()

	first, ok := o.HandleMessage(ctx, []byte(`{"message":"first question"}`))
	require.True(t, ok)
	require.NotEmpty(t, first.SessionID)

	second, ok := o.HandleMessage(ctx, []byte(fmt.Sprintf(`{"session_id":%q,"message":"follow up"}`, first.SessionID)))
	require.True(t, ok)
	assert.Equal(t, first.SessionID, second.SessionID)

	assert.Len(t, store.sessions, 1)
	turns := store.turnsFor(first.SessionID)
	require.Len(t, turns, 4)
	assert.Equal(t, []string{"user", "bot", "user", "bot"},
		[]string{turns[0].Sender, turns[1].Sender, turns[2].Sender, turns[3].Sender})
	assert.Len(t, store.questions, 2)
}

func TestUnknownSessionIsCreated(t *testing.T) {
	store := newFakeStore()
	o := newTestOrchestrator(store, &fakeRetriever{}, &fakeGenerator{text: "ok"})

	reply, ok := o.HandleMessage(context.Background(), []byte(`{"session_id":"stale-id","message":"hello"}`))
	require.True(t, ok)
	assert.Equal(t, "stale-id", reply.SessionID)
	_, exists := store.sessions["stale-id"]
	assert.True(t, exists)
}

func TestGroundedPrompt(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGenerator{text: "grounded"}
	o := newTestOrchestrator(store, &fakeRetriever{outcome: found("smith-v-jones.pdf")}, gen)

	reply, ok := o.HandleMessage(context.Background(), []byte(`{"message":"what was held?"}`))
	require.True(t, ok)
	assert.Equal(t, "grounded", reply.Text)
	assert.Equal(t, OutcomeAnswered, reply.Outcome)

	prompt := gen.lastPrompt()
	assert.Contains(t, prompt, "User: what was held?")
	assert.Contains(t, prompt, "1. smith-v-jones.pdf (similarity 0.900)")
	assert.Contains(t, prompt, "text of smith-v-jones.pdf")
}

func TestNothingFoundStillReplies(t *testing.T) {
	cases := []struct {
		name    string
		outcome retrieval.Outcome
		err     error
		groups  bool
	}{
		{"unscoped empty", retrieval.Outcome{Status: retrieval.StatusNoMatches}, nil, false},
		{"empty scope", retrieval.Outcome{Status: retrieval.StatusEmptyScope}, nil, true},
		{"below threshold", retrieval.Outcome{Status: retrieval.StatusBelowThreshold}, nil, true},
		{"retrieval error", retrieval.Outcome{}, errors.New("embedding down"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStore()
			store.groups[7] = []string{"a.txt"}
			gen := &fakeGenerator{text: "from context"}
			o := newTestOrchestrator(store, &fakeRetriever{outcome: tc.outcome, err: tc.err}, gen)

			raw := `{"message":"anything?"}`
			if tc.groups {
				raw = `{"message":"anything?","group_ids":[7]}`
			}

			reply, ok := o.HandleMessage(context.Background(), []byte(raw))
			require.True(t, ok)
			assert.Equal(t, "from context", reply.Text)
			assert.Equal(t, OutcomeNoMaterial, reply.Outcome)
			assert.Contains(t, gen.lastPrompt(), "No relevant case documents were found")
		})
	}
}

func TestScopedRetrievalUsesGroupFiles(t *testing.T) {
	store := newFakeStore()
	store.groups[1] = []string{"a.txt", "b.txt"}
	store.groups[2] = []string{"c.txt"}
	r := &fakeRetriever{outcome: found("b.txt")}
	o := newTestOrchestrator(store, r, &fakeGenerator{text: "ok"})

	_, ok := o.HandleMessage(context.Background(), []byte(`{"message":"q","group_ids":[1,2]}`))
	require.True(t, ok)

	require.Len(t, r.scoped, 1)
	assert.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, r.scoped[0].ids)
	assert.Equal(t, 0.8, r.scoped[0].threshold)
	assert.Equal(t, 3, r.scoped[0].k)
}

func TestGroupStoreFailureDegrades(t *testing.T) {
	store := newFakeStore()
	store.failGroups = true
	r := &fakeRetriever{outcome: found("x")}
	o := newTestOrchestrator(store, r, &fakeGenerator{text: "ok"})

	reply, ok := o.HandleMessage(context.Background(), []byte(`{"message":"q","group_ids":[1]}`))
	require.True(t, ok)
	assert.Equal(t, retrieval.StatusEmptyScope, reply.Retrieval)
	assert.Empty(t, r.scoped)
}

func TestGenerationFailureSendsFallback(t *testing.T) {
	store := newFakeStore()
	o := newTestOrchestrator(store, &fakeRetriever{}, &fakeGenerator{err: errors.New("provider down")})

	reply, ok := o.HandleMessage(context.Background(), []byte(`{"message":"hello"}`))
	require.True(t, ok)
	assert.Equal(t, FallbackReply, reply.Text)
	assert.Equal(t, OutcomeGenerationFailed, reply.Outcome)

	turns := store.turnsFor(reply.SessionID)
	require.Len(t, turns, 2)
	assert.Equal(t, FallbackReply, turns[1].Message)
}

func TestEmptyCompletionSendsFallback(t *testing.T) {
	o := newTestOrchestrator(newFakeStore(), &fakeRetriever{}, &fakeGenerator{text: "  "})

	reply, ok := o.HandleMessage(context.Background(), []byte(`{"message":"hello"}`))
	require.True(t, ok)
	assert.Equal(t, FallbackReply, reply.Text)
}

func TestPersistenceFailureIsBestEffort(t *testing.T) {
	store := newFakeStore()
	store.failWrites = true
	gen := &fakeGenerator{text: "still here"}
	o := newTestOrchestrator(store, &fakeRetriever{}, gen)

	reply, ok := o.HandleMessage(context.Background(), []byte(`{"message":"hello"}`))
	require.True(t, ok)
	assert.Equal(t, "still here", reply.Text)
	assert.NotEmpty(t, reply.SessionID)
	assert.Contains(t, gen.lastPrompt(), "User: hello")
}

func TestHistoryWindow(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGenerator{text: "r"}
	o := newTestOrchestrator(store, &fakeRetriever{}, gen)
	ctx := context.Background()

	first, _ := o.HandleMessage(ctx, []byte(`{"message":"m1"}`))
	for i := 2; i <= 4; i++ {
		_, ok := o.HandleMessage(ctx, []byte(fmt.Sprintf(`{"session_id":%q,"message":"m%d"}`, first.SessionID, i)))
		require.True(t, ok)
	}

	prompt := gen.lastPrompt()
	history := prompt[strings.Index(prompt, "Conversation so far:\n")+len("Conversation so far:\n"):]
	history = history[:strings.Index(history, "\n\n")]
	assert.Equal(t, "User: m2\nBot: r\nUser: m3\nBot: r\nUser: m4", history)
}

func TestRenderHistory(t *testing.T) {
	got := RenderHistory([]models.ChatTurn{
		{Sender: models.SenderUser, Message: "hi"},
		{Sender: models.SenderBot, Message: "hello"},
		{Sender: "system", Message: "x"},
	})
	assert.Equal(t, "User: hi\nBot: hello\nSystem: x", got)
}

func TestBuildPromptTruncatesDocuments(t *testing.T) {
	long := strings.Repeat("é", maxDocumentChars+10)
	prompt := BuildPrompt("User: q", []vector.Result{{ID: "a", Text: long, Similarity: 1}})
	assert.Contains(t, prompt, strings.Repeat("é", maxDocumentChars)+"...")
	assert.NotContains(t, prompt, strings.Repeat("é", maxDocumentChars+1))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "awaiting_message", StateAwaitingMessage.String())
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "unknown", State(99).String())
}
