package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/casebot/backend/internal/retrieval"
	"github.com/casebot/backend/internal/storage"
	"github.com/casebot/backend/internal/storage/models"
)

type fakeStore struct {
	mu        sync.Mutex
	sessions  map[string]models.Session
	turns     []models.ChatTurn
	questions []models.Question
	groups    map[int64][]string

	failWrites bool
	failGroups bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: map[string]models.Session{}, groups: map[int64][]string{}}
}

var errDiskFull = errors.New("disk full")

func (s *fakeStore) CreateSession(_ context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return storage.Wrap("create session", errDiskFull)
	}
	if _, ok := s.sessions[id]; !ok {
		s.sessions[id] = models.Session{SessionID: id, Name: name}
	}
	return nil
}

func (s *fakeStore) GetSession(_ context.Context, id string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}
	return &sess, nil
}

func (s *fakeStore) InsertChatTurn(_ context.Context, turn models.ChatTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return storage.Wrap("insert chat turn", errDiskFull)
	}
	s.turns = append(s.turns, turn)
	return nil
}

func (s *fakeStore) RecentChatTurns(_ context.Context, id string, n int) ([]models.ChatTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var mine []models.ChatTurn
	for _, t := range s.turns {
		if t.SessionID == id {
			mine = append(mine, t)
		}
	}
	if len(mine) > n {
		mine = mine[len(mine)-n:]
	}
	return mine, nil
}

func (s *fakeStore) InsertQuestion(_ context.Context, q models.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return storage.Wrap("insert question", errDiskFull)
	}
	s.questions = append(s.questions, q)
	return nil
}

func (s *fakeStore) GroupFileNames(_ context.Context, ids []int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGroups {
		return nil, storage.Wrap("resolve group files", errDiskFull)
	}
	var out []string
	for _, id := range ids {
		out = append(out, s.groups[id]...)
	}
	return out, nil
}

func (s *fakeStore) turnsFor(id string) []models.ChatTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ChatTurn
	for _, t := range s.turns {
		if t.SessionID == id {
			out = append(out, t)
		}
	}
	return out
}

type scopedCall struct {
	ids       []string
	threshold float64
	k         int
}

type fakeRetriever struct {
	mu      sync.Mutex
	outcome retrieval.Outcome
	err     error
	scoped  []scopedCall
	queries []string
}

func (r *fakeRetriever) Retrieve(_ context.Context, q string, _ int) (retrieval.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, q)
	return r.outcome, r.err
}

func (r *fakeRetriever) RetrieveScoped(_ context.Context, ids []string, q string, th float64, k int) (retrieval.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, q)
	r.scoped = append(r.scoped, scopedCall{ids: ids, threshold: th, k: k})
	return r.outcome, r.err
}

type fakeGenerator struct {
	mu      sync.Mutex
	prompts []string
	text    string
	err     error
	// block, when set, makes Generate wait for ctx to end.
	block   bool
	started chan struct{}
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string, _ int) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()

	if g.block {
		if g.started != nil {
			close(g.started)
		}
		<-ctx.Done()
		return "", ctx.Err()
	}
	return g.text, g.err
}

func (g *fakeGenerator) lastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

// pipeTransport feeds queued messages and reports io.EOF once closed.
type pipeTransport struct {
	in   chan []byte
	out  chan string
	once sync.Once
}

func newPipeTransport() *pipeTransport {
	return &pipeTransport{in: make(chan []byte, 8), out: make(chan string, 8)}
}

func (p *pipeTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case raw, ok := <-p.in:
		if !ok {
			return nil, io.EOF
		}
		return raw, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeTransport) Send(_ context.Context, text string) error {
	p.out <- text
	return nil
}

func (p *pipeTransport) close() {
	p.once.Do(func() { close(p.in) })
}
