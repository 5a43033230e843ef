package chat

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, p *pipeTransport) string {
	t.Helper()
	select {
	case s := <-p.out:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no reply")
		return ""
	}
}

func TestConversationSkipsMalformedAndReusesSession(t *testing.T) {
	store := newFakeStore()
	o := newTestOrchestrator(store, &fakeRetriever{}, &fakeGenerator{text: "reply"})
	conv := NewConversation(o)
	p := newPipeTransport()

	done := make(chan error, 1)
	go func() { done <- conv.Run(context.Background(), p) }()

	p.in <- []byte(`garbage`)
	p.in <- []byte(`{"message":"one"}`)
	assert.Equal(t, "reply", receive(t, p))

	p.in <- []byte(`{"message":"two"}`)
	assert.Equal(t, "reply", receive(t, p))

	p.close()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}

	assert.Equal(t, StateDisconnected, conv.State())
	require.Len(t, store.sessions, 1)
	assert.Len(t, store.turnsFor(conv.SessionID()), 4)
	assert.Empty(t, p.out)
}

func TestConversationDisconnectCancelsTurn(t *testing.T) {
	gen := &fakeGenerator{block: true, started: make(chan struct{})}
	o := newTestOrchestrator(newFakeStore(), &fakeRetriever{}, gen)
	conv := NewConversation(o)
	p := newPipeTransport()

	done := make(chan error, 1)
	go func() { done <- conv.Run(context.Background(), p) }()

	p.in <- []byte(`{"message":"slow"}`)
	<-gen.started
	assert.Equal(t, StateGenerating, conv.State())

	p.close()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Empty(t, p.out)
}

func TestConversationContextCancel(t *testing.T) {
	o := newTestOrchestrator(newFakeStore(), &fakeRetriever{}, &fakeGenerator{text: "x"})
	conv := NewConversation(o)
	p := newPipeTransport()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- conv.Run(ctx, p) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}
