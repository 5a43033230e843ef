package redis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddingKey(t *testing.T) {
	assert.Equal(t, "embedding:abc", embeddingKey("abc"))
}

func TestNewClientUnreachable(t *testing.T) {
	// Port 1 is reserved and refuses connections on loopback.
	_, err := NewClient(context.Background(), "127.0.0.1", 1, "", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}
