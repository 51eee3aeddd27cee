package oauth

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCodeStore(t *testing.T) *CodeStore {
	t.Helper()
	store := NewCodeStore(10*time.Minute, time.Minute, nil)
	t.Cleanup(store.Stop)
	return store
}

func TestCodeStore_IssueAndPeek(t *testing.T) {
	store := newTestCodeStore(t)

	code, err := store.Issue("client-1", "https://app.example.com/callback", "challenge")
	require.NoError(t, err)
	assert.NotEmpty(t, code.Code)
	assert.False(t, code.Consumed)

	peeked, err := store.Peek(code.Code)
	require.NoError(t, err)
	assert.Equal(t, "client-1", peeked.ClientID)
	assert.Equal(t, "https://app.example.com/callback", peeked.RedirectURI)
	assert.Equal(t, "challenge", peeked.CodeChallenge)

	// Peek does not consume
	_, err = store.Peek(code.Code)
	assert.NoError(t, err)
}

func TestCodeStore_Peek_Unknown(t *testing.T) {
	store := newTestCodeStore(t)

	_, err := store.Peek("never-issued")
	assert.Error(t, err)
}

func TestCodeStore_Consume_SingleUse(t *testing.T) {
	store := newTestCodeStore(t)

	code, err := store.Issue("client-1", "https://app.example.com/callback", "challenge")
	require.NoError(t, err)

	consumed, err := store.Consume(code.Code)
	require.NoError(t, err)
	assert.True(t, consumed.Consumed)

	// The second consume must fail; the code is burned
	_, err = store.Consume(code.Code)
	assert.Error(t, err)

	// Peek fails too, and the record stays until the sweep so replays keep
	// failing for the full TTL
	_, err = store.Peek(code.Code)
	assert.Error(t, err)
	assert.Equal(t, 1, store.Count())
}

func TestCodeStore_Consume_ConcurrentExactlyOneWins(t *testing.T) {
	store := newTestCodeStore(t)

	code, err := store.Issue("client-1", "https://app.example.com/callback", "challenge")
	require.NoError(t, err)

	const attempts = 32
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Consume(code.Code)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
		}
	}
	assert.Equal(t, 1, wins)
}

func TestCodeStore_Expiry(t *testing.T) {
	store := newTestCodeStore(t)

	code, err := store.Issue("client-1", "https://app.example.com/callback", "challenge")
	require.NoError(t, err)

	store.now = func() time.Time { return time.Now().Add(11 * time.Minute) }

	_, err = store.Peek(code.Code)
	assert.Error(t, err)
	_, err = store.Consume(code.Code)
	assert.Error(t, err)
}

func TestCodeStore_Sweep(t *testing.T) {
	store := newTestCodeStore(t)

	consumed, err := store.Issue("client-1", "https://app.example.com/callback", "challenge")
	require.NoError(t, err)
	_, err = store.Consume(consumed.Code)
	require.NoError(t, err)

	live, err := store.Issue("client-2", "https://app.example.com/callback", "challenge")
	require.NoError(t, err)
	require.Equal(t, 2, store.Count())

	// The sweep removes consumed codes but keeps live ones
	store.sweepExpired()
	assert.Equal(t, 1, store.Count())

	_, err = store.Peek(live.Code)
	assert.NoError(t, err)
}
