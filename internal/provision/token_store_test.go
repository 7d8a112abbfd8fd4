package provision

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPayload() Payload {
	return Payload{
		DeviceName:  "laptop1",
		DeviceType:  "linux",
		IPAddress:   "192.168.100.13/24",
		CAName:      "home",
		RequestedBy: "admin",
		AutoConnect: true,
	}
}

func TestIssue_TokenShape(t *testing.T) {
	store := NewTokenStore(time.Hour)

	token, expiresAt, err := store.Issue(testPayload(), 0)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(token, "nt_"))
	// 32 bytes of raw-url base64 is 43 characters
	assert.Len(t, token, len("nt_")+43)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)
}

func TestIssue_TokensAreUnique(t *testing.T) {
	store := NewTokenStore(time.Hour)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, _, err := store.Issue(testPayload(), 0)
		require.NoError(t, err)
		require.False(t, seen[token], "duplicate token issued")
		seen[token] = true
	}
}

func TestRedeem_ReturnsPayloadOnce(t *testing.T) {
	store := NewTokenStore(time.Hour)

	token, _, err := store.Issue(testPayload(), 0)
	require.NoError(t, err)

	payload, err := store.Redeem(token)
	require.NoError(t, err)
	assert.Equal(t, "laptop1", payload.DeviceName)
	assert.Equal(t, "192.168.100.13/24", payload.IPAddress)

	// second redemption of the same token must not resolve
	_, err = store.Redeem(token)
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestRedeem_UnknownToken(t *testing.T) {
	store := NewTokenStore(time.Hour)

	_, err := store.Redeem("nt_does-not-exist")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestRedeem_ExpiredTokenIsReportedAndRemoved(t *testing.T) {
	store := NewTokenStore(time.Hour)

	token, _, err := store.Issue(testPayload(), time.Nanosecond)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	_, err = store.Redeem(token)
	assert.ErrorIs(t, err, ErrTokenExpired)

	// the expired entry is gone, a retry sees NotFound
	_, err = store.Redeem(token)
	assert.ErrorIs(t, err, ErrTokenNotFound)
	assert.Equal(t, 0, store.Len())
}

func TestRedeem_ConcurrentExactlyOnce(t *testing.T) {
	store := NewTokenStore(time.Hour)

	token, _, err := store.Issue(testPayload(), 0)
	require.NoError(t, err)

	const redeemers = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	notFound := 0

	wg.Add(redeemers)
	for i := 0; i < redeemers; i++ {
		go func() {
			defer wg.Done()
			_, err := store.Redeem(token)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case err == ErrTokenNotFound:
				notFound++
			default:
				t.Errorf("unexpected redeem error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes, "exactly one redeemer must win")
	assert.Equal(t, redeemers-1, notFound)
}

func TestCleanup_ReapsOnlyExpired(t *testing.T) {
	store := NewTokenStore(time.Hour)

	expired, _, err := store.Issue(testPayload(), time.Nanosecond)
	require.NoError(t, err)
	live, _, err := store.Issue(testPayload(), time.Hour)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	store.cleanup()

	assert.False(t, store.Peek(expired))
	assert.True(t, store.Peek(live))
	assert.Equal(t, 1, store.Len())
}
