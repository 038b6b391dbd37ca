package pricefeed

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// feedConn wraps one accepted feed connection on the test server side.
type feedConn struct {
	*websocket.Conn
}

// acceptHandshake plays the server half of the subscribe handshake:
// channel-subscribe in, confirmation out, token-subscribe in. Returns the
// channel name and the initial token set.
func (c feedConn) acceptHandshake(t *testing.T) (string, []string) {
	t.Helper()

	var sub command
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	require.NoError(t, c.ReadJSON(&sub))
	require.Equal(t, "subscribe", sub.Command)

	var ident struct {
		Channel string `json:"channel"`
	}
	require.NoError(t, json.Unmarshal([]byte(sub.Identifier), &ident))

	require.NoError(t, c.WriteJSON(map[string]string{"type": "confirm_subscription"}))

	return ident.Channel, c.readTokenSet(t)
}

// readTokenSet reads the next set_tokens envelope and extracts its key list.
func (c feedConn) readTokenSet(t *testing.T) []string {
	t.Helper()

	var msg command
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	require.NoError(t, c.ReadJSON(&msg))
	require.Equal(t, "message", msg.Command)

	var data map[string]any
	require.NoError(t, json.Unmarshal([]byte(msg.Data), &data))
	require.Equal(t, "set_tokens", data["action"])

	for key, v := range data {
		if key == "action" {
			continue
		}
		list, ok := v.([]any)
		require.True(t, ok, "token list under %q", key)
		tokens := make([]string, 0, len(list))
		for _, item := range list {
			tokens = append(tokens, item.(string))
		}
		return tokens
	}
	return nil
}

// startFeedServer runs handler per accepted connection and returns the ws URL.
func startFeedServer(t *testing.T, handler func(feedConn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handler(feedConn{conn})
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestManagerStreamsSimplePrices(t *testing.T) {
	url := startFeedServer(t, func(c feedConn) {
		defer c.Close()
		channel, tokens := c.acceptHandshake(t)
		assert.Equal(t, channelSimplePrice, channel)
		assert.Equal(t, []string{"bitcoin"}, tokens)

		require.NoError(t, c.WriteJSON(map[string]any{
			"c": "C1", "i": "bitcoin",
			"p": 64000.5, "m": 1.26e12, "v": 3.1e10, "pp": -1.4, "t": 1700000000,
		}))

		// hold the connection open until the manager stops
		_ = c.SetReadDeadline(time.Now().Add(10 * time.Second))
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	})

	cache := NewCache()
	m := NewManager(url, true, cache, nil)
	m.SubscribeSimplePrice("bitcoin")
	m.Start()
	defer m.Stop()

	waitFor(t, 3*time.Second, func() bool {
		_, ok := cache.Get("bitcoin")
		return ok
	})

	p, _ := cache.Get("bitcoin")
	assert.Equal(t, 64000.5, p.Price)
	assert.Equal(t, 1.26e12, p.MarketCap)
	assert.Equal(t, -1.4, p.Change24hPct)
	assert.Equal(t, int64(1700000000), p.SourceTimestamp)
	assert.GreaterOrEqual(t, p.Age(), time.Duration(0))
}

func TestManagerResubscribesOnSetChange(t *testing.T) {
	updated := make(chan []string, 1)

	url := startFeedServer(t, func(c feedConn) {
		defer c.Close()
		_, tokens := c.acceptHandshake(t)
		assert.Equal(t, []string{"bitcoin"}, tokens)

		updated <- c.readTokenSet(t)
	})

	cache := NewCache()
	m := NewManager(url, true, cache, nil)
	m.SubscribeSimplePrice("bitcoin")
	m.Start()
	defer m.Stop()

	// let the initial token-subscribe go out, then grow the set
	time.Sleep(200 * time.Millisecond)
	m.SubscribeSimplePrice("ethereum")

	select {
	case tokens := <-updated:
		assert.ElementsMatch(t, []string{"bitcoin", "ethereum"}, tokens)
	case <-time.After(5 * time.Second):
		t.Fatal("no resubscribe after set change")
	}
}

func TestManagerUnsubscribeEvictsCachedPoint(t *testing.T) {
	cache := NewCache()
	m := NewManager("ws://unused", false, cache, nil)

	m.SubscribeSimplePrice("bitcoin")
	cache.Set("bitcoin", point(64000))

	m.UnsubscribeSimplePrice("bitcoin")
	_, ok := cache.Get("bitcoin")
	assert.False(t, ok)
}

func TestManagerToleratesInvalidIDStatus(t *testing.T) {
	url := startFeedServer(t, func(c feedConn) {
		defer c.Close()
		c.acceptHandshake(t)

		// invalid-id status must not tear the connection down
		require.NoError(t, c.WriteJSON(map[string]any{"code": 4008, "message": "invalid coin id"}))
		require.NoError(t, c.WriteJSON(map[string]any{"c": "C1", "i": "dogwifhat", "p": 2.5}))

		_ = c.SetReadDeadline(time.Now().Add(10 * time.Second))
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	})

	cache := NewCache()
	m := NewManager(url, true, cache, nil)
	m.SubscribeSimplePrice("dogwifhat")
	m.Start()
	defer m.Stop()

	waitFor(t, 3*time.Second, func() bool {
		_, ok := cache.Get("dogwifhat")
		return ok
	})
}

func TestManagerAliasesWellKnownOnchainTokens(t *testing.T) {
	const solMint = "So11111111111111111111111111111111111111112"

	url := startFeedServer(t, func(c feedConn) {
		defer c.Close()
		channel, tokens := c.acceptHandshake(t)
		assert.Equal(t, channelOnchainPrice, channel)
		assert.Equal(t, []string{"solana:" + solMint}, tokens)

		require.NoError(t, c.WriteJSON(map[string]any{
			"c": "G1", "n": "solana", "ta": solMint, "p": 150.25,
		}))

		_ = c.SetReadDeadline(time.Now().Add(10 * time.Second))
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	})

	cache := NewCache()
	m := NewManager(url, true, cache, nil)
	m.SubscribeOnchainPrice("sol", solMint)
	m.Start()
	defer m.Stop()

	waitFor(t, 3*time.Second, func() bool {
		_, ok := cache.Get("sol")
		return ok
	})

	byKey, ok := cache.Get("solana:" + solMint)
	require.True(t, ok, "point cached under network:address")
	bySym, _ := cache.Get("sol")
	assert.Equal(t, byKey.Price, bySym.Price)
	assert.Equal(t, 150.25, byKey.Price)
}

func TestManagerReconnectsAfterDrop(t *testing.T) {
	var accepted atomic.Int32

	url := startFeedServer(t, func(c feedConn) {
		accepted.Add(1)
		// drop immediately; the manager must come back with backoff
		c.Close()
	})

	cache := NewCache()
	m := NewManager(url, true, cache, nil)
	m.SubscribeSimplePrice("bitcoin")
	m.Start()
	defer m.Stop()

	// floor backoff is 1s, so two accepts arrive well inside 5s
	waitFor(t, 5*time.Second, func() bool {
		return accepted.Load() >= 2
	})
}

func TestManagerStopJoinsFloodedReader(t *testing.T) {
	url := startFeedServer(t, func(c feedConn) {
		defer c.Close()
		c.acceptHandshake(t)

		// flood far past the frame buffer so the session reader ends up
		// parked on a full channel when the session is torn down
		for i := 0; i < 10_000; i++ {
			if err := c.WriteJSON(map[string]any{"c": "C1", "i": "bitcoin", "p": float64(i)}); err != nil {
				return
			}
		}
		_ = c.SetReadDeadline(time.Now().Add(10 * time.Second))
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	})

	cache := NewCache()
	m := NewManager(url, true, cache, nil)
	m.SubscribeSimplePrice("bitcoin")

	before := runtime.NumGoroutine()
	m.Start()

	waitFor(t, 3*time.Second, func() bool {
		_, ok := cache.Get("bitcoin")
		return ok
	})

	// Stop returns only after the session loops joined their readers
	m.Stop()
	waitFor(t, 2*time.Second, func() bool {
		return runtime.NumGoroutine() <= before+1
	})
}

func TestManagerStartDisabledIsNoop(t *testing.T) {
	m := NewManager("", false, NewCache(), nil)
	m.Start()
	m.Start() // idempotent
	m.Stop()
}

func TestEqualKeys(t *testing.T) {
	assert.True(t, equalKeys([]string{"a", "b"}, []string{"a", "b"}))
	assert.False(t, equalKeys([]string{"a"}, []string{"a", "b"}))
	assert.False(t, equalKeys([]string{"a", "c"}, []string{"a", "b"}))
}

func TestBackoffDoubling(t *testing.T) {
	b := backoffFloor
	var seq []time.Duration
	for i := 0; i < 8; i++ {
		seq = append(seq, b)
		b = minDur(b*2, backoffCeiling)
	}
	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 32 * time.Second, 60 * time.Second, 60 * time.Second,
	}, seq)
}
