package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/stevesarmiento/maximus/internal/application/port"
	"github.com/stevesarmiento/maximus/internal/domain"
)

const (
	backoffFloor   = 1 * time.Second
	backoffCeiling = 60 * time.Second

	// How long a loop waits for a first subscription before giving the
	// connection attempt up and sleeping.
	subscriptionWaitStep  = 500 * time.Millisecond
	subscriptionWaitSteps = 5
	emptySetSleep         = 5 * time.Second

	confirmTimeout  = 10 * time.Second
	resubCheckEvery = 1 * time.Second
	pingEvery       = 20 * time.Second
	readDeadline    = 60 * time.Second
	writeTimeout    = 10 * time.Second
)

// Manager owns the two price channel subscription sets and one reconnecting
// connection loop per channel. Both loops write into the shared cache and run
// until Stop.
type Manager struct {
	url     string
	enabled bool
	cache   port.PriceStore
	repo    port.Repository // optional, best-effort persistence

	mu      sync.Mutex
	simple  map[string]struct{}
	onchain map[string]struct{}

	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager builds a manager streaming from url. A nil repo disables
// persistence. An empty url (no API key configured) leaves the manager
// permanently disabled; Start logs and returns.
func NewManager(url string, enabled bool, cache port.PriceStore, repo port.Repository) *Manager {
	return &Manager{
		url:     url,
		enabled: enabled && url != "",
		cache:   cache,
		repo:    repo,
		simple:  make(map[string]struct{}),
		onchain: make(map[string]struct{}),
	}
}

// Start spawns the two channel loops. Idempotent; a no-op when streaming is
// disabled by configuration.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	if !m.enabled {
		log.Warn().Msg("price streaming disabled, live prices unavailable")
		return
	}
	m.running = true

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	for _, spec := range []channelSpec{
		{name: channelSimplePrice, listKey: listKeySimple, keys: m.simpleKeys, handle: m.handleSimpleFrame},
		{name: channelOnchainPrice, listKey: listKeyOnchain, keys: m.onchainKeys, handle: m.handleOnchainFrame},
	} {
		m.wg.Add(1)
		go func(spec channelSpec) {
			defer m.wg.Done()
			m.runChannel(ctx, spec)
		}(spec)
	}

	log.Debug().Str("url", m.url).Msg("price channel manager started")
}

// Stop cancels both loops and waits for them to close their connections.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	log.Info().Msg("price channel manager stopped")
}

// SubscribeSimplePrice adds a coin id to the simple-price set. Idempotent.
func (m *Manager) SubscribeSimplePrice(coinID string) {
	m.mu.Lock()
	_, dup := m.simple[coinID]
	m.simple[coinID] = struct{}{}
	m.mu.Unlock()
	if !dup {
		log.Info().Str("coin", coinID).Msg("subscribed to simple price")
	}
}

// UnsubscribeSimplePrice removes the coin id and evicts its cached point.
func (m *Manager) UnsubscribeSimplePrice(coinID string) {
	m.mu.Lock()
	delete(m.simple, coinID)
	m.mu.Unlock()
	m.cache.Remove(coinID)
	log.Info().Str("coin", coinID).Msg("unsubscribed from simple price")
}

// SubscribeOnchainPrice adds a network:address key to the on-chain set.
// Network names are normalized through the alias table. Idempotent.
func (m *Manager) SubscribeOnchainPrice(network, address string) {
	key := domain.OnchainKey(domain.ResolveNetwork(network), address)
	m.mu.Lock()
	_, dup := m.onchain[key]
	m.onchain[key] = struct{}{}
	m.mu.Unlock()
	if !dup {
		log.Info().Str("token", key).Msg("subscribed to onchain price")
	}
}

// UnsubscribeOnchainPrice removes the key and evicts its cached point.
func (m *Manager) UnsubscribeOnchainPrice(network, address string) {
	key := domain.OnchainKey(domain.ResolveNetwork(network), address)
	m.mu.Lock()
	delete(m.onchain, key)
	m.mu.Unlock()
	m.cache.Remove(key)
	log.Info().Str("token", key).Msg("unsubscribed from onchain price")
}

func (m *Manager) simpleKeys() []string  { return m.snapshotKeys(&m.simple) }
func (m *Manager) onchainKeys() []string { return m.snapshotKeys(&m.onchain) }

// snapshotKeys copies a subscription set under the lock and returns it
// sorted, so callers can compare consecutive snapshots directly.
func (m *Manager) snapshotKeys(set *map[string]struct{}) []string {
	m.mu.Lock()
	out := make([]string, 0, len(*set))
	for k := range *set {
		out = append(out, k)
	}
	m.mu.Unlock()
	sort.Strings(out)
	return out
}

type channelSpec struct {
	name    string
	listKey string
	keys    func() []string
	handle  func(ctx context.Context, raw []byte)
}

// runChannel keeps one channel connected forever: wait for subscriptions,
// run a session, back off on failure. Backoff doubles from 1s to 60s per
// consecutive failure and resets to the floor on a successful connect.
func (m *Manager) runChannel(ctx context.Context, spec channelSpec) {
	backoff := backoffFloor

	for {
		if ctx.Err() != nil {
			return
		}

		if !m.waitForKeys(ctx, spec.keys) {
			// Nothing to subscribe; don't open a connection for an empty set.
			sleepCtx(ctx, emptySetSleep)
			continue
		}

		err := m.runSession(ctx, spec, &backoff)
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Str("channel", spec.name).Msg("connection closed normally")
			} else {
				log.Warn().Str("channel", spec.name).Err(err).
					Dur("backoff", backoff).Msg("channel session ended, reconnecting")
			}
		}

		sleepCtx(ctx, backoff)
		backoff = minDur(backoff*2, backoffCeiling)
	}
}

// waitForKeys polls briefly for a non-empty subscription set. Returns false
// when the set stayed empty for the whole window.
func (m *Manager) waitForKeys(ctx context.Context, keys func() []string) bool {
	for i := 0; i < subscriptionWaitSteps; i++ {
		if len(keys()) > 0 {
			return true
		}
		if !sleepCtx(ctx, subscriptionWaitStep) {
			return false
		}
	}
	return len(keys()) > 0
}

// runSession dials, performs the full subscribe handshake
// (channel-subscribe, confirmation, token-subscribe) and then consumes frames
// until the connection drops or ctx is cancelled. The handshake runs in full
// on every reconnect; a server-side session reset is assumed to invalidate
// the channel subscription.
func (m *Manager) runSession(ctx context.Context, spec channelSpec, backoff *time.Duration) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := dialer.DialContext(dctx, m.url, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dial %s: %w", spec.name, err)
	}

	*backoff = backoffFloor
	log.Debug().Str("channel", spec.name).Msg("websocket connected")

	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	// Reads run in their own goroutine; the session loop below is the sole
	// writer on the connection. The reader is scoped to this session, so a
	// session ending for any reason unparks a reader stuck on a full frames
	// buffer and joins it before the next reconnect attempt.
	sessionCtx, cancelSession := context.WithCancel(ctx)
	frames := make(chan []byte, 64)
	errCh := make(chan error, 1)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
			select {
			case frames <- b:
			case <-sessionCtx.Done():
				return
			}
		}
	}()
	defer func() {
		cancelSession()
		_ = conn.Close()
		<-readerDone
	}()

	if err := writeJSON(conn, subscribeCommand(spec.name)); err != nil {
		return fmt.Errorf("subscribe %s: %w", spec.name, err)
	}

	if err := awaitConfirmation(ctx, spec.name, frames, errCh); err != nil {
		return err
	}

	lastSent := spec.keys()
	if err := writeJSON(conn, setTokensCommand(spec.name, spec.listKey, lastSent)); err != nil {
		return fmt.Errorf("set_tokens %s: %w", spec.name, err)
	}
	log.Debug().Str("channel", spec.name).Int("tokens", len(lastSent)).Msg("token subscription sent")

	resubTicker := time.NewTicker(resubCheckEvery)
	defer resubTicker.Stop()
	pingTicker := time.NewTicker(pingEvery)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(writeTimeout)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return nil

		case err := <-errCh:
			return err

		case raw := <-frames:
			spec.handle(ctx, raw)

		case <-resubTicker.C:
			current := spec.keys()
			if len(current) == 0 || equalKeys(current, lastSent) {
				continue
			}
			if err := writeJSON(conn, setTokensCommand(spec.name, spec.listKey, current)); err != nil {
				return fmt.Errorf("resubscribe %s: %w", spec.name, err)
			}
			lastSent = current
			log.Debug().Str("channel", spec.name).Int("tokens", len(current)).Msg("token subscription updated")

		case <-pingTicker.C:
			_ = conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
		}
	}
}

// awaitConfirmation drains frames until the channel subscription is
// confirmed. ActionCable bookkeeping frames (welcome, ping) are dropped.
func awaitConfirmation(ctx context.Context, channel string, frames <-chan []byte, errCh <-chan error) error {
	timer := time.NewTimer(confirmTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		case <-timer.C:
			return errors.New(channel + ": subscription confirmation timeout")
		case raw := <-frames:
			var f inboundFrame
			if err := json.Unmarshal(raw, &f); err != nil {
				continue
			}
			if f.Type == "confirm_subscription" {
				log.Debug().Str("channel", channel).Msg("channel subscription confirmed")
				return nil
			}
			if f.Type == "reject_subscription" {
				return errors.New(channel + ": subscription rejected")
			}
		}
	}
}

// handleSimpleFrame processes one CGSimplePrice frame. Malformed frames are
// logged and skipped; the connection stays up.
func (m *Manager) handleSimpleFrame(ctx context.Context, raw []byte) {
	var f inboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		log.Error().Str("channel", channelSimplePrice).Err(err).Msg("frame decode failed")
		return
	}

	switch {
	case f.Type != "":
		// welcome / ping / confirm bookkeeping
	case f.Code != nil:
		logStatus(channelSimplePrice, *f.Code, f.Message)
	case f.Tag == tagSimplePrice && f.CoinID != "" && f.Price != nil:
		p := f.pricePoint()
		m.cache.Set(f.CoinID, p)
		m.persist(ctx, f.CoinID, p)
		log.Debug().Str("coin", f.CoinID).Float64("price", p.Price).Msg("price update")
	default:
		log.Debug().Str("channel", channelSimplePrice).Msg("unhandled frame")
	}
}

// handleOnchainFrame processes one OnchainSimpleTokenPrice frame. Points for
// well-known mints are additionally cached under the friendly symbol.
func (m *Manager) handleOnchainFrame(ctx context.Context, raw []byte) {
	var f inboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		log.Error().Str("channel", channelOnchainPrice).Err(err).Msg("frame decode failed")
		return
	}

	switch {
	case f.Type != "":
	case f.Code != nil:
		logStatus(channelOnchainPrice, *f.Code, f.Message)
	case f.Tag == tagOnchainPrice && f.Network != "" && f.TokenAddress != "" && f.Price != nil:
		p := f.pricePoint()
		key := domain.OnchainKey(f.Network, f.TokenAddress)
		m.cache.Set(key, p)
		m.persist(ctx, key, p)
		if sym, ok := domain.SymbolForAddress(f.TokenAddress); ok {
			m.cache.Set(sym, p)
			log.Debug().Str("token", sym).Float64("price", p.Price).Msg("price update")
		} else {
			log.Debug().Str("token", key).Float64("price", p.Price).Msg("price update")
		}
	default:
		log.Debug().Str("channel", channelOnchainPrice).Msg("unhandled frame")
	}
}

// logStatus routes a status envelope by its code. Codes on the allow-list
// never log above debug.
func logStatus(channel string, code int, message string) {
	switch code {
	case statusOK, statusInvalidID:
		log.Debug().Str("channel", channel).Int("code", code).Str("msg", message).Msg("feed status")
	default:
		log.Warn().Str("channel", channel).Int("code", code).Str("msg", message).Msg("feed status")
	}
}

func (m *Manager) persist(ctx context.Context, key string, p domain.PricePoint) {
	if m.repo == nil {
		return
	}
	if err := m.repo.UpsertLatestPrice(ctx, key, p.Price, p.SourceTimestamp); err != nil {
		log.Debug().Str("key", key).Err(err).Msg("price persist failed")
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

func equalKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// sleepCtx sleeps for d unless ctx ends first; reports whether the full
// sleep elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
