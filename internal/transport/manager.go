package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/basket/fleetview/internal/bus"
	"github.com/basket/fleetview/internal/entity"
	"github.com/basket/fleetview/internal/telemetry"
)

// Backoff and polling defaults.
const (
	DefaultBackoffBase       = 2 * time.Second
	DefaultBackoffMultiplier = 1.5
	DefaultBackoffCeiling    = 30 * time.Second
	DefaultPollInterval      = 5 * time.Second
)

// Config holds the manager's dependencies and tuning.
type Config struct {
	Primary   Dialer
	Secondary Dialer // nil skips the fallback push transport
	Fetcher   StateFetcher
	Bus       *bus.Bus

	BackoffBase       time.Duration
	BackoffMultiplier float64
	BackoffCeiling    time.Duration
	PollInterval      time.Duration

	Logger  *slog.Logger
	Metrics *telemetry.Metrics // optional
}

func (c Config) withDefaults() Config {
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffMultiplier <= 1 {
		c.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if c.BackoffCeiling <= 0 {
		c.BackoffCeiling = DefaultBackoffCeiling
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// newBackoff builds the reconnect delay source: multiplicative growth from
// the base up to the ceiling, no jitter so the growth bound is exact, reset
// to base on every successful connection.
func newBackoff(cfg Config) *backoff.ExponentialBackOff {
	bo := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.BackoffBase,
		RandomizationFactor: 0,
		Multiplier:          cfg.BackoffMultiplier,
		MaxInterval:         cfg.BackoffCeiling,
	}
	bo.Reset()
	return bo
}

// Manager maintains exactly one live feed over one of the configured
// transports and publishes connectivity transitions and normalized updates
// on the bus.
type Manager struct {
	cfg       Config
	log       *slog.Logger
	validator *PayloadValidator
	bo        *backoff.ExponentialBackOff

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a stopped manager.
func NewManager(cfg Config) (*Manager, error) {
	cfg = cfg.withDefaults()
	validator, err := NewPayloadValidator()
	if err != nil {
		return nil, err
	}
	return &Manager{
		cfg:       cfg,
		log:       cfg.Logger,
		validator: validator,
		bo:        newBackoff(cfg),
		state:     StateDisconnected,
	}, nil
}

// Start launches the connection loop. An immediate full-state fetch runs
// before any socket negotiation so the mirror is never empty at startup.
func (m *Manager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(ctx)
	}()
}

// Stop tears down the active transport handle and waits for the loop to
// exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	m.setState(StateDisconnected)
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) run(ctx context.Context) {
	m.fetchState(ctx)

	for ctx.Err() == nil {
		m.setState(StateConnecting)
		stream, name, connected := m.connect(ctx)
		if stream == nil {
			return
		}
		m.setState(connected)
		m.bo.Reset()
		m.publishConnectivity(true, name)
		m.log.Info("live feed connected", "transport", name)

		m.readLoop(ctx, stream)

		// Tear the old handle fully down before any new one is dialed.
		_ = stream.Close()
		m.publishConnectivity(false, name)
		if ctx.Err() != nil {
			return
		}
		m.log.Warn("live feed lost", "transport", name)

		m.setState(StateBackoffWait)
		if !m.sleep(ctx, m.bo.NextBackOff()) {
			return
		}
	}
}

// connect tries the primary push transport, then the secondary, then drops
// to polling while retrying the primary in the background. Returns a nil
// stream only when ctx is done.
func (m *Manager) connect(ctx context.Context) (Stream, string, State) {
	m.countReconnect(ctx)
	if stream, err := m.cfg.Primary.Dial(ctx); err == nil {
		return stream, m.cfg.Primary.Name(), StateConnectedPrimary
	} else if ctx.Err() != nil {
		return nil, "", StateDisconnected
	} else {
		m.log.Warn("primary transport failed", "error", err)
	}

	if m.cfg.Secondary != nil {
		m.countReconnect(ctx)
		if stream, err := m.cfg.Secondary.Dial(ctx); err == nil {
			return stream, m.cfg.Secondary.Name(), StateConnectedFallback
		} else if ctx.Err() != nil {
			return nil, "", StateDisconnected
		} else {
			m.log.Warn("fallback transport failed", "error", err)
		}
	}

	// Both push transports failed this cycle.
	m.setState(StatePolling)
	m.log.Warn("push transports unavailable, polling full state",
		"interval", m.cfg.PollInterval)
	stream := m.poll(ctx)
	if stream == nil {
		return nil, "", StateDisconnected
	}
	return stream, m.cfg.Primary.Name(), StateConnectedPrimary
}

// poll fetches the full state on the configured interval while retrying the
// primary push transport in the background with backoff. Returns the
// reconnected primary stream, or nil when ctx is done.
func (m *Manager) poll(ctx context.Context) Stream {
	m.fetchState(ctx)

	redialed := make(chan Stream, 1)
	dialCtx, cancelDial := context.WithCancel(ctx)
	defer cancelDial()

	go func() {
		for {
			select {
			case <-dialCtx.Done():
				return
			case <-time.After(m.bo.NextBackOff()):
			}
			m.countReconnect(dialCtx)
			stream, err := m.cfg.Primary.Dial(dialCtx)
			if err != nil {
				if dialCtx.Err() == nil {
					m.log.Debug("primary retry failed", "error", err)
				}
				continue
			}
			select {
			case redialed <- stream:
			default:
				_ = stream.Close()
			}
			return
		}
	}()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			select {
			case stream := <-redialed:
				_ = stream.Close()
			default:
			}
			return nil
		case stream := <-redialed:
			return stream
		case <-ticker.C:
			m.fetchState(ctx)
		}
	}
}

// readLoop processes inbound payloads strictly in arrival order until the
// stream breaks or ctx is done. A single corrupt message is dropped and
// logged, never fatal to the connection.
func (m *Manager) readLoop(ctx context.Context, stream Stream) {
	for {
		raw, err := stream.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil {
				m.log.Debug("receive ended", "error", err)
			}
			return
		}
		if m.cfg.Metrics != nil {
			m.cfg.Metrics.MessagesReceived.Add(ctx, 1)
		}

		if err := m.validator.Validate(raw); err != nil {
			m.dropPayload(ctx, err)
			continue
		}
		updates, err := normalizePush(raw)
		if err != nil {
			m.dropPayload(ctx, err)
			continue
		}
		for _, u := range updates {
			m.publishUpdate(u)
		}
	}
}

// fetchState performs one full-state fetch and publishes the resulting
// updates. Failures are absorbed: the mirror keeps its last-known state.
func (m *Manager) fetchState(ctx context.Context) {
	if m.cfg.Fetcher == nil {
		return
	}
	fctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	raw, err := m.cfg.Fetcher.FetchState(fctx)
	if err != nil {
		if ctx.Err() == nil {
			m.log.Warn("full-state fetch failed", "error", err)
		}
		return
	}
	updates, dropped, err := normalizeState(raw)
	if err != nil {
		m.dropPayload(ctx, err)
		return
	}
	if dropped > 0 {
		m.log.Warn("state records dropped", "count", dropped)
		if m.cfg.Metrics != nil {
			m.cfg.Metrics.PayloadsDropped.Add(ctx, int64(dropped))
		}
	}
	m.publishSnapshot(updates)
}

// publishSnapshot emits one full-state result as a single event: the batch
// boundary lets the consumer run initial ring placement over the whole set,
// and the response never overflows a subscriber buffer record by record.
func (m *Manager) publishSnapshot(updates []entity.Update) {
	if m.cfg.Bus == nil || len(updates) == 0 {
		return
	}
	m.cfg.Bus.Publish(bus.TopicSnapshot, updates)
}

func (m *Manager) publishUpdate(u entity.Update) {
	if m.cfg.Bus == nil {
		return
	}
	switch {
	case u.Agent != nil:
		m.cfg.Bus.Publish(bus.TopicUpdateAgent, u)
	case u.Task != nil:
		m.cfg.Bus.Publish(bus.TopicUpdateTask, u)
	case u.Connection != nil:
		m.cfg.Bus.Publish(bus.TopicUpdateConnection, u)
	case u.CounterIncrement:
		m.cfg.Bus.Publish(bus.TopicUpdateCounter, u)
	}
}

func (m *Manager) publishConnectivity(connected bool, transport string) {
	if m.cfg.Bus == nil {
		return
	}
	m.cfg.Bus.Publish(bus.TopicConnectivity, bus.ConnectivityEvent{
		Connected: connected,
		Transport: transport,
	})
}

func (m *Manager) dropPayload(ctx context.Context, err error) {
	m.log.Warn("dropping malformed payload", "error", err)
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.PayloadsDropped.Add(ctx, 1)
	}
}

func (m *Manager) countReconnect(ctx context.Context) {
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.Reconnects.Add(ctx, 1)
	}
}

// sleep waits d or until ctx is done; the timer is always stopped, never
// left running alongside a newly scheduled one.
func (m *Manager) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
