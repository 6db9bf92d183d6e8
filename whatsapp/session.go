package whatsapp

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// ErrNotConnected is returned by Send when no live, connected session exists.
var ErrNotConnected = errors.New("whatsapp session is not connected")

// Manager tracks the single gateway session: one ConnectionState, an optional
// pending QR data URI, and the exclusively owned Transport handle. All
// transitions are driven by Transport events or by the Connect/Disconnect
// commands, under one mutex so readers never observe a half-applied change.
type Manager struct {
	factory TransportFactory
	render  func(code string) (string, error)
	log     zerolog.Logger

	mu        sync.Mutex
	state     ConnectionState
	qr        string
	transport Transport
}

func NewManager(factory TransportFactory, log zerolog.Logger) *Manager {
	return &Manager{
		factory: factory,
		render:  RenderDataURI,
		log:     log.With().Str("component", "session").Logger(),
		state:   StateDisconnected,
	}
}

// Connect starts a new login cycle unless one is already running or done.
// The state is moved to CONNECTING before the transport is created, so a
// second Connect racing in can never observe a stale DISCONNECTED and spawn
// a duplicate client. Initialization itself runs in the background; callers
// learn the outcome by polling Status.
func (m *Manager) Connect(ctx context.Context) (ConnectionState, error) {
	m.mu.Lock()

	switch {
	case m.state == StateConnected:
		m.mu.Unlock()
		return StateConnected, nil
	case m.state == StateConnecting && m.transport != nil:
		// Re-entry while a login cycle is in flight is a no-op.
		m.mu.Unlock()
		return StateConnecting, nil
	}

	if old := m.transport; old != nil {
		// Leftover handle from an auth failure. Release it before starting over.
		m.transport = nil
		go old.Destroy()
	}

	m.state = StateConnecting
	m.qr = ""

	t, err := m.factory(m)
	if err != nil {
		m.state = StateError
		m.mu.Unlock()
		m.log.Error().Err(err).Msg("failed to create transport")
		return StateError, err
	}
	m.transport = t
	m.mu.Unlock()

	m.log.Info().Msg("session connecting")
	go func() {
		if err := t.Initialize(ctx); err != nil {
			m.initFailed(t, err)
		}
	}()

	return StateConnecting, nil
}

func (m *Manager) initFailed(t Transport, err error) {
	m.mu.Lock()
	if m.transport != t {
		// A disconnect or reconnect already replaced this handle.
		m.mu.Unlock()
		return
	}
	m.state = StateError
	m.transport = nil
	m.qr = ""
	m.mu.Unlock()

	t.Destroy()
	m.log.Error().Err(err).Msg("transport initialization failed")
}

// Status is a pure read of the current state and pending QR data URI.
// The QR value is empty unless the session is waiting for a scan.
func (m *Manager) Status() (ConnectionState, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.qr
}

// Connected reports whether the session is ready to send.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateConnected
}

// Send delivers one image message through the current transport. It fails
// with ErrNotConnected when the session is gone, which callers treat as a
// per-item failure rather than a fatal condition.
func (m *Manager) Send(ctx context.Context, to string, image []byte, caption string) error {
	m.mu.Lock()
	t := m.transport
	st := m.state
	m.mu.Unlock()

	if st != StateConnected || t == nil {
		return ErrNotConnected
	}
	return t.SendImage(ctx, to, image, caption)
}

// Disconnect logs out and releases the session. Whatever the logout call
// does, the cycle it targeted ends up DISCONNECTED with no transport handle
// and no pending QR. The mutex is not held across the slow logout, so a
// fresh login cycle may replace the handle in the meantime; in that case
// only the old handle is torn down and the newer cycle is left untouched.
func (m *Manager) Disconnect(ctx context.Context) {
	m.mu.Lock()
	t := m.transport
	st := m.state
	m.mu.Unlock()

	if t != nil {
		if st == StateConnected {
			if err := t.Logout(ctx); err != nil {
				m.log.Warn().Err(err).Msg("logout failed, forcing disconnect")
			}
		}
		t.Destroy()
	}

	m.mu.Lock()
	if m.transport != t {
		// Same identity check as initFailed: a reconnect won the race.
		m.mu.Unlock()
		m.log.Info().Msg("session replaced while disconnecting, leaving new cycle alone")
		return
	}
	m.state = StateDisconnected
	m.transport = nil
	m.qr = ""
	m.mu.Unlock()

	m.log.Info().Msg("session disconnected")
}

// HandleQR renders the raw login token into a scannable data URI. A render
// failure poisons the login cycle.
func (m *Manager) HandleQR(code string) {
	uri, err := m.render(code)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnecting {
		return
	}
	if err != nil {
		m.state = StateError
		m.qr = ""
		m.log.Error().Err(err).Msg("failed to render login QR")
		return
	}
	m.qr = uri
	m.log.Debug().Msg("login QR updated")
}

// HandleReady marks the session connected and drops the pending QR.
func (m *Manager) HandleReady() {
	m.mu.Lock()
	m.state = StateConnected
	m.qr = ""
	m.mu.Unlock()
	m.log.Info().Msg("session connected")
}

// HandleDisconnected releases the transport and resets to DISCONNECTED.
func (m *Manager) HandleDisconnected(reason string) {
	m.mu.Lock()
	t := m.transport
	m.transport = nil
	m.state = StateDisconnected
	m.qr = ""
	m.mu.Unlock()

	if t != nil {
		t.Destroy()
	}
	m.log.Warn().Str("reason", reason).Msg("session disconnected by transport")
}

// HandleAuthFailure records the failure; the dead handle is cleaned up by the
// next connect or disconnect command.
func (m *Manager) HandleAuthFailure(reason string) {
	m.mu.Lock()
	m.state = StateError
	m.qr = ""
	m.mu.Unlock()
	m.log.Error().Str("reason", reason).Msg("authentication failed")
}
