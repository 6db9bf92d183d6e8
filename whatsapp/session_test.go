package whatsapp

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeTransport struct {
	mu          sync.Mutex
	initErr     error
	logoutErr   error
	initCalls   int
	logoutCalls int
	destroyed   bool
	sentTo      []string

	// When set, Logout signals logoutStarted and parks until logoutRelease
	// closes, so tests can interleave events mid-disconnect.
	logoutStarted chan struct{}
	logoutRelease chan struct{}
}

func (f *fakeTransport) Initialize(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	return f.initErr
}

func (f *fakeTransport) SendImage(ctx context.Context, to string, image []byte, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentTo = append(f.sentTo, to)
	return nil
}

func (f *fakeTransport) Logout(ctx context.Context) error {
	if f.logoutStarted != nil {
		close(f.logoutStarted)
	}
	if f.logoutRelease != nil {
		<-f.logoutRelease
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logoutCalls++
	return f.logoutErr
}

func (f *fakeTransport) Destroy() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = true
}

func (f *fakeTransport) wasDestroyed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyed
}

func (f *fakeTransport) logouts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logoutCalls
}

// countingFactory hands out the next transport in sequence and counts calls.
type countingFactory struct {
	mu         sync.Mutex
	transports []*fakeTransport
	created    int
}

func (c *countingFactory) factory(sink EventSink) (Transport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.created >= len(c.transports) {
		return nil, errors.New("factory exhausted")
	}
	t := c.transports[c.created]
	c.created++
	return t, nil
}

func (c *countingFactory) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.created
}

func newTestManager(t *testing.T, transports ...*fakeTransport) (*Manager, *countingFactory) {
	t.Helper()
	cf := &countingFactory{transports: transports}
	return NewManager(cf.factory, zerolog.Nop()), cf
}

func waitForState(t *testing.T, m *Manager, want ConnectionState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st, _ := m.Status(); st == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	st, _ := m.Status()
	t.Fatalf("timed out waiting for state %v, still %v", want, st)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectStartsLoginCycle(t *testing.T) {
	m, cf := newTestManager(t, &fakeTransport{})

	state, err := m.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if state != StateConnecting {
		t.Errorf("expected CONNECTING, got %v", state)
	}
	if cf.count() != 1 {
		t.Errorf("expected 1 transport, got %d", cf.count())
	}
}

func TestConnectIdempotentWhileConnecting(t *testing.T) {
	m, cf := newTestManager(t, &fakeTransport{}, &fakeTransport{})

	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("first Connect failed: %v", err)
	}
	state, err := m.Connect(context.Background())
	if err != nil {
		t.Fatalf("second Connect failed: %v", err)
	}
	if state != StateConnecting {
		t.Errorf("expected CONNECTING, got %v", state)
	}
	if cf.count() != 1 {
		t.Errorf("repeated connect created %d transports, want 1", cf.count())
	}
}

func TestConnectNoopWhenConnected(t *testing.T) {
	m, cf := newTestManager(t, &fakeTransport{}, &fakeTransport{})

	m.Connect(context.Background())
	m.HandleReady()

	state, err := m.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if state != StateConnected {
		t.Errorf("expected CONNECTED, got %v", state)
	}
	if cf.count() != 1 {
		t.Errorf("connect while connected created %d transports, want 1", cf.count())
	}
}

func TestConnectRetryableFromError(t *testing.T) {
	first := &fakeTransport{}
	second := &fakeTransport{}
	m, cf := newTestManager(t, first, second)

	m.Connect(context.Background())
	m.HandleAuthFailure("invalid credentials")
	if st, _ := m.Status(); st != StateError {
		t.Fatalf("expected ERROR after auth failure, got %v", st)
	}

	state, err := m.Connect(context.Background())
	if err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}
	if state != StateConnecting {
		t.Errorf("expected CONNECTING, got %v", state)
	}
	if cf.count() != 2 {
		t.Errorf("expected a fresh transport, got %d creations", cf.count())
	}
	waitFor(t, "old transport destroyed", first.wasDestroyed)
}

func TestInitFailureSetsError(t *testing.T) {
	ft := &fakeTransport{initErr: errors.New("start rejected")}
	m, _ := newTestManager(t, ft)

	m.Connect(context.Background())
	waitForState(t, m, StateError)
	waitFor(t, "failed transport destroyed", ft.wasDestroyed)

	if err := m.Send(context.Background(), "123", nil, ""); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected after init failure, got %v", err)
	}
}

func TestQREventStoresRenderedToken(t *testing.T) {
	m, _ := newTestManager(t, &fakeTransport{})

	m.Connect(context.Background())
	m.HandleQR("XYZ")

	state, qr := m.Status()
	if state != StateConnecting {
		t.Errorf("expected CONNECTING, got %v", state)
	}
	if !strings.HasPrefix(qr, "data:image/png;base64,") {
		t.Errorf("expected PNG data URI, got %q", qr)
	}
}

func TestQRRenderFailureSetsError(t *testing.T) {
	m, _ := newTestManager(t, &fakeTransport{})
	m.render = func(string) (string, error) { return "", errors.New("render exploded") }

	m.Connect(context.Background())
	m.HandleQR("XYZ")

	state, qr := m.Status()
	if state != StateError {
		t.Errorf("expected ERROR after render failure, got %v", state)
	}
	if qr != "" {
		t.Errorf("expected no token, got %q", qr)
	}
}

func TestQRIgnoredOutsideLoginCycle(t *testing.T) {
	m, _ := newTestManager(t, &fakeTransport{})

	m.HandleQR("stale")
	state, qr := m.Status()
	if state != StateDisconnected || qr != "" {
		t.Errorf("stale QR mutated state: %v %q", state, qr)
	}
}

func TestReadyClearsToken(t *testing.T) {
	m, _ := newTestManager(t, &fakeTransport{})

	m.Connect(context.Background())
	m.HandleQR("XYZ")
	m.HandleReady()

	state, qr := m.Status()
	if state != StateConnected {
		t.Errorf("expected CONNECTED, got %v", state)
	}
	if qr != "" {
		t.Errorf("token should be cleared on ready, got %q", qr)
	}
}

func TestDisconnectedEventReleasesTransport(t *testing.T) {
	ft := &fakeTransport{}
	m, _ := newTestManager(t, ft)

	m.Connect(context.Background())
	m.HandleReady()
	m.HandleDisconnected("connection closed")

	state, qr := m.Status()
	if state != StateDisconnected || qr != "" {
		t.Errorf("expected clean DISCONNECTED, got %v %q", state, qr)
	}
	if !ft.wasDestroyed() {
		t.Error("transport not destroyed on disconnect event")
	}
	if err := m.Send(context.Background(), "123", nil, ""); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestDisconnectGuaranteesPostcondition(t *testing.T) {
	tests := []struct {
		name      string
		logoutErr error
	}{
		{name: "logout succeeds", logoutErr: nil},
		{name: "logout fails", logoutErr: errors.New("server rejected logout")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := &fakeTransport{logoutErr: tt.logoutErr}
			m, _ := newTestManager(t, ft)

			m.Connect(context.Background())
			m.HandleQR("XYZ")
			m.HandleReady()
			m.Disconnect(context.Background())

			state, qr := m.Status()
			if state != StateDisconnected {
				t.Errorf("expected DISCONNECTED, got %v", state)
			}
			if qr != "" {
				t.Errorf("expected cleared token, got %q", qr)
			}
			if ft.logouts() != 1 {
				t.Errorf("expected 1 logout call, got %d", ft.logouts())
			}
			if !ft.wasDestroyed() {
				t.Error("transport not destroyed")
			}
		})
	}
}

func TestDisconnectLeavesNewerCycleAlone(t *testing.T) {
	first := &fakeTransport{
		logoutStarted: make(chan struct{}),
		logoutRelease: make(chan struct{}),
	}
	second := &fakeTransport{}
	m, cf := newTestManager(t, first, second)

	m.Connect(context.Background())
	m.HandleReady()

	done := make(chan struct{})
	go func() {
		m.Disconnect(context.Background())
		close(done)
	}()
	<-first.logoutStarted

	// While logout is parked the session dies and a reconnect wins the race.
	m.HandleAuthFailure("stream error")
	state, err := m.Connect(context.Background())
	if err != nil || state != StateConnecting {
		t.Fatalf("reconnect during disconnect failed: %v %v", state, err)
	}
	if cf.count() != 2 {
		t.Fatalf("expected a fresh transport, got %d creations", cf.count())
	}

	close(first.logoutRelease)
	<-done

	if state, _ := m.Status(); state != StateConnecting {
		t.Fatalf("stale disconnect clobbered the newer cycle: state %v", state)
	}
	waitFor(t, "old transport destroyed", first.wasDestroyed)
	if second.wasDestroyed() {
		t.Error("new transport destroyed by the stale disconnect")
	}

	// The newer cycle completes normally and owns the live handle.
	m.HandleReady()
	if err := m.Send(context.Background(), "123", []byte{1}, ""); err != nil {
		t.Fatalf("send through the new cycle failed: %v", err)
	}
	second.mu.Lock()
	sent := len(second.sentTo)
	second.mu.Unlock()
	if sent != 1 {
		t.Errorf("expected 1 send through the new transport, got %d", sent)
	}
}

func TestDisconnectWithoutSession(t *testing.T) {
	m, _ := newTestManager(t)

	m.Disconnect(context.Background())
	state, qr := m.Status()
	if state != StateDisconnected || qr != "" {
		t.Errorf("expected clean DISCONNECTED, got %v %q", state, qr)
	}
}

func TestSendDelegatesWhenConnected(t *testing.T) {
	ft := &fakeTransport{}
	m, _ := newTestManager(t, ft)

	m.Connect(context.Background())
	m.HandleReady()

	if err := m.Send(context.Background(), "5511912345678", []byte{1}, "hi"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if len(ft.sentTo) != 1 || ft.sentTo[0] != "5511912345678" {
		t.Errorf("unexpected send log: %v", ft.sentTo)
	}
}
