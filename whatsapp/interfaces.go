package whatsapp

import "context"

// Transport is the external client that owns the actual connection to the
// messaging network. Initialize starts the login flow; lifecycle progress is
// reported through the EventSink the transport was created with.
type Transport interface {
	Initialize(ctx context.Context) error
	SendImage(ctx context.Context, to string, image []byte, caption string) error
	Logout(ctx context.Context) error
	Destroy()
}

// EventSink receives lifecycle events from a Transport. Each event must be
// handled independently and idempotently.
type EventSink interface {
	HandleQR(code string)
	HandleReady()
	HandleDisconnected(reason string)
	HandleAuthFailure(reason string)
}

// TransportFactory creates a new Transport bound to the given sink. The
// Manager calls it at most once per connect cycle.
type TransportFactory func(sink EventSink) (Transport, error)
