package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"whatsapp-bulk-gateway/utils"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	wtypes "go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// Client is the whatsmeow-backed Transport. Session credentials live in the
// sqlstore container, so a previously paired device reconnects without a new
// QR scan.
type Client struct {
	container *sqlstore.Container
	sink      EventSink
	log       zerolog.Logger
	waLog     waLog.Logger

	mu     sync.Mutex
	wac    *whatsmeow.Client
	closed atomic.Bool
}

// NewClientFactory returns a TransportFactory producing whatsmeow transports
// backed by the given session store.
func NewClientFactory(container *sqlstore.Container, log zerolog.Logger) TransportFactory {
	return func(sink EventSink) (Transport, error) {
		return &Client{
			container: container,
			sink:      sink,
			log:       log.With().Str("component", "transport").Logger(),
			waLog:     waLog.Zerolog(log),
		}, nil
	}
}

// Initialize fetches (or creates) the device from the store and starts the
// connection. When the device is not yet paired it also opens the QR channel
// and forwards login codes to the sink.
func (c *Client) Initialize(ctx context.Context) error {
	device, err := c.container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("failed to get device from store: %w", err)
	}

	wac := whatsmeow.NewClient(device, c.waLog)
	wac.AddEventHandler(c.handleEvent)

	c.mu.Lock()
	c.wac = wac
	c.mu.Unlock()

	if wac.Store.ID == nil {
		qrChan, err := wac.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("failed to open QR channel: %w", err)
		}
		go c.pumpQR(qrChan)
	}

	if err := wac.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

func (c *Client) pumpQR(ch <-chan whatsmeow.QRChannelItem) {
	for evt := range ch {
		if c.closed.Load() {
			return
		}
		switch evt.Event {
		case whatsmeow.QRChannelEventCode:
			c.sink.HandleQR(evt.Code)
		case whatsmeow.QRChannelSuccess.Event:
			// The ready signal arrives separately via events.Connected.
		case whatsmeow.QRChannelTimeout.Event:
			c.sink.HandleDisconnected("login QR expired before it was scanned")
		case whatsmeow.QRChannelEventError:
			c.sink.HandleAuthFailure(fmt.Sprintf("pairing error: %v", evt.Error))
		default:
			c.sink.HandleAuthFailure("pairing failed: " + evt.Event)
		}
	}
}

func (c *Client) handleEvent(evt interface{}) {
	if c.closed.Load() {
		return
	}
	switch v := evt.(type) {
	case *events.Connected:
		c.sink.HandleReady()
	case *events.Disconnected:
		c.sink.HandleDisconnected("connection closed")
	case *events.StreamReplaced:
		c.sink.HandleDisconnected("session taken over by another client")
	case *events.LoggedOut:
		c.sink.HandleAuthFailure(fmt.Sprintf("logged out from phone: %v", v.Reason))
	case *events.ConnectFailure:
		c.sink.HandleAuthFailure(fmt.Sprintf("connect failure: %v", v.Reason))
	}
}

// SendImage uploads the image bytes and delivers them as a captioned media
// message to the given phone number (digits only, no JID suffix).
func (c *Client) SendImage(ctx context.Context, to string, image []byte, caption string) error {
	c.mu.Lock()
	wac := c.wac
	c.mu.Unlock()
	if wac == nil || c.closed.Load() {
		return errors.New("transport is not initialized")
	}

	jid := wtypes.NewJID(to, wtypes.DefaultUserServer)

	uploaded, err := wac.Upload(ctx, image, whatsmeow.MediaImage)
	if err != nil {
		return fmt.Errorf("failed to upload media: %w", err)
	}

	msg := utils.CreateImageMessage(caption, uploaded, image, http.DetectContentType(image))
	if _, err := wac.SendMessage(ctx, jid, msg); err != nil {
		return fmt.Errorf("failed to send message to %s: %w", jid, err)
	}

	c.log.Debug().Str("to", jid.String()).Msg("media message sent")
	return nil
}

func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	wac := c.wac
	c.mu.Unlock()
	if wac == nil {
		return nil
	}
	return wac.Logout(ctx)
}

// Destroy severs the connection and stops all event forwarding. Safe to call
// more than once; after the first call the sink never hears from this
// instance again.
func (c *Client) Destroy() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	wac := c.wac
	c.wac = nil
	c.mu.Unlock()
	if wac != nil {
		wac.RemoveEventHandlers()
		wac.Disconnect()
	}
}
