// Package whatsapp adapts a whatsmeow client to the transport boundary.
package whatsapp

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"wablast/internal/transport"
	logx "wablast/pkg/logx"
)

// Config for the production transport.
type Config struct {
	// StorePath is the sqlite file holding the device credentials.
	StorePath string
}

// Client implements transport.Client on top of whatsmeow. One Client
// owns at most one live session at a time.
type Client struct {
	cfg Config
	log logx.Logger

	mu        sync.Mutex
	container *sqlstore.Container
	wa        *whatsmeow.Client
	events    chan transport.Event
	handlerID uint32
}

var _ transport.Client = (*Client)(nil)

func New(cfg Config, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{cfg: cfg, log: log}
}

// Connect opens the credential store, dials, and returns the lifecycle
// event stream for this session. With no stored device the stream starts
// with pairing events carrying fresh QR codes.
func (c *Client) Connect(ctx context.Context) (<-chan transport.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.wa != nil && c.wa.IsConnected() {
		return nil, fmt.Errorf("whatsapp: already connected")
	}

	if c.container == nil {
		dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", c.cfg.StorePath)
		container, err := sqlstore.New(ctx, "sqlite", dsn, waLog.Noop)
		if err != nil {
			return nil, fmt.Errorf("whatsapp: opening device store: %w", err)
		}
		c.container = container
	}

	device, err := c.container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: loading device: %w", err)
	}

	wa := whatsmeow.NewClient(device, waLog.Noop)
	ch := make(chan transport.Event, 16)
	c.wa = wa
	c.events = ch

	c.handlerID = wa.AddEventHandler(func(raw any) {
		switch evt := raw.(type) {
		case *events.Connected:
			c.emit(ch, transport.Event{Kind: transport.EventOpen})
		case *events.Disconnected:
			c.emit(ch, transport.Event{Kind: transport.EventClose, Close: &transport.CloseInfo{}})
			c.finish(wa)
		case *events.StreamError:
			c.emit(ch, transport.Event{
				Kind:  transport.EventClose,
				Close: &transport.CloseInfo{Err: fmt.Errorf("stream error: %s", evt.Code)},
			})
			c.finish(wa)
		case *events.LoggedOut:
			c.emit(ch, transport.Event{
				Kind: transport.EventClose,
				Close: &transport.CloseInfo{
					Code:      int(evt.Reason),
					LoggedOut: true,
					Err:       fmt.Errorf("logged out: %s", evt.Reason),
				},
			})
			c.finish(wa)
		}
	})

	if wa.Store.ID == nil {
		// Never paired (or credentials wiped): surface QR codes until the
		// channel reports success or terminal failure.
		qr, err := wa.GetQRChannel(ctx)
		if err != nil {
			return nil, fmt.Errorf("whatsapp: qr channel: %w", err)
		}
		go func() {
			for item := range qr {
				switch item.Event {
				case "code":
					c.emit(ch, transport.Event{Kind: transport.EventPairing, Pairing: item.Code})
				case "success":
					// events.Connected follows; nothing to do here.
				case "timeout":
					c.emit(ch, transport.Event{
						Kind:  transport.EventClose,
						Close: &transport.CloseInfo{Err: fmt.Errorf("pairing timed out")},
					})
					c.finish(wa)
				}
			}
		}()
	}

	if err := wa.Connect(); err != nil {
		c.finishLocked(wa)
		return nil, fmt.Errorf("whatsapp: connect: %w", err)
	}
	return ch, nil
}

// emit forwards a lifecycle event without ever blocking the whatsmeow
// handler goroutine. The consumer drains promptly; a full buffer means it
// is gone, so dropping is the safe choice.
func (c *Client) emit(ch chan transport.Event, ev transport.Event) {
	defer func() { _ = recover() }() // send on closed channel during teardown
	select {
	case ch <- ev:
	default:
		c.log.Warn("transport event dropped", logx.String("kind", string(ev.Kind)))
	}
}

// finish tears down one session's stream exactly once.
func (c *Client) finish(wa *whatsmeow.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finishLocked(wa)
}

func (c *Client) finishLocked(wa *whatsmeow.Client) {
	if c.wa != wa || c.events == nil {
		return
	}
	wa.RemoveEventHandler(c.handlerID)
	close(c.events)
	c.events = nil
}

// Send uploads the image once per call and delivers it with the caption.
// A plain text message is sent when the payload has no image.
func (c *Client) Send(ctx context.Context, target string, msg transport.Message) error {
	c.mu.Lock()
	wa := c.wa
	c.mu.Unlock()
	if wa == nil || !wa.IsConnected() {
		return transport.ErrNotConnected
	}

	jid, err := targetJID(target)
	if err != nil {
		return err
	}

	var message *waE2E.Message
	if len(msg.Image) > 0 {
		up, err := wa.Upload(ctx, msg.Image, whatsmeow.MediaImage)
		if err != nil {
			return fmt.Errorf("whatsapp: image upload: %w", err)
		}
		message = &waE2E.Message{
			ImageMessage: &waE2E.ImageMessage{
				Caption:       proto.String(msg.Caption),
				Mimetype:      proto.String(msg.Mime),
				URL:           proto.String(up.URL),
				DirectPath:    proto.String(up.DirectPath),
				MediaKey:      up.MediaKey,
				FileEncSHA256: up.FileEncSHA256,
				FileSHA256:    up.FileSHA256,
				FileLength:    proto.Uint64(up.FileLength),
			},
		}
	} else {
		message = &waE2E.Message{Conversation: proto.String(msg.Caption)}
	}

	if _, err := wa.SendMessage(ctx, jid, message); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", transport.ErrSendTimeout, err)
		}
		return fmt.Errorf("whatsapp: send to %s: %w", target, err)
	}
	return nil
}

// ClearCredentials deletes the stored device so the next Connect starts a
// fresh pairing.
func (c *Client) ClearCredentials(ctx context.Context) error {
	c.mu.Lock()
	container := c.container
	c.mu.Unlock()
	if container == nil {
		return nil
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("whatsapp: loading device for wipe: %w", err)
	}
	if device.ID == nil {
		return nil
	}
	if err := container.DeleteDevice(ctx, device); err != nil {
		return fmt.Errorf("whatsapp: wiping device: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	wa := c.wa
	c.mu.Unlock()
	if wa != nil {
		wa.Disconnect()
	}
	return nil
}

func targetJID(target string) (types.JID, error) {
	if strings.Contains(target, "@") {
		jid, err := types.ParseJID(target)
		if err != nil {
			return types.JID{}, fmt.Errorf("whatsapp: bad target %q: %w", target, err)
		}
		return jid, nil
	}
	return types.NewJID(target, types.DefaultUserServer), nil
}
