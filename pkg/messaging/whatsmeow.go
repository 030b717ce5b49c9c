package messaging

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"

	"shopbot/pkg/bus"
	"shopbot/pkg/errkind"
	"shopbot/pkg/logger"
)

// waLogger routes whatsmeow's internal logging through our logger.
type waLogger struct {
	logger.Printf
}

func newWALogger(component string) waLog.Logger {
	return waLogger{Printf: logger.Printf{Component: component}}
}

func (l waLogger) Sub(module string) waLog.Logger {
	return newWALogger(l.Component + "/" + strings.ToLower(module))
}

// WhatsmeowConnector speaks the multi-device protocol directly. Device
// credentials persist in a SQLite store so pairing survives restarts.
type WhatsmeowConnector struct {
	storePath string
	media     *resty.Client

	mu        sync.Mutex
	container *sqlstore.Container
}

func NewWhatsmeowConnector(storePath string, mediaTimeout time.Duration) *WhatsmeowConnector {
	media := resty.New().
		SetTimeout(mediaTimeout).
		SetLogger(logger.Printf{Component: "whatsapp"})
	return &WhatsmeowConnector{storePath: storePath, media: media}
}

func (w *WhatsmeowConnector) openContainer(ctx context.Context) (*sqlstore.Container, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.container != nil {
		return w.container, nil
	}
	if err := os.MkdirAll(filepath.Dir(w.storePath), 0755); err != nil {
		return nil, fmt.Errorf("create device store dir: %w", err)
	}
	dsn := "file:" + w.storePath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	container, err := sqlstore.New(ctx, "sqlite", dsn, newWALogger("whatsmeow/store"))
	if err != nil {
		return nil, fmt.Errorf("open device store: %w", err)
	}
	w.container = container
	return container, nil
}

func (w *WhatsmeowConnector) Connect(ctx context.Context, h Handlers) (Client, error) {
	container, err := w.openContainer(ctx)
	if err != nil {
		return nil, err
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}

	cli := whatsmeow.NewClient(device, newWALogger("whatsmeow"))
	// reconnection is owned by the session manager
	cli.EnableAutoReconnect = false

	c := &whatsmeowClient{cli: cli, media: w.media, handlers: h, ready: make(chan struct{}, 1)}
	cli.AddEventHandler(c.handleEvent)

	if cli.Store.ID == nil {
		qrChan, err := cli.GetQRChannel(ctx)
		if err != nil {
			return nil, fmt.Errorf("open pairing channel: %w", err)
		}
		if err := cli.Connect(); err != nil {
			return nil, fmt.Errorf("connect: %w", err)
		}
		if err := c.awaitPairing(ctx, qrChan); err != nil {
			cli.Disconnect()
			return nil, err
		}
	} else if err := cli.Connect(); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	select {
	case <-c.ready:
		return c, nil
	case <-ctx.Done():
		cli.Disconnect()
		return nil, ctx.Err()
	}
}

type whatsmeowClient struct {
	cli      *whatsmeow.Client
	media    *resty.Client
	handlers Handlers
	ready    chan struct{}
	live     atomic.Bool
}

func (c *whatsmeowClient) awaitPairing(ctx context.Context, qrChan <-chan whatsmeow.QRChannelItem) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item, ok := <-qrChan:
			if !ok {
				return errors.New("pairing channel closed")
			}
			switch item.Event {
			case whatsmeow.QRChannelEventCode:
				c.handlers.pairingCode(item.Code)
			case whatsmeow.QRChannelSuccess.Event:
				logger.InfoC("whatsapp", "Device paired")
				return nil
			default:
				if item.Error != nil {
					return fmt.Errorf("pairing failed: %w", item.Error)
				}
				return fmt.Errorf("pairing failed: %s", item.Event)
			}
		}
	}
}

func (c *whatsmeowClient) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		c.live.Store(true)
		select {
		case c.ready <- struct{}{}:
		default:
		}
		c.handlers.state(StateReady)
	case *events.Disconnected, *events.LoggedOut, *events.StreamReplaced, *events.ConnectFailure:
		logger.WarnCF("whatsapp", "WhatsApp session ended", map[string]interface{}{
			"event": fmt.Sprintf("%T", v),
		})
		// the pairing handshake drops and restores the socket on its own
		if c.live.Swap(false) {
			c.handlers.state(StateDisconnected)
		}
	case *events.Message:
		msg, ok := inboundFromEvent(v)
		if !ok {
			return
		}
		logger.InfoCF("whatsapp", "WhatsApp message received", map[string]interface{}{
			logger.FieldSenderID: msg.SenderID,
			logger.FieldPreview:  truncateString(msg.Content, 50),
		})
		c.handlers.message(msg)
	}
}

// inboundFromEvent converts a whatsmeow message event. Own messages, status
// broadcasts and messages without text are dropped.
func inboundFromEvent(evt *events.Message) (bus.InboundMessage, bool) {
	if evt == nil || evt.Info.IsFromMe || evt.Info.Chat.Server == types.BroadcastServer {
		return bus.InboundMessage{}, false
	}
	content := messageText(evt.Message)
	if content == "" {
		return bus.InboundMessage{}, false
	}
	// LID-addressed senders carry their phone number in SenderAlt
	phone := evt.Info.Sender.User
	if evt.Info.Sender.Server == types.HiddenUserServer && !evt.Info.SenderAlt.IsEmpty() {
		phone = evt.Info.SenderAlt.User
	}
	return bus.InboundMessage{
		Channel:    "whatsapp",
		MessageID:  string(evt.Info.ID),
		SenderID:   evt.Info.Sender.ToNonAD().String(),
		ChatID:     evt.Info.Chat.String(),
		Phone:      phone,
		SenderName: evt.Info.PushName,
		Content:    content,
		IsGroup:    evt.Info.IsGroup,
		Timestamp:  evt.Info.Timestamp,
	}, true
}

func messageText(m *waE2E.Message) string {
	if m == nil {
		return ""
	}
	if text := m.GetConversation(); text != "" {
		return text
	}
	if text := m.GetExtendedTextMessage().GetText(); text != "" {
		return text
	}
	if text := m.GetImageMessage().GetCaption(); text != "" {
		return text
	}
	return m.GetVideoMessage().GetCaption()
}

func (c *whatsmeowClient) SendText(ctx context.Context, to, body string) error {
	jid, err := parseAddress(to)
	if err != nil {
		return errkind.New(errkind.TransientIO, "whatsmeow.send_text", err)
	}
	_, err = c.cli.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(body)})
	return c.classify("whatsmeow.send_text", err)
}

// SendImage downloads imageURL and re-uploads it as WhatsApp media. Image
// messages carry no file name, so filename is only logged.
func (c *whatsmeowClient) SendImage(ctx context.Context, to, imageURL, filename, caption string) error {
	jid, err := parseAddress(to)
	if err != nil {
		return errkind.New(errkind.TransientIO, "whatsmeow.send_image", err)
	}

	resp, err := c.media.R().SetContext(ctx).Get(imageURL)
	if err != nil {
		return errkind.New(errkind.TransientIO, "whatsmeow.fetch_image", err)
	}
	if resp.IsError() {
		return errkind.Errorf(errkind.TransientIO, "whatsmeow.fetch_image", "status %d for %s", resp.StatusCode(), imageURL)
	}
	data := resp.Body()

	uploaded, err := c.cli.Upload(ctx, data, whatsmeow.MediaImage)
	if err != nil {
		return c.classify("whatsmeow.upload", err)
	}

	logger.DebugCF("whatsapp", "Image uploaded", map[string]interface{}{
		logger.FieldURL: imageURL,
		"filename":      filename,
		"size":          len(data),
	})

	msg := &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
		Caption:       proto.String(caption),
		Mimetype:      proto.String(http.DetectContentType(data)),
		URL:           proto.String(uploaded.URL),
		DirectPath:    proto.String(uploaded.DirectPath),
		MediaKey:      uploaded.MediaKey,
		FileEncSHA256: uploaded.FileEncSHA256,
		FileSHA256:    uploaded.FileSHA256,
		FileLength:    proto.Uint64(uploaded.FileLength),
	}}
	_, err = c.cli.SendMessage(ctx, jid, msg)
	return c.classify("whatsmeow.send_image", err)
}

func (c *whatsmeowClient) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, whatsmeow.ErrNotConnected) || errors.Is(err, whatsmeow.ErrNotLoggedIn) || !c.cli.IsConnected() {
		return errkind.New(errkind.SessionLost, op, err)
	}
	return errkind.New(errkind.TransientIO, op, err)
}

func (c *whatsmeowClient) Close() error {
	c.cli.Disconnect()
	return nil
}

// parseAddress accepts a full JID or a bare phone number.
func parseAddress(to string) (types.JID, error) {
	if strings.ContainsRune(to, '@') {
		return types.ParseJID(to)
	}
	phone := strings.TrimPrefix(strings.TrimSpace(to), "+")
	if phone == "" {
		return types.JID{}, errors.New("empty address")
	}
	return types.NewJID(phone, types.DefaultUserServer), nil
}
