package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"shopbot/pkg/bus"
	"shopbot/pkg/errkind"
	"shopbot/pkg/logger"
)

// bridgeFrame is the JSON envelope exchanged with the websocket bridge.
type bridgeFrame struct {
	Type     string `json:"type"`
	ID       string `json:"id,omitempty"`
	From     string `json:"from,omitempty"`
	FromName string `json:"from_name,omitempty"`
	Chat     string `json:"chat,omitempty"`
	Content  string `json:"content,omitempty"`
	IsGroup  bool   `json:"is_group,omitempty"`
	Time     int64  `json:"timestamp,omitempty"`
	Status   string `json:"status,omitempty"`
	QR       string `json:"qr,omitempty"`

	To       string `json:"to,omitempty"`
	URL      string `json:"url,omitempty"`
	Filename string `json:"filename,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

type BridgeConnector struct {
	URL              string
	HandshakeTimeout time.Duration
}

func NewBridgeConnector(url string) *BridgeConnector {
	return &BridgeConnector{URL: url, HandshakeTimeout: 10 * time.Second}
}

func (b *BridgeConnector) Connect(ctx context.Context, h Handlers) (Client, error) {
	logger.InfoCF("whatsapp", "Connecting to WhatsApp bridge", map[string]interface{}{
		logger.FieldURL: b.URL,
	})

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = b.HandshakeTimeout

	conn, _, err := dialer.DialContext(ctx, b.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WhatsApp bridge: %w", err)
	}

	c := &bridgeClient{conn: conn, handlers: h, done: make(chan struct{})}
	if err := c.awaitReady(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	logger.InfoC("whatsapp", "WhatsApp bridge ready")
	go c.listen()
	return c, nil
}

type bridgeClient struct {
	conn     *websocket.Conn
	handlers Handlers

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// awaitReady consumes frames until the bridge reports READY. Pairing codes
// are forwarded while waiting.
func (c *bridgeClient) awaitReady(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		frame, err := c.readFrame()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("bridge closed before ready: %w", err)
		}
		switch frame.Type {
		case "qr":
			c.handlers.pairingCode(frame.QR)
		case "status":
			state, ok := parseBridgeState(frame.Status)
			if !ok {
				logUnknownStatus(frame.Status)
				continue
			}
			c.handlers.state(state)
			switch state {
			case StateReady:
				c.conn.SetReadDeadline(time.Time{})
				return nil
			case StateDisconnected:
				return fmt.Errorf("bridge reported %s before ready", frame.Status)
			}
		}
	}
}

func (c *bridgeClient) readFrame() (bridgeFrame, error) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return bridgeFrame{}, err
		}
		var frame bridgeFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.WarnCF("whatsapp", "Failed to unmarshal bridge frame", map[string]interface{}{
				logger.FieldError: err.Error(),
			})
			continue
		}
		return frame, nil
	}
}

func (c *bridgeClient) listen() {
	defer close(c.done)
	for {
		frame, err := c.readFrame()
		if err != nil {
			if c.isClosed() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, net.ErrClosed) {
				logger.InfoCF("whatsapp", "WhatsApp bridge connection closed", map[string]interface{}{
					logger.FieldError: err.Error(),
				})
			} else {
				logger.WarnCF("whatsapp", "WhatsApp bridge read error", map[string]interface{}{
					logger.FieldError: err.Error(),
				})
			}
			c.markClosed()
			c.handlers.state(StateDisconnected)
			return
		}

		switch frame.Type {
		case "message":
			c.handleIncomingMessage(frame)
		case "status":
			state, ok := parseBridgeState(frame.Status)
			if !ok {
				logUnknownStatus(frame.Status)
				continue
			}
			c.handlers.state(state)
			if state == StateDisconnected {
				c.markClosed()
				c.conn.Close()
				return
			}
		case "qr":
			c.handlers.pairingCode(frame.QR)
		}
	}
}

func (c *bridgeClient) handleIncomingMessage(frame bridgeFrame) {
	if frame.From == "" {
		return
	}
	chatID := frame.Chat
	if chatID == "" {
		chatID = frame.From
	}
	ts := time.Now()
	if frame.Time > 0 {
		ts = time.Unix(frame.Time, 0)
	}

	msg := bus.InboundMessage{
		Channel:    "whatsapp",
		MessageID:  frame.ID,
		SenderID:   frame.From,
		ChatID:     chatID,
		Phone:      phoneFromAddress(frame.From),
		SenderName: frame.FromName,
		Content:    frame.Content,
		IsGroup:    frame.IsGroup || strings.HasSuffix(chatID, "@g.us"),
		Timestamp:  ts,
	}

	logger.InfoCF("whatsapp", "WhatsApp message received", map[string]interface{}{
		logger.FieldSenderID: msg.SenderID,
		logger.FieldPreview:  truncateString(msg.Content, 50),
	})
	c.handlers.message(msg)
}

func (c *bridgeClient) SendText(ctx context.Context, to, body string) error {
	return c.write(bridgeFrame{Type: "message", To: to, Content: body})
}

func (c *bridgeClient) SendImage(ctx context.Context, to, imageURL, filename, caption string) error {
	return c.write(bridgeFrame{Type: "image", To: to, URL: imageURL, Filename: filename, Caption: caption})
}

func (c *bridgeClient) write(frame bridgeFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errkind.Errorf(errkind.SessionLost, "bridge.send", "connection closed")
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errkind.New(errkind.SessionLost, "bridge.send", err)
	}
	return nil
}

func (c *bridgeClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *bridgeClient) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *bridgeClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		<-c.done
		return nil
	}
	c.closed = true
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	err := c.conn.Close()
	c.mu.Unlock()
	<-c.done
	return err
}

// parseBridgeState maps a bridge status to a transport state. ok is false for
// statuses the bridge may add later; those never change the session state.
func parseBridgeState(s string) (state State, ok bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "READY", "CONNECTED", "OPEN":
		return StateReady, true
	case "DISCONNECTED", "CLOSED", "LOGGED_OUT":
		return StateDisconnected, true
	case "CONNECTING", "PAIRING", "QR", "SYNCING", "RECONNECTING":
		return StateConnecting, true
	default:
		return "", false
	}
}

func logUnknownStatus(status string) {
	logger.DebugCF("whatsapp", "Ignoring unknown bridge status", map[string]interface{}{
		logger.FieldState: status,
	})
}

// phoneFromAddress strips the server part of a chat address.
func phoneFromAddress(addr string) string {
	if i := strings.IndexByte(addr, '@'); i >= 0 {
		addr = addr[:i]
	}
	if i := strings.IndexByte(addr, ':'); i >= 0 {
		addr = addr[:i]
	}
	return addr
}
