package server

import (
	"bytes"
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"shopbot/pkg/bus"
	"shopbot/pkg/cron"
	"shopbot/pkg/messaging"
	"shopbot/pkg/session"
)

type stubSession struct {
	snap session.Snapshot
	code string
}

func (s stubSession) Snapshot() session.Snapshot { return s.snap }
func (s stubSession) PairingCode() string        { return s.code }

type stubJobs struct{ st cron.Status }

func (s stubJobs) Status() cron.Status { return s.st }

func newTestServer(t *testing.T, opts Options) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(NewServer(opts).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, Options{})
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "OK" {
		t.Fatalf("unexpected health response: %d %q", resp.StatusCode, body)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header")
	}
}

func TestStatusReportsSessionAndReminders(t *testing.T) {
	mb := bus.NewMessageBus()
	defer mb.Close()
	mb.PublishEvent(bus.Event{Type: bus.EventReady})

	ts := newTestServer(t, Options{
		Session: stubSession{snap: session.Snapshot{State: messaging.StateReady, Reconnects: 2}},
		Jobs:    stubJobs{st: cron.Status{Running: true, Jobs: 3, EnabledJobs: 1}},
		Bus:     mb,
	})

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()

	var got StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if got.Session.State != messaging.StateReady || got.Session.Reconnects != 2 {
		t.Fatalf("unexpected session: %+v", got.Session)
	}
	if got.Reminders == nil || got.Reminders.Jobs != 3 {
		t.Fatalf("unexpected reminders: %+v", got.Reminders)
	}
	if _, ok := got.LastEvents[bus.EventReady]; !ok {
		t.Fatalf("ready event missing from %+v", got.LastEvents)
	}
}

func TestStatusWithoutSession(t *testing.T) {
	ts := newTestServer(t, Options{})
	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()
	var got StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if got.Session.State != messaging.StateDisconnected || got.Reminders != nil {
		t.Fatalf("unexpected status: %+v", got)
	}
}

func TestQRImage(t *testing.T) {
	ts := newTestServer(t, Options{Session: stubSession{}})
	resp, err := http.Get(ts.URL + "/qr.png")
	if err != nil {
		t.Fatalf("get qr: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 without pairing code, got %d", resp.StatusCode)
	}

	ts = newTestServer(t, Options{Session: stubSession{code: "2@abc,def,ghi"}})
	resp, err = http.Get(ts.URL + "/qr.png")
	if err != nil {
		t.Fatalf("get qr: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("unexpected qr response: %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	data, _ := io.ReadAll(resp.Body)
	if _, err := png.Decode(bytes.NewReader(data)); err != nil {
		t.Fatalf("qr body is not a png: %v", err)
	}
}

func TestEventsStream(t *testing.T) {
	mb := bus.NewMessageBus()
	defer mb.Close()
	mb.PublishEvent(bus.Event{Type: bus.EventStatus, Data: string(messaging.StateConnecting)})

	ts := newTestServer(t, Options{Bus: mb})
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial events: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var first bus.Event
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read first event: %v", err)
	}
	if first.Type != bus.EventStatus || first.Data != "CONNECTING" {
		t.Fatalf("unexpected first event: %+v", first)
	}

	mb.PublishEvent(bus.Event{Type: bus.EventReady})
	var next bus.Event
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("read next event: %v", err)
	}
	if next.Type != bus.EventReady {
		t.Fatalf("unexpected event: %+v", next)
	}
}

func TestUnknownPath(t *testing.T) {
	ts := newTestServer(t, Options{})
	resp, err := http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
