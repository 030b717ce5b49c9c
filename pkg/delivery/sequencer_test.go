package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/time/rate"

	"shopbot/pkg/catalog"
	"shopbot/pkg/errkind"
)

type recordingSender struct {
	mu    sync.Mutex
	sent  []string
	fails map[string]error
}

func (r *recordingSender) record(entry string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fails[entry]; err != nil {
		return err
	}
	r.sent = append(r.sent, entry)
	return nil
}

func (r *recordingSender) SendText(ctx context.Context, to, body string) error {
	return r.record("text:" + body)
}

func (r *recordingSender) SendImage(ctx context.Context, to, imageURL, filename, caption string) error {
	return r.record(fmt.Sprintf("image:%s|%s|%s", imageURL, filename, caption))
}

func product() catalog.Product {
	return catalog.Product{
		ID:   7,
		Name: "Sac",
		Elements: []catalog.Element{
			{ID: 1, Type: catalog.ElementText, Content: "trois", Order: 3},
			{ID: 2, Type: catalog.ElementImage, ImageURL: "uploads/sac.jpg", Caption: "Rouge", Order: 1},
			{ID: 3, Type: catalog.ElementText, Content: "deux", Order: 2},
		},
	}
}

func TestDeliverSendsInOrder(t *testing.T) {
	s := &recordingSender{}
	seq := NewSequencer(s, Options{ImageBaseURL: "http://cdn.local/", ClosingPrompt: "Souhaitez-vous passer commande ?"})

	report, err := seq.DeliverWithPrompt(context.Background(), "33600000000@s.whatsapp.net", product())
	if err != nil {
		t.Fatalf("DeliverWithPrompt: %v", err)
	}
	want := []string{
		"image:http://cdn.local/uploads/sac.jpg|image.jpg|Rouge",
		"text:deux",
		"text:trois",
		"text:Souhaitez-vous passer commande ?",
	}
	if diff := cmp.Diff(want, s.sent); diff != "" {
		t.Fatalf("send order mismatch (-want +got):\n%s", diff)
	}
	if report != (Report{Sent: 4}) {
		t.Fatalf("report = %+v", report)
	}
}

func TestDeliverSkipsFailedElement(t *testing.T) {
	s := &recordingSender{fails: map[string]error{
		"text:deux": errkind.New(errkind.TransientIO, "send", errors.New("timeout")),
	}}
	seq := NewSequencer(s, Options{ImageBaseURL: "http://cdn.local"})

	report, err := seq.Deliver(context.Background(), "to", product())
	if err != nil {
		t.Fatalf("transient failure must not abort: %v", err)
	}
	want := []string{"image:http://cdn.local/uploads/sac.jpg|image.jpg|Rouge", "text:trois"}
	if diff := cmp.Diff(want, s.sent); diff != "" {
		t.Fatalf("sent mismatch (-want +got):\n%s", diff)
	}
	if report != (Report{Sent: 2, Failed: 1}) {
		t.Fatalf("report = %+v", report)
	}
}

func TestDeliverAbortsOnSessionLoss(t *testing.T) {
	s := &recordingSender{fails: map[string]error{
		"text:deux": errkind.New(errkind.SessionLost, "send", errors.New("socket closed")),
	}}
	seq := NewSequencer(s, Options{ImageBaseURL: "http://cdn.local", ClosingPrompt: "?"})

	_, err := seq.DeliverWithPrompt(context.Background(), "to", product())
	if !errkind.Is(err, errkind.SessionLost) {
		t.Fatalf("expected SessionLost, got %v", err)
	}
	if len(s.sent) != 1 {
		t.Fatalf("sequence should stop after session loss, sent %v", s.sent)
	}
}

func TestDeliverHonoursDelayAndContext(t *testing.T) {
	s := &recordingSender{}
	seq := NewSequencer(s, Options{Delay: Jitter{Min: time.Hour, Max: time.Hour}})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := seq.Deliver(ctx, "to", product()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if len(s.sent) != 0 {
		t.Fatalf("nothing should be sent before the first delay elapses")
	}
}

func TestDeliverUsesLimiter(t *testing.T) {
	s := &recordingSender{}
	seq := NewSequencer(s, Options{Limiter: rate.NewLimiter(rate.Every(time.Hour), 1)})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	report, err := seq.Deliver(ctx, "to", product())
	if err != nil {
		t.Fatalf("limiter errors are per element: %v", err)
	}
	if report.Sent != 1 || report.Failed != 2 {
		t.Fatalf("burst of one should let a single element through: %+v", report)
	}
}

func TestJitterWindow(t *testing.T) {
	j := Jitter{Min: 1500 * time.Millisecond, Max: 4 * time.Second}
	for i := 0; i < 200; i++ {
		d := j.Next()
		if d < j.Min || d > j.Max {
			t.Fatalf("delay %v outside window", d)
		}
	}
	if (Jitter{}).Next() != 0 {
		t.Fatalf("zero jitter must not wait")
	}
}

func TestImageURL(t *testing.T) {
	tests := []struct {
		base, path, want string
	}{
		{"http://host", "/img/a.jpg", "http://host/img/a.jpg"},
		{"http://host", "img/a.jpg", "http://host/img/a.jpg"},
		{"http://host/", "/img/a.jpg", "http://host/img/a.jpg"},
		{"http://host", "https://cdn/x.jpg", "https://cdn/x.jpg"},
		{"", "img/a.jpg", "img/a.jpg"},
	}
	for _, tt := range tests {
		if got := ImageURL(tt.base, tt.path); got != tt.want {
			t.Fatalf("ImageURL(%q, %q) = %q, want %q", tt.base, tt.path, got, tt.want)
		}
	}
}
