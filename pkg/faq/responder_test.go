package faq

import (
	"context"
	"errors"
	"testing"

	"shopbot/pkg/catalog"
)

type staticFAQs struct {
	faqs []catalog.FAQ
	err  error
}

func (s staticFAQs) ListFAQs(ctx context.Context) ([]catalog.FAQ, error) {
	return s.faqs, s.err
}

type textSender struct {
	sent []string
	err  error
}

func (s *textSender) SendText(ctx context.Context, to, body string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, to+":"+body)
	return nil
}

func (s *textSender) SendImage(ctx context.Context, to, imageURL, filename, caption string) error {
	return errors.New("unexpected image")
}

var faqs = []catalog.FAQ{
	{ID: 1, Question: "Quels sont les délais ?", Keywords: "livraison, delai", Answer: "Livraison en 48h."},
	{ID: 2, Question: "Paiement", Keywords: "payer | mobile money", Answer: "Paiement à la livraison."},
}

func TestTryAnswer(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		handled bool
		sent    string
	}{
		{"keyword with accents", "Le DÉLAI de livraison ?", true, "to:Livraison en 48h."},
		{"phrase synonym", "je veux payer par mobile money", true, "to:Paiement à la livraison."},
		{"no match", "bonjour", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &textSender{}
			r := NewResponder(staticFAQs{faqs: faqs}, s)
			handled, err := r.TryAnswer(context.Background(), "to", tt.text)
			if err != nil {
				t.Fatalf("TryAnswer: %v", err)
			}
			if handled != tt.handled {
				t.Fatalf("handled = %v, want %v", handled, tt.handled)
			}
			if tt.sent == "" && len(s.sent) != 0 {
				t.Fatalf("nothing should be sent, got %v", s.sent)
			}
			if tt.sent != "" && (len(s.sent) != 1 || s.sent[0] != tt.sent) {
				t.Fatalf("sent = %v, want %q", s.sent, tt.sent)
			}
		})
	}
}

func TestTryAnswerErrors(t *testing.T) {
	r := NewResponder(staticFAQs{err: errors.New("db locked")}, &textSender{})
	if handled, err := r.TryAnswer(context.Background(), "to", "livraison"); err == nil || handled {
		t.Fatalf("store error should be returned unhandled, got %v %v", handled, err)
	}

	r = NewResponder(staticFAQs{faqs: faqs}, &textSender{err: errors.New("send failed")})
	handled, err := r.TryAnswer(context.Background(), "to", "livraison")
	if !handled || err == nil {
		t.Fatalf("send error on a matched entry should report handled with error, got %v %v", handled, err)
	}
}
