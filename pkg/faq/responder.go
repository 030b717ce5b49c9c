// Package faq answers common questions before the catalog is consulted.
package faq

import (
	"context"

	"shopbot/pkg/catalog"
	"shopbot/pkg/logger"
	"shopbot/pkg/matcher"
	"shopbot/pkg/messaging"
)

type Responder struct {
	store  catalog.FAQStore
	sender messaging.Sender
}

func NewResponder(store catalog.FAQStore, sender messaging.Sender) *Responder {
	return &Responder{store: store, sender: sender}
}

// TryAnswer sends the answer of the first FAQ entry matching text and
// reports whether the message was handled.
func (r *Responder) TryAnswer(ctx context.Context, to, text string) (bool, error) {
	faqs, err := r.store.ListFAQs(ctx)
	if err != nil {
		return false, err
	}
	matched := matcher.MatchFAQ(text, faqs)
	if len(matched) == 0 {
		return false, nil
	}

	entry := matched[0]
	logger.InfoCF("faq", "Answering FAQ", map[string]interface{}{
		logger.FieldChatID: to,
		"faq_id":           entry.ID,
	})
	return true, r.sender.SendText(ctx, to, entry.Answer)
}
