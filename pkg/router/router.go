// Package router classifies each inbound chat message and dispatches it to
// the link, FAQ or catalog path.
package router

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"shopbot/pkg/bus"
	"shopbot/pkg/catalog"
	"shopbot/pkg/cron"
	"shopbot/pkg/delivery"
	"shopbot/pkg/errkind"
	"shopbot/pkg/lifecycle"
	"shopbot/pkg/links"
	"shopbot/pkg/logger"
	"shopbot/pkg/matcher"
	"shopbot/pkg/messaging"
)

type LinkResolver interface {
	Resolve(ctx context.Context, text string) (links.ResolvedLink, error)
}

type PageLookup interface {
	Lookup(ctx context.Context, formattedID string) (string, error)
}

type FAQResponder interface {
	TryAnswer(ctx context.Context, to, text string) (bool, error)
}

type Deliverer interface {
	Deliver(ctx context.Context, to string, p catalog.Product) (delivery.Report, error)
	DeliverWithPrompt(ctx context.Context, to string, p catalog.Product) (delivery.Report, error)
}

type ReminderScheduler interface {
	ScheduleReminder(to string, delay time.Duration, message string) (*cron.Job, error)
}

// Outcome is the branch a message ended in.
type Outcome string

const (
	OutcomeIgnoredGroup   Outcome = "ignored_group"
	OutcomeLinkUnresolved Outcome = "link_unresolved"
	OutcomeLinkNotOnPages Outcome = "link_not_on_pages"
	OutcomeLinkNotInStore Outcome = "link_not_in_catalog"
	OutcomeLinkDelivered  Outcome = "link_delivered"
	OutcomeFAQAnswered    Outcome = "faq_answered"
	OutcomeProductsSent   Outcome = "products_delivered"
	OutcomeNoMatch        Outcome = "no_match"
)

const (
	defaultContactName   = "Inconnu"
	defaultNotFoundReply = "Le produit associé à ce lien est introuvable sur nos pages."
)

type Deps struct {
	Catalog   catalog.Store
	Contacts  catalog.ContactStore
	Links     LinkResolver
	Pages     PageLookup
	FAQ       FAQResponder
	Delivery  Deliverer
	Sender    messaging.Sender
	Reminders ReminderScheduler
}

type Options struct {
	// Markers are the raw-text fragments that route a message to the link path.
	Markers       []string
	NotFoundReply string
	// ReceiptDelay is waited once before a message is handled.
	ReceiptDelay    delivery.Jitter
	ReminderEnabled bool
	ReminderDelay   time.Duration
	ReminderMessage string
}

type Router struct {
	deps     Deps
	opts     Options
	contacts singleflight.Group
	runner   *lifecycle.LoopRunner
}

func New(deps Deps, opts Options) *Router {
	if opts.NotFoundReply == "" {
		opts.NotFoundReply = defaultNotFoundReply
	}
	return &Router{deps: deps, opts: opts, runner: lifecycle.NewLoopRunner()}
}

// Handle runs one inbound message through the fixed priority order: group,
// link marker, FAQ, catalog keywords, no-op. Only a lost session is
// returned as an error; every other failure is logged.
func (r *Router) Handle(ctx context.Context, msg bus.InboundMessage) (Outcome, error) {
	if msg.IsGroup {
		logger.DebugCF("router", "Group message ignored", map[string]interface{}{
			logger.FieldChatID: msg.ChatID,
		})
		return OutcomeIgnoredGroup, nil
	}

	r.ensureContact(ctx, msg)

	if err := sleepContext(ctx, r.opts.ReceiptDelay.Next()); err != nil {
		return "", err
	}

	to := msg.ReplyTo()
	if r.hasMarker(msg.Content) {
		return r.handleLink(ctx, to, msg.Content)
	}

	if r.deps.FAQ != nil {
		handled, err := r.deps.FAQ.TryAnswer(ctx, to, msg.Content)
		if err != nil {
			if errkind.Is(err, errkind.SessionLost) {
				return OutcomeFAQAnswered, err
			}
			logger.WarnCF("router", "FAQ lookup failed", map[string]interface{}{
				logger.FieldChatID: to,
				logger.FieldError:  err.Error(),
			})
		}
		if handled {
			return OutcomeFAQAnswered, nil
		}
	}

	return r.handleProducts(ctx, to, msg.Content)
}

func (r *Router) hasMarker(text string) bool {
	for _, m := range r.opts.Markers {
		if m != "" && strings.Contains(text, m) {
			return true
		}
	}
	return false
}

// handleLink answers a shared Facebook link. A post that is not on the
// shop's pages gets the not-found reply; a post with no catalog entry gets
// no reply at all.
func (r *Router) handleLink(ctx context.Context, to, text string) (Outcome, error) {
	link, err := r.deps.Links.Resolve(ctx, text)
	if err != nil {
		logger.InfoCF("router", "Link could not be resolved", map[string]interface{}{
			logger.FieldChatID: to,
			logger.FieldError:  err.Error(),
		})
		return OutcomeLinkUnresolved, nil
	}
	formatted := link.FormattedID()

	productID, err := r.deps.Pages.Lookup(ctx, formatted)
	if err != nil {
		logger.InfoCF("router", "Linked post not found on pages", map[string]interface{}{
			logger.FieldChatID:    to,
			logger.FieldFormatted: formatted,
			logger.FieldError:     err.Error(),
		})
		if err := r.deps.Sender.SendText(ctx, to, r.opts.NotFoundReply); err != nil {
			return OutcomeLinkNotOnPages, r.sendFailed(to, err)
		}
		return OutcomeLinkNotOnPages, nil
	}

	product, err := r.deps.Catalog.FindByKeywordOrName(ctx, productID)
	if err != nil {
		logger.ErrorCF("router", "Catalog lookup failed", map[string]interface{}{
			logger.FieldProductID: productID,
			logger.FieldError:     err.Error(),
		})
		return OutcomeLinkNotInStore, nil
	}
	if product == nil {
		logger.InfoCF("router", "Linked product missing from catalog", map[string]interface{}{
			logger.FieldChatID:    to,
			logger.FieldProductID: productID,
		})
		return OutcomeLinkNotInStore, nil
	}

	if _, err := r.deps.Delivery.DeliverWithPrompt(ctx, to, *product); err != nil {
		return OutcomeLinkDelivered, err
	}
	return OutcomeLinkDelivered, nil
}

func (r *Router) handleProducts(ctx context.Context, to, text string) (Outcome, error) {
	products, err := r.deps.Catalog.ListAll(ctx)
	if err != nil {
		logger.ErrorCF("router", "Catalog listing failed", map[string]interface{}{
			logger.FieldError: err.Error(),
		})
		return OutcomeNoMatch, nil
	}

	matched := matcher.Match(text, products)
	if len(matched) == 0 {
		logger.DebugCF("router", "No branch applies, message dropped", map[string]interface{}{
			logger.FieldChatID:  to,
			logger.FieldPreview: truncate(text, 50),
		})
		return OutcomeNoMatch, nil
	}

	for _, p := range matched {
		logger.InfoCF("router", "Product matched", map[string]interface{}{
			logger.FieldChatID:    to,
			logger.FieldProductID: p.ID,
			logger.FieldKeyword:   p.Keyword,
		})
		if _, err := r.deps.Delivery.Deliver(ctx, to, p); err != nil {
			return OutcomeProductsSent, err
		}
	}
	return OutcomeProductsSent, nil
}

// ensureContact records the first message of a phone number and schedules
// its follow-up reminder. Concurrent first messages from one number share a
// single creation.
func (r *Router) ensureContact(ctx context.Context, msg bus.InboundMessage) {
	if r.deps.Contacts == nil || msg.Phone == "" {
		return
	}
	_, err, _ := r.contacts.Do(msg.Phone, func() (interface{}, error) {
		existing, err := r.deps.Contacts.FindByPhone(ctx, msg.Phone)
		if err != nil || existing != nil {
			return nil, err
		}

		name := strings.TrimSpace(msg.SenderName)
		if name == "" {
			name = defaultContactName
		}
		firstSeen := msg.Timestamp
		if firstSeen.IsZero() {
			firstSeen = time.Now()
		}
		created, err := r.deps.Contacts.CreateContact(ctx, catalog.Contact{
			Phone:          msg.Phone,
			Name:           name,
			FirstMessageAt: firstSeen,
		})
		if err != nil || !created {
			return nil, err
		}

		logger.InfoCF("router", "New contact recorded", map[string]interface{}{
			logger.FieldPhone: msg.Phone,
			"name":            name,
		})
		r.scheduleReminder(msg.ReplyTo())
		return nil, nil
	})
	if err != nil {
		logger.WarnCF("router", "Contact bookkeeping failed", map[string]interface{}{
			logger.FieldPhone: msg.Phone,
			logger.FieldError: err.Error(),
		})
	}
}

func (r *Router) scheduleReminder(to string) {
	if !r.opts.ReminderEnabled || r.deps.Reminders == nil || r.opts.ReminderMessage == "" {
		return
	}
	if _, err := r.deps.Reminders.ScheduleReminder(to, r.opts.ReminderDelay, r.opts.ReminderMessage); err != nil {
		logger.WarnCF("router", "Failed to schedule reminder", map[string]interface{}{
			logger.FieldChatID: to,
			logger.FieldError:  err.Error(),
		})
	}
}

func (r *Router) sendFailed(to string, err error) error {
	if errkind.Is(err, errkind.SessionLost) {
		return err
	}
	logger.WarnCF("router", "Reply failed", map[string]interface{}{
		logger.FieldChatID: to,
		logger.FieldError:  err.Error(),
	})
	return nil
}

// Run consumes the bus until ctx is done or Stop is called. Each message is
// handled on its own goroutine.
func (r *Router) Run(ctx context.Context, mb *bus.MessageBus) {
	r.runner.Start(ctx, func(loopCtx context.Context) {
		for {
			msg, ok := mb.ConsumeInbound(loopCtx)
			if !ok {
				return
			}
			r.runner.Go(func(taskCtx context.Context) {
				outcome, err := r.Handle(taskCtx, msg)
				fields := map[string]interface{}{
					logger.FieldSenderID: msg.SenderID,
					"outcome":            string(outcome),
				}
				if err != nil {
					fields[logger.FieldError] = err.Error()
					logger.WarnCF("router", "Message handling aborted", fields)
					return
				}
				logger.DebugCF("router", "Message handled", fields)
			})
		}
	})
}

func (r *Router) Stop() {
	r.runner.Stop()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
