// Package catalog holds the product, element and contact records shared by
// the message pipeline, along with the store contracts the pipeline reads
// and writes through.
package catalog

import (
	"context"
	"sort"
	"time"
)

type ElementType string

const (
	ElementText  ElementType = "text"
	ElementImage ElementType = "image"
)

// Element is one ordered unit of product content.
// Text elements use Content; image elements use ImageURL and Caption.
type Element struct {
	ID       int64       `json:"id" yaml:"-"`
	Type     ElementType `json:"type" yaml:"type"`
	Content  string      `json:"content,omitempty" yaml:"content,omitempty"`
	ImageURL string      `json:"image_url,omitempty" yaml:"image_url,omitempty"`
	Caption  string      `json:"caption,omitempty" yaml:"caption,omitempty"`
	Order    int         `json:"order" yaml:"order"`
}

type Product struct {
	ID       int64     `json:"id" yaml:"-"`
	Name     string    `json:"name" yaml:"name"`
	Keyword  string    `json:"keyword" yaml:"keyword"`
	Synonym  string    `json:"synonym,omitempty" yaml:"synonym,omitempty"`
	Elements []Element `json:"elements" yaml:"elements"`
}

// SortedElements returns a copy of the elements in ascending Order.
// Ties keep their store order.
func (p Product) SortedElements() []Element {
	out := make([]Element, len(p.Elements))
	copy(out, p.Elements)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Order < out[j].Order
	})
	return out
}

type Contact struct {
	Phone          string    `json:"phone"`
	Name           string    `json:"name"`
	FirstMessageAt time.Time `json:"first_message_at"`
}

type FAQ struct {
	ID       int64  `json:"id" yaml:"-"`
	Question string `json:"question" yaml:"question"`
	Keywords string `json:"keywords" yaml:"keywords"`
	Answer   string `json:"answer" yaml:"answer"`
}

// Store is the read side of the product catalog.
// FindByKeywordOrName returns (nil, nil) when no product matches.
type Store interface {
	FindByKeywordOrName(ctx context.Context, id string) (*Product, error)
	ListAll(ctx context.Context) ([]Product, error)
}

// ContactStore returns (nil, nil) from FindByPhone for unknown numbers.
// CreateContact reports created=false when the phone already exists.
type ContactStore interface {
	FindByPhone(ctx context.Context, phone string) (*Contact, error)
	CreateContact(ctx context.Context, c Contact) (created bool, err error)
}

type FAQStore interface {
	ListFAQs(ctx context.Context) ([]FAQ, error)
}
