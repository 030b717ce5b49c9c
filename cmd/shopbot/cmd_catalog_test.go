package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"shopbot/pkg/store"
)

const sampleSeed = `products:
  - name: Sac cuir
    keyword: "123_456"
    synonym: sac
    elements:
      - type: image
        image_url: /uploads/sac.jpg
        caption: Sac en cuir
        order: 1
      - type: text
        content: "Prix : 25 000 FCFA"
        order: 2
  - name: Montre
    keyword: montre
    elements:
      - type: text
        content: Montre argent
        order: 1
faqs:
  - question: livraison
    keywords: delai, livrer
    answer: Livraison en 48h.
`

func writeSeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	return path
}

func TestImportCatalog(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "shop.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	var out bytes.Buffer
	path := writeSeed(t, sampleSeed)
	if err := importCatalog(ctx, db, path, &out); err != nil {
		t.Fatalf("importCatalog: %v", err)
	}
	// a second import replaces rather than duplicates
	if err := importCatalog(ctx, db, path, &out); err != nil {
		t.Fatalf("re-import: %v", err)
	}

	products, err := db.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("expected 2 products, got %d", len(products))
	}
	p, err := db.FindByKeywordOrName(ctx, "123_456")
	if err != nil || p == nil {
		t.Fatalf("FindByKeywordOrName: %v %v", p, err)
	}
	if len(p.Elements) != 2 || p.Elements[0].ImageURL != "/uploads/sac.jpg" {
		t.Fatalf("unexpected elements: %+v", p.Elements)
	}
	faqs, err := db.ListFAQs(ctx)
	if err != nil || len(faqs) != 1 {
		t.Fatalf("ListFAQs = %v, %v", faqs, err)
	}

	out.Reset()
	if err := listCatalog(ctx, db, &out); err != nil {
		t.Fatalf("listCatalog: %v", err)
	}
	if !strings.Contains(out.String(), "Sac cuir") || !strings.Contains(out.String(), "montre") {
		t.Fatalf("unexpected listing:\n%s", out.String())
	}
}

func TestLoadSeedFileRejectsInvalidEntries(t *testing.T) {
	tests := map[string]string{
		"missing keyword": "products:\n  - name: Sac\n",
		"duplicate name":  "products:\n  - {name: Sac, keyword: a}\n  - {name: Sac, keyword: b}\n",
		"bad element":     "products:\n  - name: Sac\n    keyword: sac\n    elements:\n      - {type: video, order: 1}\n",
		"empty image":     "products:\n  - name: Sac\n    keyword: sac\n    elements:\n      - {type: image, order: 1}\n",
		"faq answer":      "faqs:\n  - question: livraison\n",
		"not yaml":        "products: [",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := loadSeedFile(writeSeed(t, content)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
