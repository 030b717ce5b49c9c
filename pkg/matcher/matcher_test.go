package matcher

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"shopbot/pkg/catalog"
)

func TestNormalizeFoldsAccents(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Étui", "etui"},
		{"Crème BRÛLÉE", "creme brulee"},
		{"déjà vu !", "deja vu !"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWordsStripsPunctuation(t *testing.T) {
	got := Words(Normalize("Bonjour, je veux l'étui... svp!"))
	want := []string{"bonjour", "je", "veux", "letui", "svp"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Words mismatch (-want +got):\n%s", diff)
	}
}

func TestKeywordsSplitsSynonyms(t *testing.T) {
	p := catalog.Product{Keyword: " Sac Rouge ", Synonym: "cabas;; Tote|besace,,"}
	got := Keywords(p)
	want := []string{"sac rouge", "cabas", "tote", "besace"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Keywords mismatch (-want +got):\n%s", diff)
	}
}

func TestMatchPhraseBySubstring(t *testing.T) {
	products := []catalog.Product{{ID: 1, Keyword: "sac rouge"}}
	got := Match("je veux un sac rouge svp", products)
	if len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("expected phrase keyword to match, got %+v", got)
	}
}

func TestMatchSingleWordNeedsTokenBoundary(t *testing.T) {
	products := []catalog.Product{{ID: 1, Keyword: "sac"}}
	if got := Match("besoin dun sacrement", products); len(got) != 0 {
		t.Fatalf("single-word keyword must not match inside a longer word, got %+v", got)
	}
	if got := Match("besoin d'un sac.", products); len(got) != 1 {
		t.Fatalf("single-word keyword should match a whole token, got %+v", got)
	}
}

func TestMatchAccentFolding(t *testing.T) {
	products := []catalog.Product{{ID: 7, Keyword: "étui"}}
	if got := Match("vous avez un etui pour iphone ?", products); len(got) != 1 {
		t.Fatalf("accented keyword should match unaccented message, got %+v", got)
	}
	if got := Match("Un ÉTUI svp", products); len(got) != 1 {
		t.Fatalf("accented message should match too, got %+v", got)
	}
}

func TestMatchReturnsEveryMatchingProduct(t *testing.T) {
	products := []catalog.Product{
		{ID: 1, Keyword: "robe", Synonym: "tenue"},
		{ID: 2, Keyword: "chaussure"},
		{ID: 3, Keyword: "robe de soiree"},
		{ID: 4, Keyword: "ceinture", Synonym: "tenue|accessoire"},
	}
	got := Match("une tenue ou une robe de soirée", products)
	var ids []int64
	for _, p := range got {
		ids = append(ids, p.ID)
	}
	if diff := cmp.Diff([]int64{1, 3, 4}, ids); diff != "" {
		t.Fatalf("matched ids mismatch (-want +got):\n%s", diff)
	}
}

func TestMatchNoResultIsEmpty(t *testing.T) {
	products := []catalog.Product{{ID: 1, Keyword: "robe"}}
	if got := Match("bonjour", products); len(got) != 0 {
		t.Fatalf("expected no match, got %+v", got)
	}
	if got := Match("robe", []catalog.Product{{ID: 2, Keyword: "  ", Synonym: ";;"}}); len(got) != 0 {
		t.Fatalf("empty keywords must never match, got %+v", got)
	}
}

func TestMatchFAQ(t *testing.T) {
	faqs := []catalog.FAQ{
		{ID: 1, Question: "livraison", Keywords: "expedition, delai de livraison", Answer: "48h"},
		{ID: 2, Question: "paiement", Answer: "Wave ou Orange Money"},
	}
	got := MatchFAQ("Quel est le délai de livraison ?", faqs)
	if len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("expected livraison faq, got %+v", got)
	}
}
