package catalog

import "testing"

func TestSortedElementsAscendingAndStable(t *testing.T) {
	p := Product{Elements: []Element{
		{ID: 1, Order: 3},
		{ID: 2, Order: 1},
		{ID: 3, Order: 2},
		{ID: 4, Order: 1},
	}}

	got := p.SortedElements()
	wantIDs := []int64{2, 4, 3, 1}
	for i, id := range wantIDs {
		if got[i].ID != id {
			t.Fatalf("position %d: got element %d, want %d", i, got[i].ID, id)
		}
	}
	if p.Elements[0].ID != 1 {
		t.Fatalf("SortedElements must not reorder the product in place")
	}
}
