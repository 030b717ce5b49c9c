package errkind

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfWrapped(t *testing.T) {
	base := New(SessionLost, "send_text", errors.New("websocket closed"))
	wrapped := fmt.Errorf("deliver element 2: %w", base)

	if got := KindOf(wrapped); got != SessionLost {
		t.Fatalf("KindOf = %s, want session_lost", got)
	}
	if !Is(wrapped, SessionLost) || Is(wrapped, TransientIO) {
		t.Fatalf("Is mismatch for %v", wrapped)
	}
	if !KindOf(wrapped).Fatal() {
		t.Fatalf("session loss must be fatal")
	}
}

func TestUnclassified(t *testing.T) {
	if KindOf(errors.New("plain")) != Unknown {
		t.Fatalf("plain errors are unknown")
	}
	if Is(nil, NotFound) {
		t.Fatalf("nil is never classified")
	}
	if NotFound.Fatal() || TransientIO.Fatal() {
		t.Fatalf("not found and transient io are non-fatal")
	}
}
