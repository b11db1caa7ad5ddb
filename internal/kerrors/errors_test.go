package kerrors

import (
	"errors"
	"testing"
)

func TestIs_MatchesWrappedKind(t *testing.T) {
	base := errors.New("lock wait timeout")
	err := Transient("queue.next_ready", base)

	if !Is(err, KindTransient) {
		t.Fatal("expected KindTransient to match")
	}
	if Is(err, KindNotFound) {
		t.Fatal("did not expect KindNotFound to match")
	}
}

func TestIs_FalseForPlainError(t *testing.T) {
	if Is(errors.New("plain"), KindValidation) {
		t.Fatal("plain errors should never match a Kind")
	}
}

func TestError_UnwrapsCause(t *testing.T) {
	cause := errors.New("boom")
	err := New(KindExternalTimeout, "llmgateway.call", cause)

	if !errors.Is(err, cause) {
		t.Fatal("errors.Is should see through to the wrapped cause")
	}
}

func TestError_MessageIncludesOpAndKind(t *testing.T) {
	err := Validationf("validation.transition", "cannot move from %s to %s", "done", "running")
	want := "validation.transition: validation: cannot move from done to running"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestError_NilCauseOmitsColonColon(t *testing.T) {
	err := New(KindInvariant, "dedup.cache", nil)
	want := "dedup.cache: invariant"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}
