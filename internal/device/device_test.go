package device

import "testing"

func TestResolveCPUFullPrecision(t *testing.T) {
	sel, err := Resolve(false, 32)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if sel.Kind != CPU {
		t.Fatalf("expected cpu, got %s", sel.Kind)
	}
	if sel.Precision != Full32 {
		t.Fatalf("expected 32-bit, got %s", sel.Precision)
	}
}

func TestResolveReducedPrecisionNeverInvalid(t *testing.T) {
	sel, err := Resolve(false, 16)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if sel.Precision != Reduced16 && sel.Precision != Full32 {
		t.Fatalf("unexpected precision %s", sel.Precision)
	}

	// Resolution is a pure function of the host; repeated calls must agree.
	again, err := Resolve(false, 16)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if again != sel {
		t.Fatalf("resolution not stable: %+v vs %+v", sel, again)
	}
}

func TestResolveRejectsUnknownPrecision(t *testing.T) {
	if _, err := Resolve(false, 8); err == nil {
		t.Fatal("expected error for 8-bit precision")
	}
}
