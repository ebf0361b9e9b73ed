package emitter

import (
	"context"
	"testing"

	"github.com/arpa2/pulley/internal/sqlstore"
)

type fakeSink struct {
	adds, dels int
}

func (f *fakeSink) Add(ctx context.Context, driverLineHash uint32, values [][]byte) error {
	f.adds++
	return nil
}

func (f *fakeSink) Del(ctx context.Context, driverLineHash uint32, values [][]byte) error {
	f.dels++
	return nil
}

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint(0x1234, [][]byte{[]byte("x"), []byte("y")})
	b := Fingerprint(0x1234, [][]byte{[]byte("x"), []byte("y")})
	if a != b {
		t.Fatalf("fingerprint not deterministic: %#x != %#x", a, b)
	}

	c := Fingerprint(0x1234, [][]byte{[]byte("x"), []byte("z")})
	if a == c {
		t.Fatal("differing values hashed identically")
	}
}

func TestEmitFiresOnlyOnTransition(t *testing.T) {
	ctx := context.Background()
	store, err := sqlstore.Open(ctx, "", 0x2)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	e := New(store, nil)
	sink := &fakeSink{}
	values := [][]byte{[]byte("dup")}

	// two adds of the identical tuple: only the first should fire the backend.
	if err := e.Emit(ctx, sink, 0xaa, values, true); err != nil {
		t.Fatalf("Emit 1: %v", err)
	}
	if err := e.Emit(ctx, sink, 0xaa, values, true); err != nil {
		t.Fatalf("Emit 2: %v", err)
	}
	if sink.adds != 1 {
		t.Fatalf("expected exactly 1 backend add call, got %d", sink.adds)
	}

	// one delete brings the count back to 1, no callback; the second
	// delete crosses 1->0 and should fire.
	if err := e.Emit(ctx, sink, 0xaa, values, false); err != nil {
		t.Fatalf("Emit del 1: %v", err)
	}
	if sink.dels != 0 {
		t.Fatalf("expected no del callback yet, got %d", sink.dels)
	}
	if err := e.Emit(ctx, sink, 0xaa, values, false); err != nil {
		t.Fatalf("Emit del 2: %v", err)
	}
	if sink.dels != 1 {
		t.Fatalf("expected exactly 1 backend del call, got %d", sink.dels)
	}
}
