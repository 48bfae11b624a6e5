package id

import "testing"

func TestId_HexRoundTrip(t *testing.T) {
	want, err := Random()
	if err != nil {
		t.Fatalf("random: %v", err)
	}

	got, err := FromHex(want.Hex())
	if err != nil {
		t.Fatalf("from hex: %v", err)
	}
	if got != want {
		t.Fatalf("hex round trip mismatch: got %s want %s", got, want)
	}
}

func TestId_Base58RoundTrip(t *testing.T) {
	want, err := Random()
	if err != nil {
		t.Fatalf("random: %v", err)
	}

	got, err := FromBase58(want.Base58())
	if err != nil {
		t.Fatalf("from base58: %v", err)
	}
	if got != want {
		t.Fatalf("base58 round trip mismatch: got %s want %s", got, want)
	}
}

func TestId_Base58KnownVector(t *testing.T) {
	got, err := FromBase58("HZXXs9LTfNQjrDKvvexRhuMk8TTJhYCfrHwaj3jUzuhZ")
	if err != nil {
		t.Fatalf("from base58: %v", err)
	}
	if len(got) != Size {
		t.Fatalf("expected %d bytes, got %d", Size, len(got))
	}

	reencoded, err := FromHex(got.Hex())
	if err != nil || reencoded != got {
		t.Fatalf("hex re-encoding does not match canonical form")
	}
}

func TestId_ZeroAndMaxHex(t *testing.T) {
	if got, want := Zero.Hex(), hexRepeat("00"); got != want {
		t.Fatalf("Zero.Hex() = %s, want %s", got, want)
	}
	if got, want := Max.Hex(), hexRepeat("ff"); got != want {
		t.Fatalf("Max.Hex() = %s, want %s", got, want)
	}
}

func hexRepeat(pair string) string {
	out := make([]byte, 0, Size*2)
	for i := 0; i < Size; i++ {
		out = append(out, pair...)
	}
	return string(out)
}

func TestId_CmpTotalOrder(t *testing.T) {
	a, _ := Random()
	b, _ := Random()

	if a.Cmp(a) != 0 {
		t.Fatalf("a.Cmp(a) should be 0")
	}
	if a.Cmp(b) == -b.Cmp(a) {
		return
	}
	t.Fatalf("Cmp is not antisymmetric")
}
