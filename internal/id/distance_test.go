package id

import "testing"

func TestDistance_SymmetricAndZero(t *testing.T) {
	a, _ := Random()
	b, _ := Random()

	if Distance(a, a) != Zero {
		t.Fatalf("d(a,a) should be zero")
	}
	if Distance(a, b) != Distance(b, a) {
		t.Fatalf("distance is not symmetric")
	}
}

func TestDistance_TriangleInequality(t *testing.T) {
	a, _ := Random()
	b, _ := Random()
	c, _ := Random()

	dac := Distance(a, c)
	dab := Distance(a, b)
	dbc := Distance(b, c)

	max := dab
	if dbc.Cmp(max) > 0 {
		max = dbc
	}

	if dac.Cmp(max) > 0 {
		t.Fatalf("XOR metric violates strict triangle inequality: d(a,c)=%s > max(d(a,b),d(b,c))=%s", dac, max)
	}
}

func TestCompareDistance_KnownVector(t *testing.T) {
	a, err := FromHex("00000000f528d613" + hexRepeat("00")[:48])
	if err != nil {
		t.Fatalf("from hex a: %v", err)
	}
	b, err := FromHex("00000000f0a8d613" + hexRepeat("00")[:48])
	if err != nil {
		t.Fatalf("from hex b: %v", err)
	}

	d := Distance(a, b)
	want, err := FromHex("0000000005800000" + hexRepeat("00")[:48])
	if err != nil {
		t.Fatalf("from hex want: %v", err)
	}
	if d != want {
		t.Fatalf("Distance() = %s, want %s", d.Hex(), want.Hex())
	}
}
