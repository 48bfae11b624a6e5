package id

import "math/bits"

// Distance computes the Kademlia XOR distance d(a,b) = a ⊕ b.
func Distance(a, b Id) Id {
	var d Id
	for i := 0; i < Size; i++ {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// CompareDistance reports whether a or b is closer to target:
// -1 if a is closer, 1 if b is closer, 0 if equidistant.
func CompareDistance(target, a, b Id) int {
	da := Distance(target, a)
	db := Distance(target, b)
	return da.Cmp(db)
}

// CommonPrefixLen returns the number of leading bits a and b share,
// i.e. the bit position of the highest set bit in d(a,b), counted from
// the most significant bit. Identical ids return Size*8.
func CommonPrefixLen(a, b Id) int {
	d := Distance(a, b)
	for i := 0; i < Size; i++ {
		if d[i] != 0 {
			return i*8 + bits.LeadingZeros8(d[i])
		}
	}
	return Size * 8
}
