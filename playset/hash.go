package playset

import (
	"sort"
	"strconv"
)

// Structural hash over a JSON-shaped value. Clients recompute the same hash
// over their reconstructed state, so every constant here is wire protocol
// and must never change.
//
// Leaf values: null=100, true=102, false=103. Containers and scalars carry a
// kind prefix (array=105, number=106, string=107, object=108, other=109) and
// containers and strings a trailing suffix (200 and 300). 101 is reserved
// for the undefined value of dynamic clients; it cannot occur in a
// JSON-shaped Go value.
//
// The scalar renderings are wire protocol too. A number folds the bytes of
// strconv.FormatFloat(v, 'g', -1, 64): the shortest round-trip digits, with
// the exponent form used once the decimal exponent is below -4 or reaches
// the digit count, and a two-digit signed exponent. So 123456 folds as
// "123456" but 1e7 folds as "1e+07", and negative zero folds as "0". A
// string folds one value per Unicode code point, not per UTF-16 unit.
// Clients whose native renderings differ (for instance JavaScript's
// Number.prototype.toString and charCodeAt) must reproduce these forms
// exactly.

const hashModulus = 2147483647

func combine(a, b int64) int64 {
	return (a*65537 + b*8191 + 127) % hashModulus
}

// StructuralHash hashes a value as produced by encoding/json unmarshalling
// into any: nil, bool, float64, string, []any, map[string]any. Integer Go
// values are accepted and hashed as their numeric rendering. Anything else
// hashes to the "other" bucket.
func StructuralHash(v any) int64 {
	switch val := v.(type) {
	case nil:
		return 100
	case bool:
		if val {
			return 102
		}
		return 103
	case float64:
		return numberHash(val)
	case int:
		return numberHash(float64(val))
	case int64:
		return numberHash(float64(val))
	case string:
		return stringHash(val)
	case []any:
		h := int64(105)
		for _, elem := range val {
			h = combine(h, StructuralHash(elem))
		}
		return combine(h, 200)
	case map[string]any:
		h := int64(108)
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			h = combine(h, stringHash(k))
			h = combine(h, StructuralHash(val[k]))
		}
		return combine(h, 200)
	default:
		return 109
	}
}

func numberHash(f float64) int64 {
	if f == 0 {
		f = 0 // coerce negative zero
	}
	h := int64(106)
	for _, c := range strconv.FormatFloat(f, 'g', -1, 64) {
		h = combine(h, int64(c))
	}
	return h
}

func stringHash(s string) int64 {
	h := int64(107)
	for _, r := range s {
		h = combine(h, int64(r))
	}
	return combine(h, 300)
}
