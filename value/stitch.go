package value

// Stitch merges b into a and returns the progressively more complete value.
//
//   - Map + Map: union of keys, each shared key stitched; a key present on
//     one side only keeps that side's value.
//   - List + List: the overlapping prefix is stitched element-wise and the
//     tail of the longer list is appended.
//   - String + String: concatenation.
//   - anything else: b when b is non-empty, otherwise a.
//
// Stitch never panics, keeps no state and does not mutate its inputs.
func Stitch(a, b Value) Value {
	switch x := a.(type) {
	case Map:
		if y, ok := b.(Map); ok {
			return stitchMaps(x, y)
		}
	case List:
		if y, ok := b.(List); ok {
			return stitchLists(x, y)
		}
	case String:
		if y, ok := b.(String); ok {
			return x + y
		}
	}

	if !IsEmpty(b) {
		return b
	}
	if a == nil {
		return Null{}
	}
	return a
}

func stitchMaps(a, b Map) Map {
	out := make(Map, len(a)+len(b))
	for k, av := range a {
		if bv, ok := b[k]; ok {
			out[k] = Stitch(av, bv)
			continue
		}
		out[k] = av
	}
	for k, bv := range b {
		if _, seen := a[k]; !seen {
			out[k] = bv
		}
	}
	return out
}

func stitchLists(a, b List) List {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make(List, n)
	for i := 0; i < n; i++ {
		switch {
		case i < len(a) && i < len(b):
			out[i] = Stitch(a[i], b[i])
		case i < len(a):
			out[i] = a[i]
		default:
			out[i] = b[i]
		}
	}
	return out
}

// StitchAll folds Stitch over chunks left to right starting from Null.
func StitchAll(chunks ...Value) Value {
	var acc Value = Null{}
	for _, c := range chunks {
		acc = Stitch(acc, c)
	}
	return acc
}
