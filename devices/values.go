package devices

// Vectorize converts a homogeneous numeric JSON array into []float64, the
// signal that a property or result is a numeric vector. Anything else —
// scalars, mixed arrays, objects — passes through untouched.
func Vectorize(v any) any {
	list, ok := v.([]any)
	if !ok {
		return v
	}
	vec := make([]float64, len(list))
	for i, elem := range list {
		n, ok := elem.(float64)
		if !ok {
			return v
		}
		vec[i] = n
	}
	return vec
}

// AsVector reports whether a value returned by GetProperty or Call decoded
// as a numeric vector.
func AsVector(v any) ([]float64, bool) {
	vec, ok := v.([]float64)
	return vec, ok
}
