package adaptive

// Halton returns element index of the van der Corput sequence in base. Index
// 0 maps to 0.
func Halton(index, base int) float64 {
	result := 0.0
	f := 1 / float64(base)
	for i := index; i > 0; i /= base {
		result += f * float64(i%base)
		f /= float64(base)
	}
	return result
}

// haltonPoint is the index-th point of the 3-D Halton sequence over bases
// 2, 3 and 5.
func haltonPoint(index int) [3]float64 {
	return [3]float64{Halton(index, 2), Halton(index, 3), Halton(index, 5)}
}
