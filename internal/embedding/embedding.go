// Package embedding validates embedding vectors and provides the numeric
// routines used to judge their quality.
package embedding

import "math"

// Vector is a float32 embedding vector.
type Vector = []float32

// CosineSimilarity computes cosine similarity between two vectors.
// It returns 0 when the lengths differ, a vector is empty, or either norm is 0.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Magnitude returns the Euclidean norm of v.
func Magnitude(v Vector) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Sparsity returns the fraction of elements whose absolute value is below
// threshold. An empty vector has sparsity 0.
func Sparsity(v Vector, threshold float32) float64 {
	if len(v) == 0 {
		return 0
	}
	zeros := 0
	for _, x := range v {
		if abs32(x) < threshold {
			zeros++
		}
	}
	return float64(zeros) / float64(len(v))
}

// IsZero reports whether every element is within threshold of zero.
func IsZero(v Vector, threshold float32) bool {
	for _, x := range v {
		if !(abs32(x) < threshold) {
			return false
		}
	}
	return true
}

// Normalize returns a unit-length copy of v. A zero vector is returned unchanged.
func Normalize(v Vector) Vector {
	out := make(Vector, len(v))
	mag := Magnitude(v)
	if mag == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / mag)
	}
	return out
}

// FirstNonFinite returns the index of the first NaN or infinite element, or -1.
func FirstNonFinite(v Vector) int {
	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return i
		}
	}
	return -1
}

func abs32(x float32) float32 {
	return float32(math.Abs(float64(x)))
}
