package embedding

import "math"

// CosineSimilarity calculates cosine similarity between two vectors.
// Returns a value between -1 and 1, where 1 means identical direction.
// Mismatched lengths and zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0.0
	}

	var dot, normA, normB float64
	for i := 0; i < len(a); i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0.0 || normB == 0.0 {
		return 0.0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// DotProduct calculates the dot product between two vectors.
// Equivalent to cosine similarity when both vectors are L2-normalized.
func DotProduct(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0.0
	}

	var result float64
	for i := 0; i < len(a); i++ {
		result += float64(a[i]) * float64(b[i])
	}
	return result
}

// NormalizeL2 returns a copy of the vector scaled to unit length.
// Zero vectors are returned as a copy unchanged.
func NormalizeL2(vector []float32) []float32 {
	out := make([]float32, len(vector))
	copy(out, vector)

	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}
	if norm == 0.0 {
		return out
	}

	scale := 1.0 / math.Sqrt(norm)
	for i := range out {
		out[i] = float32(float64(out[i]) * scale)
	}
	return out
}

// CombineEmbeddings collapses a set of vectors into their element-wise mean.
// All vectors are assumed to share the dimension of the first.
func CombineEmbeddings(embeddings [][]float32) []float32 {
	if len(embeddings) == 0 {
		return nil
	}

	sum := SumVectors(embeddings)
	n := float32(len(embeddings))
	for i := range sum {
		sum[i] /= n
	}
	return sum
}

// SumVectors returns the element-wise sum of a set of vectors.
func SumVectors(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}

	sum := make([]float32, len(vectors[0]))
	for _, vec := range vectors {
		for i, v := range vec {
			if i < len(sum) {
				sum[i] += v
			}
		}
	}
	return sum
}
