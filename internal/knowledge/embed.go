package knowledge

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
	"github.com/philippgille/chromem-go"
)

// DefaultDimensions is used when no dimension count is configured.
const DefaultDimensions = 256

// HashEmbedder maps text to a normalized bag-of-tokens vector using the
// hashing trick. Identifiers are split on case and punctuation so that
// "parseConfig" matches "parse config".
type HashEmbedder struct {
	Dimensions int
}

// Func returns the embedder as a chromem embedding function.
func (h HashEmbedder) Func() chromem.EmbeddingFunc {
	return func(_ context.Context, text string) ([]float32, error) {
		return h.Embed(text), nil
	}
}

// Embed returns the vector for text.
func (h HashEmbedder) Embed(text string) []float32 {
	dims := h.Dimensions
	if dims <= 0 {
		dims = DefaultDimensions
	}
	vec := make([]float32, dims)
	for _, tok := range tokenize(text) {
		sum := xxhash.Sum64String(tok)
		sign := float32(1)
		if sum&(1<<63) != 0 {
			sign = -1
		}
		vec[sum%uint64(dims)] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	if norm == 0 {
		// chromem rejects zero vectors.
		vec[0] = 1
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}

func tokenize(text string) []string {
	var (
		tokens []string
		cur    strings.Builder
		prev   rune
	)
	flush := func() {
		if cur.Len() > 1 {
			tokens = append(tokens, cur.String())
		}
		cur.Reset()
	}
	for _, r := range text {
		switch {
		case unicode.IsUpper(r) && unicode.IsLower(prev):
			flush()
			cur.WriteRune(unicode.ToLower(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			cur.WriteRune(unicode.ToLower(r))
		default:
			flush()
		}
		prev = r
	}
	flush()
	return tokens
}
