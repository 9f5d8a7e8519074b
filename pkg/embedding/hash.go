package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// DefaultDimensions is the vector length of a HashProvider built with size 0.
const DefaultDimensions = 256

// HashProvider is a deterministic bag-of-tokens embedding. Each lower-cased
// token is hashed into a signed bucket, so texts sharing words point in similar
// directions. It needs no network and is used in tests and offline runs.
type HashProvider struct {
	dims int
}

// NewHashProvider returns a HashProvider producing vectors of length dims.
func NewHashProvider(dims int) *HashProvider {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &HashProvider{dims: dims}
}

// Dimensions implements Provider.
func (h *HashProvider) Dimensions() int {
	return h.dims
}

// Embed implements Provider. Empty text yields a zero vector.
func (h *HashProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, h.dims)
	for _, token := range tokenize(text) {
		hasher := fnv.New64a()
		_, _ = hasher.Write([]byte(token))
		sum := hasher.Sum64()

		idx := int(sum % uint64(h.dims))
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	return Normalize(vec), nil
}

// tokenize splits on anything that is not a letter or digit. Han characters
// are emitted one per token since they are not space separated.
func tokenize(text string) []string {
	var (
		tokens  []string
		current strings.Builder
	)
	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			current.WriteRune(r)
		default:
			flush()
		}
	}
	flush()

	return tokens
}
