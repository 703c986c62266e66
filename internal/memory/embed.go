// ABOUTME: Embedder interface and a local deterministic feature-hashing embedder
// ABOUTME: Text is NFKC-normalized and case-folded, tokens are hashed, mean-pooled, and L2-normalized

package memory

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// ErrEmptyText is returned when there is nothing to embed.
var ErrEmptyText = errors.New("empty text")

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimensions is the length of every vector Embed returns.
	Dimensions() int
	// Model tags stored vectors so a model change can be detected.
	Model() string
}

// HashModel is the model tag prefix of HashEmbedder.
const HashModel = "hash-v1"

// DefaultDimensions is the HashEmbedder vector length when none is configured.
const DefaultDimensions = 256

// HashEmbedder is a local embedder using the hashing trick. Identical text
// always yields the identical vector and texts sharing words score higher.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder returns an embedder producing vectors of dims length.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &HashEmbedder{dims: dims}
}

func (e *HashEmbedder) Dimensions() int { return e.dims }

func (e *HashEmbedder) Model() string {
	return fmt.Sprintf("%s/%d", HashModel, e.dims)
}

// Embed hashes each token into a signed bucket, mean-pools the token vectors
// and L2-normalizes the result.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil, ErrEmptyText
	}

	sum := make([]float64, e.dims)
	for _, tok := range tokens {
		h := fnv.New64a()
		h.Write([]byte(tok))
		v := h.Sum64()

		sign := 1.0
		if v>>63 == 1 {
			sign = -1.0
		}
		sum[v%uint64(e.dims)] += sign
	}

	var norm2 float64
	for i := range sum {
		sum[i] /= float64(len(tokens))
		norm2 += sum[i] * sum[i]
	}
	if norm2 == 0 {
		return nil, fmt.Errorf("embedding %d tokens produced a zero vector", len(tokens))
	}

	inv := 1 / math.Sqrt(norm2)
	vec := make([]float32, e.dims)
	for i, x := range sum {
		vec[i] = float32(x * inv)
	}
	return vec, nil
}

// Tokenize normalizes text (NFKC, case folding) and splits it into words.
func Tokenize(text string) []string {
	folded := cases.Fold().String(norm.NFKC.String(text))
	return strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// EmbedderFunc adapts a function to the Embedder interface.
type EmbedderFunc struct {
	Fn    func(ctx context.Context, text string) ([]float32, error)
	Dims  int
	Label string
}

func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.Fn(ctx, text)
}

func (f EmbedderFunc) Dimensions() int { return f.Dims }

func (f EmbedderFunc) Model() string { return f.Label }
