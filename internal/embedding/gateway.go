// Package embedding implements the Embedding Gateway contract: a fixed
// 1536-dimension vector space that every subsystem embeds into, so cosine
// similarity is comparable across entity types (spec.md §4.4).
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strings"
	"unicode"

	"github.com/taskkernel/core/internal/kerrors"
)

// Dimension is the fixed embedding width every vector in storage is padded
// or truncated to.
const Dimension = 1536

// Provider produces embeddings for text, typically backed by an external
// LLM/embedding API. Implementations may return fewer than Dimension floats;
// Gateway zero-pads the remainder.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)
}

// Gateway wraps a Provider with dimension normalization, content hashing,
// and cosine similarity, so callers never touch a provider's native
// dimensionality directly.
type Gateway struct {
	provider Provider
}

// NewGateway constructs a Gateway over the given provider.
func NewGateway(provider Provider) *Gateway {
	return &Gateway{provider: provider}
}

// Embed returns a Dimension-wide vector for text.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := g.provider.Embed(ctx, text)
	if err != nil {
		return nil, kerrors.ExternalTimeout("embedding.embed", err)
	}
	return normalize(vec), nil
}

// BatchEmbed embeds multiple texts in one round trip, normalizing each
// result to Dimension.
func (g *Gateway) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := g.provider.BatchEmbed(ctx, texts)
	if err != nil {
		return nil, kerrors.ExternalTimeout("embedding.batch_embed", err)
	}
	out := make([][]float32, len(vecs))
	for i, v := range vecs {
		out[i] = normalize(v)
	}
	return out, nil
}

// normalize zero-pads a shorter vector or truncates a longer one to exactly
// Dimension, so providers with a narrower native width (e.g. a 768-dim
// local model) stay comparable to the rest of the corpus.
func normalize(vec []float32) []float32 {
	if len(vec) == Dimension {
		return vec
	}
	out := make([]float32, Dimension)
	copy(out, vec)
	return out
}

// CosineSimilarity returns the cosine similarity of a and b in [-1, 1].
// Vectors of unequal length are treated as normalize()'d first.
func CosineSimilarity(a, b []float32) float64 {
	a, b = normalize(a), normalize(b)

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

// NormalizeText lowercases, collapses whitespace, and strips punctuation so
// near-identical task descriptions hash identically for exact-match
// deduplication (spec.md §4.4 phase 1).
func NormalizeText(s string) string {
	var b strings.Builder
	lastWasSpace := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsSpace(r):
			if !lastWasSpace && b.Len() > 0 {
				b.WriteRune(' ')
			}
			lastWasSpace = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			// dropped
		default:
			b.WriteRune(r)
			lastWasSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}

// ContentHash returns the SHA-256 hex digest of the normalized text, the key
// used for exact-match deduplication.
func ContentHash(s string) string {
	sum := sha256.Sum256([]byte(NormalizeText(s)))
	return hex.EncodeToString(sum[:])
}
