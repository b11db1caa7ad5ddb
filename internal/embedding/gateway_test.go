package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	vec []float32
}

func (f fakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vec, nil
}

func (f fakeProvider) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

func TestGateway_Embed_PadsToFixedDimension(t *testing.T) {
	gw := NewGateway(fakeProvider{vec: []float32{1, 2, 3}})
	vec, err := gw.Embed(context.Background(), "hello")
	require.NoError(t, err)
	require.Len(t, vec, Dimension)
	require.Equal(t, float32(1), vec[0])
	require.Equal(t, float32(0), vec[Dimension-1])
}

func TestCosineSimilarity_IdenticalVectorsIsOne(t *testing.T) {
	a := []float32{1, 2, 3}
	require.InDelta(t, 1.0, CosineSimilarity(a, a), 1e-9)
}

func TestCosineSimilarity_OrthogonalVectorsIsZero(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	require.InDelta(t, 0.0, CosineSimilarity(a, b), 1e-9)
}

func TestCosineSimilarity_ZeroVectorIsZero(t *testing.T) {
	require.Equal(t, 0.0, CosineSimilarity(nil, []float32{1, 2}))
}

func TestNormalizeText_CollapsesWhitespaceAndPunctuation(t *testing.T) {
	require.Equal(t, "fix the bug in auth", NormalizeText("  Fix   the BUG, in auth!! "))
}

func TestContentHash_StableAcrossEquivalentText(t *testing.T) {
	h1 := ContentHash("Fix the login bug")
	h2 := ContentHash("fix the login bug.")
	require.Equal(t, h1, h2)
}

func TestContentHash_DiffersForDifferentText(t *testing.T) {
	require.NotEqual(t, ContentHash("a"), ContentHash("b"))
}
