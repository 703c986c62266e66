// ABOUTME: Tests for the semantic memory index, embedder, cosine similarity, and embedding cache
// ABOUTME: Covers ranking, persistence round-trips, account isolation, model tags, and failure propagation

package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/2389/hearth/internal/identity"
	"github.com/2389/hearth/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fixedEmbedder returns preset vectors and counts calls.
type fixedEmbedder struct {
	vectors map[string][]float32
	calls   atomic.Int32
	err     error
}

func (f *fixedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no vector for %q", text)
	}
	return v, nil
}

func (f *fixedEmbedder) Dimensions() int { return 3 }
func (f *fixedEmbedder) Model() string   { return "fixed-3" }

func fruitEmbedder() *fixedEmbedder {
	return &fixedEmbedder{vectors: map[string][]float32{
		"apple":  {1, 0, 0},
		"banana": {0.8, 0.6, 0},
		"cherry": {0, 0, 1},
		"fruit":  {1, 0, 0},
	}}
}

type harness struct {
	db  *store.MockStore
	src *identity.StaticSource
}

func newHarness() *harness {
	return &harness{db: store.NewMockStore(), src: identity.NewStaticSource("did:a")}
}

func (h *harness) index(t *testing.T, e Embedder) *Index {
	t.Helper()
	resolver := identity.NewResolver(h.src, nil, identity.Options{})
	x := NewIndex(NewAdapter(h.db, resolver, nil), e, Options{})
	t.Cleanup(x.Close)
	require.NoError(t, x.Load(context.Background()))
	return x
}

func TestIndex_RankingIsStrictlyDescending(t *testing.T) {
	ctx := context.Background()
	x := newHarness().index(t, fruitEmbedder())

	for _, text := range []string{"cherry", "banana", "apple"} {
		_, err := x.Save(ctx, text, nil)
		require.NoError(t, err)
	}

	matches, err := x.QueryVector([]float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 3)

	assert.Equal(t, "apple", matches[0].Text)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-6)
	assert.Equal(t, "banana", matches[1].Text)
	assert.Equal(t, "cherry", matches[2].Text)
	for i := 1; i < len(matches); i++ {
		assert.Greater(t, matches[i-1].Similarity, matches[i].Similarity)
	}

	matches, err = x.Query(ctx, "fruit", 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "apple", matches[0].Text)
}

func TestIndex_DefaultLimit(t *testing.T) {
	ctx := context.Background()
	x := newHarness().index(t, NewHashEmbedder(64))

	for i := range 8 {
		_, err := x.Save(ctx, fmt.Sprintf("note number %d", i), nil)
		require.NoError(t, err)
	}

	matches, err := x.Query(ctx, "note", 0)
	require.NoError(t, err)
	assert.Len(t, matches, DefaultLimit)
}

func TestIndex_EmbeddingFailurePropagates(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	e := fruitEmbedder()
	e.err = errors.New("model unavailable")
	x := h.index(t, e)

	id, err := x.Save(ctx, "apple", map[string]any{"k": "v"})
	assert.ErrorIs(t, err, e.err)
	assert.Empty(t, id)
	assert.Equal(t, 0, x.Len())
	assert.Equal(t, 0, h.db.Writes(), "nothing persisted on embedding failure")
	assert.Equal(t, 0, x.Pending())

	_, err = x.Query(ctx, "apple", 1)
	assert.Error(t, err)
}

func TestIndex_RejectsWrongLengthVectors(t *testing.T) {
	ctx := context.Background()
	e := &fixedEmbedder{vectors: map[string][]float32{"short": {1, 0}}}
	x := newHarness().index(t, e)

	_, err := x.Save(ctx, "short", nil)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = x.QueryVector([]float32{1}, 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestIndex_PersistsAndReloads(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	first := h.index(t, fruitEmbedder())

	id, err := first.Save(ctx, "banana", map[string]any{"source": "chat"})
	require.NoError(t, err)
	assert.Regexp(t, `^mem_[0-9a-f-]{36}$`, id)

	second := h.index(t, fruitEmbedder())
	assert.True(t, second.Ready())
	require.Equal(t, 1, second.Len())

	r, err := second.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "banana", r.Text)
	assert.Equal(t, []float32{0.8, 0.6, 0}, r.Vector)
	assert.Equal(t, "fixed-3", r.Model)
	assert.Equal(t, "chat", r.Metadata["source"])
}

func TestIndex_SkipsRecordsFromAnotherModel(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	old := h.index(t, NewHashEmbedder(32))

	oldID, err := old.Save(ctx, "remember the milk", nil)
	require.NoError(t, err)

	upgraded := h.index(t, NewHashEmbedder(64))
	assert.True(t, upgraded.Ready())
	assert.Equal(t, 0, upgraded.Len(), "vectors from another model are not ranked")
	assert.Equal(t, 1, upgraded.Stale())

	newID, err := upgraded.Save(ctx, "new memory", nil)
	require.NoError(t, err)

	n, err := h.db.CountRows(ctx, store.Memories, "did:a")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "saving under the new model keeps the old rows")

	// Back on the old model the record is still there
	downgraded := h.index(t, NewHashEmbedder(32))
	_, err = downgraded.Get(oldID)
	assert.NoError(t, err)
	_, err = downgraded.Get(newID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, downgraded.Stale())
}

func TestIndex_FailedLoadBlocksWrites(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	first := h.index(t, fruitEmbedder())
	_, err := first.Save(ctx, "apple", nil)
	require.NoError(t, err)
	writes := h.db.Writes()

	h.db.FailNext(errors.New("database is locked"))
	x := h.index(t, fruitEmbedder())
	assert.False(t, x.Ready())

	_, err = x.Save(ctx, "banana", nil)
	require.NoError(t, err)
	assert.Equal(t, writes, h.db.Writes(), "an unloaded index must not replace the stored set")

	require.NoError(t, x.Load(ctx))
	assert.True(t, x.Ready())
	assert.Equal(t, 1, x.Len())
}

func TestIndex_RefusesToPersistForAnotherAccount(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	x := h.index(t, fruitEmbedder())
	count := func(account string) int {
		n, err := h.db.CountRows(ctx, store.Memories, account)
		require.NoError(t, err)
		return n
	}

	_, err := x.Save(ctx, "apple", nil)
	require.NoError(t, err)

	h.src.Set("did:b")
	_, err = x.Save(ctx, "banana", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, count("did:b"), "did:a memories must not land under did:b")
	assert.Equal(t, 1, count("did:a"))

	require.NoError(t, x.Load(ctx))
	_, err = x.Save(ctx, "cherry", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, count("did:b"))
	assert.Equal(t, 1, count("did:a"))
}

func TestIndex_AccountIsolation(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	x := h.index(t, fruitEmbedder())

	_, err := x.Save(ctx, "apple", nil)
	require.NoError(t, err)

	h.src.Set("did:b")
	require.NoError(t, x.Load(ctx))
	assert.Equal(t, 0, x.Len())

	matches, err := x.QueryVector([]float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, matches)

	h.src.Set("did:a")
	require.NoError(t, x.Load(ctx))
	assert.Equal(t, 1, x.Len())
}

func TestIndex_Delete(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	x := h.index(t, fruitEmbedder())

	keep, err := x.Save(ctx, "apple", nil)
	require.NoError(t, err)
	gone, err := x.Save(ctx, "cherry", nil)
	require.NoError(t, err)

	require.NoError(t, x.Delete(ctx, gone))
	assert.ErrorIs(t, x.Delete(ctx, gone), ErrNotFound)
	assert.Equal(t, StateIdle, x.State(gone))

	reloaded := h.index(t, fruitEmbedder())
	_, err = reloaded.Get(gone)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = reloaded.Get(keep)
	assert.NoError(t, err)
}

func TestIndex_DeleteLastRecordIsPersisted(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	x := h.index(t, fruitEmbedder())

	id, err := x.Save(ctx, "apple", nil)
	require.NoError(t, err)
	require.NoError(t, x.Delete(ctx, id))

	assert.Equal(t, 0, h.index(t, fruitEmbedder()).Len())
}

func TestIndex_Clear(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	x := h.index(t, fruitEmbedder())

	_, err := x.Save(ctx, "apple", nil)
	require.NoError(t, err)
	h.src.Set("did:b")
	require.NoError(t, x.Load(ctx))
	_, err = x.Save(ctx, "banana", nil)
	require.NoError(t, err)

	x.Clear(ctx)
	assert.Equal(t, 0, x.Len())

	n, err := h.db.CountRows(ctx, store.Memories, "did:b")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = h.db.CountRows(ctx, store.Memories, "did:a")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "clear only touches the active account")
}

func TestIndex_NoAccountKeepsRecordsInMemoryOnly(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.src.Clear()
	x := h.index(t, fruitEmbedder())

	_, err := x.Save(ctx, "apple", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, x.Len())
	assert.Equal(t, 0, h.db.Writes())
}

func TestIndex_StateTransitions(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	started := make(chan struct{})
	e := EmbedderFunc{
		Fn: func(ctx context.Context, text string) ([]float32, error) {
			close(started)
			<-release
			return []float32{1, 0}, nil
		},
		Dims:  2,
		Label: "blocking",
	}
	x := newHarness().index(t, e)

	var id string
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		id, _ = x.Save(ctx, "slow", nil)
	}()

	<-started
	assert.Equal(t, 1, x.Pending())
	close(release)
	wg.Wait()

	assert.Equal(t, 0, x.Pending())
	assert.Equal(t, StateIndexed, x.State(id))
	assert.Equal(t, "indexed", x.State(id).String())
}

func TestIndex_QueryEmbeddingsAreCached(t *testing.T) {
	ctx := context.Background()
	e := fruitEmbedder()
	x := newHarness().index(t, e)

	_, err := x.Query(ctx, "fruit", 1)
	require.NoError(t, err)
	_, err = x.Query(ctx, "fruit", 1)
	require.NoError(t, err)

	assert.Equal(t, int32(1), e.calls.Load())
}

func TestIndex_List(t *testing.T) {
	ctx := context.Background()
	x := newHarness().index(t, fruitEmbedder())

	for _, text := range []string{"cherry", "apple"} {
		_, err := x.Save(ctx, text, nil)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	list := x.List()
	require.Len(t, list, 2)
	assert.Equal(t, "cherry", list[0].Text)
	assert.Equal(t, "apple", list[1].Text)
}

func TestIndex_SQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	db, err := store.NewSQLiteStore(":memory:", store.Options{})
	require.NoError(t, err)
	defer db.Close()

	src := identity.NewStaticSource("did:a")
	resolver := identity.NewResolver(src, nil, identity.Options{})
	embedder := NewHashEmbedder(128)

	x := NewIndex(NewAdapter(db, resolver, nil), embedder, Options{})
	defer x.Close()
	require.NoError(t, x.Load(ctx))

	id, err := x.Save(ctx, "The quick brown fox jumps over the lazy dog", nil)
	require.NoError(t, err)
	_, err = x.Save(ctx, "Quarterly tax filing deadline", nil)
	require.NoError(t, err)

	y := NewIndex(NewAdapter(db, resolver, nil), embedder, Options{})
	defer y.Close()
	require.NoError(t, y.Load(ctx))

	matches, err := y.Query(ctx, "the QUICK brown fox jumps over the lazy dog!", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, id, matches[0].ID)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-5)
}

func TestHashEmbedder(t *testing.T) {
	ctx := context.Background()
	e := NewHashEmbedder(256)

	assert.Equal(t, 256, e.Dimensions())
	assert.Equal(t, "hash-v1/256", e.Model())

	a, err := e.Embed(ctx, "Hello World")
	require.NoError(t, err)
	require.Len(t, a, 256)

	var norm float64
	for _, x := range a {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5, "vectors are L2-normalized")

	b, err := e.Embed(ctx, "  hello,   WORLD ")
	require.NoError(t, err)
	assert.Equal(t, a, b, "case and punctuation do not matter")

	c, err := e.Embed(ctx, "ｈｅｌｌｏ ｗｏｒｌｄ")
	require.NoError(t, err)
	assert.Equal(t, a, c, "full-width forms normalize to ASCII")

	_, err = e.Embed(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyText)
	_, err = e.Embed(ctx, "?!  ...")
	assert.ErrorIs(t, err, ErrEmptyText)

	assert.Equal(t, DefaultDimensions, NewHashEmbedder(0).Dimensions())
}

func TestHashEmbedder_SharedWordsScoreHigher(t *testing.T) {
	ctx := context.Background()
	e := NewHashEmbedder(256)

	base, err := e.Embed(ctx, "the cat sat on the mat")
	require.NoError(t, err)
	near, err := e.Embed(ctx, "a cat on a mat")
	require.NoError(t, err)
	far, err := e.Embed(ctx, "quantum chromodynamics lecture notes")
	require.NoError(t, err)

	simNear, err := CosineSimilarity(base, near)
	require.NoError(t, err)
	simFar, err := CosineSimilarity(base, far)
	require.NoError(t, err)
	assert.Greater(t, simNear, simFar)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"café", "naïve", "42"}, Tokenize("CAFÉ, naïve! 42"))
	assert.Empty(t, Tokenize("  \t\n"))
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"scaled", []float32{1, 2, 3}, []float32{2, 4, 6}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CosineSimilarity(tt.a, tt.b)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}

	_, err := CosineSimilarity([]float32{1}, []float32{1, 2})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestEmbedCache(t *testing.T) {
	t.Run("evicts oldest at capacity", func(t *testing.T) {
		c := newEmbedCache(time.Minute, 2)
		defer c.close()

		c.put("a", []float32{1})
		c.put("b", []float32{2})
		c.put("a", []float32{3}) // refresh moves a to the back
		c.put("c", []float32{4})

		_, ok := c.get("b")
		assert.False(t, ok)
		v, ok := c.get("a")
		require.True(t, ok)
		assert.Equal(t, []float32{3}, v)
		assert.Equal(t, 2, c.len())
	})

	t.Run("expires after ttl", func(t *testing.T) {
		c := newEmbedCache(20*time.Millisecond, 10)
		defer c.close()

		c.put("a", []float32{1})
		_, ok := c.get("a")
		assert.True(t, ok)

		require.Eventually(t, func() bool { return c.len() == 0 }, time.Second, 10*time.Millisecond)
		_, ok = c.get("a")
		assert.False(t, ok)
	})

	t.Run("close is idempotent", func(t *testing.T) {
		c := newEmbedCache(time.Minute, 1)
		c.close()
		c.close()
	})
}
