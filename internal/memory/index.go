// ABOUTME: Per-account semantic memory index with linear cosine-similarity retrieval
// ABOUTME: Records live in memory and persist as a map through the memories storage adapter

package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/hearth/internal/adapter"
	"github.com/2389/hearth/internal/identity"
	"github.com/2389/hearth/internal/store"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("memory not found")

const (
	// StoreName is the persisted store name of the index.
	StoreName = "memory"
	// Field is the blob field holding the records.
	Field = "memories"

	DefaultLimit     = 5
	DefaultCacheTTL  = 10 * time.Minute
	DefaultCacheSize = 512
)

// Record is one stored text and its embedding.
type Record struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Vector    []float32      `json:"vector"`
	Model     string         `json:"model"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Match is a record ranked against a query.
type Match struct {
	Record
	Similarity float64 `json:"similarity"`
}

// RecordState tracks a record through indexing.
type RecordState int

const (
	StateIdle RecordState = iota
	StateEmbedding
	StateIndexed
)

func (s RecordState) String() string {
	switch s {
	case StateEmbedding:
		return "embedding"
	case StateIndexed:
		return "indexed"
	default:
		return "idle"
	}
}

// Collection is the persistence the index needs. The memories adapter
// satisfies it.
type Collection interface {
	Account(ctx context.Context) (string, bool)
	FetchCollection(ctx context.Context) (map[string]Record, error)
	SaveCollection(ctx context.Context, records map[string]Record) error
	DeleteEntity(ctx context.Context, id string) error
	Remove(ctx context.Context, name string)
}

// NewAdapter returns the storage adapter for memory records.
func NewAdapter(db store.DocumentStore, resolver identity.AccountResolver, logger *slog.Logger) *adapter.Adapter[map[string]Record] {
	return adapter.New[map[string]Record](db, resolver, adapter.MapCodec[Record]{}, adapter.Options{
		Table:   store.Memories,
		Field:   Field,
		Version: 1,
		Logger:  logger,
	})
}

// Options configures an Index. Zero values select the defaults.
type Options struct {
	DefaultLimit int
	CacheTTL     time.Duration
	CacheSize    int
	Logger       *slog.Logger
}

// Index is the semantic memory index of the active account.
type Index struct {
	coll     Collection
	embedder Embedder
	cache    *embedCache
	limit    int
	logger   *slog.Logger

	// persistMu serializes writes so saves from this index never interleave.
	persistMu sync.Mutex

	mu      sync.RWMutex
	records map[string]Record
	// stale holds stored records of another model. They are written back
	// with every save but never ranked.
	stale     map[string]Record
	pending   map[string]struct{}
	ready     bool
	loadedFor string
}

// NewIndex creates an empty index. Call Load before querying. Close releases
// the embedding cache.
func NewIndex(coll Collection, embedder Embedder, opts Options) *Index {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = DefaultLimit
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}

	return &Index{
		coll:     coll,
		embedder: embedder,
		cache:    newEmbedCache(opts.CacheTTL, opts.CacheSize),
		limit:    opts.DefaultLimit,
		logger:   logger.With("component", "memory", "model", embedder.Model()),
		records:  make(map[string]Record),
		stale:    make(map[string]Record),
		pending:  make(map[string]struct{}),
	}
}

// Close stops the embedding cache.
func (x *Index) Close() {
	x.cache.close()
}

// Load replaces the in-memory records with the active account's persisted
// ones. Records embedded by another model or with another dimensionality
// stay in storage but are not ranked. The index is ready afterwards even if
// nothing was stored. A failed read leaves it unloaded, and an unloaded
// index does not write.
func (x *Index) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	account, _ := x.coll.Account(ctx)
	stored, err := x.coll.FetchCollection(ctx)
	if err != nil && !errors.Is(err, identity.ErrNoAccount) {
		x.logger.Error("loading memories, index stays unloaded", "account", account, "error", err)
		x.Unload()
		return nil
	}

	model, dims := x.embedder.Model(), x.embedder.Dimensions()
	records := make(map[string]Record, len(stored))
	stale := make(map[string]Record)
	for id, r := range stored {
		if r.Model != model || len(r.Vector) != dims {
			stale[id] = r
			continue
		}
		records[id] = r
	}
	if len(stale) > 0 {
		x.logger.Warn("memories from another embedding model are kept but not searched",
			"stale", len(stale),
			"dimensions", dims)
	}

	x.mu.Lock()
	x.records = records
	x.stale = stale
	x.ready = true
	x.loadedFor = account
	x.mu.Unlock()

	x.logger.Debug("memory index loaded", "account", account, "records", len(records))
	return nil
}

// Ready reports whether Load has completed.
func (x *Index) Ready() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.ready
}

// Unload drops every record from memory without touching storage.
func (x *Index) Unload() {
	x.mu.Lock()
	x.records = make(map[string]Record)
	x.stale = make(map[string]Record)
	x.ready = false
	x.loadedFor = ""
	x.mu.Unlock()
}

// embed returns the vector for text, consulting the cache first.
func (x *Index) embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(x.embedder.Model(), text)
	if vec, ok := x.cache.get(key); ok {
		return vec, nil
	}

	vec, err := x.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vec) != x.embedder.Dimensions() {
		return nil, fmt.Errorf("%w: embedder returned %d, want %d", ErrDimensionMismatch, len(vec), x.embedder.Dimensions())
	}

	x.cache.put(key, vec)
	return vec, nil
}

// Save embeds text, stores it with metadata and persists the index.
// Embedding errors are returned and nothing is stored.
func (x *Index) Save(ctx context.Context, text string, metadata map[string]any) (string, error) {
	id := "mem_" + uuid.NewString()

	x.mu.Lock()
	x.pending[id] = struct{}{}
	x.mu.Unlock()

	vec, err := x.embed(ctx, text)

	x.mu.Lock()
	delete(x.pending, id)
	if err != nil {
		x.mu.Unlock()
		return "", fmt.Errorf("embedding memory: %w", err)
	}
	now := time.Now().UTC()
	x.records[id] = Record{
		ID:        id,
		Text:      text,
		Vector:    append([]float32(nil), vec...),
		Model:     x.embedder.Model(),
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  metadata,
	}
	x.mu.Unlock()

	x.persist(ctx)
	x.logger.Debug("memory saved", "id", id)
	return id, nil
}

// persist writes the full record set, stale records included. Failures are
// logged and dropped. Nothing is written unless the index was loaded for the
// account storage resolves to now.
func (x *Index) persist(ctx context.Context) {
	x.persistMu.Lock()
	defer x.persistMu.Unlock()

	current, _ := x.coll.Account(ctx)

	x.mu.RLock()
	ready, loadedFor := x.ready, x.loadedFor
	snapshot := make(map[string]Record, len(x.records)+len(x.stale))
	maps.Copy(snapshot, x.stale)
	maps.Copy(snapshot, x.records)
	x.mu.RUnlock()

	if current == "" {
		x.logger.Debug("memory not persisted, no active account")
		return
	}
	if !ready || current != loadedFor {
		x.logger.Warn("not persisting memories loaded for another account",
			"loaded_for", loadedFor,
			"current", current,
			"ready", ready)
		return
	}

	if err := x.coll.SaveCollection(ctx, snapshot); err != nil {
		if errors.Is(err, identity.ErrNoAccount) {
			x.logger.Debug("memory not persisted, no active account")
			return
		}
		x.logger.Error("persisting memories", "error", err)
	}
}

// State reports where a record is in the idle -> embedding -> indexed cycle.
func (x *Index) State(id string) RecordState {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if _, ok := x.records[id]; ok {
		return StateIndexed
	}
	if _, ok := x.pending[id]; ok {
		return StateEmbedding
	}
	return StateIdle
}

// Pending returns how many records are being embedded.
func (x *Index) Pending() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.pending)
}

// Query embeds text and returns the most similar records, best first.
// limit <= 0 selects the default limit.
func (x *Index) Query(ctx context.Context, text string, limit int) ([]Match, error) {
	vec, err := x.embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return x.QueryVector(vec, limit)
}

// QueryVector ranks every record against vec by cosine similarity.
func (x *Index) QueryVector(vec []float32, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = x.limit
	}
	if len(vec) != x.embedder.Dimensions() {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(vec), x.embedder.Dimensions())
	}

	x.mu.RLock()
	matches := make([]Match, 0, len(x.records))
	for _, r := range x.records {
		sim, err := CosineSimilarity(vec, r.Vector)
		if err != nil {
			x.logger.Warn("skipping memory", "id", r.ID, "error", err)
			continue
		}
		matches = append(matches, Match{Record: r, Similarity: sim})
	}
	x.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ID < matches[j].ID
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Get returns one record.
func (x *Index) Get(id string) (Record, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	r, ok := x.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

// List returns every record, oldest first.
func (x *Index) List() []Record {
	x.mu.RLock()
	out := make([]Record, 0, len(x.records))
	for _, r := range x.records {
		out = append(out, r)
	}
	x.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Stale returns how many stored records belong to another embedding model.
func (x *Index) Stale() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.stale)
}

// Len returns the number of searchable records.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.records)
}

// Delete removes one record from memory and from storage.
func (x *Index) Delete(ctx context.Context, id string) error {
	x.mu.Lock()
	if _, ok := x.records[id]; !ok {
		x.mu.Unlock()
		return ErrNotFound
	}
	delete(x.records, id)
	x.mu.Unlock()

	x.persistMu.Lock()
	defer x.persistMu.Unlock()
	if err := x.coll.DeleteEntity(ctx, id); err != nil && !errors.Is(err, identity.ErrNoAccount) {
		x.logger.Error("deleting memory", "id", id, "error", err)
	}
	return nil
}

// Clear removes every record of the active account, stale ones included.
func (x *Index) Clear(ctx context.Context) {
	x.mu.Lock()
	x.records = make(map[string]Record)
	x.stale = make(map[string]Record)
	x.mu.Unlock()

	x.persistMu.Lock()
	defer x.persistMu.Unlock()
	x.coll.Remove(ctx, StoreName)
}
