// ABOUTME: Codecs that explode a domain collection into entity rows and reassemble it
// ABOUTME: MapCodec handles map-by-id collections, ListCodec handles ordered slices

package adapter

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/2389/hearth/internal/store"
)

// Codec converts between a collection and entity rows. Rows returned by
// Explode carry EntityID and Data; the adapter fills in the account.
type Codec[C any] interface {
	Explode(c C) ([]store.Row, error)
	Assemble(rows []store.Row) (C, error)
	Empty(c C) bool
}

// MapCodec stores a map[string]T, one row per key.
type MapCodec[T any] struct{}

// Explode emits rows sorted by key so inserts are deterministic.
func (MapCodec[T]) Explode(c map[string]T) ([]store.Row, error) {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([]store.Row, 0, len(keys))
	for _, k := range keys {
		data, err := json.Marshal(c[k])
		if err != nil {
			return nil, fmt.Errorf("encoding entity %s: %w", k, err)
		}
		rows = append(rows, store.Row{EntityID: k, Data: data})
	}
	return rows, nil
}

func (MapCodec[T]) Assemble(rows []store.Row) (map[string]T, error) {
	out := make(map[string]T, len(rows))
	for _, r := range rows {
		var v T
		if err := json.Unmarshal(r.Data, &v); err != nil {
			return nil, fmt.Errorf("decoding entity %s: %w", r.EntityID, err)
		}
		out[r.EntityID] = v
	}
	return out, nil
}

func (MapCodec[T]) Empty(c map[string]T) bool { return len(c) == 0 }

// ListCodec stores a []T, one row per element, keyed by ID.
type ListCodec[T any] struct {
	ID func(T) string
}

// NewListCodec returns a ListCodec using id to key elements.
func NewListCodec[T any](id func(T) string) ListCodec[T] {
	return ListCodec[T]{ID: id}
}

// Explode keeps slice order. Elements without an id are rejected.
func (c ListCodec[T]) Explode(list []T) ([]store.Row, error) {
	rows := make([]store.Row, 0, len(list))
	for i, v := range list {
		id := c.ID(v)
		if id == "" {
			return nil, fmt.Errorf("element %d: %w", i, store.ErrEmptyEntityID)
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encoding entity %s: %w", id, err)
		}
		rows = append(rows, store.Row{EntityID: id, Data: data})
	}
	return rows, nil
}

func (c ListCodec[T]) Assemble(rows []store.Row) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		var v T
		if err := json.Unmarshal(r.Data, &v); err != nil {
			return nil, fmt.Errorf("decoding entity %s: %w", r.EntityID, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (c ListCodec[T]) Empty(list []T) bool { return len(list) == 0 }
