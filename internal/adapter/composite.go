// ABOUTME: Composite storage that fans one store's blob out to several adapters
// ABOUTME: Lets a store with more than one persisted collection span several tables

package adapter

import (
	"context"
	"encoding/json"
)

// Storage is the flat persistence contract a persisted store consumes.
type Storage interface {
	Load(ctx context.Context, name string) (string, bool)
	Save(ctx context.Context, name, value string)
	Remove(ctx context.Context, name string)
}

// Composite merges several adapters, each owning one field of the same blob.
type Composite struct {
	parts   []Storage
	version int
}

// NewComposite returns a Storage over parts. version is reported on load.
func NewComposite(version int, parts ...Storage) *Composite {
	return &Composite{parts: parts, version: version}
}

// Load merges the state fields of every part that has data. It reports false
// only when no part does.
func (c *Composite) Load(ctx context.Context, name string) (string, bool) {
	merged := Blob{State: make(map[string]json.RawMessage), Version: c.version}
	found := false

	for _, p := range c.parts {
		value, ok := p.Load(ctx, name)
		if !ok {
			continue
		}
		var blob Blob
		if err := json.Unmarshal([]byte(value), &blob); err != nil {
			continue
		}
		for k, v := range blob.State {
			merged.State[k] = v
		}
		found = true
	}
	if !found {
		return "", false
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// Save hands the blob to every part; each picks out its own field.
func (c *Composite) Save(ctx context.Context, name, value string) {
	for _, p := range c.parts {
		p.Save(ctx, name, value)
	}
}

// Account reports the account of the first part that is account-scoped.
func (c *Composite) Account(ctx context.Context) (string, bool) {
	for _, p := range c.parts {
		if scoped, ok := p.(interface {
			Account(context.Context) (string, bool)
		}); ok {
			return scoped.Account(ctx)
		}
	}
	return "", true
}

// Remove clears every part.
func (c *Composite) Remove(ctx context.Context, name string) {
	for _, p := range c.parts {
		p.Remove(ctx, name)
	}
}

var (
	_ Storage = (*Composite)(nil)
	_ Storage = (*Adapter[map[string]any])(nil)
)
