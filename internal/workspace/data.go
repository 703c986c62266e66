// ABOUTME: Account-scoped data operations for the workspace
// ABOUTME: Chat sessions, capability drafts and installs, file metadata, and settings

package workspace

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/2389/hearth/internal/store"
)

// ErrNotFound is returned when an entity does not exist for the active account.
var ErrNotFound = errors.New("not found")

// SaveSession stores a chat session, assigning an id when it has none.
func (w *Workspace) SaveSession(ctx context.Context, sess ChatSession) (ChatSession, error) {
	if _, err := w.requireAccount(ctx); err != nil {
		return ChatSession{}, err
	}

	now := time.Now().UTC()
	if sess.ID == "" {
		sess.ID = "sess_" + uuid.NewString()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now

	w.sessions.Set(ctx, func(s SessionsState) SessionsState {
		s.Sessions = withEntry(s.Sessions, sess.ID, sess)
		return s
	})
	return sess, nil
}

// Sessions lists the active account's chat sessions, most recently updated first.
func (w *Workspace) Sessions() []ChatSession {
	state := w.sessions.Get()
	out := make([]ChatSession, 0, len(state.Sessions))
	for _, s := range state.Sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// SetActiveSession selects a session in memory. The selection is not persisted.
func (w *Workspace) SetActiveSession(id string) error {
	state := w.sessions.Get()
	if _, ok := state.Sessions[id]; !ok {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	state.ActiveID = id
	w.sessions.Reset(state)
	return nil
}

// ActiveSession returns the selected session, if any.
func (w *Workspace) ActiveSession() (ChatSession, bool) {
	state := w.sessions.Get()
	s, ok := state.Sessions[state.ActiveID]
	return s, ok
}

// DeleteSession removes one chat session.
func (w *Workspace) DeleteSession(ctx context.Context, id string) error {
	if _, err := w.requireAccount(ctx); err != nil {
		return err
	}
	state := w.sessions.Get()
	if _, ok := state.Sessions[id]; !ok {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}

	if err := w.sessionRows.DeleteEntity(ctx, id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	state.Sessions = withoutEntry(state.Sessions, id)
	if state.ActiveID == id {
		state.ActiveID = ""
	}
	w.sessions.Reset(state)
	return nil
}

// SaveDraft stores a capability draft, assigning an id when it has none.
func (w *Workspace) SaveDraft(ctx context.Context, d DraftCap) (DraftCap, error) {
	if _, err := w.requireAccount(ctx); err != nil {
		return DraftCap{}, err
	}
	if d.ID == "" {
		d.ID = "draft_" + uuid.NewString()
	}
	d.UpdatedAt = time.Now().UTC()

	w.capbuilder.Set(ctx, func(s CapBuilderState) CapBuilderState {
		s.Drafts = withEntry(s.Drafts, d.ID, d)
		return s
	})
	return d, nil
}

// Drafts lists the capability drafts ordered by id.
func (w *Workspace) Drafts() []DraftCap {
	drafts := w.capbuilder.Get().Drafts
	out := make([]DraftCap, 0, len(drafts))
	for _, d := range drafts {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// InstallCap installs a capability, replacing an earlier install with the
// same id in place.
func (w *Workspace) InstallCap(ctx context.Context, c InstalledCap) error {
	if _, err := w.requireAccount(ctx); err != nil {
		return err
	}
	if c.ID == "" {
		return store.ErrEmptyEntityID
	}
	if c.InstalledAt.IsZero() {
		c.InstalledAt = time.Now().UTC()
	}

	w.capbuilder.Set(ctx, func(s CapBuilderState) CapBuilderState {
		installed := make([]InstalledCap, 0, len(s.Installed)+1)
		replaced := false
		for _, e := range s.Installed {
			if e.ID == c.ID {
				e, replaced = c, true
			}
			installed = append(installed, e)
		}
		if !replaced {
			installed = append(installed, c)
		}
		s.Installed = installed
		return s
	})
	return nil
}

// Installed lists the installed capabilities in install order.
func (w *Workspace) Installed() []InstalledCap {
	return append([]InstalledCap(nil), w.capbuilder.Get().Installed...)
}

// AddFile records the metadata of attached content.
func (w *Workspace) AddFile(ctx context.Context, name, mimeType string, content []byte) (StoredFile, error) {
	if _, err := w.requireAccount(ctx); err != nil {
		return StoredFile{}, err
	}
	f := NewStoredFile(name, mimeType, content)
	w.files.Set(ctx, func(s FilesState) FilesState {
		s.Files = withEntry(s.Files, f.ID, f)
		return s
	})
	return f, nil
}

// Files lists the file metadata ordered by creation time.
func (w *Workspace) Files() []StoredFile {
	files := w.files.Get().Files
	out := make([]StoredFile, 0, len(files))
	for _, f := range files {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// DeleteFile removes one file's metadata.
func (w *Workspace) DeleteFile(ctx context.Context, id string) error {
	if _, err := w.requireAccount(ctx); err != nil {
		return err
	}
	state := w.files.Get()
	if _, ok := state.Files[id]; !ok {
		return fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	if err := w.fileRows.DeleteEntity(ctx, id); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	w.files.Reset(FilesState{Files: withoutEntry(state.Files, id)})
	return nil
}

// SetSetting stores one setting for the active account.
func (w *Workspace) SetSetting(ctx context.Context, key, value string) error {
	if _, err := w.requireAccount(ctx); err != nil {
		return err
	}
	if key == "" {
		return store.ErrEmptyEntityID
	}
	w.settings.Set(ctx, func(s SettingsState) SettingsState {
		s.Settings = withEntry(s.Settings, key, value)
		return s
	})
	return nil
}

// Setting returns one setting of the active account.
func (w *Workspace) Setting(key string) (string, bool) {
	v, ok := w.settings.Get().Settings[key]
	return v, ok
}

// Settings returns a copy of the active account's settings.
func (w *Workspace) Settings() map[string]string {
	settings := w.settings.Get().Settings
	out := make(map[string]string, len(settings))
	for k, v := range settings {
		out[k] = v
	}
	return out
}

// Remember saves text to the active account's memory index.
func (w *Workspace) Remember(ctx context.Context, text string, metadata map[string]any) (string, error) {
	if _, err := w.requireAccount(ctx); err != nil {
		return "", err
	}
	return w.memory.Save(ctx, text, metadata)
}
