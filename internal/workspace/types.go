// ABOUTME: Domain payload types persisted by the workspace stores
// ABOUTME: Chat sessions, capability drafts and installs, files, settings, and account records

package workspace

import (
	"encoding/hex"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// Message is one turn of a chat session.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// ChatSession is a conversation with a model.
type ChatSession struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Model     string    `json:"model,omitempty"`
	Messages  []Message `json:"messages,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DraftCap is a capability being edited in the builder.
type DraftCap struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Instructions string    `json:"instructions,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// InstalledCap is a capability the user has installed.
type InstalledCap struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Version     string            `json:"version,omitempty"`
	Config      map[string]string `json:"config,omitempty"`
	InstalledAt time.Time         `json:"installedAt"`
}

// StoredFile is the metadata of a file the user attached. Digest is the
// hex BLAKE2b-256 of the content.
type StoredFile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	MimeType  string    `json:"mimeType,omitempty"`
	Size      int64     `json:"size"`
	Digest    string    `json:"digest"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewStoredFile describes content under a new id.
func NewStoredFile(name, mimeType string, content []byte) StoredFile {
	sum := blake2b.Sum256(content)
	return StoredFile{
		ID:        "file_" + uuid.NewString(),
		Name:      name,
		MimeType:  mimeType,
		Size:      int64(len(content)),
		Digest:    hex.EncodeToString(sum[:]),
		CreatedAt: time.Now().UTC(),
	}
}

// Matches reports whether content is the file this metadata describes.
func (f StoredFile) Matches(content []byte) bool {
	sum := blake2b.Sum256(content)
	return int64(len(content)) == f.Size && hex.EncodeToString(sum[:]) == f.Digest
}

// AccountRecord is an account's credential bundle. Records are not scoped to
// the active account; every account on the device has one.
type AccountRecord struct {
	DID         string                `json:"did"`
	Name        string                `json:"name"`
	DisplayName string                `json:"displayName,omitempty"`
	Credentials []webauthn.Credential `json:"credentials,omitempty"`
	Active      bool                  `json:"active"`
	CreatedAt   time.Time             `json:"createdAt"`
}

func (a AccountRecord) WebAuthnID() []byte {
	return []byte(a.DID)
}

func (a AccountRecord) WebAuthnName() string {
	return a.Name
}

func (a AccountRecord) WebAuthnDisplayName() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.Name
}

func (a AccountRecord) WebAuthnCredentials() []webauthn.Credential {
	return a.Credentials
}

var _ webauthn.User = AccountRecord{}

// IdentityState is the persisted state of the identity store.
type IdentityState struct {
	Accounts map[string]AccountRecord `json:"accounts"`
}

// Active returns the active account record, if any.
func (s IdentityState) Active() (AccountRecord, bool) {
	for _, a := range s.Accounts {
		if a.Active {
			return a, true
		}
	}
	return AccountRecord{}, false
}

// SessionsState is the state of the chat sessions store. Only Sessions is
// persisted.
type SessionsState struct {
	Sessions map[string]ChatSession `json:"sessions"`
	ActiveID string                 `json:"activeSessionId,omitempty"`
	Loading  bool                   `json:"loading,omitempty"`
}

// CapBuilderState is the state of the capability builder. Drafts and
// installed capabilities live in separate tables.
type CapBuilderState struct {
	Drafts    map[string]DraftCap `json:"drafts"`
	Installed []InstalledCap      `json:"installed"`
}

// FilesState is the state of the files store.
type FilesState struct {
	Files map[string]StoredFile `json:"files"`
}

// SettingsState holds per-user settings as key/value pairs.
type SettingsState struct {
	Settings map[string]string `json:"settings"`
}
