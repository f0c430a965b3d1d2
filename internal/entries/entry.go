package entries

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("config entry not found")
	ErrAlreadyConfigured = errors.New("already configured")
)

// State is the lifecycle state of a config entry.
type State string

const (
	StateNotLoaded      State = "not_loaded"
	StateLoaded         State = "loaded"
	StateSetupRetry     State = "setup_retry"
	StateSetupError     State = "setup_error"
	StateReauthRequired State = "reauth_required"
)

// Source records how an entry was created.
type Source string

const (
	SourceUser     Source = "user"
	SourceZeroconf Source = "zeroconf"
	SourceImport   Source = "import"
)

// Data is the device endpoint stored on an entry.
type Data struct {
	URL       string `json:"url"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
	VerifySSL bool   `json:"verify_ssl"`
}

// Entry is one configured device.
type Entry struct {
	ID        string    `json:"entry_id"`
	Domain    string    `json:"domain"`
	Title     string    `json:"title"`
	UniqueID  string    `json:"unique_id"`
	Source    Source    `json:"source"`
	Data      Data      `json:"data"`
	State     State     `json:"state"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists entries.
type Store interface {
	List(ctx context.Context) ([]Entry, error)
	Get(ctx context.Context, id string) (Entry, error)
	Put(ctx context.Context, entry Entry) error
	Delete(ctx context.Context, id string) error
}

// Runtime is what an integration keeps alive for a loaded entry.
type Runtime interface {
	Unload(ctx context.Context) error
}

// Hooks let a runtime report back to the manager after setup.
type Hooks struct {
	// ReauthRequired moves the entry to reauth_required and unloads it.
	ReauthRequired func(err error)
}

// Integration sets up entries for one domain.
type Integration interface {
	Domain() string
	Setup(ctx context.Context, entry Entry, hooks Hooks) (Runtime, error)
}
