package entries

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/joshp123/gohome-fpp/internal/coordinator"
)

const defaultRetryInterval = 30 * time.Second

// ManagerOptions configure a Manager.
type ManagerOptions struct {
	Mirror        Mirror
	Logger        logrus.FieldLogger
	RetryInterval time.Duration
}

// Manager owns entry lifecycle: persistence, setup, retry, reauth, unload.
type Manager struct {
	store         Store
	mirror        Mirror
	log           logrus.FieldLogger
	retryInterval time.Duration

	mu           sync.Mutex
	integrations map[string]Integration
	runtimes     map[string]Runtime
	settingUp    map[string]bool
	abandoned    map[string]bool
	retries      map[string]*time.Timer
	closed       bool

	newID func() string
	now   func() time.Time
}

func NewManager(store Store, opts ManagerOptions) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	retry := opts.RetryInterval
	if retry <= 0 {
		retry = defaultRetryInterval
	}
	return &Manager{
		store:         store,
		mirror:        opts.Mirror,
		log:           logger,
		retryInterval: retry,
		integrations:  make(map[string]Integration),
		runtimes:      make(map[string]Runtime),
		settingUp:     make(map[string]bool),
		abandoned:     make(map[string]bool),
		retries:       make(map[string]*time.Timer),
		newID:         func() string { return uuid.NewString() },
		now:           time.Now,
	}
}

func (m *Manager) RegisterIntegration(integration Integration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.integrations[integration.Domain()] = integration
}

func (m *Manager) List(ctx context.Context) ([]Entry, error) {
	return m.store.List(ctx)
}

// ListDomain returns entries for one domain.
func (m *Manager) ListDomain(ctx context.Context, domain string) ([]Entry, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(all))
	for _, entry := range all {
		if entry.Domain == domain {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (m *Manager) Get(ctx context.Context, id string) (Entry, error) {
	return m.store.Get(ctx, id)
}

// FindByUniqueID looks up an entry by domain and unique id.
func (m *Manager) FindByUniqueID(ctx context.Context, domain, uniqueID string) (Entry, bool, error) {
	if uniqueID == "" {
		return Entry{}, false, nil
	}
	all, err := m.store.List(ctx)
	if err != nil {
		return Entry{}, false, err
	}
	for _, entry := range all {
		if entry.Domain == domain && entry.UniqueID == uniqueID {
			return entry, true, nil
		}
	}
	return Entry{}, false, nil
}

// Runtime returns the live runtime for a loaded entry.
func (m *Manager) Runtime(id string) (Runtime, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.runtimes[id]
	return rt, ok
}

// Add persists a new entry and sets it up. Setup failures are reflected in
// the returned entry's state, not in the error.
func (m *Manager) Add(ctx context.Context, entry Entry) (Entry, error) {
	if entry.Domain == "" {
		return Entry{}, fmt.Errorf("entry domain is required")
	}
	if _, found, err := m.FindByUniqueID(ctx, entry.Domain, entry.UniqueID); err != nil {
		return Entry{}, err
	} else if found {
		return Entry{}, ErrAlreadyConfigured
	}

	now := m.now()
	entry.ID = m.newID()
	entry.State = StateNotLoaded
	entry.Reason = ""
	entry.CreatedAt = now
	entry.UpdatedAt = now
	if entry.Source == "" {
		entry.Source = SourceUser
	}
	if err := m.store.Put(ctx, entry); err != nil {
		return Entry{}, err
	}
	m.syncMirror(ctx)

	m.log.WithFields(logrus.Fields{
		"entry_id": entry.ID,
		"domain":   entry.Domain,
		"source":   entry.Source,
	}).Info("config entry created")

	_ = m.Setup(ctx, entry.ID)
	return m.store.Get(ctx, entry.ID)
}

// Update applies fn to a stored entry and persists it. Loaded runtimes
// are not reloaded.
func (m *Manager) Update(ctx context.Context, id string, fn func(*Entry)) (Entry, error) {
	entry, err := m.store.Get(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	fn(&entry)
	entry.ID = id
	entry.UpdatedAt = m.now()
	if err := m.store.Put(ctx, entry); err != nil {
		return Entry{}, err
	}
	m.syncMirror(ctx)
	return entry, nil
}

// Restore fills an empty store from the mirror.
func (m *Manager) Restore(ctx context.Context) error {
	if m.mirror == nil {
		return nil
	}
	existing, err := m.store.List(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	data, err := m.mirror.Load(ctx)
	if errors.Is(err, ErrMirrorEmpty) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load entries mirror: %w", err)
	}

	var restored []Entry
	if err := json.Unmarshal(data, &restored); err != nil {
		return fmt.Errorf("decode entries mirror: %w", err)
	}
	for _, entry := range restored {
		entry.State = StateNotLoaded
		entry.Reason = ""
		if err := m.store.Put(ctx, entry); err != nil {
			return err
		}
	}
	m.log.WithField("count", len(restored)).Info("restored config entries from mirror")
	return nil
}

// SetupAll sets up every stored entry with a registered integration.
func (m *Manager) SetupAll(ctx context.Context) error {
	all, err := m.store.List(ctx)
	if err != nil {
		return err
	}
	for _, entry := range all {
		m.mu.Lock()
		_, known := m.integrations[entry.Domain]
		m.mu.Unlock()
		if !known {
			m.log.WithFields(logrus.Fields{"entry_id": entry.ID, "domain": entry.Domain}).Warn("no integration for config entry")
			continue
		}
		_ = m.Setup(ctx, entry.ID)
	}
	return nil
}

// Setup loads one entry. A not-ready failure schedules a retry; an auth
// failure parks the entry in reauth_required.
func (m *Manager) Setup(ctx context.Context, id string) error {
	entry, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	integration, ok := m.integrations[entry.Domain]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("no integration for domain %q", entry.Domain)
	}
	if _, loaded := m.runtimes[id]; loaded || m.settingUp[id] || m.closed {
		m.mu.Unlock()
		return nil
	}
	m.settingUp[id] = true
	m.stopRetryLocked(id)
	m.mu.Unlock()

	hooks := Hooks{ReauthRequired: func(err error) { m.reauthRequired(id, err) }}
	rt, setupErr := integration.Setup(ctx, entry, hooks)

	m.mu.Lock()
	delete(m.settingUp, id)
	abandoned := m.closed || m.abandoned[id]
	delete(m.abandoned, id)
	if setupErr == nil && !abandoned {
		m.runtimes[id] = rt
	}
	m.mu.Unlock()

	logger := m.log.WithFields(logrus.Fields{"entry_id": id, "domain": entry.Domain})
	if abandoned {
		// Unloaded, removed or closed while setup was running.
		logger.Info("config entry unloaded during setup")
		if setupErr != nil {
			return nil
		}
		return rt.Unload(ctx)
	}
	switch {
	case setupErr == nil:
		logger.Info("config entry loaded")
		m.setState(ctx, id, StateLoaded, "")
	case errors.Is(setupErr, coordinator.ErrAuthFailed):
		logger.WithError(setupErr).Warn("config entry requires reauthentication")
		m.setState(ctx, id, StateReauthRequired, setupErr.Error())
	case errors.Is(setupErr, coordinator.ErrNotReady):
		logger.WithError(setupErr).WithField("retry_in", m.retryInterval).Warn("config entry not ready")
		m.setState(ctx, id, StateSetupRetry, setupErr.Error())
		m.scheduleRetry(id)
	default:
		logger.WithError(setupErr).Error("config entry setup failed")
		m.setState(ctx, id, StateSetupError, setupErr.Error())
	}
	return setupErr
}

// Unload stops a loaded entry and cancels any pending retry. A setup still
// in flight is abandoned and its runtime unloaded when it returns.
func (m *Manager) Unload(ctx context.Context, id string) error {
	m.mu.Lock()
	m.stopRetryLocked(id)
	rt, ok := m.runtimes[id]
	delete(m.runtimes, id)
	inFlight := m.settingUp[id]
	if inFlight {
		m.abandoned[id] = true
	}
	m.mu.Unlock()

	if !ok {
		if inFlight {
			m.setState(ctx, id, StateNotLoaded, "")
		}
		return nil
	}
	err := rt.Unload(ctx)
	m.setState(ctx, id, StateNotLoaded, "")
	if err != nil {
		return fmt.Errorf("unload entry %s: %w", id, err)
	}
	return nil
}

// Reload unloads and sets up an entry again.
func (m *Manager) Reload(ctx context.Context, id string) error {
	if err := m.Unload(ctx, id); err != nil {
		return err
	}
	return m.Setup(ctx, id)
}

// Remove unloads and deletes an entry.
func (m *Manager) Remove(ctx context.Context, id string) error {
	if err := m.Unload(ctx, id); err != nil {
		m.log.WithError(err).WithField("entry_id", id).Warn("unload before remove failed")
	}
	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	m.syncMirror(ctx)
	m.log.WithField("entry_id", id).Info("config entry removed")
	return nil
}

// Close unloads every runtime and stops retries.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	m.closed = true
	for id := range m.retries {
		m.stopRetryLocked(id)
	}
	runtimes := m.runtimes
	m.runtimes = make(map[string]Runtime)
	m.mu.Unlock()

	for id, rt := range runtimes {
		if err := rt.Unload(ctx); err != nil {
			m.log.WithError(err).WithField("entry_id", id).Warn("unload on shutdown failed")
		}
	}
}

func (m *Manager) reauthRequired(id string, cause error) {
	ctx := context.Background()
	m.log.WithError(cause).WithField("entry_id", id).Warn("authentication failed, reauthentication required")

	m.mu.Lock()
	rt, ok := m.runtimes[id]
	delete(m.runtimes, id)
	m.mu.Unlock()

	if ok {
		if err := rt.Unload(ctx); err != nil {
			m.log.WithError(err).WithField("entry_id", id).Warn("unload after auth failure failed")
		}
	}
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	m.setState(ctx, id, StateReauthRequired, reason)
}

func (m *Manager) scheduleRetry(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.stopRetryLocked(id)
	m.retries[id] = time.AfterFunc(m.retryInterval, func() {
		m.mu.Lock()
		delete(m.retries, id)
		m.mu.Unlock()
		_ = m.Setup(context.Background(), id)
	})
}

func (m *Manager) stopRetryLocked(id string) {
	if timer, ok := m.retries[id]; ok {
		timer.Stop()
		delete(m.retries, id)
	}
}

func (m *Manager) setState(ctx context.Context, id string, state State, reason string) {
	_, err := m.Update(ctx, id, func(e *Entry) {
		e.State = state
		e.Reason = reason
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		m.log.WithError(err).WithField("entry_id", id).Warn("persist entry state failed")
	}
}

func (m *Manager) syncMirror(ctx context.Context) {
	if m.mirror == nil {
		return
	}
	all, err := m.store.List(ctx)
	if err != nil {
		m.log.WithError(err).Warn("list entries for mirror failed")
		return
	}
	data, err := json.Marshal(all)
	if err != nil {
		m.log.WithError(err).Warn("encode entries mirror failed")
		return
	}
	if err := m.mirror.Save(ctx, data); err != nil {
		m.log.WithError(err).Warn("save entries mirror failed")
	}
}
