package falcon_pi_player

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/joshp123/gohome-fpp/internal/entries"
	"github.com/joshp123/gohome-fpp/internal/zeroconf"
	"github.com/joshp123/gohome-fpp/plugins/falcon_pi_player/fppclient"
)

// Flow abort and error reasons.
const (
	ReasonCannotConnect     = "cannot_connect"
	ReasonInvalidAuth       = "invalid_auth"
	ReasonUnknown           = "unknown"
	ReasonAlreadyConfigured = "already_configured"
	ReasonNotFound          = "not_found"
)

const defaultDiscoveryPort = "80"

// FlowError carries the reason a config flow step failed or aborted.
type FlowError struct {
	Reason string
	Err    error
}

func (e *FlowError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return e.Reason + ": " + e.Err.Error()
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

// ReasonOf returns the flow reason for err, or "" when err is not a flow
// error.
func ReasonOf(err error) string {
	var flowErr *FlowError
	if errors.As(err, &flowErr) {
		return flowErr.Reason
	}
	return ""
}

func flowError(reason string, err error) error {
	return &FlowError{Reason: reason, Err: err}
}

// UserInput is the manual setup form.
type UserInput struct {
	URL       string `json:"url"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
	VerifySSL bool   `json:"verify_ssl"`
}

// Credentials replace the auth on an existing or discovered entry.
type Credentials struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// Discovery is a device found over mDNS that is waiting for confirmation.
type Discovery struct {
	UniqueID     string            `json:"unique_id"`
	Name         string            `json:"name"`
	Host         string            `json:"host"`
	URL          string            `json:"url"`
	Properties   map[string]string `json:"properties,omitempty"`
	DiscoveredAt time.Time         `json:"discovered_at"`
}

// ZeroconfResult reports what a discovery produced: a pending Discovery, or
// an Entry when discoveries are confirmed automatically.
type ZeroconfResult struct {
	Discovery *Discovery     `json:"discovery,omitempty"`
	Entry     *entries.Entry `json:"entry,omitempty"`
}

// ConfigFlow creates and repairs FPP config entries.
type ConfigFlow struct {
	manager     *entries.Manager
	integration *Integration
	autoConfirm bool
	log         logrus.FieldLogger
	now         func() time.Time

	// port the device web UI listens on; announcements carry the fppd port
	discoveryPort string

	mu         sync.Mutex
	discovered map[string]Discovery
}

func NewConfigFlow(manager *entries.Manager, integration *Integration, autoConfirm bool, logger logrus.FieldLogger) *ConfigFlow {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ConfigFlow{
		manager:     manager,
		integration: integration,
		autoConfirm: autoConfirm,
		log:         logger.WithField("component", "config_flow"),
		now:         time.Now,
		discovered:  make(map[string]Discovery),

		discoveryPort: defaultDiscoveryPort,
	}
}

// validate fetches the device status with the given endpoint and maps
// failures to flow reasons.
func (f *ConfigFlow) validate(ctx context.Context, data entries.Data) (*fppclient.Client, fppclient.Status, error) {
	client, err := f.integration.NewClient(data)
	if err != nil {
		return nil, nil, flowError(ReasonCannotConnect, err)
	}
	status, err := client.SystemStatus(ctx)
	if err != nil {
		client.Close()
		switch {
		case errors.Is(err, fppclient.ErrAuthentication):
			return nil, nil, flowError(ReasonInvalidAuth, err)
		case errors.Is(err, fppclient.ErrConnection):
			return nil, nil, flowError(ReasonCannotConnect, err)
		default:
			f.log.WithError(err).Error("unexpected error validating device")
			return nil, nil, flowError(ReasonUnknown, err)
		}
	}
	return client, status, nil
}

// entryTitle is "{host_name} - {first address}", degrading to whatever is
// known.
func entryTitle(status fppclient.Status, fallback string) string {
	name := status.HostName()
	addrs := status.InterfaceAddresses()
	switch {
	case name != "" && len(addrs) > 0:
		return name + " - " + addrs[0]
	case name != "":
		return name
	default:
		return fallback
	}
}

// User handles manual setup.
func (f *ConfigFlow) User(ctx context.Context, in UserInput) (entries.Entry, error) {
	data := entries.Data{
		URL:       in.URL,
		Username:  in.Username,
		Password:  in.Password,
		VerifySSL: in.VerifySSL,
	}
	client, status, err := f.validate(ctx, data)
	if err != nil {
		return entries.Entry{}, err
	}
	defer client.Close()

	host := client.Host()
	return f.create(ctx, entries.Entry{
		Domain:   PluginID,
		Title:    entryTitle(status, host),
		UniqueID: host,
		Source:   entries.SourceUser,
		Data:     data,
	})
}

func (f *ConfigFlow) create(ctx context.Context, entry entries.Entry) (entries.Entry, error) {
	created, err := f.manager.Add(ctx, entry)
	if errors.Is(err, entries.ErrAlreadyConfigured) {
		return entries.Entry{}, flowError(ReasonAlreadyConfigured, err)
	}
	if err != nil {
		return entries.Entry{}, err
	}
	f.log.WithFields(logrus.Fields{
		"entry_id": created.ID,
		"title":    created.Title,
		"source":   created.Source,
		"state":    created.State,
	}).Info("fpp config entry created")
	return created, nil
}

// Zeroconf handles an mDNS announcement.
func (f *ConfigFlow) Zeroconf(ctx context.Context, info zeroconf.ServiceInfo) (ZeroconfResult, error) {
	host := info.Address()
	if host == "" {
		return ZeroconfResult{}, flowError(ReasonCannotConnect, fmt.Errorf("announcement for %q has no address", info.Instance))
	}
	logger := f.log.WithFields(logrus.Fields{"instance": info.Instance, "host": host})

	mac := info.Properties["mac"]
	if mac != "" {
		if err := f.abortIfConfigured(ctx, mac, host); err != nil {
			return ZeroconfResult{}, err
		}
	}

	deviceURL := "http://" + net.JoinHostPort(host, f.discoveryPort)
	status, err := f.probe(ctx, deviceURL)
	if err != nil {
		logger.WithError(err).Debug("discovered device did not answer")
		return ZeroconfResult{}, flowError(ReasonCannotConnect, err)
	}

	uniqueID := mac
	if uniqueID == "" {
		uniqueID = host
		if err := f.abortIfConfigured(ctx, uniqueID, host); err != nil {
			return ZeroconfResult{}, err
		}
	}

	name := status.HostName()
	if name == "" {
		name = host
	}
	disc := Discovery{
		UniqueID:     uniqueID,
		Name:         name,
		Host:         host,
		URL:          deviceURL,
		Properties:   info.Properties,
		DiscoveredAt: f.now(),
	}

	if !f.autoConfirm {
		f.mu.Lock()
		_, known := f.discovered[uniqueID]
		f.discovered[uniqueID] = disc
		f.mu.Unlock()
		if !known {
			logger.WithField("name", name).Info("fpp device discovered, waiting for confirmation")
		}
		return ZeroconfResult{Discovery: &disc}, nil
	}

	entry, err := f.create(ctx, entries.Entry{
		Domain:   PluginID,
		Title:    name,
		UniqueID: uniqueID,
		Source:   entries.SourceZeroconf,
		Data:     entries.Data{URL: deviceURL},
	})
	if err != nil {
		return ZeroconfResult{}, err
	}
	return ZeroconfResult{Entry: &entry}, nil
}

// probe fetches status without credentials.
func (f *ConfigFlow) probe(ctx context.Context, rawURL string) (fppclient.Status, error) {
	client, err := f.integration.NewClient(entries.Data{URL: rawURL})
	if err != nil {
		return nil, err
	}
	defer client.Close()
	return client.SystemStatus(ctx)
}

// abortIfConfigured points an existing entry at the announced host and
// aborts. Entries that moved are reloaded.
func (f *ConfigFlow) abortIfConfigured(ctx context.Context, uniqueID, host string) error {
	existing, found, err := f.manager.FindByUniqueID(ctx, PluginID, uniqueID)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	updated, changed := withHost(existing.Data.URL, host)
	if changed {
		if _, err := f.manager.Update(ctx, existing.ID, func(e *entries.Entry) { e.Data.URL = updated }); err != nil {
			return err
		}
		f.log.WithFields(logrus.Fields{"entry_id": existing.ID, "url": updated}).Info("fpp device moved, updating entry")
		if err := f.manager.Reload(ctx, existing.ID); err != nil {
			f.log.WithError(err).WithField("entry_id", existing.ID).Warn("reload after host change failed")
		}
	}
	return flowError(ReasonAlreadyConfigured, entries.ErrAlreadyConfigured)
}

// withHost replaces the hostname in rawURL, keeping scheme, port and path.
func withHost(rawURL, host string) (string, bool) {
	raw := rawURL
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		u, err = url.Parse("http://" + raw)
		if err != nil {
			return "http://" + host, true
		}
	}
	if u.Hostname() == host {
		return rawURL, false
	}
	if port := u.Port(); port != "" {
		u.Host = net.JoinHostPort(host, port)
	} else {
		u.Host = host
	}
	return u.String(), true
}

// ListDiscovered returns pending discoveries sorted by name.
func (f *ConfigFlow) ListDiscovered() []Discovery {
	f.mu.Lock()
	out := make([]Discovery, 0, len(f.discovered))
	for _, disc := range f.discovered {
		out = append(out, disc)
	}
	f.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ConfirmDiscovered creates an entry for a pending discovery.
func (f *ConfigFlow) ConfirmDiscovered(ctx context.Context, uniqueID string, creds Credentials) (entries.Entry, error) {
	f.mu.Lock()
	disc, ok := f.discovered[uniqueID]
	f.mu.Unlock()
	if !ok {
		return entries.Entry{}, flowError(ReasonNotFound, fmt.Errorf("no pending discovery %q", uniqueID))
	}

	data := entries.Data{URL: disc.URL, Username: creds.Username, Password: creds.Password}
	if creds.Username != "" || creds.Password != "" {
		client, _, err := f.validate(ctx, data)
		if err != nil {
			return entries.Entry{}, err
		}
		client.Close()
	}

	entry, err := f.create(ctx, entries.Entry{
		Domain:   PluginID,
		Title:    disc.Name,
		UniqueID: disc.UniqueID,
		Source:   entries.SourceZeroconf,
		Data:     data,
	})
	if err != nil && ReasonOf(err) != ReasonAlreadyConfigured {
		return entries.Entry{}, err
	}
	f.mu.Lock()
	delete(f.discovered, uniqueID)
	f.mu.Unlock()
	return entry, err
}

// Reauth replaces credentials on an entry, validates them and reloads it.
func (f *ConfigFlow) Reauth(ctx context.Context, entryID string, creds Credentials) (entries.Entry, error) {
	entry, err := f.manager.Get(ctx, entryID)
	if errors.Is(err, entries.ErrNotFound) {
		return entries.Entry{}, flowError(ReasonNotFound, err)
	}
	if err != nil {
		return entries.Entry{}, err
	}
	if entry.Domain != PluginID {
		return entries.Entry{}, flowError(ReasonNotFound, fmt.Errorf("entry %s is not an fpp entry", entryID))
	}

	data := entry.Data
	data.Username = creds.Username
	data.Password = creds.Password
	client, _, err := f.validate(ctx, data)
	if err != nil {
		return entries.Entry{}, err
	}
	client.Close()

	if _, err := f.manager.Update(ctx, entryID, func(e *entries.Entry) { e.Data = data }); err != nil {
		return entries.Entry{}, err
	}
	if err := f.manager.Reload(ctx, entryID); err != nil {
		f.log.WithError(err).WithField("entry_id", entryID).Warn("reload after reauth failed")
	}
	f.log.WithField("entry_id", entryID).Info("fpp entry reauthenticated")
	return f.manager.Get(ctx, entryID)
}

// Import creates entries for devices declared in the config file. Devices
// that are already configured are skipped. Unreachable devices are still
// imported so setup can retry.
func (f *ConfigFlow) Import(ctx context.Context, devices []Device) ([]entries.Entry, error) {
	out := make([]entries.Entry, 0, len(devices))
	for _, dev := range devices {
		base, err := fppclient.NormalizeBaseURL(dev.URL)
		if err != nil {
			return out, fmt.Errorf("import %q: %w", dev.URL, err)
		}
		u, _ := url.Parse(base)
		host := u.Host

		if _, found, err := f.manager.FindByUniqueID(ctx, PluginID, host); err != nil {
			return out, err
		} else if found {
			continue
		}

		title := host
		data := entries.Data{URL: dev.URL, Username: dev.Username, Password: dev.Password, VerifySSL: dev.VerifySSL}
		if client, status, err := f.validate(ctx, data); err == nil {
			title = entryTitle(status, host)
			client.Close()
		} else {
			f.log.WithError(err).WithField("url", dev.URL).Warn("imported device not reachable yet")
		}

		entry, err := f.create(ctx, entries.Entry{
			Domain:   PluginID,
			Title:    title,
			UniqueID: host,
			Source:   entries.SourceImport,
			Data:     data,
		})
		if ReasonOf(err) == ReasonAlreadyConfigured {
			continue
		}
		if err != nil {
			return out, err
		}
		out = append(out, entry)
	}
	return out, nil
}
