package fppclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	requestTimeout = 10 * time.Second
	apiPrefix      = "/api"
)

// Session performs HTTP requests. *http.Client satisfies it.
type Session interface {
	Do(*http.Request) (*http.Response, error)
	CloseIdleConnections()
}

// Options configure a Client. A nil Session makes the client create and
// own one; a non-nil Session is borrowed and never closed by the client.
type Options struct {
	Username  string
	Password  string
	VerifySSL bool
	Session   Session
	Timeout   time.Duration
	Logger    logrus.FieldLogger
}

// Client talks to the FPP REST API.
type Client struct {
	baseURL   string
	username  string
	password  string
	verifySSL bool
	timeout   time.Duration
	log       logrus.FieldLogger

	mu         sync.Mutex
	session    Session
	owned      bool
	newSession func(verifySSL bool) Session
}

// New builds a client for the device at rawURL. A missing scheme defaults
// to http and the /api prefix is appended once.
func New(rawURL string, opts Options) (*Client, error) {
	base, err := NormalizeBaseURL(rawURL)
	if err != nil {
		return nil, err
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = requestTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{
		baseURL:    base,
		username:   opts.Username,
		password:   opts.Password,
		verifySSL:  opts.VerifySSL,
		timeout:    timeout,
		log:        logger,
		session:    opts.Session,
		newSession: defaultSession,
	}, nil
}

// NormalizeBaseURL returns the API root for a device URL.
func NormalizeBaseURL(rawURL string) (string, error) {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return "", fmt.Errorf("fpp url is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse fpp url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid fpp url %q", rawURL)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	if !strings.HasSuffix(u.Path, apiPrefix) {
		u.Path += apiPrefix
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

func defaultSession(verifySSL bool) Session {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !verifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // devices ship self-signed certs
	}
	return &http.Client{Transport: transport}
}

// BaseURL returns the normalized API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Host returns the device host (with port when one was given).
func (c *Client) Host() string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// Close releases the session when the client created it.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.owned && c.session != nil {
		c.session.CloseIdleConnections()
		c.session = nil
		c.owned = false
	}
}

// SystemStatus fetches /api/system/status.
func (c *Client) SystemStatus(ctx context.Context) (Status, error) {
	var status Status
	if err := c.getJSON(ctx, "system/status", &status); err != nil {
		return nil, err
	}
	if status == nil {
		status = Status{}
	}
	return status, nil
}

// PlayablePlaylists lists playlist names that can be started.
func (c *Client) PlayablePlaylists(ctx context.Context) ([]string, error) {
	var raw []any
	if err := c.getJSON(ctx, "playlists/playable", &raw); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case string:
			out = append(out, v)
		case map[string]any:
			if name, ok := v["name"].(string); ok {
				out = append(out, name)
			}
		}
	}
	return out, nil
}

// StartPlaylist starts the named playlist.
func (c *Client) StartPlaylist(ctx context.Context, name string) error {
	_, err := c.do(ctx, http.MethodGet, "playlist/"+url.PathEscape(name)+"/start", nil)
	return err
}

func (c *Client) StopPlaylists(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "playlists/stop", nil)
	return err
}

func (c *Client) PausePlaylist(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "playlists/pause", nil)
	return err
}

func (c *Client) ResumePlaylist(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "playlists/resume", nil)
	return err
}

// StartDaemon starts fppd.
func (c *Client) StartDaemon(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "system/fppd/start", nil)
	return err
}

// StopDaemon stops fppd.
func (c *Client) StopDaemon(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "system/fppd/stop", nil)
	return err
}

// Command runs an FPP command through POST /api/command.
func (c *Client) Command(ctx context.Context, name string, args ...any) error {
	if args == nil {
		args = []any{}
	}
	payload := struct {
		Command string `json:"command"`
		Args    []any  `json:"args"`
	}{Command: name, Args: args}
	_, err := c.do(ctx, http.MethodPost, "command", payload)
	return err
}

// NamedCommand runs an argument-less command through GET /api/command/{name}.
func (c *Client) NamedCommand(ctx context.Context, name string) error {
	_, err := c.do(ctx, http.MethodGet, "command/"+url.PathEscape(name), nil)
	return err
}

// Brightness returns the brightness plugin level in percent, clamped to 0-100.
func (c *Client) Brightness(ctx context.Context) (int, error) {
	payload, err := c.do(ctx, http.MethodGet, "plugin-apis/Brightness", nil)
	if err != nil {
		return 0, err
	}
	text := strings.Trim(strings.TrimSpace(string(payload)), `"`)
	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, c.wrap(ErrUnexpected, http.MethodGet, c.endpoint("plugin-apis/Brightness"), 0, fmt.Errorf("parse brightness %q: %w", text, err))
	}
	level := int(math.Round(value))
	return min(max(level, 0), 100), nil
}

// ImageURL returns the URL of the cover image for title when the device
// has one, or "" when it does not.
func (c *Client) ImageURL(ctx context.Context, title string) (string, error) {
	path := "file/Images/" + url.PathEscape(title+".jpg")
	if _, err := c.do(ctx, http.MethodHead, path, nil); err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return c.endpoint(path), nil
}

func (c *Client) getJSON(ctx context.Context, path string, dest any) error {
	payload, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		return c.wrap(ErrUnexpected, http.MethodGet, c.endpoint(path), 0, fmt.Errorf("decode %s: %w", path, err))
	}
	return nil
}

func (c *Client) endpoint(path string) string {
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

func (c *Client) acquireSession() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		c.session = c.newSession(c.verifySSL)
		c.owned = true
	}
	return c.session
}

// do is the single request path. Every operation goes through it.
func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	endpoint := c.endpoint(path)

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, c.wrap(ErrUnexpected, method, endpoint, 0, fmt.Errorf("encode body: %w", err))
		}
		reader = bytes.NewReader(encoded)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, c.wrap(ErrUnexpected, method, endpoint, 0, fmt.Errorf("build request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.username != "" && c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.acquireSession().Do(req)
	if err != nil {
		return nil, c.wrap(ErrConnection, method, endpoint, 0, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.wrap(ErrConnection, method, endpoint, resp.StatusCode, fmt.Errorf("read body: %w", err))
	}

	if kind := kindForStatus(resp.StatusCode); kind != nil {
		var cause error
		if text := strings.TrimSpace(string(payload)); text != "" && len(text) < 512 {
			cause = errors.New(text)
		}
		return nil, c.wrap(kind, method, endpoint, resp.StatusCode, cause)
	}

	c.log.WithFields(logrus.Fields{
		"method": method,
		"url":    endpoint,
		"status": resp.StatusCode,
	}).Debug("fpp response")

	return payload, nil
}

func (c *Client) wrap(kind error, method, endpoint string, status int, err error) error {
	return &Error{Kind: kind, Method: method, URL: endpoint, StatusCode: status, Err: err}
}
