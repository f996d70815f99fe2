// Package metadata reports installed libraries to the H5P hub and applies the
// tutorial links, site uuid and release information it answers with.
package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tendant/simple-h5p/pkg/h5p"
)

// DefaultURL is the hub endpoint receiving library statistics.
const DefaultURL = "https://h5p.org/libraries-metadata.json"

// Site options read and written by a fetch.
const (
	OptionUUID                = "H5P_UUID"
	OptionSiteType            = "H5P_SITETYPE"
	OptionUpdateAvailable     = "H5P_UPDATE_AVAILABLE"
	OptionUpdateAvailablePath = "H5P_UPDATE_AVAILABLE_PATH"
)

const maxResponseSize = 10 << 20

// Transport sends the form encoded statistics and returns the raw reply.
type Transport interface {
	Post(ctx context.Context, endpoint string, form url.Values) ([]byte, error)
}

// HTTPTransport posts with an http.Client.
type HTTPTransport struct {
	Client *http.Client
}

// NewHTTPTransport returns a transport with the given request timeout.
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{Client: &http.Client{Timeout: timeout}}
}

func (t *HTTPTransport) Post(ctx context.Context, endpoint string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("metadata endpoint returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	return body, nil
}

// Platform identifies the installation to the hub.
type Platform struct {
	Name       string
	Version    string
	H5PVersion string
	// LocalID is hashed into the local_id field, typically the storage root.
	LocalID string
}

// Fetcher performs the metadata exchange.
type Fetcher struct {
	repo      h5p.Repository
	transport Transport
	endpoint  string
	platform  Platform
	logger    *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

func WithTransport(t Transport) Option {
	return func(f *Fetcher) {
		f.transport = t
	}
}

func WithURL(endpoint string) Option {
	return func(f *Fetcher) {
		f.endpoint = endpoint
	}
}

func WithPlatform(p Platform) Option {
	return func(f *Fetcher) {
		f.platform = p
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

func New(repo h5p.Repository, opts ...Option) *Fetcher {
	f := &Fetcher{
		repo:      repo,
		transport: NewHTTPTransport(30 * time.Second),
		endpoint:  DefaultURL,
		platform:  Platform{Name: "simple-h5p", Version: "1.0", H5PVersion: "1.24"},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Latest describes the newest H5P release announced by the hub.
type Latest struct {
	ReleasedAt string `json:"releasedAt"`
	Path       string `json:"path"`
}

// LibraryInfo is the hub's metadata for one machine name.
type LibraryInfo struct {
	TutorialURL string `json:"tutorialUrl"`
}

// Response is the decoded hub reply.
type Response struct {
	UUID      string                 `json:"uuid"`
	Libraries map[string]LibraryInfo `json:"-"`
	Latest    *Latest                `json:"-"`
}

func (r *Response) UnmarshalJSON(data []byte) error {
	var raw struct {
		UUID      string          `json:"uuid"`
		Libraries json.RawMessage `json:"libraries"`
		Latest    json.RawMessage `json:"latest"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.UUID = raw.UUID
	// Empty collections arrive as [] rather than {}.
	if isObject(raw.Libraries) {
		if err := json.Unmarshal(raw.Libraries, &r.Libraries); err != nil {
			return fmt.Errorf("invalid libraries: %w", err)
		}
	}
	if isObject(raw.Latest) {
		r.Latest = &Latest{}
		if err := json.Unmarshal(raw.Latest, r.Latest); err != nil {
			return fmt.Errorf("invalid latest: %w", err)
		}
	}
	return nil
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

// Fetch posts the installed library statistics and applies the reply. An
// empty reply changes nothing. disabled tells the hub that fetching has been
// turned off for this site.
func (f *Fetcher) Fetch(ctx context.Context, disabled bool) (*Response, error) {
	form, err := f.payload(ctx, disabled)
	if err != nil {
		return nil, err
	}

	body, err := f.transport.Post(ctx, f.endpoint, form)
	if err != nil {
		f.logger.WarnContext(ctx, "Library metadata fetch failed", "url", f.endpoint, "error", err)
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	if err := f.apply(ctx, form.Get("uuid"), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (f *Fetcher) payload(ctx context.Context, disabled bool) (url.Values, error) {
	uuid, err := f.repo.GetOption(ctx, OptionUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to read site uuid: %w", err)
	}
	siteType, err := f.repo.GetOption(ctx, OptionSiteType)
	if err != nil {
		return nil, fmt.Errorf("failed to read site type: %w", err)
	}
	if siteType == "" {
		siteType = "local"
	}

	libraries, err := f.repo.LoadLibraries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load libraries: %w", err)
	}
	patch := map[string]map[string]int{}
	for _, lib := range libraries {
		versions, ok := patch[lib.MachineName]
		if !ok {
			versions = map[string]int{}
			patch[lib.MachineName] = versions
		}
		versions[fmt.Sprintf("%d.%d", lib.MajorVersion, lib.MinorVersion)] = int(lib.PatchVersion)
	}
	counts, err := f.repo.LibraryContentCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count library usage: %w", err)
	}
	stats, err := json.Marshal(map[string]any{"patch": patch, "content": counts})
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("api_version", "2")
	form.Set("uuid", uuid)
	form.Set("platform_name", f.platform.Name)
	form.Set("platform_version", f.platform.Version)
	form.Set("h5p_version", f.platform.H5PVersion)
	if disabled {
		form.Set("disabled", "1")
	} else {
		form.Set("disabled", "0")
	}
	form.Set("local_id", strconv.FormatUint(uint64(crc32.ChecksumIEEE([]byte(f.platform.LocalID))), 10))
	form.Set("type", siteType)
	form.Set("libraries", string(stats))
	return form, nil
}

func (f *Fetcher) apply(ctx context.Context, currentUUID string, resp *Response) error {
	for machineName, info := range resp.Libraries {
		if info.TutorialURL == "" {
			continue
		}
		if err := f.repo.SetLibraryTutorialURL(ctx, machineName, info.TutorialURL); err != nil {
			return fmt.Errorf("failed to set tutorial url for %s: %w", machineName, err)
		}
	}

	if currentUUID == "" && resp.UUID != "" {
		if err := f.repo.SetOption(ctx, OptionUUID, resp.UUID); err != nil {
			return fmt.Errorf("failed to store site uuid: %w", err)
		}
	}

	if resp.Latest != nil {
		if err := f.repo.SetOption(ctx, OptionUpdateAvailable, resp.Latest.ReleasedAt); err != nil {
			return err
		}
		if err := f.repo.SetOption(ctx, OptionUpdateAvailablePath, resp.Latest.Path); err != nil {
			return err
		}
	}
	return nil
}
