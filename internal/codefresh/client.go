package codefresh

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cfsupport/internal/logger"
)

const maxErrorBody = 512

// Client issues authenticated GET requests against the Codefresh API.
type Client struct {
	creds  Credentials
	client *http.Client
}

// NewClient creates a client for the given credentials. Each request is bounded
// by timeout in addition to the caller's context.
func NewClient(creds Credentials, timeout time.Duration) *Client {
	return &Client{
		creds: creds,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("GET %s returned status %d", e.URL, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// RuntimeSpec is a runtime environment document. The raw document is kept
// verbatim so it serializes with the API's field order.
type RuntimeSpec struct {
	Name      string
	Namespace string
	Raw       json.RawMessage
}

func (r *RuntimeSpec) UnmarshalJSON(data []byte) error {
	var wire struct {
		Metadata struct {
			Name string `json:"name"`
		} `json:"metadata"`
		RuntimeScheduler struct {
			Cluster struct {
				Namespace string `json:"namespace"`
			} `json:"cluster"`
		} `json:"runtimeScheduler"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	r.Name = wire.Metadata.Name
	r.Namespace = wire.RuntimeScheduler.Cluster.Namespace
	r.Raw = append(json.RawMessage(nil), data...)
	return nil
}

func (r RuntimeSpec) MarshalJSON() ([]byte, error) {
	if len(r.Raw) == 0 {
		return []byte("null"), nil
	}
	return r.Raw, nil
}

// TotalUsers is the user count reported by the platform.
type TotalUsers struct {
	TotalUsers int `json:"totalUsers"`
}

// GetAccountRuntimes lists the runtime environments of the current account.
func (c *Client) GetAccountRuntimes(ctx context.Context) ([]RuntimeSpec, error) {
	var runtimes []RuntimeSpec
	if err := c.get(ctx, "/runtime-environments", &runtimes); err != nil {
		return nil, fmt.Errorf("getting account runtimes: %w", err)
	}
	return runtimes, nil
}

// GetRuntimeSpec returns the runtime environment named name.
func (c *Client) GetRuntimeSpec(ctx context.Context, name string) (*RuntimeSpec, error) {
	var spec RuntimeSpec
	if err := c.get(ctx, "/runtime-environments/"+url.PathEscape(name), &spec); err != nil {
		return nil, fmt.Errorf("getting runtime spec %q: %w", name, err)
	}
	return &spec, nil
}

// GetAllAccounts lists every account on an on-prem installation.
func (c *Client) GetAllAccounts(ctx context.Context) (json.RawMessage, error) {
	var accounts json.RawMessage
	if err := c.get(ctx, "/admin/accounts", &accounts); err != nil {
		return nil, fmt.Errorf("getting accounts: %w", err)
	}
	return accounts, nil
}

// GetAllRuntimes lists runtime environments across all accounts.
func (c *Client) GetAllRuntimes(ctx context.Context) (json.RawMessage, error) {
	var runtimes json.RawMessage
	if err := c.get(ctx, "/admin/runtime-environments", &runtimes); err != nil {
		return nil, fmt.Errorf("getting system runtimes: %w", err)
	}
	return runtimes, nil
}

// GetFeatureFlags returns the system feature flags.
func (c *Client) GetFeatureFlags(ctx context.Context) (json.RawMessage, error) {
	var flags json.RawMessage
	if err := c.get(ctx, "/admin/features", &flags); err != nil {
		return nil, fmt.Errorf("getting feature flags: %w", err)
	}
	return flags, nil
}

// GetTotalUsers requests a single-item page and keeps only the reported total.
func (c *Client) GetTotalUsers(ctx context.Context) (TotalUsers, error) {
	var page struct {
		Total int `json:"total"`
	}
	if err := c.get(ctx, "/admin/user?limit=1&page=1", &page); err != nil {
		return TotalUsers{}, fmt.Errorf("getting total users: %w", err)
	}
	return TotalUsers{TotalUsers: page.Total}, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	endpoint := c.creds.BaseURL + path
	logger.GetLoggerFromContext(ctx).WithField("url", endpoint).Debug("Calling Codefresh API")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	for k, v := range c.creds.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{URL: endpoint, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", endpoint, err)
	}
	return nil
}
