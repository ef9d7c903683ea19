package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/relaypos/edgehub/internal/config"
	"github.com/rs/zerolog/log"
)

const defaultTimeout = 30 * time.Second

// Resp is the uniform envelope every cloud call returns. OK is true iff the
// HTTP status was 2xx. Network failures and timeouts yield OK=false with
// Status 0.
type Resp struct {
	OK     bool
	Status int
	Data   any
	Err    string
}

// Client is a thin JSON client for the cloud API. Credentials and base URL
// are read from config on every call so re-pairing takes effect without a
// restart. The client never retries; retry policy belongs to the engines.
type Client struct {
	cfg  *config.Config
	http *http.Client
}

func New(cfg *config.Config) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{},
	}
}

// IsConfigured reports whether the hub has a base URL and API key. Both
// engines gate their work on this.
func (c *Client) IsConfigured() bool {
	return c.cfg.IsPaired()
}

// Get performs a GET against path with optional query parameters.
func (c *Client) Get(ctx context.Context, path string, query url.Values) Resp {
	return c.do(ctx, http.MethodGet, path, query, nil)
}

// Post performs a POST against path with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) Resp {
	return c.do(ctx, http.MethodPost, path, nil, body)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) Resp {
	vals := c.cfg.Snapshot()

	u := strings.TrimRight(vals.CloudBaseURL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return Resp{Err: "marshal request: " + err.Error()}
		}
		rdr = bytes.NewReader(b)
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return Resp{Err: err.Error()}
	}

	req.Header.Set("X-API-Key", vals.CloudAPIKey)
	req.Header.Set("X-Tenant-ID", vals.TenantID)
	req.Header.Set("X-Location-ID", vals.LocationID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return Resp{Status: 0, Err: err.Error()}
	}
	defer res.Body.Close()

	out := Resp{
		OK:     res.StatusCode >= 200 && res.StatusCode < 300,
		Status: res.StatusCode,
	}

	if strings.HasPrefix(res.Header.Get("Content-Type"), "application/json") {
		var data any
		if err := json.NewDecoder(res.Body).Decode(&data); err != nil && err != io.EOF {
			log.Warn().Err(err).Str("path", path).Msg("cloud response body not valid json")
		} else {
			out.Data = data
		}
	}

	if !out.OK {
		if m, ok := out.Data.(map[string]any); ok {
			if e, ok := m["error"].(string); ok {
				out.Err = e
			}
		}
		if out.Err == "" {
			out.Err = res.Status
		}
	}

	return out
}
