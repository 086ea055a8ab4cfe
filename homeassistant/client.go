// Package homeassistant talks to the Home Assistant REST and websocket APIs.
package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/oliverbravery/3D-Print-Sentinel/logging"
)

// DefaultTimeout bounds every REST request made by a Client.
const DefaultTimeout = 15 * time.Second

// maxSnapshotBytes caps how much of a camera snapshot is read.
const maxSnapshotBytes = 32 << 20

// EntityState is the current state of one entity.
type EntityState struct {
	EntityID    string                 `json:"entity_id"`
	State       string                 `json:"state"`
	Attributes  map[string]interface{} `json:"attributes"`
	LastChanged time.Time              `json:"last_changed"`
	LastUpdated time.Time              `json:"last_updated"`
}

// StatusError is returned when Home Assistant answers with a non-2xx status.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Path, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// IsNotFound returns whether err is a 404 from Home Assistant, e.g. an unknown entity id.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// API is the part of the REST API the sentinel's components use.
type API interface {
	State(ctx context.Context, entityID string) (*EntityState, error)
	CallService(ctx context.Context, domain, service string, data map[string]interface{}) error
	CameraSnapshot(ctx context.Context, entityID string) ([]byte, string, error)
}

var _ API = (*Client)(nil)

// Client is a Home Assistant REST API client authenticated with a long-lived access token.
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
	logger     logging.Logger
}

// NewClient returns a client for the instance at baseURL, e.g. "http://homeassistant.local:8123".
func NewClient(baseURL, token string, logger logging.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid base url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("base url %q must be http or https", baseURL)
	}
	if token == "" {
		return nil, errors.New("an access token is required")
	}
	return &Client{
		baseURL:    u,
		token:      token,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     logger,
	}, nil
}

// BaseURL returns the instance url the client was created with.
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// Token returns the access token.
func (c *Client) Token() string {
	return c.token
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(buf)
	}

	u := c.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer utils.UncheckedErrorFunc(resp.Body.Close)
		//nolint:errcheck
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(msg)),
		}
	}
	return resp, nil
}

// State fetches the current state of an entity.
func (c *Client) State(ctx context.Context, entityID string) (*EntityState, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/states/"+entityID, nil)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(resp.Body.Close)

	var state EntityState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, errors.Wrapf(err, "decoding state of %s", entityID)
	}
	return &state, nil
}

// CallService calls a service such as button.press or notify.mobile_app_phone.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]interface{}) error {
	if data == nil {
		data = map[string]interface{}{}
	}
	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/services/%s/%s", domain, service), data)
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(resp.Body.Close)
	//nolint:errcheck
	io.Copy(io.Discard, resp.Body)
	c.logger.Debugw("called service", "domain", domain, "service", service)
	return nil
}

// CameraSnapshot returns the current still image of a camera entity and its content type.
func (c *Client) CameraSnapshot(ctx context.Context, entityID string) ([]byte, string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/camera_proxy/"+entityID, nil)
	if err != nil {
		return nil, "", err
	}
	defer utils.UncheckedErrorFunc(resp.Body.Close)

	buf, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return nil, "", errors.Wrapf(err, "reading snapshot of %s", entityID)
	}
	if len(buf) == 0 {
		return nil, "", errors.Errorf("empty snapshot from %s", entityID)
	}
	return buf, resp.Header.Get("Content-Type"), nil
}

// Ping checks that the API is reachable and the token is accepted.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/api/", nil)
	if err != nil {
		return err
	}
	utils.UncheckedError(resp.Body.Close())
	return nil
}
