// Package rooms provisions meeting rooms from the room service over HTTP.
package rooms

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dkeye/CallBridge/internal/domain"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	DefaultEndpoint = "/api/rooms"
	DefaultTimeout  = 10 * time.Second
)

// CreateRoomRequest asks for a room with the given name; an empty name lets
// the service pick one.
type CreateRoomRequest struct {
	Name string `json:"name,omitempty"`
}

type CreateRoomResponse struct {
	URL  domain.RoomURL  `json:"url"`
	Name domain.RoomName `json:"name,omitempty"`
}

type Client struct {
	baseURL  string
	endpoint string
	client   *http.Client
}

type Option func(c *Client)

func WithEndpoint(p string) Option {
	return func(c *Client) {
		if p != "" {
			c.endpoint = p
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  baseURL,
		endpoint: DefaultEndpoint,
		client:   &http.Client{Timeout: DefaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CreateRoom provisions a room named by the service.
func (c *Client) CreateRoom(ctx context.Context) (domain.RoomURL, error) {
	resp, err := c.Create(ctx, CreateRoomRequest{})
	if err != nil {
		return "", err
	}
	return resp.URL, nil
}

func (c *Client) Create(ctx context.Context, in CreateRoomRequest) (*CreateRoomResponse, error) {
	u, err := c.buildURL()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build url")
	}

	reqBody, err := json.Marshal(in)
	if err != nil {
		return nil, errors.Wrap(err, "fail to marshal room request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(reqBody))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create request from url: %s", u)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to post room: %s", u)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errors.Errorf("create room api respond %d: %s", resp.StatusCode, string(body))
	}

	out := &CreateRoomResponse{}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, errors.Wrap(err, "failed to parse response from create room api")
	}
	if out.URL.IsZero() {
		return nil, errors.New("create room api returned no url")
	}

	log.Info().Str("module", "adapters.rooms").Str("room", out.URL.String()).Msg("room created")
	return out, nil
}

func (c *Client) buildURL() (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	if base.Scheme == "" || base.Host == "" {
		return "", errors.Errorf("invalid room service url: %q", c.baseURL)
	}
	return base.JoinPath(c.endpoint).String(), nil
}
