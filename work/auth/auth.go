// Package auth obtains the catalog credentials from the authorization endpoint.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"kptv-player/work/config"
	"kptv-player/work/logger"
	"kptv-player/work/utils"
)

// maxResponseBytes caps the authorization response body.
const maxResponseBytes = 1 << 20

// Doer executes HTTP requests. client.HeaderSettingClient satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DeviceStore persists the device identifier between runs.
type DeviceStore interface {
	DeviceID(ctx context.Context) (string, error)
	SaveDeviceID(ctx context.Context, id string) error
}

// Grant is the result of a successful authorization.
type Grant struct {
	Token       string
	PlaylistURL string
	DeviceID    string
}

// authResponse maps the JSON body of the authorization endpoint. Both spellings of the
// playlist key are seen in the wild.
type authResponse struct {
	Token            string `json:"token"`
	PlaylistURL      string `json:"playlist_url"`
	PlaylistURLCamel string `json:"playlistUrl"`
	DeviceID         string `json:"device_id"`
}

// Client talks to the authorization endpoint.
type Client struct {
	http    Doer
	cfg     *config.Config
	authURL string
	store   DeviceStore
	timeout time.Duration
	log     zerolog.Logger
}

// NewClient creates an authorization client. store may be nil, in which case no device
// identifier is sent or remembered.
func NewClient(httpClient Doer, cfg *config.Config, store DeviceStore) *Client {
	timeout := 15 * time.Second
	authURL := ""
	if cfg != nil {
		authURL = cfg.AuthURL
		if cfg.RequestTimeout > 0 {
			timeout = cfg.RequestTimeout
		}
	}
	return &Client{
		http:    httpClient,
		cfg:     cfg,
		authURL: authURL,
		store:   store,
		timeout: timeout,
		log:     logger.WithComponent("auth"),
	}
}

// Authorize requests a token and the playlist locator. The stored device identifier is
// sent when one exists, and a device identifier returned by the endpoint is persisted.
func (c *Client) Authorize(ctx context.Context) (*Grant, error) {
	if c.authURL == "" {
		return nil, errors.New("authorization endpoint not configured")
	}

	u, err := url.Parse(c.authURL)
	if err != nil {
		return nil, fmt.Errorf("invalid authorization endpoint: %w", err)
	}

	deviceID := ""
	if c.store != nil {
		deviceID, err = c.store.DeviceID(ctx)
		if err != nil {
			c.log.Warn().Err(err).Msg("could not read stored device id")
			deviceID = ""
		}
	}
	if deviceID != "" {
		q := u.Query()
		q.Set("device_id", deviceID)
		u.RawQuery = q.Encode()
	}

	resp, err := fetchJSON[authResponse](ctx, c.http, c.timeout, u.String(), "")
	if err != nil {
		return nil, err
	}

	grant := &Grant{
		Token:       resp.Token,
		PlaylistURL: resp.PlaylistURL,
		DeviceID:    deviceID,
	}
	if grant.PlaylistURL == "" {
		grant.PlaylistURL = resp.PlaylistURLCamel
	}
	if grant.PlaylistURL == "" {
		return nil, errors.New("authorization response has no playlist url")
	}

	if resp.DeviceID != "" && resp.DeviceID != deviceID {
		grant.DeviceID = resp.DeviceID
		if c.store != nil {
			if err := c.store.SaveDeviceID(ctx, resp.DeviceID); err != nil {
				c.log.Warn().Err(err).Msg("could not persist device id")
			}
		}
	}

	c.log.Debug().
		Str("playlist", utils.LogURL(c.cfg, grant.PlaylistURL)).
		Bool("token", grant.Token != "").
		Msg("authorized")

	return grant, nil
}

// FetchPlaylist issues the single playlist request with the grant's bearer token and
// returns the open body. The caller closes it.
func (c *Client) FetchPlaylist(ctx context.Context, grant *Grant) (io.ReadCloser, error) {
	resp, err := get(ctx, c.http, grant.PlaylistURL, grant.Token)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// get performs a GET and rejects non-200 answers. On success the body is left open.
func get(ctx context.Context, httpClient Doer, target, token string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("endpoint returned HTTP %d", resp.StatusCode)
	}
	return resp, nil
}

// fetchJSON GETs target under its own deadline and decodes the body into T.
func fetchJSON[T any](ctx context.Context, httpClient Doer, timeout time.Duration, target, token string) (*T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := get(ctx, httpClient, target, token)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var data T
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w", err)
	}
	return &data, nil
}
