package auth

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kptv-player/work/config"
)

type memStore struct {
	mu sync.Mutex
	id string
}

func (m *memStore) DeviceID(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id, nil
}

func (m *memStore) SaveDeviceID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = id
	return nil
}

func TestAuthorizePersistsReturnedDeviceID(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.URL.Query().Get("device_id"))
		_, _ = io.WriteString(w, `{"token":"t0k","playlist_url":"http://cdn.test/list.m3u","device_id":"dev-1"}`)
	}))
	defer srv.Close()

	store := &memStore{}
	c := NewClient(http.DefaultClient, &config.Config{AuthURL: srv.URL + "/authorize"}, store)

	grant, err := c.Authorize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "t0k", grant.Token)
	assert.Equal(t, "http://cdn.test/list.m3u", grant.PlaylistURL)
	assert.Equal(t, "dev-1", grant.DeviceID)
	assert.Equal(t, "dev-1", store.id)

	_, err = c.Authorize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"", "dev-1"}, seen)
}

func TestAuthorizeAcceptsCamelCasePlaylistKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"token":"x","playlistUrl":"http://cdn.test/camel.m3u"}`)
	}))
	defer srv.Close()

	c := NewClient(http.DefaultClient, &config.Config{AuthURL: srv.URL}, nil)
	grant, err := c.Authorize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "http://cdn.test/camel.m3u", grant.PlaylistURL)
}

func TestAuthorizeFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/denied":
			http.Error(w, "nope", http.StatusForbidden)
		case "/garbage":
			_, _ = io.WriteString(w, "<html>")
		default:
			_, _ = io.WriteString(w, `{"token":"x"}`)
		}
	}))
	defer srv.Close()

	for _, path := range []string{"/denied", "/garbage", "/missing"} {
		c := NewClient(http.DefaultClient, &config.Config{AuthURL: srv.URL + path}, nil)
		_, err := c.Authorize(context.Background())
		assert.Error(t, err, path)
	}

	_, err := NewClient(http.DefaultClient, &config.Config{}, nil).Authorize(context.Background())
	assert.Error(t, err)
}

func TestFetchPlaylistSendsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, "#EXTM3U\n")
	}))
	defer srv.Close()

	c := NewClient(http.DefaultClient, &config.Config{}, nil)

	body, err := c.FetchPlaylist(context.Background(), &Grant{Token: "secret", PlaylistURL: srv.URL})
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.NoError(t, body.Close())
	assert.Equal(t, "#EXTM3U\n", string(data))

	_, err = c.FetchPlaylist(context.Background(), &Grant{Token: "wrong", PlaylistURL: srv.URL})
	assert.Error(t, err)
}
