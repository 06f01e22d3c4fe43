package client

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/ratelimit"

	"kptv-player/work/config"
)

// HeaderSettingClient wraps http.Client to automatically set headers, pace outbound
// requests and transparently decode gzip bodies.
type HeaderSettingClient struct {
	Client  *http.Client
	config  *config.Config
	limiter ratelimit.Limiter
}

// NewHeaderSettingClient builds the shared outbound client. Request pacing follows
// cfg.RequestsPerSecond; individual requests carry their own context deadlines.
func NewHeaderSettingClient(cfg *config.Config) *HeaderSettingClient {
	client := &http.Client{
		Timeout: 0, // deadlines come from request contexts
		Transport: &http.Transport{
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			DisableKeepAlives:     false,
			ResponseHeaderTimeout: 30 * time.Second, // Only timeout for headers
		},
	}

	var limiter ratelimit.Limiter
	if cfg != nil && cfg.RequestsPerSecond > 0 {
		limiter = ratelimit.New(cfg.RequestsPerSecond)
	} else {
		limiter = ratelimit.NewUnlimited()
	}

	return &HeaderSettingClient{
		Client:  client,
		config:  cfg,
		limiter: limiter,
	}
}

// Do paces, decorates and executes req. A gzip encoded body is replaced by a decoding
// reader so callers always read plain text.
func (hsc *HeaderSettingClient) Do(req *http.Request) (*http.Response, error) {
	hsc.limiter.Take()
	hsc.setHeaders(req)

	resp, err := hsc.Client.Do(req)
	if err != nil {
		return nil, err
	}

	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			resp.Body.Close()
			return nil, err
		}
		resp.Body = &gzipBody{Reader: zr, raw: resp.Body}
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
		resp.ContentLength = -1
	}

	return resp, nil
}

func (hsc *HeaderSettingClient) setHeaders(req *http.Request) {
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Encoding", "gzip")

	if hsc.config == nil {
		return
	}
	if hsc.config.UserAgent != "" {
		req.Header.Set("User-Agent", hsc.config.UserAgent)
	}
	if hsc.config.ReqOrigin != "" {
		req.Header.Set("Origin", hsc.config.ReqOrigin)
	}
	if hsc.config.ReqReferrer != "" {
		req.Header.Set("Referer", hsc.config.ReqReferrer)
	}
}

// gzipBody closes both the decoder and the underlying connection body.
type gzipBody struct {
	*gzip.Reader
	raw io.ReadCloser
}

func (b *gzipBody) Close() error {
	zerr := b.Reader.Close()
	if err := b.raw.Close(); err != nil {
		return err
	}
	return zerr
}
