package main

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"MovieBridge/docstore"

	"github.com/rcrowley/go-metrics"
)

// NewHTTPClient builds the HTTP client shared by every backend call. An unreadable client certificate is an error.
func NewHTTPClient(cfg *Config) (*http.Client, error) {
	var proxyFunc func(*http.Request) (*url.URL, error)

	if cfg.Backend.HTTPClient.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Backend.HTTPClient.Proxy)
		if err != nil {
			proxyFunc = http.ProxyFromEnvironment
		} else {
			proxyFunc = http.ProxyURL(proxyURL)
		}
	} else {
		proxyFunc = http.ProxyFromEnvironment
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 10 * time.Second,
	}

	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		Proxy:               proxyFunc,
		ForceAttemptHTTP2:   true,
		MaxConnsPerHost:     cfg.Backend.HTTPClient.MaxConnsPerHost,
		MaxIdleConns:        cfg.Backend.HTTPClient.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Backend.HTTPClient.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.Backend.HTTPClient.IdleConnTimeout,
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if cfg.Backend.TLS.SkipVerify {
		tlsConfig.InsecureSkipVerify = true
	}

	if cfg.Backend.TLS.Cert != "" && cfg.Backend.TLS.Key != "" {
		cert, err := tls.LoadX509KeyPair(cfg.Backend.TLS.Cert, cfg.Backend.TLS.Key)
		if err != nil {
			return nil, fmt.Errorf("could not load backend client certificate: %w", err)
		}

		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	transport.TLSClientConfig = tlsConfig

	timeout := cfg.Backend.Timeout
	if timeout <= 0 {
		timeout = defaultBackendTimeout
	}

	client := &http.Client{
		Timeout:   timeout,
		Transport: &userAgentRoundTripper{base: transport, userAgent: "MovieBridge/" + version},
	}

	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return client, nil
}

// userAgentRoundTripper sets the User-Agent header on every outgoing request.
type userAgentRoundTripper struct {
	base      http.RoundTripper
	userAgent string
}

func (rt *userAgentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", rt.userAgent)
	}

	return rt.base.RoundTrip(req)
}

// NewTokenSource selects the authentication method configured for the backend. It returns nil when the
// backend is used without credentials.
func NewTokenSource(cfg *Config, httpClient *http.Client) (docstore.TokenSource, error) {
	auth := cfg.Backend.Auth

	switch {
	case auth.ServiceAccountFile != "":
		account, err := docstore.LoadServiceAccount(auth.ServiceAccountFile)
		if err != nil {
			return nil, err
		}

		return docstore.NewServiceAccountAuth(account, auth.Scopes, httpClient)
	case auth.Secret != "":
		return docstore.SecretAuth{Secret: auth.Secret}, nil
	default:
		return nil, nil
	}
}

// NewDocumentStore creates the instrumented document store client.
func NewDocumentStore(cfg *Config, httpClient *http.Client, registry metrics.Registry, logger *slog.Logger) (docstore.Store, error) {
	tokenSource, err := NewTokenSource(cfg, httpClient)
	if err != nil {
		return nil, fmt.Errorf("could not configure backend authentication: %w", err)
	}

	client, err := docstore.NewClient(docstore.Options{
		BaseURL:    cfg.Backend.URL,
		HTTPClient: httpClient,
		Auth:       tokenSource,
	})
	if err != nil {
		return nil, err
	}

	method := "none"

	switch tokenSource.(type) {
	case *docstore.ServiceAccountAuth:
		method = "service_account"
	case docstore.SecretAuth:
		method = "secret"
	}

	logger.Info("Document store configured", slog.String("url", cfg.Backend.URL), slog.String("auth", method))

	return NewInstrumentedStore(client, registry), nil
}
