package wrapper

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"trackrelay/internal/config"
)

// Account is the authentication state of one backend account.
type Account struct {
	Account       string `json:"account"`
	Authenticated bool   `json:"authenticated"`
	Pending2FA    bool   `json:"pending_2fa"`
}

// Status is the backend health report.
type Status struct {
	Ready       bool      `json:"ready"`
	Regions     []string  `json:"regions"`
	ClientCount int       `json:"client_count"`
	Accounts    []Account `json:"accounts"`
}

// Login result codes.
const (
	LoginOK      = 0
	LoginNeed2FA = 2
	LoginFailed  = -1
)

// LoginResult is the outcome of a login step.
type LoginResult struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// Endpoint describes how to reach the backend.
type Endpoint struct {
	// Socket is a unix socket path. When set, Address is ignored.
	Socket             string
	Address            string
	Secure             bool
	InsecureSkipVerify bool
}

// EndpointFromConfig derives the backend endpoint for the configured mode.
func EndpointFromConfig(cfg *config.Config) Endpoint {
	if cfg.Wrapper.Mode == config.WrapperModeRemote {
		return Endpoint{
			Address:            cfg.Wrapper.Address,
			Secure:             cfg.Wrapper.Secure,
			InsecureSkipVerify: cfg.Wrapper.InsecureSkipVerify,
		}
	}
	return Endpoint{Socket: cfg.WrapperSocketPath()}
}

func (e Endpoint) String() string {
	if e.Socket != "" {
		return "unix://" + e.Socket
	}
	if e.Secure {
		return "https://" + e.Address
	}
	return "http://" + e.Address
}

// Client issues calls against one backend endpoint. It is safe for
// concurrent use.
type Client struct {
	endpoint Endpoint
	baseURL  string
	http     *http.Client
}

// NewClient constructs a client for endpoint.
func NewClient(endpoint Endpoint) *Client {
	transport := &http.Transport{
		MaxIdleConns:          4,
		IdleConnTimeout:       30 * time.Second,
		ResponseHeaderTimeout: 0,
	}
	baseURL := ""
	if endpoint.Socket != "" {
		socket := endpoint.Socket
		transport.DialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socket)
		}
		baseURL = "http://wrapper"
	} else {
		dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
		transport.DialContext = dialer.DialContext
		scheme := "http"
		if endpoint.Secure {
			scheme = "https"
			transport.TLSClientConfig = &tls.Config{
				MinVersion:         tls.VersionTLS12,
				InsecureSkipVerify: endpoint.InsecureSkipVerify, //nolint:gosec // operator opt-in for self-signed backends
			}
		}
		baseURL = scheme + "://" + strings.TrimSpace(endpoint.Address)
	}
	return &Client{
		endpoint: endpoint,
		baseURL:  baseURL,
		http:     &http.Client{Transport: transport},
	}
}

// Endpoint returns the endpoint this client targets.
func (c *Client) Endpoint() Endpoint { return c.endpoint }

// Close releases idle connections.
func (c *Client) Close() {
	if t, ok := c.http.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}

// Status reports backend readiness, regions, and account state.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var status Status
	if err := c.call(ctx, http.MethodGet, "/status", nil, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// M3U8 returns the master playlist URL for a song.
func (c *Client) M3U8(ctx context.Context, adamID string) (string, error) {
	var resp struct {
		URL string `json:"url"`
	}
	query := url.Values{"adam_id": {adamID}}
	if err := c.call(ctx, http.MethodGet, "/m3u8", query, nil, &resp); err != nil {
		return "", err
	}
	resp.URL = strings.TrimSpace(resp.URL)
	if !strings.HasPrefix(resp.URL, "http") {
		return "", NewBackendError("m3u8", 0, "backend returned no playlist url")
	}
	return resp.URL, nil
}

// Lyrics returns the TTML lyrics document for a song.
func (c *Client) Lyrics(ctx context.Context, adamID, language, storefront string) (string, error) {
	var resp struct {
		Lyrics string `json:"lyrics"`
	}
	query := url.Values{"adam_id": {adamID}, "language": {language}, "storefront": {storefront}}
	if err := c.call(ctx, http.MethodGet, "/lyrics", query, nil, &resp); err != nil {
		return "", err
	}
	return resp.Lyrics, nil
}

// Login starts or completes an account login. A non-empty code submits the
// second factor for an account in the pending state.
func (c *Client) Login(ctx context.Context, account, password, code string) (LoginResult, error) {
	body := map[string]string{"account": account, "password": password, "code": code}
	var result LoginResult
	if err := c.call(ctx, http.MethodPost, "/login", nil, body, &result); err != nil {
		return LoginResult{Code: LoginFailed, Message: err.Error()}, err
	}
	return result, nil
}

// Logout removes an account session from the backend.
func (c *Client) Logout(ctx context.Context, account string) error {
	return c.call(ctx, http.MethodPost, "/logout", nil, map[string]string{"account": account}, nil)
}

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) call(ctx context.Context, method, path string, query url.Values, in, out any) error {
	op := strings.TrimPrefix(path, "/")
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return unavailable(op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeErrorBody(op, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(out); err != nil {
		return protocolError(op, "decode response", err)
	}
	return nil
}

func decodeErrorBody(op string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var eb errorBody
	if err := json.Unmarshal(data, &eb); err == nil && eb.Code != 0 {
		return NewBackendError(op, eb.Code, eb.Message)
	}
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		msg = resp.Status
	}
	if resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusBadGateway {
		return unavailable(op, errors.New(msg))
	}
	return NewBackendError(op, 0, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, msg))
}
