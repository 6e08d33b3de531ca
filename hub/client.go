package hub

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

	"github.com/guseggert/cmdhub/dashboard"
	"github.com/guseggert/cmdhub/session"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// Client talks to a Hub over HTTP.
// Reads are retried. Writes are sent once, since repeating them could run a command twice.
type Client struct {
	Logger *zap.SugaredLogger
	// HTTPClient retries on connection errors and 5xx responses.
	HTTPClient *http.Client

	baseURL                  string
	writeClient              *http.Client
	customizeRetryableClient func(*retryablehttp.Client)
	waitInterval             time.Duration
}

type ClientOption func(c *Client)

func WithClientWaitInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.waitInterval = d
	}
}

func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		c.Logger = l.Named("hub_client").Sugar()
	}
}

func WithCustomizeRetryableClient(f func(r *retryablehttp.Client)) ClientOption {
	return func(c *Client) {
		c.customizeRetryableClient = f
	}
}

type logAdapter struct {
	*zap.SugaredLogger
}

func (a *logAdapter) Printf(msg string, args ...interface{}) { a.Debugf(msg, args...) }

// NewClient returns a client for the hub at baseURL, such as "http://127.0.0.1:9010".
func NewClient(log *zap.SugaredLogger, baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base URL must be http or https, got %q", baseURL)
	}

	c := &Client{
		Logger:       log.Named("hub_client"),
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		waitInterval: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}

	transport := &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		MaxConnsPerHost: 0,
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = &http.Client{Transport: transport}
	retryClient.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		return 10 * time.Millisecond
	}
	retryClient.RetryMax = 10
	retryClient.Logger = &logAdapter{SugaredLogger: c.Logger}

	if c.customizeRetryableClient != nil {
		c.customizeRetryableClient(retryClient)
	}

	c.HTTPClient = retryClient.StandardClient()
	c.writeClient = &http.Client{Transport: transport}
	return c, nil
}

func (c *Client) prepReq(r *http.Request) {
	r.Header.Add("Content-Type", "application/json")
}

// do sends req and decodes a JSON response into v. Non-2xx responses become errors carrying the server's message.
func (c *Client) do(client *http.Client, req *http.Request, v any) error {
	c.prepReq(req)
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP error: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp errorResponse
		if json.Unmarshal(b, &errResp) == nil && errResp.Error != "" {
			return &StatusError{Code: resp.StatusCode, Message: errResp.Error}
		}
		return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(b))}
	}
	if v == nil {
		return nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	return c.do(c.HTTPClient, req, v)
}

func (c *Client) post(ctx context.Context, path string, body any, v any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	return c.do(c.writeClient, req, v)
}

// StatusError is a non-2xx response from the hub.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("hub returned %d: %s", e.Code, e.Message)
}

func (c *Client) Dashboard(ctx context.Context, lastOut string) (*dashboard.Snapshot, error) {
	path := "/api/dashboard"
	if lastOut != "" {
		path += "?last_out=" + url.QueryEscape(lastOut)
	}
	var snap dashboard.Snapshot
	if err := c.get(ctx, path, &snap); err != nil {
		return nil, fmt.Errorf("fetching dashboard: %w", err)
	}
	return &snap, nil
}

// AddCommand saves a command and returns its id.
func (c *Client) AddCommand(ctx context.Context, name, cmd, desc string) (string, error) {
	var resp AddCommandResponse
	err := c.post(ctx, "/api/add", AddCommandRequest{Name: name, Cmd: cmd, Desc: desc}, &resp)
	if err != nil {
		return "", fmt.Errorf("adding command: %w", err)
	}
	return resp.CID, nil
}

func (c *Client) DeleteCommand(ctx context.Context, cid string) error {
	if err := c.post(ctx, "/api/delete/"+url.PathEscape(cid), nil, nil); err != nil {
		return fmt.Errorf("deleting command: %w", err)
	}
	return nil
}

// RunCommand runs a stored command to completion on the hub.
func (c *Client) RunCommand(ctx context.Context, cid string) (*RunCommandResponse, error) {
	var resp RunCommandResponse
	if err := c.post(ctx, "/api/run/"+url.PathEscape(cid), nil, &resp); err != nil {
		return nil, fmt.Errorf("running command: %w", err)
	}
	return &resp, nil
}

// ProcessAction runs a lifecycle action to completion on the hub and returns its output.
func (c *Client) ProcessAction(ctx context.Context, action, name string) (string, error) {
	var resp ProcessActionResponse
	path := fmt.Sprintf("/api/pm2/%s/%s", url.PathEscape(action), url.PathEscape(name))
	if err := c.post(ctx, path, nil, &resp); err != nil {
		return "", fmt.Errorf("running process action: %w", err)
	}
	return resp.Output, nil
}

func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	var resp HealthResponse
	return c.do(c.writeClient, mustRequest(ctx, http.MethodGet, c.baseURL+"/health"), &resp)
}

func mustRequest(ctx context.Context, method, u string) *http.Request {
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		panic(err)
	}
	return req
}

// WaitForServer polls the health endpoint until the hub answers or ctx is done.
func (c *Client) WaitForServer(ctx context.Context) error {
	ticker := time.NewTicker(c.waitInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			err := c.Health(ctx)
			if err == nil {
				c.Logger.Debug("health check succeeded, done waiting for server")
				return nil
			}
			c.Logger.Debugf("got health check error: %s", err)
		}
	}
}

// Live returns a client for the hub's push channel.
func (c *Client) Live() *session.Client {
	return &session.Client{
		HTTPClient: c.writeClient,
		URL:        c.baseURL + "/live",
		Logger:     c.Logger.Named("live"),
	}
}
