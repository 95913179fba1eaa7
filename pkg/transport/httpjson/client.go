package httpjson

import (
    "bytes"
    "context"
    "crypto/tls"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "time"

    "github.com/amirimatin/go-minions/pkg/transport"
)

// Client is a thin HTTP client for the management API. It supports optional
// TLS and retries with backoff when the request cannot be delivered.
type Client struct {
    httpc     *http.Client
    transport *http.Transport
    isTLS     bool
    attempts  int
}

// NewClient constructs a new Client with the given per-request timeout.
func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    tr := &http.Transport{}
    return &Client{httpc: &http.Client{Timeout: timeout, Transport: tr}, transport: tr, attempts: 3}
}

// UseTLS sets the TLS config for the underlying HTTP client and switches the
// request scheme to https.
func (c *Client) UseTLS(cfg *tls.Config) *Client {
    if c.transport != nil { c.transport.TLSClientConfig = cfg }
    c.isTLS = cfg != nil
    return c
}

func (c *Client) url(addr, path string) string {
    scheme := "http"
    if c.isTLS { scheme = "https" }
    return fmt.Sprintf("%s://%s%s", scheme, addr, path)
}

// do sends the request built by mk, retrying with exponential backoff while
// the server is unreachable. Any HTTP response ends the retry loop.
func (c *Client) do(ctx context.Context, mk func() (*http.Request, error)) (int, []byte, error) {
    var lastErr error
    for attempt := 0; attempt < c.attempts; attempt++ {
        req, err := mk()
        if err != nil { return 0, nil, err }
        resp, err := c.httpc.Do(req)
        if err == nil {
            b, rerr := io.ReadAll(resp.Body)
            resp.Body.Close()
            return resp.StatusCode, b, rerr
        }
        lastErr = err
        if attempt == c.attempts-1 { break }
        select {
        case <-ctx.Done():
            return 0, nil, errors.Join(lastErr, ctx.Err())
        case <-time.After(time.Duration(100*(1<<attempt)) * time.Millisecond):
        }
    }
    return 0, nil, lastErr
}

func (c *Client) GetStatus(ctx context.Context, addr string) ([]byte, error) {
    code, b, err := c.do(ctx, func() (*http.Request, error) {
        return http.NewRequestWithContext(ctx, http.MethodGet, c.url(addr, "/status"), nil)
    })
    if err != nil { return nil, err }
    if code != http.StatusOK { return nil, fmt.Errorf("status %d: %s", code, bytes.TrimSpace(b)) }
    return b, nil
}

func (c *Client) PostAssignRole(ctx context.Context, addr string, req transport.AssignRoleRequest) (transport.AssignRoleResponse, error) {
    var out transport.AssignRoleResponse
    err := c.postJSON(ctx, addr, "/role", req, &out, func() string { return out.Error })
    return out, err
}

func (c *Client) PostAssignRoles(ctx context.Context, addr string, req transport.AssignRolesRequest) (transport.AssignRolesResponse, error) {
    var out transport.AssignRolesResponse
    err := c.postJSON(ctx, addr, "/roles", req, &out, func() string { return out.Error })
    return out, err
}

func (c *Client) PostRegister(ctx context.Context, addr string, req transport.RegisterRequest) (transport.RegisterResponse, error) {
    var out transport.RegisterResponse
    err := c.postJSON(ctx, addr, "/minions", req, &out, func() string { return out.Error })
    return out, err
}

func (c *Client) GetMinions(ctx context.Context, addr string) (transport.MinionsResponse, error) {
    var out transport.MinionsResponse
    code, b, err := c.do(ctx, func() (*http.Request, error) {
        return http.NewRequestWithContext(ctx, http.MethodGet, c.url(addr, "/minions"), nil)
    })
    if err != nil { return out, err }
    return out, decode(code, b, &out, func() string { return out.Error })
}

func (c *Client) postJSON(ctx context.Context, addr, path string, in, out any, errMsg func() string) error {
    body, err := json.Marshal(in)
    if err != nil { return err }
    code, b, err := c.do(ctx, func() (*http.Request, error) {
        r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(addr, path), bytes.NewReader(body))
        if err != nil { return nil, err }
        r.Header.Set("Content-Type", "application/json")
        return r, nil
    })
    if err != nil { return err }
    return decode(code, b, out, errMsg)
}

func decode(code int, b []byte, out any, errMsg func() string) error {
    jerr := json.Unmarshal(b, out)
    if code != http.StatusOK {
        if jerr == nil && errMsg() != "" { return errors.New(errMsg()) }
        return fmt.Errorf("status %d: %s", code, bytes.TrimSpace(b))
    }
    return jerr
}

var _ transport.RPCClient = (*Client)(nil)
