package grpc

import (
    "context"
    "crypto/tls"
    "sync"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/backoff"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/credentials/insecure"
    "google.golang.org/grpc/keepalive"

    "github.com/amirimatin/go-minions/pkg/transport"
)

// Client calls the management service over gRPC, reusing cached connections
// per address.
type Client struct {
    timeout time.Duration
    tlsCfg  *tls.Config

    once sync.Once
    cm   *ConnManager
}

func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    return &Client{timeout: timeout}
}

// UseTLS sets TLS config for the client. It must be called before the first call.
func (c *Client) UseTLS(cfg *tls.Config) *Client { c.tlsCfg = cfg; return c }

func (c *Client) dialCtx(ctx context.Context, target string) (*grpc.ClientConn, error) {
    opts := []grpc.DialOption{
        grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype("json")),
        grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig, MinConnectTimeout: 500 * time.Millisecond}),
        grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: 20 * time.Second, Timeout: 5 * time.Second, PermitWithoutStream: true}),
        grpc.WithBlock(),
    }
    if c.tlsCfg != nil {
        opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(c.tlsCfg)))
    } else {
        opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
    }
    return grpc.DialContext(ctx, target, opts...)
}

// invoke performs a unary call of method against addr.
func (c *Client) invoke(ctx context.Context, addr, method string, in, out any) error {
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    cc, rel, err := c.getConn(cctx, addr)
    if err != nil { return err }
    defer rel()
    return callError(cc.Invoke(cctx, "/"+serviceName+"/"+method, in, out))
}

func (c *Client) GetStatus(ctx context.Context, addr string) ([]byte, error) {
    out := new(statusBlob)
    if err := c.invoke(ctx, addr, "GetStatus", &empty{}, out); err != nil { return nil, err }
    return out.Data, nil
}

func (c *Client) PostAssignRole(ctx context.Context, addr string, req transport.AssignRoleRequest) (transport.AssignRoleResponse, error) {
    var resp transport.AssignRoleResponse
    err := c.invoke(ctx, addr, "AssignRole", &req, &resp)
    return resp, err
}

func (c *Client) PostAssignRoles(ctx context.Context, addr string, req transport.AssignRolesRequest) (transport.AssignRolesResponse, error) {
    var resp transport.AssignRolesResponse
    err := c.invoke(ctx, addr, "AssignRoles", &req, &resp)
    return resp, err
}

func (c *Client) PostRegister(ctx context.Context, addr string, req transport.RegisterRequest) (transport.RegisterResponse, error) {
    var resp transport.RegisterResponse
    err := c.invoke(ctx, addr, "Register", &req, &resp)
    return resp, err
}

func (c *Client) GetMinions(ctx context.Context, addr string) (transport.MinionsResponse, error) {
    var resp transport.MinionsResponse
    err := c.invoke(ctx, addr, "Minions", &empty{}, &resp)
    return resp, err
}

// Close releases every cached connection.
func (c *Client) Close() {
    if c.cm != nil { c.cm.Close() }
}

// getConn returns a managed connection, creating the manager on first use.
func (c *Client) getConn(ctx context.Context, addr string) (*grpc.ClientConn, func(), error) {
    c.once.Do(func() { c.cm = NewConnManager(30*time.Second, c.dialCtx) })
    return c.cm.Get(ctx, addr)
}

var _ transport.RPCClient = (*Client)(nil)
