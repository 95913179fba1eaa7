package httpjson

import (
    "context"
    "crypto/tls"
    "encoding/json"
    "errors"
    "fmt"
    "log"
    "net"
    "net/http"
    "sync"
    "time"

    "github.com/prometheus/client_golang/prometheus/promhttp"

    "github.com/amirimatin/go-minions/pkg/internal/logutil"
    "github.com/amirimatin/go-minions/pkg/minion"
    "github.com/amirimatin/go-minions/pkg/observability/tracing"
    "github.com/amirimatin/go-minions/pkg/registry"
    "github.com/amirimatin/go-minions/pkg/transport"
)

// Server exposes the management API over HTTP/JSON together with /healthz
// and Prometheus /metrics.
type Server struct {
    bind   string
    logger *log.Logger
    tlsCfg *tls.Config

    mu   sync.Mutex
    srv  *http.Server
    addr string
}

// NewServer binds to the given TCP address (e.g., ":17946"). Port 0 picks a
// free port; Addr reports the bound address after Start.
func NewServer(bind string, logger *log.Logger) *Server {
    if logger == nil { logger = log.Default() }
    return &Server{bind: bind, logger: logger}
}

// UseTLS enables TLS for the HTTP server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

// Handler builds the route table for h. It is exported for tests and for
// embedding the API into another mux.
func Handler(h transport.Handlers) http.Handler {
    mux := http.NewServeMux()
    mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        if h.Status == nil { http.Error(w, "status not supported", http.StatusNotImplemented); return }
        ctx, end := tracing.StartSpan(r.Context(), "http.status")
        defer end()
        data, err := h.Status(ctx)
        if err != nil { http.Error(w, fmt.Sprintf("status error: %v", err), http.StatusInternalServerError); return }
        w.Header().Set("Content-Type", "application/json")
        _, _ = w.Write(data)
    })
    mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        w.WriteHeader(http.StatusOK)
        _, _ = w.Write([]byte("ok"))
    })
    mux.Handle("/metrics", promhttp.Handler())

    mux.HandleFunc("/role", func(w http.ResponseWriter, r *http.Request) {
        if h.AssignRole == nil { http.Error(w, "role assignment not supported", http.StatusNotImplemented); return }
        handlePost(w, r, "http.role", func(ctx context.Context, req transport.AssignRoleRequest) (transport.AssignRoleResponse, error) {
            resp, err := h.AssignRole(ctx, req)
            if err != nil && resp.Error == "" { resp.Error = err.Error() }
            return resp, err
        })
    })
    mux.HandleFunc("/roles", func(w http.ResponseWriter, r *http.Request) {
        if h.AssignRoles == nil { http.Error(w, "role assignment not supported", http.StatusNotImplemented); return }
        handlePost(w, r, "http.roles", func(ctx context.Context, req transport.AssignRolesRequest) (transport.AssignRolesResponse, error) {
            resp, err := h.AssignRoles(ctx, req)
            if err != nil && resp.Error == "" { resp.Error = err.Error() }
            return resp, err
        })
    })
    mux.HandleFunc("/minions", func(w http.ResponseWriter, r *http.Request) {
        switch r.Method {
        case http.MethodGet:
            if h.Minions == nil { http.Error(w, "minions not supported", http.StatusNotImplemented); return }
            ctx, end := tracing.StartSpan(r.Context(), "http.minions")
            defer end()
            resp, err := h.Minions(ctx)
            if err != nil && resp.Error == "" { resp.Error = err.Error() }
            writeJSON(w, resp, err)
        case http.MethodPost:
            if h.Register == nil { http.Error(w, "registration not supported", http.StatusNotImplemented); return }
            handlePost(w, r, "http.register", func(ctx context.Context, req transport.RegisterRequest) (transport.RegisterResponse, error) {
                resp, err := h.Register(ctx, req)
                if err != nil && resp.Error == "" { resp.Error = err.Error() }
                return resp, err
            })
        default:
            http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
        }
    })
    return mux
}

func handlePost[Req, Resp any](w http.ResponseWriter, r *http.Request, span string, fn func(context.Context, Req) (Resp, error)) {
    if r.Method != http.MethodPost { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
    var req Req
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
        return
    }
    ctx, end := tracing.StartSpan(r.Context(), span)
    defer end()
    resp, err := fn(ctx, req)
    writeJSON(w, resp, err)
}

func writeJSON(w http.ResponseWriter, v any, err error) {
    w.Header().Set("Content-Type", "application/json")
    if err != nil { w.WriteHeader(statusFor(err)) }
    _ = json.NewEncoder(w).Encode(v)
}

// statusFor maps caller mistakes to 4xx; everything else is a server fault.
func statusFor(err error) int {
    switch {
    case errors.Is(err, minion.ErrInvalidRole), errors.Is(err, minion.ErrInvalidHighstate), errors.Is(err, minion.ErrEmptyMinionID):
        return http.StatusBadRequest
    case errors.Is(err, registry.ErrNotFound):
        return http.StatusNotFound
    case errors.Is(err, registry.ErrDuplicateMinionID):
        return http.StatusConflict
    default:
        return http.StatusInternalServerError
    }
}

// Start launches the HTTP server. The server is shut down when ctx is canceled.
func (s *Server) Start(ctx context.Context, h transport.Handlers) error {
    ln, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    srv := &http.Server{Handler: Handler(h), ReadHeaderTimeout: 5 * time.Second}
    s.mu.Lock()
    s.srv = srv
    s.addr = ln.Addr().String()
    s.mu.Unlock()
    if s.tlsCfg != nil {
        ln = tls.NewListener(ln, s.tlsCfg)
    }

    go func() {
        <-ctx.Done()
        _ = s.Stop(context.Background())
    }()
    go func() {
        if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
            logutil.Errorf(s.logger, "httpjson: server error: %v", err)
        }
    }()
    return nil
}

// Addr returns the bound address once started, else the configured bind.
func (s *Server) Addr() string {
    s.mu.Lock(); defer s.mu.Unlock()
    if s.addr != "" { return s.addr }
    return s.bind
}

// Stop attempts a graceful shutdown with a short timeout.
func (s *Server) Stop(ctx context.Context) error {
    s.mu.Lock()
    srv := s.srv
    s.srv = nil
    s.mu.Unlock()
    if srv == nil { return nil }
    c, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    return srv.Shutdown(c)
}

var _ transport.RPCServer = (*Server)(nil)
