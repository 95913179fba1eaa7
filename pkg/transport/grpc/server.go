package grpc

import (
    "context"
    "crypto/tls"
    "errors"
    "net"
    "sync"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/codes"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/health"
    healthpb "google.golang.org/grpc/health/grpc_health_v1"
    "google.golang.org/grpc/keepalive"
    "google.golang.org/grpc/status"

    "github.com/amirimatin/go-minions/pkg/observability/tracing"
    "github.com/amirimatin/go-minions/pkg/transport"
)

const serviceName = "minions.v1.Management"

// Server implements transport.RPCServer over gRPC using a JSON codec.
type Server struct {
    bind   string
    tlsCfg *tls.Config

    mu     sync.Mutex
    lis    net.Listener
    srv    *grpc.Server
    health *health.Server
}

func NewServer(bind string) *Server { return &Server{bind: bind} }

// UseTLS enables TLS for the gRPC server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

type empty struct{}
type statusBlob struct {
    Data []byte `json:"data"`
}

type managementServer interface {
    GetStatus(ctx context.Context, in *empty) (*statusBlob, error)
    AssignRole(ctx context.Context, in *transport.AssignRoleRequest) (*transport.AssignRoleResponse, error)
    AssignRoles(ctx context.Context, in *transport.AssignRolesRequest) (*transport.AssignRolesResponse, error)
    Register(ctx context.Context, in *transport.RegisterRequest) (*transport.RegisterResponse, error)
    Minions(ctx context.Context, in *empty) (*transport.MinionsResponse, error)
}

type mgmtImpl struct{ h transport.Handlers }

func unsupported(method string) error {
    return status.Errorf(codes.Unimplemented, "%s not supported", method)
}

func (m *mgmtImpl) GetStatus(ctx context.Context, _ *empty) (*statusBlob, error) {
    if m.h.Status == nil { return nil, unsupported("status") }
    ctx, end := tracing.StartSpan(ctx, "grpc.status")
    defer end()
    b, err := m.h.Status(ctx)
    if err != nil { return nil, handlerError(err) }
    return &statusBlob{Data: b}, nil
}

func (m *mgmtImpl) AssignRole(ctx context.Context, in *transport.AssignRoleRequest) (*transport.AssignRoleResponse, error) {
    if m.h.AssignRole == nil { return nil, unsupported("role assignment") }
    ctx, end := tracing.StartSpan(ctx, "grpc.role", "minion_id", in.MinionID, "role", in.Role.String())
    defer end()
    out, err := m.h.AssignRole(ctx, *in)
    if err != nil { return nil, handlerError(err) }
    return &out, nil
}

func (m *mgmtImpl) AssignRoles(ctx context.Context, in *transport.AssignRolesRequest) (*transport.AssignRolesResponse, error) {
    if m.h.AssignRoles == nil { return nil, unsupported("role assignment") }
    ctx, end := tracing.StartSpan(ctx, "grpc.roles")
    defer end()
    out, err := m.h.AssignRoles(ctx, *in)
    if err != nil { return nil, handlerError(err) }
    return &out, nil
}

func (m *mgmtImpl) Register(ctx context.Context, in *transport.RegisterRequest) (*transport.RegisterResponse, error) {
    if m.h.Register == nil { return nil, unsupported("registration") }
    ctx, end := tracing.StartSpan(ctx, "grpc.register", "minion_id", in.MinionID)
    defer end()
    out, err := m.h.Register(ctx, *in)
    if err != nil { return nil, handlerError(err) }
    return &out, nil
}

func (m *mgmtImpl) Minions(ctx context.Context, _ *empty) (*transport.MinionsResponse, error) {
    if m.h.Minions == nil { return nil, unsupported("minions") }
    ctx, end := tracing.StartSpan(ctx, "grpc.minions")
    defer end()
    out, err := m.h.Minions(ctx)
    if err != nil { return nil, handlerError(err) }
    return &out, nil
}

// unaryHandler adapts a typed method into a grpc.MethodDesc handler.
func unaryHandler[Req any](method string, call func(managementServer, context.Context, *Req) (any, error)) grpc.MethodHandler {
    full := "/" + serviceName + "/" + method
    return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
        in := new(Req)
        if err := dec(in); err != nil { return nil, err }
        if interceptor == nil { return call(srv.(managementServer), ctx, in) }
        info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
        handler := func(ctx context.Context, req any) (any, error) {
            return call(srv.(managementServer), ctx, req.(*Req))
        }
        return interceptor(ctx, in, info, handler)
    }
}

// Service descriptor and handlers (hand-written, no codegen required)
var managementServiceDesc = grpc.ServiceDesc{
    ServiceName: serviceName,
    HandlerType: (*managementServer)(nil),
    Methods: []grpc.MethodDesc{
        {MethodName: "GetStatus", Handler: unaryHandler("GetStatus", func(s managementServer, ctx context.Context, in *empty) (any, error) { return s.GetStatus(ctx, in) })},
        {MethodName: "AssignRole", Handler: unaryHandler("AssignRole", func(s managementServer, ctx context.Context, in *transport.AssignRoleRequest) (any, error) { return s.AssignRole(ctx, in) })},
        {MethodName: "AssignRoles", Handler: unaryHandler("AssignRoles", func(s managementServer, ctx context.Context, in *transport.AssignRolesRequest) (any, error) { return s.AssignRoles(ctx, in) })},
        {MethodName: "Register", Handler: unaryHandler("Register", func(s managementServer, ctx context.Context, in *transport.RegisterRequest) (any, error) { return s.Register(ctx, in) })},
        {MethodName: "Minions", Handler: unaryHandler("Minions", func(s managementServer, ctx context.Context, in *empty) (any, error) { return s.Minions(ctx, in) })},
    },
}

func (s *Server) Start(ctx context.Context, h transport.Handlers) error {
    lis, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    // The JSON codec is selected per call by content-subtype so the health
    // service keeps speaking protobuf.
    opts := []grpc.ServerOption{
        grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 5 * time.Second, PermitWithoutStream: true}),
        grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second, Timeout: 10 * time.Second}),
    }
    if s.tlsCfg != nil { opts = append(opts, grpc.Creds(credentials.NewTLS(s.tlsCfg))) }
    srv := grpc.NewServer(opts...)
    hs := health.NewServer()
    healthpb.RegisterHealthServer(srv, hs)
    hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
    srv.RegisterService(&managementServiceDesc, &mgmtImpl{h: h})

    s.mu.Lock()
    s.lis, s.srv, s.health = lis, srv, hs
    s.mu.Unlock()

    go func() {
        <-ctx.Done()
        sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
        defer cancel()
        _ = s.Stop(sctx)
    }()
    go func() { _ = srv.Serve(lis) }()
    return nil
}

// Addr returns the bound address once started, else the configured bind.
func (s *Server) Addr() string {
    s.mu.Lock(); defer s.mu.Unlock()
    if s.lis != nil { return s.lis.Addr().String() }
    return s.bind
}

func (s *Server) Stop(ctx context.Context) error {
    s.mu.Lock()
    srv, hs := s.srv, s.health
    s.srv, s.health, s.lis = nil, nil, nil
    s.mu.Unlock()
    if srv == nil { return nil }
    hs.Shutdown()
    ch := make(chan struct{})
    go func() { srv.GracefulStop(); close(ch) }()
    select {
    case <-ch:
    case <-ctx.Done():
        srv.Stop()
    }
    return nil
}

// handlerError reports a failed handler as codes.Unknown carrying the
// handler's message; the client turns it back into a plain error.
func handlerError(err error) error {
    if _, ok := status.FromError(err); ok && status.Code(err) != codes.Unknown { return err }
    return status.Error(codes.Unknown, err.Error())
}

// callError undoes handlerError so callers see the handler's message.
func callError(err error) error {
    if err == nil { return nil }
    if st, ok := status.FromError(err); ok && st.Code() == codes.Unknown { return errors.New(st.Message()) }
    return err
}

var _ transport.RPCServer = (*Server)(nil)
