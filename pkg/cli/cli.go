// Package cli provides the cobra commands of minionctl. Services embedding a
// control plane can attach them to their own root command.
package cli

import (
    "context"
    "encoding/json"
    "fmt"
    "io"
    "log"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/spf13/cobra"
    "github.com/spf13/pflag"

    "github.com/amirimatin/go-minions/pkg/bootstrap"
    "github.com/amirimatin/go-minions/pkg/internal/logutil"
    "github.com/amirimatin/go-minions/pkg/minion"
    obsmetrics "github.com/amirimatin/go-minions/pkg/observability/metrics"
    tracing "github.com/amirimatin/go-minions/pkg/observability/tracing"
    "github.com/amirimatin/go-minions/pkg/roles"
    tlsx "github.com/amirimatin/go-minions/pkg/security/tlsconfig"
    "github.com/amirimatin/go-minions/pkg/status"
    "github.com/amirimatin/go-minions/pkg/transport"
)

// AddAll attaches every minionctl subcommand to root.
func AddAll(root *cobra.Command) {
    root.AddCommand(
        NewServeCmd(),
        NewAgentCmd(),
        NewRegisterCmd(),
        NewAssignCmd(),
        NewMinionsCmd(),
        NewStatusCmd(),
        NewComputedStatusCmd(),
    )
}

// NewCommand returns a parent command named use holding all subcommands.
func NewCommand(use string) *cobra.Command {
    parent := &cobra.Command{Use: use, Short: "minion role management commands"}
    AddAll(parent)
    return parent
}

func bindTLS(fs *pflag.FlagSet, o *tlsx.Options) {
    fs.BoolVar(&o.Enable, "tls-enable", false, "enable mTLS for the management transport")
    fs.StringVar(&o.CAFile, "tls-ca", "", "path to CA cert (PEM)")
    fs.StringVar(&o.CertFile, "tls-cert", "", "path to certificate (PEM)")
    fs.StringVar(&o.KeyFile, "tls-key", "", "path to private key (PEM)")
    fs.BoolVar(&o.InsecureSkipVerify, "tls-skip-verify", false, "skip server cert verification (DEV ONLY)")
    fs.StringVar(&o.ServerName, "tls-server-name", "", "expected server name (for TLS validation)")
}

// clientFlags are shared by the commands talking to a running control plane.
type clientFlags struct {
    addr    string
    proto   string
    timeout time.Duration
    tls     tlsx.Options
}

func (f *clientFlags) bind(fs *pflag.FlagSet) {
    fs.StringVar(&f.addr, "addr", "127.0.0.1:17946", "management address of the control plane (host:port)")
    fs.StringVar(&f.proto, "mgmt-proto", bootstrap.ProtoHTTP, "management RPC protocol: http|grpc")
    fs.DurationVar(&f.timeout, "timeout", 10*time.Second, "request timeout")
    bindTLS(fs, &f.tls)
}

func (f *clientFlags) client() (transport.RPCClient, context.Context, context.CancelFunc, error) {
    cfg, err := f.tls.Client()
    if err != nil { return nil, nil, nil, fmt.Errorf("tls client config: %w", err) }
    c, err := bootstrap.NewClient(f.proto, f.timeout, cfg)
    if err != nil { return nil, nil, nil, err }
    ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
    return c, ctx, cancel, nil
}

func setupTracing(enable bool) func() {
    if !enable { return func() {} }
    shutdown, err := tracing.Setup(true)
    if err != nil {
        log.Printf("tracing setup error: %v", err)
        return func() {}
    }
    return func() { _ = shutdown(context.Background()) }
}

// NewServeCmd returns the "serve" command that runs a control plane.
func NewServeCmd() *cobra.Command {
    var (
        cfg     bootstrap.Config
        trace   bool
        logJSON bool
    )
    cmd := &cobra.Command{
        Use:   "serve",
        Short: "Run a control plane",
        RunE: func(cmd *cobra.Command, args []string) error {
            if cfg.NodeID == "" { return fmt.Errorf("missing --id") }
            ctx, cancel := signalContext()
            defer cancel()
            defer setupTracing(trace)()
            if logJSON { logutil.SetJSON(true) }
            cfg.Logger = log.Default()

            cl, err := bootstrap.RunControlPlane(ctx, cfg)
            if err != nil { return err }
            defer cl.Stop(context.Background())
            logutil.Infof(cfg.Logger, "control plane %s running. Press Ctrl+C to exit.", cfg.NodeID)
            <-ctx.Done()
            return nil
        },
    }
    fs := cmd.Flags()
    fs.StringVar(&cfg.NodeID, "id", "", "node id (required)")
    fs.StringVar(&cfg.MgmtAddr, "mgmt-addr", ":17900", "management API address (host:port)")
    fs.StringVar(&cfg.MgmtProto, "mgmt-proto", bootstrap.ProtoHTTP, "management RPC protocol: http|grpc")
    fs.StringVar(&cfg.RaftAddr, "raft-addr", "", "raft bind addr (tcp); empty keeps the registry in memory")
    fs.StringVar(&cfg.DataDir, "data", "", "raft data dir (bolt log and snapshots)")
    fs.BoolVar(&cfg.Bootstrap, "bootstrap", true, "bootstrap a single-voter raft cluster")
    fs.StringVar(&cfg.RaftLogLevel, "raft-log-level", "warn", "raft log level: trace|debug|info|warn|error")
    fs.StringVar(&cfg.MemBind, "mem-bind", "", "gossip bind addr (host:port); empty disables gossip")
    fs.StringVar(&cfg.MemAdv, "mem-adv", "", "gossip advertise addr (host:port, optional)")
    fs.StringVar(&cfg.SeedsCSV, "join", "", "comma-separated gossip seeds (host:port)")
    fs.IntVar(&cfg.AgentPort, "agent-port", 17946, "agent management port used when a minion is not in the gossip ring")
    fs.DurationVar(&cfg.RemoteTimeout, "remote-timeout", 5*time.Second, "timeout of a single remote role call")
    fs.IntVar(&cfg.Parallelism, "parallelism", 1, "concurrent assignments per request")
    fs.BoolVar(&trace, "trace", false, "enable OpenTelemetry stdout tracing (dev)")
    fs.BoolVar(&logJSON, "log-json", false, "emit JSON log lines")
    bindTLS(fs, &cfg.TLS)
    return cmd
}

// NewAgentCmd returns the "agent" command that runs on a minion.
func NewAgentCmd() *cobra.Command {
    var (
        cfg     bootstrap.AgentConfig
        trace   bool
        logJSON bool
    )
    cmd := &cobra.Command{
        Use:   "agent",
        Short: "Run a minion agent",
        RunE: func(cmd *cobra.Command, args []string) error {
            ctx, cancel := signalContext()
            defer cancel()
            defer setupTracing(trace)()
            if logJSON { logutil.SetJSON(true) }
            cfg.Logger = log.Default()

            a, err := bootstrap.RunAgent(ctx, cfg)
            if err != nil { return err }
            defer a.Stop(context.Background())
            logutil.Infof(cfg.Logger, "agent %s running. Press Ctrl+C to exit.", a.MinionID())
            <-ctx.Done()
            return nil
        },
    }
    fs := cmd.Flags()
    fs.StringVar(&cfg.MinionID, "minion-id", "", "minion id (defaults to a random UUID)")
    fs.StringVar(&cfg.FQDN, "fqdn", "", "minion FQDN (defaults to the host name)")
    fs.StringVar(&cfg.MgmtAddr, "mgmt-addr", ":17946", "agent management address (host:port)")
    fs.StringVar(&cfg.MgmtProto, "mgmt-proto", bootstrap.ProtoHTTP, "management RPC protocol: http|grpc")
    fs.StringVar(&cfg.Advertise, "advertise", "", "management address announced over gossip")
    fs.StringVar(&cfg.MemBind, "mem-bind", "", "gossip bind addr (host:port); empty disables gossip")
    fs.StringVar(&cfg.MemAdv, "mem-adv", "", "gossip advertise addr (host:port, optional)")
    fs.StringVar(&cfg.SeedsCSV, "join", "", "comma-separated gossip seeds (host:port)")
    fs.StringVar(&cfg.ApplyCommand, "apply-cmd", "", "shell command run for every accepted role (MINION_ROLE is set)")
    fs.BoolVar(&trace, "trace", false, "enable OpenTelemetry stdout tracing (dev)")
    fs.BoolVar(&logJSON, "log-json", false, "emit JSON log lines")
    bindTLS(fs, &cfg.TLS)
    return cmd
}

// NewRegisterCmd returns the "register" command.
func NewRegisterCmd() *cobra.Command {
    var (
        cf       clientFlags
        minionID string
        fqdn     string
    )
    cmd := &cobra.Command{
        Use:   "register",
        Short: "Register a minion with the control plane",
        RunE: func(cmd *cobra.Command, args []string) error {
            if minionID == "" { return fmt.Errorf("missing --minion-id") }
            c, ctx, cancel, err := cf.client()
            if err != nil { return err }
            defer cancel()
            resp, err := c.PostRegister(ctx, cf.addr, transport.RegisterRequest{MinionID: minionID, FQDN: fqdn})
            if err != nil { return fmt.Errorf("register error: %w", err) }
            return writeJSON(cmd.OutOrStdout(), resp.Minion)
        },
    }
    cf.bind(cmd.Flags())
    cmd.Flags().StringVar(&minionID, "minion-id", "", "minion id (required)")
    cmd.Flags().StringVar(&fqdn, "fqdn", "", "minion FQDN")
    return cmd
}

// NewAssignCmd returns the "assign" command. The request comes from a YAML
// file or from per-role flags.
func NewAssignCmd() *cobra.Command {
    var (
        cf                    clientFlags
        file, defaultRole     string
        master, worker, admin []uint
        remoteCall            bool
    )
    cmd := &cobra.Command{
        Use:   "assign",
        Short: "Assign roles to registered minions",
        RunE: func(cmd *cobra.Command, args []string) error {
            var (
                req roles.Request
                err error
            )
            if file != "" {
                req, err = readRequest(file, cmd.InOrStdin())
                if err != nil { return err }
            } else {
                req.Roles = map[minion.Role][]uint64{}
                for role, ids := range map[minion.Role][]uint{minion.RoleMaster: master, minion.RoleWorker: worker, minion.RoleAdmin: admin} {
                    for _, id := range ids { req.Roles[role] = append(req.Roles[role], uint64(id)) }
                }
                if req.DefaultRole, err = minion.ParseRole(defaultRole); err != nil { return err }
                if err := req.Validate(); err != nil { return err }
            }
            if cmd.Flags().Changed("remote") { req.Remote = remoteCall }

            c, ctx, cancel, err := cf.client()
            if err != nil { return err }
            defer cancel()
            resp, err := c.PostAssignRoles(ctx, cf.addr, transport.AssignRolesRequest{Roles: req.Roles, DefaultRole: req.DefaultRole, Remote: req.Remote})
            if err != nil { return fmt.Errorf("assign error: %w", err) }
            return writeJSON(cmd.OutOrStdout(), resp.Results)
        },
    }
    cf.bind(cmd.Flags())
    cmd.Flags().StringVarP(&file, "file", "f", "", "YAML request file (- for stdin)")
    cmd.Flags().UintSliceVar(&master, "master", nil, "registry ids to make master")
    cmd.Flags().UintSliceVar(&worker, "worker", nil, "registry ids to make worker")
    cmd.Flags().UintSliceVar(&admin, "admin", nil, "registry ids to make admin")
    cmd.Flags().StringVar(&defaultRole, "default-role", "", "role for every registered minion not listed")
    cmd.Flags().BoolVar(&remoteCall, "remote", false, "ask each minion before storing its role")
    return cmd
}

func readRequest(path string, stdin io.Reader) (roles.Request, error) {
    if path == "-" { return roles.DecodeRequest(stdin) }
    f, err := os.Open(path)
    if err != nil { return roles.Request{}, err }
    defer f.Close()
    return roles.DecodeRequest(f)
}

// NewMinionsCmd returns the "minions" command printing the registry.
func NewMinionsCmd() *cobra.Command {
    var cf clientFlags
    cmd := &cobra.Command{
        Use:   "minions",
        Short: "List registered minions as JSON",
        RunE: func(cmd *cobra.Command, args []string) error {
            c, ctx, cancel, err := cf.client()
            if err != nil { return err }
            defer cancel()
            resp, err := c.GetMinions(ctx, cf.addr)
            if err != nil { return fmt.Errorf("list error: %w", err) }
            return writeJSON(cmd.OutOrStdout(), resp.Minions)
        },
    }
    cf.bind(cmd.Flags())
    return cmd
}

// NewStatusCmd returns the "status" command.
func NewStatusCmd() *cobra.Command {
    var cf clientFlags
    cmd := &cobra.Command{
        Use:   "status",
        Short: "Fetch control plane or agent status as JSON",
        RunE: func(cmd *cobra.Command, args []string) error {
            c, ctx, cancel, err := cf.client()
            if err != nil { return err }
            defer cancel()
            data, err := c.GetStatus(ctx, cf.addr)
            if err != nil { return fmt.Errorf("status error: %w", err) }
            out := cmd.OutOrStdout()
            _, _ = out.Write(data)
            if len(data) == 0 || data[len(data)-1] != '\n' { _, _ = out.Write([]byte("\n")) }
            return nil
        },
    }
    cf.bind(cmd.Flags())
    return cmd
}

// statusInput is the file format read by computed-status.
type statusInput struct {
    Needed []status.Report `json:"needed"`
    Failed []status.Report `json:"failed"`
}

// NewComputedStatusCmd returns the "computed-status" command.
func NewComputedStatusCmd() *cobra.Command {
    var file, field string
    cmd := &cobra.Command{
        Use:   "computed-status",
        Short: "Aggregate per-minion reports into a single status code",
        RunE: func(cmd *cobra.Command, args []string) error {
            var r io.Reader = cmd.InOrStdin()
            if file != "" && file != "-" {
                f, err := os.Open(file)
                if err != nil { return err }
                defer f.Close()
                r = f
            }
            var in statusInput
            if err := json.NewDecoder(r).Decode(&in); err != nil { return fmt.Errorf("decode reports: %w", err) }
            code := status.Computed(field, in.Needed, in.Failed)
            obsmetrics.StatusComputed.WithLabelValues(code.String()).Inc()
            _, err := fmt.Fprintln(cmd.OutOrStdout(), code)
            return err
        },
    }
    cmd.Flags().StringVarP(&file, "file", "f", "-", "JSON file with needed/failed reports (- for stdin)")
    cmd.Flags().StringVar(&field, "field", "", "boolean field signalling the condition (required)")
    _ = cmd.MarkFlagRequired("field")
    return cmd
}

func writeJSON(w io.Writer, v any) error {
    enc := json.NewEncoder(w)
    enc.SetIndent("", "  ")
    return enc.Encode(v)
}

func signalContext() (context.Context, context.CancelFunc) {
    ctx, cancel := context.WithCancel(context.Background())
    go func() {
        ch := make(chan os.Signal, 1)
        signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
        <-ch
        cancel()
    }()
    return ctx, cancel
}
