package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
)

var (
    once sync.Once

    Minions = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "go_minions",
        Name:      "minions_total",
        Help:      "Current number of registered minions",
    })

    MinionsByRole = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: "go_minions",
        Name:      "minions_by_role",
        Help:      "Registered minions per role",
    }, []string{"role"})

    RoleAssignments = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_minions",
        Name:      "role_assignments_total",
        Help:      "Role assignments by role and result (ok|rejected|error)",
    }, []string{"role", "result"})

    RemoteFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_minions",
        Subsystem: "remote",
        Name:      "failures_total",
        Help:      "Remote role propagation failures by reason (connection|rejected)",
    }, []string{"reason"})

    StatusComputed = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_minions",
        Name:      "status_computed_total",
        Help:      "Aggregated status computations by resulting code",
    }, []string{"code"})

    Registrations = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_minions",
        Name:      "registrations_total",
        Help:      "Minion registrations handled by this node",
    }, []string{"result"})

    GRPCConnDials = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_minions",
        Subsystem: "grpc_conn",
        Name:      "dials_total",
        Help:      "Total number of new gRPC connections dialed",
    })
    GRPCConnReuse = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_minions",
        Subsystem: "grpc_conn",
        Name:      "reuse_total",
        Help:      "Total number of gRPC connection reuses from cache",
    })
    GRPCConnEvictions = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_minions",
        Subsystem: "grpc_conn",
        Name:      "evictions_total",
        Help:      "Total number of cached gRPC connections evicted",
    })
    GRPCConnActive = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "go_minions",
        Subsystem: "grpc_conn",
        Name:      "active",
        Help:      "Number of active cached gRPC connections",
    })
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
    once.Do(func() {
        prometheus.MustRegister(Minions)
        prometheus.MustRegister(MinionsByRole)
        prometheus.MustRegister(RoleAssignments)
        prometheus.MustRegister(RemoteFailures)
        prometheus.MustRegister(StatusComputed)
        prometheus.MustRegister(Registrations)
        prometheus.MustRegister(GRPCConnDials)
        prometheus.MustRegister(GRPCConnReuse)
        prometheus.MustRegister(GRPCConnEvictions)
        prometheus.MustRegister(GRPCConnActive)
    })
}
