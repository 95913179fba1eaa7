package metrics

import (
    "testing"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIdempotent(t *testing.T) {
    Register()
    Register()
    if err := prometheus.Register(Minions); err == nil {
        t.Fatalf("expected Minions to be registered already")
    }
}

func TestStatusComputedCounts(t *testing.T) {
    before := testutil.ToFloat64(StatusComputed.WithLabelValues("update_needed"))
    StatusComputed.WithLabelValues("update_needed").Inc()
    if got := testutil.ToFloat64(StatusComputed.WithLabelValues("update_needed")); got != before+1 {
        t.Fatalf("status_computed_total = %v, want %v", got, before+1)
    }
}
