package roles

import (
    "fmt"
    "log"
    "time"

    "github.com/amirimatin/go-minions/pkg/registry"
    "github.com/amirimatin/go-minions/pkg/remote"
)

// Options configures the Applier and the Orchestrator.
type Options struct {
    Registry registry.Registry
    // Remote is required for assignments with Remote set; without it such
    // assignments fail per minion.
    Remote remote.Remote
    // RemoteTimeout bounds each remote call. Defaults to remote.DefaultTimeout.
    RemoteTimeout time.Duration
    // Parallelism bounds concurrent per-minion assignments. Defaults to 1.
    Parallelism int
    // OnResult, when set, is called once per processed minion.
    OnResult func(Result)
    Logger   *log.Logger
}

func (o Options) Validate() error {
    if o.Registry == nil { return fmt.Errorf("roles: Registry is required") }
    if o.RemoteTimeout < 0 { return fmt.Errorf("roles: negative RemoteTimeout") }
    if o.Parallelism < 0 { return fmt.Errorf("roles: negative Parallelism") }
    return nil
}

func (o *Options) setDefaults() {
    if o.RemoteTimeout == 0 { o.RemoteTimeout = remote.DefaultTimeout }
    if o.Parallelism == 0 { o.Parallelism = 1 }
    if o.Logger == nil { o.Logger = log.Default() }
}
