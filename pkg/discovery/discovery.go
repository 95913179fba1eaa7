package discovery

// Discovery provides gossip seed addresses for agents and control planes.
type Discovery interface {
    Seeds() []string
}
