package static

import (
    "strings"

    "github.com/amirimatin/go-minions/pkg/discovery"
)

// Seeds is a fixed seed list, usually taken from a --seeds flag.
type Seeds []string

// Seeds returns a copy of the list.
func (s Seeds) Seeds() []string { return append([]string(nil), s...) }

// New returns the non-empty trimmed seeds.
func New(seeds ...string) Seeds {
    out := Seeds{}
    for _, v := range seeds {
        if v = strings.TrimSpace(v); v != "" { out = append(out, v) }
    }
    return out
}

// Parse splits a comma-separated seed list.
func Parse(csv string) Seeds {
    if strings.TrimSpace(csv) == "" { return nil }
    return New(strings.Split(csv, ",")...)
}

var _ discovery.Discovery = Seeds(nil)
