// Package status reduces per-minion update reports into a single status code.
package status

import "fmt"

// Code is an aggregated update status. Higher codes take precedence.
type Code uint8

const (
    Unknown Code = iota
    UpdateNeeded
    UpdateFailed
)

var codeNames = map[Code]string{
    Unknown:      "unknown",
    UpdateNeeded: "update_needed",
    UpdateFailed: "update_failed",
}

func (c Code) String() string {
    if n, ok := codeNames[c]; ok { return n }
    return fmt.Sprintf("status(%d)", uint8(c))
}

func (c Code) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// Report maps a field name to the signal reported for it. Only a boolean
// true is a signal; empty strings, nil and any other value are not.
type Report map[string]any

// Computed returns UpdateFailed if any failed report carries a true signal for
// field, otherwise UpdateNeeded if any needed report does, otherwise Unknown.
func Computed(field string, needed, failed []Report) Code {
    if signaled(field, failed) {
        return UpdateFailed
    }
    if signaled(field, needed) {
        return UpdateNeeded
    }
    return Unknown
}

func signaled(field string, reports []Report) bool {
    for _, r := range reports {
        if v, ok := r[field].(bool); ok && v {
            return true
        }
    }
    return false
}
