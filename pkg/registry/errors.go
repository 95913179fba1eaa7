package registry

import "errors"

var (
    ErrNotFound          = errors.New("registry: not found")
    ErrDuplicateMinionID = errors.New("registry: minion id already registered")
)
