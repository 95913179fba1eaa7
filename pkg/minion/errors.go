package minion

import "errors"

var (
    ErrInvalidRole      = errors.New("minion: invalid role")
    ErrInvalidHighstate = errors.New("minion: invalid highstate")
    ErrEmptyMinionID    = errors.New("minion: empty minion id")
)
