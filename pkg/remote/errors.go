package remote

import "errors"

var (
    // ErrConnection wraps every failure to reach a minion or get an answer from it.
    ErrConnection = errors.New("remote: connection failed")
    ErrNoAddress  = errors.New("remote: no management address")
)
