package clients

import "errors"

// ErrCircuitOpen is returned while a dependency's breaker is open.
var ErrCircuitOpen = errors.New("circuit open")
