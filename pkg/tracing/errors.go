package tracing

import "errors"

var ErrInvalidConfig = errors.New("tracing: invalid config")
