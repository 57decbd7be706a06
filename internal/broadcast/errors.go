package broadcast

import "errors"

var ErrUnknownConnection = errors.New("connection not registered")
