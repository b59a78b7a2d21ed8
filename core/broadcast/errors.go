package broadcast

import "errors"

// ErrManagerAlreadyStarted is returned when Start is called twice.
var ErrManagerAlreadyStarted = errors.New("manager already started")
