package bridge

import "errors"

// ErrOptionFetch means the session options could not be read at bootstrap.
// It ends the bridge loop.
var ErrOptionFetch = errors.New("option fetch failure")
