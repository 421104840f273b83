package fileupdate

import "errors"

// ErrUnknownAgent is returned by Apply when the request's agent name
// does not appear in the filter's known-agent set.
var ErrUnknownAgent = errors.New("fileupdate: agent is not known to this node")
