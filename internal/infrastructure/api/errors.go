package api

import "errors"

// Client errors.
var (
	// ErrBuildNotFound indicates the build has no snapshot on the server.
	ErrBuildNotFound = errors.New("build not found")
)
