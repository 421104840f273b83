// Package clustererr defines the error taxonomy used across the sync
// core so callers can classify failures with errors.Is instead of
// matching strings, while the wire encoding (§4.1: "err <message>")
// stays a plain string.
package clustererr

import "errors"

var (
	// ErrIntegrityNotReady is returned by the differ/integrity worker
	// when the refresher has not produced a first catalog yet.
	ErrIntegrityNotReady = errors.New("integrity not calculated yet")

	// ErrUnknownCommand is returned by the frame dispatcher for a
	// command name it does not recognize.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrManifestMissing is returned when a decompressed archive does
	// not carry a cluster_control.json manifest.
	ErrManifestMissing = errors.New("cluster_control.json not included in received archive")

	// ErrPermitDenied is returned when a sync worker is requested for
	// a client/kind pair that already has one in flight.
	ErrPermitDenied = errors.New("a sync of this kind is already in progress for this client")

	// ErrClientNotFound is returned for operations addressed to a
	// client name that is not currently connected.
	ErrClientNotFound = errors.New("client not found")

	// ErrMalformedFrame is returned by the frame transport on a
	// corrupt length prefix or truncated payload.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrPathEscapesRoot is returned when a peer-supplied name (a zip
	// entry, a merged-stream record, a handshake client name) would
	// resolve outside the directory it is meant to be confined to.
	ErrPathEscapesRoot = errors.New("path escapes its containing root")
)
