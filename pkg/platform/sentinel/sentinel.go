package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, transports and credential
// sources return these (optionally wrapped) so callers can branch with
// errors.Is without depending on concrete implementations.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: record does not exist in store
// - ErrStoreUnavailable: log store transiently unreachable
// - ErrCredentialUnavailable: no delivery token could be resolved
// - ErrMalformedState: durable state slot holds unparseable content
var (
	ErrNotFound              = errors.New("not found")
	ErrStoreUnavailable      = errors.New("store unavailable")
	ErrCredentialUnavailable = errors.New("credential unavailable")
	ErrMalformedState        = errors.New("malformed durable state")
)
