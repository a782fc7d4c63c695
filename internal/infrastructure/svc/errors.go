package svc

import "errors"

// ErrNoAdapters is returned when no enabled exchange produced an adapter.
var ErrNoAdapters = errors.New("no exchange adapters enabled")

// ErrStorageInitFailed wraps backend bootstrap failures.
var ErrStorageInitFailed = errors.New("storage initialization failed")

// ErrUnknownExchange is returned for an enabled exchange without a registered adapter.
var ErrUnknownExchange = errors.New("unknown exchange")
