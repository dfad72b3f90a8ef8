package events

import "github.com/pkg/errors"

// Error kinds from spec §7. The core never panics or returns these
// across its public boundary except at construction time
// (ConfigurationError) — everywhere else they travel as
// ErrorPayload on ChannelError.

// ConfigurationError is returned synchronously from NewEventsEmitter
// when construction options are invalid. It is the sole exception to
// "errors never cross the public boundary".
type ConfigurationError struct {
	msg string
}

func (e *ConfigurationError) Error() string { return "configuration error: " + e.msg }

func newConfigurationError(msg string) error {
	return &ConfigurationError{msg: msg}
}

// TransientRpcError wraps a LogSource failure. The cycle that
// produced it is aborted and cursors are left unchanged; the next new
// block retries.
type TransientRpcError struct {
	cause error
}

func (e *TransientRpcError) Error() string { return "transient RPC error: " + e.cause.Error() }
func (e *TransientRpcError) Unwrap() error { return e.cause }

func wrapTransientRPC(cause error) error {
	return &TransientRpcError{cause: errors.WithStack(cause)}
}

// DuplicateEvent signals a unique-constraint violation on the buffer
// insert. Under normal operation this is a logic bug (overlapping
// batches); under post-crash recovery, the caller should tolerate it
// if the offending row's content matches what was about to be
// inserted (see ConfirmationBuffer.Insert).
type DuplicateEvent struct {
	ContractAddress string
	TransactionHash string
	LogIndex        uint
}

func (e *DuplicateEvent) Error() string {
	return "duplicate event " + e.ContractAddress + "/" + e.TransactionHash
}

// StorageError wraps a BlockTracker or ConfirmationBuffer write
// failure. Routed to ChannelError, cycle aborted, cursors unchanged.
type StorageError struct {
	cause error
}

func (e *StorageError) Error() string { return "storage error: " + e.cause.Error() }
func (e *StorageError) Unwrap() error { return e.cause }

func wrapStorage(cause error) error {
	return &StorageError{cause: errors.WithStack(cause)}
}

// ListenerError wraps a user-callback failure. Routed to
// ChannelError, never fatal to the pipeline.
type ListenerError struct {
	Channel Channel
	cause   error
}

func (e *ListenerError) Error() string {
	return "listener error on " + string(e.Channel) + ": " + e.cause.Error()
}
func (e *ListenerError) Unwrap() error { return e.cause }
