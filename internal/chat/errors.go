package chat

import "errors"

// Error kinds surfaced by the chat pipeline. Callers classify with
// errors.Is; the HTTP layer maps them onto status codes.
var (
	// ErrMissingCredential indicates no backend credential or signed-in
	// user was available. Reported before any remote call is attempted.
	ErrMissingCredential = errors.New("missing credential")

	// ErrStoreUnavailable indicates a history or preference fetch failed.
	// The pipeline degrades gracefully rather than aborting the exchange.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrBackendFailure indicates the completion call failed or timed out.
	// Fatal to the current exchange; nothing is written.
	ErrBackendFailure = errors.New("response generation failed")

	// ErrWriteFailure indicates persistence failed after a successful
	// completion. The AI response is still returned to the caller.
	ErrWriteFailure = errors.New("failed to persist exchange")
)
