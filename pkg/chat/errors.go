package chat

import "errors"

var (
	// ErrBusy rejects a send while another reply is in flight. The
	// caller should surface a notice, not queue.
	ErrBusy = errors.New("a reply is already in flight")

	// ErrMissingAPIKey blocks an action before any network call.
	ErrMissingAPIKey = errors.New("API key is not configured")

	// ErrNoAssistantReply means retry found nothing to remove; no
	// network call is made.
	ErrNoAssistantReply = errors.New("no assistant reply to retry")

	// ErrCharacterNotFound is returned by actions that need a concrete
	// persona (status generation).
	ErrCharacterNotFound = errors.New("character not found")

	// ErrEmptyStatus means the model returned no usable status text.
	ErrEmptyStatus = errors.New("model returned no status content")
)

// StatusParseError carries the raw model output when the structured
// status JSON could not be parsed, so the user can recover manually.
// The status board is left unmodified.
type StatusParseError struct {
	Raw string
}

func (e *StatusParseError) Error() string {
	return "unparseable status JSON from model"
}
