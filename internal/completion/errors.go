package completion

import "errors"

var (
	// ErrUnknownModel is returned when the requested model is not in the catalog.
	ErrUnknownModel = errors.New("completion: model does not exist")
	// ErrChatNotFound is returned when the chat is missing or owned by someone else.
	ErrChatNotFound = errors.New("completion: chat does not exist")
	// ErrCredentialRequired is returned for paid models when the user has no key.
	ErrCredentialRequired = errors.New("completion: model requires your own api key")
	// ErrShuttingDown is returned once the service stops accepting prompts.
	ErrShuttingDown = errors.New("completion: service is shutting down")
)
