package errors

// Wiring errors returned by constructors that validate their collaborators
// before serving traffic.
var (
	ErrMissingRepository = NewError("hub requires a repository")
	ErrMissingRegistry   = NewError("hub requires a connection registry")
	ErrMissingDispatcher = NewError("hub requires a dispatcher")
	ErrMissingVerifier   = NewError("connect handler requires a token verifier")
	ErrMissingVault      = NewError("application handlers require a token vault")
)
