package squall

// Additional is the server-wide context bundle threaded through every
// handler and layer. It is assembled once before the server starts serving
// and must not be mutated afterwards; mutable application state belongs in a
// synchronized container inside the Shared value.
type Additional struct {
	// Shared is the application's shared value.
	Shared interface{}

	// SessionCreator parses and applies sessions, when configured.
	SessionCreator SessionCreator

	// Key is the server's signing key.
	Key []byte

	coffer *coffer
}
