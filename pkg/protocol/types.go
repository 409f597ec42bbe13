package protocol

// Handshake tokens exchanged on the chat connection.
const (
	// AckToken is the host's reply to a correct secret.
	AckToken = "OK"
	// RejectPrefix starts every host reply that refuses a secret.
	RejectPrefix = "ERROR:"
	// RejectWrongSecret is the reply sent when the offered secret does not match.
	RejectWrongSecret = RejectPrefix + " Wrong password"
)

const (
	// HandshakeBufferSize bounds a single handshake read on either side.
	HandshakeBufferSize = 1024

	// DefaultChunkSize is the read/write buffer size for file streaming.
	DefaultChunkSize = 4096

	// HeaderDelimiter separates the file name from its size in a header line.
	HeaderDelimiter = '|'
	// HeaderTerminator ends a header line.
	HeaderTerminator = '\n'
)
