package transport

import "context"

// Datagram is a connectionless message transport. A single datagram carries
// one protocol message; framing within the payload is the caller's concern.
type Datagram interface {
	// Send delivers msg to addr in a single datagram.
	Send(addr, msg string) error

	// Receive blocks until a datagram arrives or ctx is done. It returns
	// the payload and the sender's address.
	Receive(ctx context.Context) (msg, from string, err error)

	// Close releases the underlying socket. Pending Receive calls return
	// an error.
	Close() error
}

// Session is a reliable, line-oriented duplex channel. Lines are
// newline-terminated on the wire; SendLine appends the terminator and
// ReadLine strips it.
type Session interface {
	SendLine(line string) error
	ReadLine(ctx context.Context) (string, error)
	Close() error
}

// Dialer opens reliable sessions to remote participants.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Session, error)
}
