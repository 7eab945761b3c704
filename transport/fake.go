package transport

import (
	"context"
	"fmt"
	"sync"
)

type fakePacket struct {
	msg  string
	from string
}

// FakeNetwork is an in-memory datagram fabric for tests. Each Endpoint owns
// an inbox channel; Send routes by address.
type FakeNetwork struct {
	mu      sync.Mutex
	inboxes map[string]chan fakePacket
}

func NewFakeNetwork() *FakeNetwork {
	return &FakeNetwork{inboxes: make(map[string]chan fakePacket)}
}

// Endpoint returns the Datagram bound to addr, creating it on first use.
func (n *FakeNetwork) Endpoint(addr string) *FakeEndpoint {
	n.mu.Lock()
	defer n.mu.Unlock()
	inbox, ok := n.inboxes[addr]
	if !ok {
		inbox = make(chan fakePacket, 64)
		n.inboxes[addr] = inbox
	}
	return &FakeEndpoint{net: n, addr: addr, inbox: inbox}
}

func (n *FakeNetwork) route(to string) (chan fakePacket, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	inbox, ok := n.inboxes[to]
	return inbox, ok
}

// FakeEndpoint implements Datagram on top of a FakeNetwork.
type FakeEndpoint struct {
	net   *FakeNetwork
	addr  string
	inbox chan fakePacket
}

func (e *FakeEndpoint) Addr() string { return e.addr }

func (e *FakeEndpoint) Send(addr, msg string) error {
	inbox, ok := e.net.route(addr)
	if !ok {
		return fmt.Errorf("no endpoint at %q", addr)
	}
	select {
	case inbox <- fakePacket{msg: msg, from: e.addr}:
		return nil
	default:
		return fmt.Errorf("inbox full at %q", addr)
	}
}

func (e *FakeEndpoint) Receive(ctx context.Context) (string, string, error) {
	select {
	case p := <-e.inbox:
		return p.msg, p.from, nil
	case <-ctx.Done():
		return "", "", ctx.Err()
	}
}

func (e *FakeEndpoint) Close() error { return nil }

// FakeSession is a scripted reliable session. Sent lines are recorded and
// ReadLine serves the scripted replies in order.
type FakeSession struct {
	mu      sync.Mutex
	sent    []string
	replies chan string
	closed  bool
}

// NewFakeSession returns a session that will answer ReadLine with the given
// replies in order. Further reads block until the context expires.
func NewFakeSession(replies ...string) *FakeSession {
	ch := make(chan string, len(replies))
	for _, r := range replies {
		ch <- r
	}
	return &FakeSession{replies: ch}
}

func (s *FakeSession) SendLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("session closed")
	}
	s.sent = append(s.sent, line)
	return nil
}

func (s *FakeSession) ReadLine(ctx context.Context) (string, error) {
	select {
	case line := <-s.replies:
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *FakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Sent returns a copy of every line written to the session.
func (s *FakeSession) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	copy(out, s.sent)
	return out
}

// Closed reports whether Close was called.
func (s *FakeSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// FakeDialer hands out pre-registered sessions by address.
type FakeDialer struct {
	mu       sync.Mutex
	sessions map[string]*FakeSession
	dialErrs map[string]error
}

func NewFakeDialer() *FakeDialer {
	return &FakeDialer{
		sessions: make(map[string]*FakeSession),
		dialErrs: make(map[string]error),
	}
}

// Register installs the session served for addr.
func (d *FakeDialer) Register(addr string, s *FakeSession) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[addr] = s
}

// FailDial makes Dial return err for addr.
func (d *FakeDialer) FailDial(addr string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialErrs[addr] = err
}

func (d *FakeDialer) Dial(_ context.Context, addr string) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err, ok := d.dialErrs[addr]; ok {
		return nil, err
	}
	s, ok := d.sessions[addr]
	if !ok {
		return nil, fmt.Errorf("no session registered for %q", addr)
	}
	return s, nil
}
