// Package transport abstracts the two channels the coordination engine
// speaks over: a connectionless Datagram transport for the control protocol
// and a Dialer producing line-oriented reliable Sessions for settlement.
//
// UDPTransport and TCPDialer are the production implementations. The fakes
// (FakeNetwork, FakeDialer) move the same framed text through channels so
// protocol flows can be tested without sockets.
package transport
