package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

const maxDatagramSize = 4096

// UDPTransport implements Datagram over a single bound UDP socket. It is
// safe for concurrent use: the kernel serializes sends, and multiple
// readers may call Receive.
type UDPTransport struct {
	conn *net.UDPConn
}

// ListenUDP binds a UDP socket on addr.
func ListenUDP(addr string) (*UDPTransport, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("binding %q: %w", addr, err)
	}
	return &UDPTransport{conn: conn}, nil
}

// LocalAddr reports the bound address, useful when listening on port 0.
func (t *UDPTransport) LocalAddr() string {
	return t.conn.LocalAddr().String()
}

func (t *UDPTransport) Send(addr, msg string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolving %q: %w", addr, err)
	}
	if _, err := t.conn.WriteToUDP([]byte(msg), udpAddr); err != nil {
		return fmt.Errorf("sending to %q: %w", addr, err)
	}
	return nil
}

func (t *UDPTransport) Receive(ctx context.Context) (string, string, error) {
	buf := make([]byte, maxDatagramSize)
	for {
		// Short read deadlines let us notice ctx cancellation without a
		// dedicated watcher goroutine per call.
		if err := t.conn.SetReadDeadline(time.Now().Add(250 * time.Millisecond)); err != nil {
			return "", "", err
		}
		n, from, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				select {
				case <-ctx.Done():
					return "", "", ctx.Err()
				default:
					continue
				}
			}
			return "", "", err
		}
		return strings.TrimRight(string(buf[:n]), "\r\n"), from.String(), nil
	}
}

func (t *UDPTransport) Close() error {
	return t.conn.Close()
}
