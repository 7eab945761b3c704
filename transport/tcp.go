package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// TCPDialer implements Dialer over plain TCP with newline framing.
type TCPDialer struct {
	dialer net.Dialer
}

// NewTCPDialer returns a dialer with the given connect timeout.
func NewTCPDialer(connectTimeout time.Duration) *TCPDialer {
	return &TCPDialer{dialer: net.Dialer{Timeout: connectTimeout}}
}

func (d *TCPDialer) Dial(ctx context.Context, addr string) (Session, error) {
	conn, err := d.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %q: %w", addr, err)
	}
	return &tcpSession{conn: conn, r: bufio.NewReader(conn)}, nil
}

type tcpSession struct {
	conn net.Conn
	r    *bufio.Reader
}

func (s *tcpSession) SendLine(line string) error {
	if _, err := s.conn.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("writing line: %w", err)
	}
	return nil
}

func (s *tcpSession) ReadLine(ctx context.Context) (string, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return "", err
	}
	line, err := s.r.ReadString('\n')
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return "", fmt.Errorf("reading line: %w", context.DeadlineExceeded)
		}
		return "", fmt.Errorf("reading line: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (s *tcpSession) Close() error {
	return s.conn.Close()
}
