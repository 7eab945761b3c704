// Command auctionctl is a command-line participant for the auction
// coordination engine. It sends one control-channel request and prints the
// reply, watches broadcasts, or answers the settlement handshake.
//
// # Usage
//
//	auctionctl --server=localhost:5000 --port=6000 register alice buyer
//	auctionctl --server=localhost:5000 --port=6000 list-item lamp brass 40.00 10 sally
//	auctionctl --server=localhost:5000 --port=6000 subscribe 1 lamp alice
//	auctionctl --server=localhost:5000 --port=6000 bid lamp alice 55.50
//	auctionctl --server=localhost:5000 --port=6000 accept 12 lamp 30.00
//	auctionctl --server=localhost:5000 --port=6000 items
//	auctionctl --server=localhost:5000 --port=6000 watch
//	auctionctl --reliable-port=6001 --card=4111111111111111 --expiry=12/27 \
//	    --address="12 Elm St" respond alice
//
// The register subcommand advertises the --port and --reliable-port values
// so the engine can reach this client for broadcasts and settlement.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/bidwire/bidwire/protocol"
	"github.com/bidwire/bidwire/transport"
)

func main() {
	var (
		server       = flag.String("server", "localhost:5000", "Engine control-channel address")
		port         = flag.Int("port", 6000, "Local UDP port for replies and broadcasts")
		reliablePort = flag.Int("reliable-port", 6001, "Local TCP port for the settlement handshake")
		address      = flag.String("addr", "", "Address advertised at registration (defaults to the local IP)")
		timeout      = flag.Duration("timeout", 5*time.Second, "Reply wait bound")
		card         = flag.String("card", "", "Card number for the settlement response")
		expiry       = flag.String("expiry", "", "Card expiry for the settlement response")
		shipTo       = flag.String("ship-to", "", "Shipping address for the settlement response")
	)
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: auctionctl [flags] <command> [args]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch args[0] {
	case "respond":
		if len(args) != 2 {
			err = fmt.Errorf("usage: respond <name>")
			break
		}
		err = respond(ctx, *reliablePort, args[1], *card, *expiry, *shipTo)
	case "watch":
		err = watch(ctx, *port)
	default:
		var request string
		request, err = buildRequest(args, *address, *port, *reliablePort)
		if err == nil {
			err = sendRequest(ctx, *server, *port, request, *timeout)
		}
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "auctionctl:", err)
		os.Exit(1)
	}
}

// localIP guesses the outward-facing address to advertise at registration.
func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}

// buildRequest assembles the wire form of one control-channel request.
func buildRequest(args []string, address string, port, reliablePort int) (string, error) {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "register":
		if len(rest) != 2 {
			return "", fmt.Errorf("usage: register <name> <role>")
		}
		if address == "" {
			address = localIP()
		}
		return fmt.Sprintf("register,%s,%s,%s,%d,%d", rest[0], rest[1], address, port, reliablePort), nil
	case "deregister":
		if len(rest) != 1 {
			return "", fmt.Errorf("usage: deregister <name>")
		}
		return "deregister," + rest[0], nil
	case "list-item":
		if len(rest) != 5 {
			return "", fmt.Errorf("usage: list-item <item> <description> <price> <minutes> <seller>")
		}
		return "list_item," + strings.Join(rest, ","), nil
	case "subscribe":
		if len(rest) != 3 {
			return "", fmt.Errorf("usage: subscribe <tag> <item> <buyer>")
		}
		return "subscribe," + strings.Join(rest, ","), nil
	case "de-subscribe":
		if len(rest) != 3 {
			return "", fmt.Errorf("usage: de-subscribe <tag> <item> <buyer>")
		}
		return "de-subscribe," + strings.Join(rest, ","), nil
	case "bid":
		if len(rest) != 3 {
			return "", fmt.Errorf("usage: bid <item> <bidder> <amount>")
		}
		return "bid," + strings.Join(rest, ","), nil
	case "accept":
		if len(rest) != 3 {
			return "", fmt.Errorf("usage: accept <tag> <item> <newPrice>")
		}
		return "accept " + strings.Join(rest, " "), nil
	case "refuse":
		if len(rest) != 2 {
			return "", fmt.Errorf("usage: refuse <tag> <item>")
		}
		return "refuse " + strings.Join(rest, " "), nil
	case "items":
		return "get_all_items", nil
	case "bye":
		return "bye", nil
	}
	return "", fmt.Errorf("unknown command %q", cmd)
}

// sendRequest fires the request from the advertised control port and prints
// the engine's reply. get_all_items with an empty catalog and bye stay
// silent, so a timeout there is reported as such rather than an error.
func sendRequest(ctx context.Context, server string, port int, request string, timeout time.Duration) error {
	udp, err := transport.ListenUDP(fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("binding local port: %w", err)
	}
	defer udp.Close()

	if err := udp.Send(server, request); err != nil {
		return err
	}
	if request == "bye" {
		return nil
	}

	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	reply, _, err := udp.Receive(rctx)
	if err != nil {
		if rctx.Err() != nil {
			fmt.Println("(no reply)")
			return nil
		}
		return err
	}
	fmt.Println(reply)
	return nil
}

// watch prints every broadcast arriving on the control port until
// interrupted.
func watch(ctx context.Context, port int) error {
	udp, err := transport.ListenUDP(fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("binding local port: %w", err)
	}
	defer udp.Close()

	fmt.Fprintf(os.Stderr, "watching on %s\n", udp.LocalAddr())
	for {
		msg, _, err := udp.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		fmt.Println(msg)
	}
}

// respond serves the reliable channel: it accepts settlement sessions and
// answers each inform_request with the configured payment details.
func respond(ctx context.Context, port int, name, card, expiry, shipTo string) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("binding reliable port: %w", err)
	}
	defer ln.Close()
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	fmt.Fprintf(os.Stderr, "answering settlement on %s as %s\n", ln.Addr(), name)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go serveSession(conn, name, card, expiry, shipTo)
	}
}

func serveSession(conn net.Conn, name, card, expiry, shipTo string) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		fmt.Println(line)

		tokens := strings.Split(line, ",")
		if len(tokens) >= 2 && tokens[0] == "inform_request" {
			seq, err := strconv.ParseUint(tokens[1], 10, 64)
			if err != nil {
				continue
			}
			resp := protocol.InformResponse{
				Seq:        seq,
				Name:       name,
				CardNumber: card,
				Expiry:     expiry,
				Address:    shipTo,
			}
			if _, err := conn.Write([]byte(resp.Line() + "\n")); err != nil {
				return
			}
		}
	}
}
