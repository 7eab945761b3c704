package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Settlement lines exchanged over the reliable channel. The server writes
// inform_request, shipping_info and cancel; the peers answer with a single
// inform_response line.

func InformRequest(seq uint64, item string, finalPrice float64) string {
	return fmt.Sprintf("inform_request,%d,%s,%.2f", seq, item, finalPrice)
}

func ShippingInfo(seq uint64, buyer, address string) string {
	return fmt.Sprintf("shipping_info,%d,%s,%s", seq, buyer, address)
}

func Cancel(seq uint64, reason string) string {
	return fmt.Sprintf("cancel,%d,reason:%s", seq, reason)
}

// InformResponse carries the peer's payment and shipping details echoed
// against the finalize sequence number.
type InformResponse struct {
	Seq        uint64
	Name       string
	CardNumber string
	Expiry     string
	Address    string
}

// Line renders the response in wire form. Used by the client side of the
// finalize handshake.
func (r *InformResponse) Line() string {
	return fmt.Sprintf("inform_response,%d,%s,%s,%s,%s", r.Seq, r.Name, r.CardNumber, r.Expiry, r.Address)
}

// ParseInformResponse parses one reply line of the finalize handshake.
// Anything that is not a well-formed inform_response is an error; the
// settlement coordinator cancels both sides on it.
func ParseInformResponse(line string) (*InformResponse, error) {
	tokens := splitComma(line)
	if len(tokens) != 6 || !strings.EqualFold(tokens[0], "inform_response") {
		return nil, &ParseError{Action: "inform_response", Reason: "Invalid or no response"}
	}
	seq, err := strconv.ParseUint(tokens[1], 10, 64)
	if err != nil {
		return nil, &ParseError{Action: "inform_response", Reason: "Invalid sequence number"}
	}
	return &InformResponse{
		Seq:        seq,
		Name:       tokens[2],
		CardNumber: tokens[3],
		Expiry:     tokens[4],
		Address:    tokens[5],
	}, nil
}
