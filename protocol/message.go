package protocol

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Control-channel verbs. Comma verbs consume a server sequence number at
// dispatch; the rest do not.
const (
	VerbRegister    = "register"
	VerbDeregister  = "deregister"
	VerbListItem    = "list_item"
	VerbSubscribe   = "subscribe"
	VerbDesubscribe = "de-subscribe"
	VerbBid         = "bid"
	VerbAccept      = "accept"
	VerbRefuse      = "refuse"
	VerbGetAllItems = "get_all_items"
	VerbBye         = "bye"
)

// Message is an inbound control-channel request after classification.
type Message interface {
	Verb() string
}

// ParseError describes a malformed request. Reason is the text a handler
// echoes back in its denial reply.
type ParseError struct {
	Action string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.Action, e.Reason)
}

// UnknownActionError is returned for verbs outside the protocol. The
// dispatcher logs these; no reply is owed on the wire.
type UnknownActionError struct {
	Action string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action %q", e.Action)
}

// Register asks for a new participant account.
type Register struct {
	Name         string
	Role         string
	Address      string
	ControlPort  int
	ReliablePort int
}

func (Register) Verb() string { return VerbRegister }

// Deregister removes an existing account.
type Deregister struct {
	Name string
}

func (Deregister) Verb() string { return VerbDeregister }

// ListItem opens a new auction.
type ListItem struct {
	Item          string
	Description   string
	StartingPrice float64
	Duration      time.Duration
	Seller        string
}

func (ListItem) Verb() string { return VerbListItem }

// Subscribe registers interest in an item's updates. ClientSeq is the
// caller's correlation tag, echoed back verbatim.
type Subscribe struct {
	ClientSeq string
	Item      string
	Buyer     string
}

func (Subscribe) Verb() string { return VerbSubscribe }

// Desubscribe withdraws a subscription.
type Desubscribe struct {
	ClientSeq string
	Item      string
	Buyer     string
}

func (Desubscribe) Verb() string { return VerbDesubscribe }

// Bid offers a price on an open auction.
type Bid struct {
	Item   string
	Bidder string
	Amount float64
}

func (Bid) Verb() string { return VerbBid }

// NegotiationAccept is the seller's reply to a negotiate_request,
// proposing the adjusted price.
type NegotiationAccept struct {
	Seq      string
	Item     string
	NewPrice float64
}

func (NegotiationAccept) Verb() string { return VerbAccept }

// NegotiationRefuse declines the one-time negotiation offer.
type NegotiationRefuse struct {
	Seq  string
	Item string
}

func (NegotiationRefuse) Verb() string { return VerbRefuse }

// GetAllItems asks for the serialized catalog. Answered directly by the
// dispatcher without consuming a sequence number.
type GetAllItems struct{}

func (GetAllItems) Verb() string { return VerbGetAllItems }

// Bye is a teardown hint. No reply is sent.
type Bye struct{}

func (Bye) Verb() string { return VerbBye }

// Classify parses a raw control-channel message into a typed request.
//
// Order is significant: the bare sentinels are matched first, then the
// whitespace-delimited negotiation replies, and only then are comma verbs
// split. Negotiation replies use a different framing and would misparse
// under the comma split.
func Classify(raw string) (Message, error) {
	msg := strings.TrimSpace(raw)
	if msg == "" {
		return nil, &ParseError{Action: "", Reason: "Invalid format"}
	}

	if strings.EqualFold(msg, VerbGetAllItems) {
		return GetAllItems{}, nil
	}
	if strings.EqualFold(msg, VerbBye) {
		return Bye{}, nil
	}

	fields := strings.Fields(msg)
	switch strings.ToLower(fields[0]) {
	case VerbAccept:
		return parseAccept(fields)
	case VerbRefuse:
		return parseRefuse(fields)
	}

	tokens := splitComma(msg)
	if len(tokens) < 2 {
		return nil, &ParseError{Action: tokens[0], Reason: "Invalid format"}
	}

	action := strings.ToLower(tokens[0])
	switch action {
	case VerbRegister:
		return parseRegister(tokens)
	case VerbDeregister:
		return Deregister{Name: tokens[1]}, nil
	case VerbListItem:
		return parseListItem(tokens)
	case VerbSubscribe:
		if len(tokens) != 4 {
			return nil, &ParseError{Action: action, Reason: "Invalid format"}
		}
		return Subscribe{ClientSeq: tokens[1], Item: tokens[2], Buyer: tokens[3]}, nil
	case VerbDesubscribe:
		if len(tokens) != 4 {
			return nil, &ParseError{Action: action, Reason: "Invalid format"}
		}
		return Desubscribe{ClientSeq: tokens[1], Item: tokens[2], Buyer: tokens[3]}, nil
	case VerbBid:
		return parseBid(tokens)
	}

	return nil, &UnknownActionError{Action: action}
}

func parseRegister(tokens []string) (Message, error) {
	if len(tokens) != 6 {
		return nil, &ParseError{Action: VerbRegister, Reason: "Invalid format"}
	}
	controlPort, err := strconv.Atoi(tokens[4])
	if err != nil {
		return nil, &ParseError{Action: VerbRegister, Reason: "Ports must be integers"}
	}
	reliablePort, err := strconv.Atoi(tokens[5])
	if err != nil {
		return nil, &ParseError{Action: VerbRegister, Reason: "Ports must be integers"}
	}
	return Register{
		Name:         tokens[1],
		Role:         strings.ToLower(tokens[2]),
		Address:      tokens[3],
		ControlPort:  controlPort,
		ReliablePort: reliablePort,
	}, nil
}

func parseListItem(tokens []string) (Message, error) {
	if len(tokens) != 6 {
		return nil, &ParseError{Action: VerbListItem, Reason: "Invalid format"}
	}
	price, err := parsePrice(tokens[3])
	if err != nil {
		return nil, &ParseError{Action: VerbListItem, Reason: "Invalid price or duration"}
	}
	minutes, err := strconv.ParseInt(tokens[4], 10, 64)
	if err != nil || minutes <= 0 {
		return nil, &ParseError{Action: VerbListItem, Reason: "Invalid price or duration"}
	}
	return ListItem{
		Item:          tokens[1],
		Description:   tokens[2],
		StartingPrice: price,
		Duration:      time.Duration(minutes) * time.Minute,
		Seller:        tokens[5],
	}, nil
}

func parseBid(tokens []string) (Message, error) {
	if len(tokens) != 4 {
		return nil, &ParseError{Action: VerbBid, Reason: "Invalid format"}
	}
	amount, err := parsePrice(tokens[3])
	if err != nil {
		return nil, &ParseError{Action: VerbBid, Reason: "Invalid bid amount"}
	}
	return Bid{Item: tokens[1], Bidder: tokens[2], Amount: amount}, nil
}

func parseAccept(fields []string) (Message, error) {
	if len(fields) != 4 {
		return nil, &ParseError{Action: VerbAccept, Reason: "Invalid format"}
	}
	newPrice, err := parsePrice(fields[3])
	if err != nil {
		return nil, &ParseError{Action: VerbAccept, Reason: "Invalid price"}
	}
	return NegotiationAccept{Seq: fields[1], Item: fields[2], NewPrice: newPrice}, nil
}

func parseRefuse(fields []string) (Message, error) {
	if len(fields) < 3 {
		return nil, &ParseError{Action: VerbRefuse, Reason: "Invalid format"}
	}
	return NegotiationRefuse{Seq: fields[1], Item: fields[2]}, nil
}

// parsePrice parses a monetary amount. NaN and the infinities are rejected
// here: NaN in particular compares false against every price floor and
// would corrupt the bid ordering downstream.
func parsePrice(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite amount %q", s)
	}
	return v, nil
}

// splitComma splits a comma-delimited request and trims each token.
func splitComma(msg string) []string {
	tokens := strings.Split(msg, ",")
	for i := range tokens {
		tokens[i] = strings.TrimSpace(tokens[i])
	}
	return tokens
}
