package store

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Policy violations surfaced by the collaborators. Handlers map these onto
// protocol denial reasons one-to-one.
var (
	ErrCapacityReached   = errors.New("capacity reached")
	ErrDuplicateName     = errors.New("duplicate name")
	ErrAccountNotFound   = errors.New("account not found")
	ErrItemLimitReached  = errors.New("item limit reached")
	ErrDuplicateItem     = errors.New("item already listed")
	ErrItemNotFound      = errors.New("item not found")
	ErrAlreadySubscribed = errors.New("already subscribed")
	ErrNotSubscribed     = errors.New("subscription not found")
)

// NoBidder is the sentinel for an auction without a highest bidder.
const NoBidder = "none"

// Role of a participant.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// ParseRole validates a role token from the wire.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(s) {
	case string(RoleBuyer):
		return RoleBuyer, nil
	case string(RoleSeller):
		return RoleSeller, nil
	}
	return "", fmt.Errorf("invalid role %q", s)
}

// Participant is one registered account. Immutable once created; the only
// transitions are creation on register and removal on deregister.
type Participant struct {
	Name         string `json:"name"`
	Role         Role   `json:"role"`
	Address      string `json:"address"`
	ControlPort  int    `json:"control_port"`
	ReliablePort int    `json:"reliable_port"`
	Seq          uint64 `json:"seq"`
}

// ControlAddr is the participant's control-channel endpoint.
func (p *Participant) ControlAddr() string {
	return net.JoinHostPort(p.Address, strconv.Itoa(p.ControlPort))
}

// ReliableAddr is the participant's reliable-channel endpoint.
func (p *Participant) ReliableAddr() string {
	return net.JoinHostPort(p.Address, strconv.Itoa(p.ReliablePort))
}

// Auction is one catalog record. Mutated only through Catalog.Update so
// every read-modify-write is atomic against concurrent mutation.
type Auction struct {
	Item            string        `json:"item"`
	Seller          string        `json:"seller"`
	Description     string        `json:"description"`
	StartingPrice   float64       `json:"starting_price"`
	CurrentPrice    float64       `json:"current_price"`
	HighestBidder   string        `json:"highest_bidder"`
	Duration        time.Duration `json:"duration"`
	StartedAt       time.Time     `json:"started_at"`
	NegotiationSent bool          `json:"negotiation_sent"`
	Seq             uint64        `json:"seq"`
}

// NewAuction creates an open auction priced at its starting price with no
// bidder.
func NewAuction(item, seller, description string, startingPrice float64, duration time.Duration, seq uint64) *Auction {
	return &Auction{
		Item:          item,
		Seller:        seller,
		Description:   description,
		StartingPrice: startingPrice,
		CurrentPrice:  startingPrice,
		HighestBidder: NoBidder,
		Duration:      duration,
		StartedAt:     time.Now(),
		Seq:           seq,
	}
}

// TimeRemaining is start + duration - now, clamped to zero.
func (a *Auction) TimeRemaining(now time.Time) time.Duration {
	left := a.StartedAt.Add(a.Duration).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// MinutesLeft is the whole minutes remaining, for broadcast payloads.
func (a *Auction) MinutesLeft(now time.Time) int64 {
	return int64(a.TimeRemaining(now) / time.Minute)
}

// Ended reports whether wall-clock time has passed the auction deadline.
func (a *Auction) Ended(now time.Time) bool {
	return now.After(a.StartedAt.Add(a.Duration))
}

// HasBidder reports whether a highest bidder exists.
func (a *Auction) HasBidder() bool {
	return !strings.EqualFold(a.HighestBidder, NoBidder)
}

// PlaceBid applies a bid when it strictly exceeds the current price. Ties
// are rejected. The comparison is written in the negated form so that a
// NaN amount, which compares false both ways, cannot get through.
func (a *Auction) PlaceBid(bidder string, amount float64) bool {
	if !(amount > a.CurrentPrice) {
		return false
	}
	a.CurrentPrice = amount
	a.HighestBidder = bidder
	return true
}

// AdjustPrice applies a seller-accepted negotiation: both the floor and the
// current price move to newPrice and the bidding competition restarts with
// no bidder.
func (a *Auction) AdjustPrice(newPrice float64) {
	a.StartingPrice = newPrice
	a.CurrentPrice = newPrice
	a.HighestBidder = NoBidder
}

// Clone returns an independent copy of the record.
func (a *Auction) Clone() *Auction {
	c := *a
	return &c
}

// Limits configures the directory and catalog ceilings.
type Limits struct {
	MaxAccounts int
	MaxItems    int
}

// DefaultLimits matches the reference protocol's ceilings.
func DefaultLimits() Limits {
	return Limits{MaxAccounts: 10, MaxItems: 10}
}

// AccountDirectory maps unique participant names to accounts.
type AccountDirectory interface {
	// Get returns the account or ErrAccountNotFound. Lookup ignores case.
	Get(name string) (*Participant, error)
	// Put creates the account; ErrDuplicateName on a case-insensitive
	// collision, ErrCapacityReached at the ceiling.
	Put(p *Participant) error
	// Remove deletes the account or returns ErrAccountNotFound.
	Remove(name string) error
	// All returns every account.
	All() ([]*Participant, error)
}

// AuctionCatalog maps item names to active auctions.
type AuctionCatalog interface {
	// Get returns a copy of the record or ErrItemNotFound.
	Get(item string) (*Auction, error)
	// Put creates the auction; ErrDuplicateItem on a case-insensitive
	// collision, ErrItemLimitReached at the ceiling.
	Put(a *Auction) error
	// Update runs fn against the stored record and persists the result,
	// atomically with respect to every other catalog mutation. An error
	// from fn aborts without writing.
	Update(item string, fn func(*Auction) error) (*Auction, error)
	// Remove deletes the auction or returns ErrItemNotFound.
	Remove(item string) error
	// All returns copies of every active auction.
	All() ([]*Auction, error)
}

// SubscriptionIndex maps item names to interested buyers.
type SubscriptionIndex interface {
	Add(item, buyer string) error
	Remove(item, buyer string) error
	IsSubscribed(item, buyer string) (bool, error)
	// Subscribers returns buyer names subscribed to the item.
	Subscribers(item string) ([]string, error)
}

// SequenceCounter allocates request sequence numbers. Every allocation is
// persisted before it is returned so a crash never reuses a number.
type SequenceCounter interface {
	Next() (uint64, error)
}

// Store bundles the four collaborators behind one handle.
type Store interface {
	Accounts() AccountDirectory
	Auctions() AuctionCatalog
	Subscriptions() SubscriptionIndex
	Sequence() SequenceCounter
	Close() error
}

// key normalizes a record name for case-insensitive uniqueness.
func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
