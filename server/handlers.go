package server

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/bidwire/bidwire/auction"
	"github.com/bidwire/bidwire/protocol"
	"github.com/bidwire/bidwire/store"
)

// Denial reasons for the account, listing and subscription handlers. Bid
// and negotiation reasons live with their processors.
const (
	reasonCapacityReached = "capacity reached"
	reasonDuplicateName   = "duplicate name"
	reasonInvalidRole     = "invalid role"
	reasonAccountNotFound = "account not found"
	reasonItemLimit       = "item limit reached"
	reasonDuplicateItem   = "item already listed"
	reasonItemNotFound    = "item not found"
	reasonAlreadySub      = "already subscribed"
	reasonNotSubscribed   = "subscription not found"
	reasonSellerUnknown   = "seller not registered"
	reasonInvalidListing  = "invalid price or duration"
	reasonInternalError   = "internal error"
)

// Handlers implements the account, listing and subscription operations.
// Each method returns the reply owed to the requester.
type Handlers struct {
	store       store.Store
	broadcaster *auction.Broadcaster
	scheduler   *auction.Scheduler
	log         *slog.Logger
}

func NewHandlers(st store.Store, broadcaster *auction.Broadcaster, scheduler *auction.Scheduler, log *slog.Logger) (*Handlers, error) {
	if st == nil || broadcaster == nil || scheduler == nil {
		return nil, errors.New("handlers require a store, a broadcaster and a scheduler")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{store: st, broadcaster: broadcaster, scheduler: scheduler, log: log}, nil
}

func (h *Handlers) Register(seq uint64, msg protocol.Register) string {
	role, err := store.ParseRole(msg.Role)
	if err != nil {
		return protocol.RegisterDenied(seq, reasonInvalidRole)
	}
	err = h.store.Accounts().Put(&store.Participant{
		Name:         msg.Name,
		Role:         role,
		Address:      msg.Address,
		ControlPort:  msg.ControlPort,
		ReliablePort: msg.ReliablePort,
		Seq:          seq,
	})
	switch {
	case err == nil:
		h.log.Info("participant registered", "name", msg.Name, "role", role)
		return protocol.Registered(seq)
	case errors.Is(err, store.ErrCapacityReached):
		return protocol.RegisterDenied(seq, reasonCapacityReached)
	case errors.Is(err, store.ErrDuplicateName):
		return protocol.RegisterDenied(seq, reasonDuplicateName)
	default:
		h.log.Error("account create failed", "name", msg.Name, "err", err)
		return protocol.RegisterDenied(seq, reasonInternalError)
	}
}

func (h *Handlers) Deregister(seq uint64, msg protocol.Deregister) string {
	err := h.store.Accounts().Remove(msg.Name)
	switch {
	case err == nil:
		h.log.Info("participant deregistered", "name", msg.Name)
		return protocol.Deregistered(seq)
	case errors.Is(err, store.ErrAccountNotFound):
		return protocol.DeregisterDenied(seq, reasonAccountNotFound)
	default:
		h.log.Error("account remove failed", "name", msg.Name, "err", err)
		return protocol.DeregisterDenied(seq, reasonInternalError)
	}
}

// List opens a new auction and starts its lifecycle task. The catalog's
// Put decides the winner of two concurrent listings of the same name, and
// Watch is idempotent, so the pair is atomic enough.
func (h *Handlers) List(ctx context.Context, seq uint64, msg protocol.ListItem) string {
	if msg.StartingPrice <= 0 || msg.Duration <= 0 {
		return protocol.ListDenied(seq, reasonInvalidListing)
	}
	seller, err := h.store.Accounts().Get(msg.Seller)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return protocol.ListDenied(seq, reasonSellerUnknown)
		}
		h.log.Error("seller lookup failed", "seller", msg.Seller, "err", err)
		return protocol.ListDenied(seq, reasonInternalError)
	}

	a := store.NewAuction(msg.Item, seller.Name, msg.Description, msg.StartingPrice, msg.Duration, seq)
	err = h.store.Auctions().Put(a)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrItemLimitReached):
		return protocol.ListDenied(seq, reasonItemLimit)
	case errors.Is(err, store.ErrDuplicateItem):
		return protocol.ListDenied(seq, reasonDuplicateItem)
	default:
		h.log.Error("auction create failed", "item", msg.Item, "err", err)
		return protocol.ListDenied(seq, reasonInternalError)
	}

	h.log.Info("auction listed", "item", a.Item, "seller", a.Seller, "price", a.StartingPrice, "duration", a.Duration)
	h.broadcaster.Broadcast(a.Item, a.Seller,
		protocol.AuctionAnnounce(a.Seq, a.Item, a.Description, a.CurrentPrice, a.MinutesLeft(time.Now())))
	h.scheduler.Watch(ctx, a.Item)
	return protocol.ItemListed(seq)
}

func (h *Handlers) Subscribe(msg protocol.Subscribe) string {
	if _, err := h.store.Auctions().Get(msg.Item); err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return protocol.SubscriptionDenied(msg.ClientSeq, reasonItemNotFound)
		}
		h.log.Error("auction lookup failed", "item", msg.Item, "err", err)
		return protocol.SubscriptionDenied(msg.ClientSeq, reasonInternalError)
	}
	err := h.store.Subscriptions().Add(msg.Item, msg.Buyer)
	switch {
	case err == nil:
		h.log.Info("subscribed", "item", msg.Item, "buyer", msg.Buyer)
		return protocol.Subscribed(msg.ClientSeq)
	case errors.Is(err, store.ErrAlreadySubscribed):
		return protocol.SubscriptionDenied(msg.ClientSeq, reasonAlreadySub)
	default:
		h.log.Error("subscription add failed", "item", msg.Item, "buyer", msg.Buyer, "err", err)
		return protocol.SubscriptionDenied(msg.ClientSeq, reasonInternalError)
	}
}

func (h *Handlers) Desubscribe(msg protocol.Desubscribe) string {
	err := h.store.Subscriptions().Remove(msg.Item, msg.Buyer)
	switch {
	case err == nil:
		h.log.Info("unsubscribed", "item", msg.Item, "buyer", msg.Buyer)
		return protocol.Unsubscribed(msg.ClientSeq)
	case errors.Is(err, store.ErrNotSubscribed):
		return protocol.UnsubscribeDenied(msg.ClientSeq, reasonNotSubscribed)
	default:
		h.log.Error("subscription remove failed", "item", msg.Item, "buyer", msg.Buyer, "err", err)
		return protocol.UnsubscribeDenied(msg.ClientSeq, reasonInternalError)
	}
}

// AllItems serializes the catalog, one line per active auction. An empty
// catalog yields the empty string and the dispatcher stays silent.
func (h *Handlers) AllItems() string {
	auctions, err := h.store.Auctions().All()
	if err != nil {
		h.log.Error("catalog read failed", "err", err)
		return ""
	}
	now := time.Now()
	lines := make([]string, 0, len(auctions))
	for _, a := range auctions {
		lines = append(lines, protocol.CatalogEntry(a.Item, a.Description, a.CurrentPrice, a.MinutesLeft(now), a.HighestBidder))
	}
	return strings.Join(lines, "\n")
}
