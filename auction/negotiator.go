package auction

import (
	"errors"
	"log/slog"
	"time"

	"github.com/bidwire/bidwire/protocol"
	"github.com/bidwire/bidwire/store"
)

// Negotiator runs the one-shot price negotiation with a seller. The offer
// goes out at the auction's halfway point when no bid has landed; the
// seller answers with accept (carrying a new price) or refuse.
type Negotiator struct {
	store       store.Store
	broadcaster *Broadcaster
	log         *slog.Logger
}

func NewNegotiator(st store.Store, broadcaster *Broadcaster, log *slog.Logger) (*Negotiator, error) {
	if st == nil || broadcaster == nil {
		return nil, errors.New("negotiator requires a store and a broadcaster")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Negotiator{store: st, broadcaster: broadcaster, log: log}, nil
}

// Offer sends the negotiate_request for a to its seller.
func (n *Negotiator) Offer(a *store.Auction) {
	n.log.Info("offering negotiation", "item", a.Item, "seller", a.Seller)
	n.broadcaster.SendTo(a.Seller,
		protocol.NegotiateRequest(a.Seq, a.Item, a.CurrentPrice, a.MinutesLeft(time.Now())))
}

// Accept applies the seller's adjusted price and returns the reply owed to
// the seller. The new price becomes both the floor and the current price
// and the bidding competition restarts without a bidder, so an unanswered
// negotiation can still end in a valid sale at the adjusted price.
//
// An accept for an item no longer in the catalog (ended and settled in the
// meantime) is answered with a denial rather than silence, so a slow seller
// learns the offer lapsed. A counter-price of zero or less is denied too;
// the floor never moves below zero.
func (n *Negotiator) Accept(msg protocol.NegotiationAccept) string {
	if msg.NewPrice <= 0 {
		return protocol.NegotiationDenied(msg.Seq, reasonInvalidPrice)
	}
	updated, err := n.store.Auctions().Update(msg.Item, func(a *store.Auction) error {
		a.AdjustPrice(msg.NewPrice)
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return protocol.NegotiationDenied(msg.Seq, reasonItemNotFound)
		}
		n.log.Error("price adjustment failed", "item", msg.Item, "err", err)
		return protocol.NegotiationDenied(msg.Seq, reasonInternalError)
	}

	n.log.Info("negotiation accepted", "item", updated.Item, "new_price", updated.CurrentPrice)
	n.broadcaster.Broadcast(updated.Item, updated.Seller,
		protocol.PriceAdjustment(updated.Seq, updated.Item, updated.CurrentPrice, updated.MinutesLeft(time.Now())))
	return protocol.NegotiationAccepted(msg.Seq)
}

// Refuse acknowledges the seller's refusal. No state changes; the auction
// runs out its clock at the original price.
func (n *Negotiator) Refuse(msg protocol.NegotiationRefuse) string {
	if _, err := n.store.Auctions().Get(msg.Item); err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return protocol.NegotiationDenied(msg.Seq, reasonItemNotFound)
		}
		n.log.Error("auction lookup failed", "item", msg.Item, "err", err)
		return protocol.NegotiationDenied(msg.Seq, reasonInternalError)
	}
	n.log.Info("negotiation refused", "item", msg.Item)
	return protocol.NegotiationRefused(msg.Seq)
}
