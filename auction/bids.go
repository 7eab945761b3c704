package auction

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/bidwire/bidwire/metrics"
	"github.com/bidwire/bidwire/protocol"
	"github.com/bidwire/bidwire/store"
)

var (
	errBidTooLow    = errors.New("bid too low")
	errAuctionEnded = errors.New("auction ended")
)

// Denial reasons sent back to bidders. The wording is part of the wire
// contract.
const (
	reasonItemNotFound  = "item not found"
	reasonBidTooLow     = "bid too low"
	reasonNotRegistered = "bidder not registered"
	reasonNotSubscribed = "bidder not subscribed"
	reasonInternalError = "internal error"
	reasonAuctionEnded  = "auction ended"
	reasonInvalidPrice  = "invalid price"
)

// BidProcessor validates and applies bids. The catalog's Update closure
// makes each accept atomic: two concurrent equal bids can never both win.
type BidProcessor struct {
	store       store.Store
	broadcaster *Broadcaster
	log         *slog.Logger
}

func NewBidProcessor(st store.Store, broadcaster *Broadcaster, log *slog.Logger) (*BidProcessor, error) {
	if st == nil || broadcaster == nil {
		return nil, errors.New("bid processor requires a store and a broadcaster")
	}
	if log == nil {
		log = slog.Default()
	}
	return &BidProcessor{store: st, broadcaster: broadcaster, log: log}, nil
}

// Place applies a bid and returns the reply owed to the bidder. On accept,
// the bid_update broadcast has already been fanned out.
func (p *BidProcessor) Place(seq uint64, bid protocol.Bid) string {
	reply := p.place(seq, bid)
	if strings.HasPrefix(reply, "bid-accepted") {
		metrics.IncBid("accepted")
	} else {
		metrics.IncBid("denied")
	}
	return reply
}

func (p *BidProcessor) place(seq uint64, bid protocol.Bid) string {
	if _, err := p.store.Accounts().Get(bid.Bidder); err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return protocol.BidDenied(seq, reasonNotRegistered)
		}
		p.log.Error("bidder lookup failed", "bidder", bid.Bidder, "err", err)
		return protocol.BidDenied(seq, reasonInternalError)
	}

	if _, err := p.store.Auctions().Get(bid.Item); err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return protocol.BidDenied(seq, reasonItemNotFound)
		}
		p.log.Error("auction lookup failed", "item", bid.Item, "err", err)
		return protocol.BidDenied(seq, reasonInternalError)
	}

	ok, err := p.store.Subscriptions().IsSubscribed(bid.Item, bid.Bidder)
	if err != nil {
		p.log.Error("subscription lookup failed", "item", bid.Item, "bidder", bid.Bidder, "err", err)
		return protocol.BidDenied(seq, reasonInternalError)
	}
	if !ok {
		return protocol.BidDenied(seq, reasonNotSubscribed)
	}

	now := time.Now()
	updated, err := p.store.Auctions().Update(bid.Item, func(a *store.Auction) error {
		if a.Ended(now) {
			return errAuctionEnded
		}
		if !a.PlaceBid(bid.Bidder, bid.Amount) {
			return errBidTooLow
		}
		return nil
	})
	switch {
	case err == nil:
	case errors.Is(err, store.ErrItemNotFound):
		return protocol.BidDenied(seq, reasonItemNotFound)
	case errors.Is(err, errBidTooLow):
		return protocol.BidDenied(seq, reasonBidTooLow)
	case errors.Is(err, errAuctionEnded):
		return protocol.BidDenied(seq, reasonAuctionEnded)
	default:
		p.log.Error("bid update failed", "item", bid.Item, "err", err)
		return protocol.BidDenied(seq, reasonInternalError)
	}

	p.log.Info("bid accepted", "item", bid.Item, "bidder", bid.Bidder, "amount", bid.Amount)
	p.broadcaster.Broadcast(updated.Item, updated.Seller,
		protocol.BidUpdate(updated.Seq, updated.Item, updated.CurrentPrice, updated.HighestBidder, updated.MinutesLeft(now)))
	return protocol.BidAccepted(seq)
}
