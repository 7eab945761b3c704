package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bidwire/bidwire/metrics"
	"github.com/bidwire/bidwire/protocol"
	"github.com/bidwire/bidwire/store"
	"github.com/bidwire/bidwire/transport"
)

// DefaultReplyTimeout bounds how long the coordinator waits for each
// inform_response line.
const DefaultReplyTimeout = 30 * time.Second

// sellerShare is the fraction of the final price credited to the seller;
// the remainder is the house fee.
const sellerShare = 0.90

// Cancel reasons. A party that never answered or answered garbage gets the
// response reason; everything else is a transaction failure.
const (
	cancelReasonFailed     = "transaction failed"
	cancelReasonNoResponse = "Invalid or no response"
)

// CoordinatorOpts configures a Coordinator. ReplyTimeout defaults to
// DefaultReplyTimeout.
type CoordinatorOpts struct {
	Accounts     store.AccountDirectory
	Sequence     store.SequenceCounter
	Dialer       transport.Dialer
	ReplyTimeout time.Duration
	Log          *slog.Logger
}

// Coordinator drives the reliable-channel finalize handshake for ended
// auctions.
type Coordinator struct {
	accounts     store.AccountDirectory
	seq          store.SequenceCounter
	dialer       transport.Dialer
	replyTimeout time.Duration
	log          *slog.Logger
}

func NewCoordinator(opts CoordinatorOpts) (*Coordinator, error) {
	if opts.Accounts == nil || opts.Sequence == nil || opts.Dialer == nil {
		return nil, errors.New("coordinator requires accounts, a sequence counter and a dialer")
	}
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = DefaultReplyTimeout
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &Coordinator{
		accounts:     opts.Accounts,
		seq:          opts.Sequence,
		dialer:       opts.Dialer,
		replyTimeout: opts.ReplyTimeout,
		log:          opts.Log,
	}, nil
}

// Settle finalizes a. Called exactly once per auction, after its deadline
// and before it leaves the catalog. Errors terminate the settlement, never
// the caller, so it reports nothing.
func (c *Coordinator) Settle(ctx context.Context, a *store.Auction) {
	log := c.log.With("item", a.Item, "settlement_id", uuid.NewString())

	if !a.HasBidder() || a.CurrentPrice < a.StartingPrice {
		c.notifyNotSold(ctx, log, a)
		return
	}
	c.finalizeSale(ctx, log, a)
}

// notifyNotSold tells the seller the clock ran out without a valid sale.
func (c *Coordinator) notifyNotSold(ctx context.Context, log *slog.Logger, a *store.Auction) {
	log.Info("auction closed without sale", "final_price", a.CurrentPrice)
	metrics.IncSettlement("not_sold")

	sess, err := c.dialSeller(ctx, a)
	if err != nil {
		log.Warn("seller unreachable for close notice", "err", err)
		return
	}
	defer sess.Close()

	if err := sess.SendLine(protocol.AuctionEnded(a.Seq, a.Item, a.Description, a.CurrentPrice, store.NoBidder)); err != nil {
		log.Warn("sending close notice failed", "err", err)
	}
}

func (c *Coordinator) finalizeSale(ctx context.Context, log *slog.Logger, a *store.Auction) {
	log = log.With("buyer", a.HighestBidder, "final_price", a.CurrentPrice)

	seq, err := c.seq.Next()
	if err != nil {
		log.Error("allocating settlement sequence failed", "err", err)
		return
	}

	buyerSess, err := c.dialParticipant(ctx, a.HighestBidder)
	if err != nil {
		log.Error("buyer unreachable, closing without sale", "err", err)
		c.notifyNotSold(ctx, log, a)
		return
	}
	defer buyerSess.Close()

	sellerSess, err := c.dialSeller(ctx, a)
	if err != nil {
		log.Error("seller unreachable, cancelling", "err", err)
		c.cancel(seq, cancelReasonFailed, buyerSess)
		return
	}
	defer sellerSess.Close()

	ended := protocol.AuctionEnded(a.Seq, a.Item, a.Description, a.CurrentPrice, a.HighestBidder)
	request := protocol.InformRequest(seq, a.Item, a.CurrentPrice)
	for _, sess := range []transport.Session{buyerSess, sellerSess} {
		if err := sess.SendLine(ended); err != nil {
			log.Error("sending end notice failed", "err", err)
			c.cancel(seq, cancelReasonFailed, buyerSess, sellerSess)
			return
		}
		if err := sess.SendLine(request); err != nil {
			log.Error("sending inform request failed", "err", err)
			c.cancel(seq, cancelReasonFailed, buyerSess, sellerSess)
			return
		}
	}

	buyerInfo, err := c.readResponse(ctx, buyerSess)
	if err != nil {
		log.Error("buyer inform response missing or malformed", "err", err)
		c.cancel(seq, cancelReasonNoResponse, buyerSess, sellerSess)
		return
	}
	sellerInfo, err := c.readResponse(ctx, sellerSess)
	if err != nil {
		log.Error("seller inform response missing or malformed", "err", err)
		c.cancel(seq, cancelReasonNoResponse, buyerSess, sellerSess)
		return
	}

	if err := c.processPayment(log, a, buyerInfo, sellerInfo); err != nil {
		log.Error("payment failed", "err", err)
		c.cancel(seq, cancelReasonFailed, buyerSess, sellerSess)
		return
	}

	if err := sellerSess.SendLine(protocol.ShippingInfo(seq, buyerInfo.Name, buyerInfo.Address)); err != nil {
		log.Error("sending shipping info failed", "err", err)
		return
	}
	metrics.IncSettlement("sold")
	log.Info("settlement complete", "shipping_to", buyerInfo.Address)
}

func (c *Coordinator) readResponse(ctx context.Context, sess transport.Session) (*protocol.InformResponse, error) {
	rctx, cancel := context.WithTimeout(ctx, c.replyTimeout)
	defer cancel()
	line, err := sess.ReadLine(rctx)
	if err != nil {
		return nil, err
	}
	return protocol.ParseInformResponse(line)
}

// processPayment simulates charging the buyer's card and crediting the
// seller's. No money moves; the split is only logged.
func (c *Coordinator) processPayment(log *slog.Logger, a *store.Auction, buyer, seller *protocol.InformResponse) error {
	if a.CurrentPrice <= 0 {
		return fmt.Errorf("invalid final price %.2f", a.CurrentPrice)
	}
	if strings.EqualFold(buyer.Name, store.NoBidder) {
		return errors.New("buyer identity missing")
	}
	if buyer.CardNumber == "" || seller.CardNumber == "" {
		return errors.New("missing card details")
	}
	credit := a.CurrentPrice * sellerShare
	log.Info("payment processed",
		"charged", fmt.Sprintf("%.2f", a.CurrentPrice),
		"credited", fmt.Sprintf("%.2f", credit),
		"fee", fmt.Sprintf("%.2f", a.CurrentPrice-credit),
		"buyer_card", maskCard(buyer.CardNumber),
		"seller_card", maskCard(seller.CardNumber))
	return nil
}

func (c *Coordinator) cancel(seq uint64, reason string, sessions ...transport.Session) {
	metrics.IncSettlement("cancelled")
	line := protocol.Cancel(seq, reason)
	for _, sess := range sessions {
		if err := sess.SendLine(line); err != nil {
			c.log.Warn("sending cancel failed", "err", err)
		}
	}
}

func (c *Coordinator) dialSeller(ctx context.Context, a *store.Auction) (transport.Session, error) {
	return c.dialParticipant(ctx, a.Seller)
}

func (c *Coordinator) dialParticipant(ctx context.Context, name string) (transport.Session, error) {
	p, err := c.accounts.Get(name)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", name, err)
	}
	sess, err := c.dialer.Dial(ctx, p.ReliableAddr())
	if err != nil {
		return nil, fmt.Errorf("dialing %q at %q: %w", name, p.ReliableAddr(), err)
	}
	return sess, nil
}

// maskCard keeps the last four digits for the log line.
func maskCard(card string) string {
	if len(card) <= 4 {
		return card
	}
	return "****" + card[len(card)-4:]
}
