package auction

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/bidwire/bidwire/protocol"
	"github.com/bidwire/bidwire/store"
)

// DefaultTick is the production cadence for auction updates.
const DefaultTick = 30 * time.Second

// Settler receives an auction exactly once, after its deadline passes and
// before it leaves the catalog.
type Settler interface {
	Settle(ctx context.Context, a *store.Auction)
}

// SchedulerOpts configures a Scheduler. Tick defaults to DefaultTick.
type SchedulerOpts struct {
	Store       store.Store
	Broadcaster *Broadcaster
	Negotiator  *Negotiator
	Settler     Settler
	Tick        time.Duration
	Log         *slog.Logger
}

// Scheduler runs one goroutine per open auction. Each tick re-reads the
// record, broadcasts the countdown, triggers the halfway negotiation offer
// when no bid has landed, and on expiry hands the auction to the settler
// and removes it from the catalog.
type Scheduler struct {
	store       store.Store
	broadcaster *Broadcaster
	negotiator  *Negotiator
	settler     Settler
	tick        time.Duration
	log         *slog.Logger

	mu      sync.Mutex
	watched map[string]struct{}
	wg      sync.WaitGroup
	stopped atomic.Bool
}

func NewScheduler(opts SchedulerOpts) (*Scheduler, error) {
	if opts.Store == nil || opts.Broadcaster == nil || opts.Negotiator == nil || opts.Settler == nil {
		return nil, errors.New("scheduler requires store, broadcaster, negotiator and settler")
	}
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &Scheduler{
		store:       opts.Store,
		broadcaster: opts.Broadcaster,
		negotiator:  opts.Negotiator,
		settler:     opts.Settler,
		tick:        opts.Tick,
		log:         opts.Log,
		watched:     make(map[string]struct{}),
	}, nil
}

// Watch starts the lifecycle goroutine for item. Watching an item twice is
// a no-op, which makes startup resume idempotent against racing listings.
func (s *Scheduler) Watch(ctx context.Context, item string) {
	if s.stopped.Load() {
		return
	}
	s.mu.Lock()
	if _, ok := s.watched[item]; ok {
		s.mu.Unlock()
		return
	}
	s.watched[item] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.watched, item)
			s.mu.Unlock()
		}()
		s.run(ctx, item)
	}()
}

// Wait blocks until every lifecycle goroutine has returned. Callers cancel
// the Watch contexts first.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Shutdown refuses new watches and blocks until running lifecycle
// goroutines have returned. Callers cancel the Watch contexts first.
func (s *Scheduler) Shutdown() {
	s.stopped.Store(true)
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, item string) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		a, err := s.store.Auctions().Get(item)
		if err != nil {
			if !errors.Is(err, store.ErrItemNotFound) {
				s.log.Error("auction read failed", "item", item, "err", err)
			}
			return
		}

		now := time.Now()
		if a.Ended(now) {
			s.finish(ctx, a)
			return
		}

		s.maybeNegotiate(a, now)

		s.broadcaster.Broadcast(a.Item, a.Seller,
			protocol.AuctionUpdate(a.Seq, a.Item, a.Description, a.CurrentPrice, a.MinutesLeft(now)))
	}
}

// maybeNegotiate sends the one-time negotiation offer once the auction is
// past its halfway point with no bidder. The flag flips inside the catalog
// update so a concurrent bid landing first suppresses the offer.
func (s *Scheduler) maybeNegotiate(a *store.Auction, now time.Time) {
	if a.NegotiationSent || a.HasBidder() || now.Sub(a.StartedAt) < a.Duration/2 {
		return
	}

	updated, err := s.store.Auctions().Update(a.Item, func(cur *store.Auction) error {
		if cur.NegotiationSent || cur.HasBidder() {
			return errNegotiationNotDue
		}
		cur.NegotiationSent = true
		return nil
	})
	if err != nil {
		if !errors.Is(err, errNegotiationNotDue) && !errors.Is(err, store.ErrItemNotFound) {
			s.log.Error("marking negotiation failed", "item", a.Item, "err", err)
		}
		return
	}
	s.negotiator.Offer(updated)
}

var errNegotiationNotDue = errors.New("negotiation not due")

func (s *Scheduler) finish(ctx context.Context, a *store.Auction) {
	s.log.Info("auction ended", "item", a.Item, "final_price", a.CurrentPrice, "bidder", a.HighestBidder)
	s.broadcaster.Broadcast(a.Item, a.Seller,
		protocol.AuctionEnded(a.Seq, a.Item, a.Description, a.CurrentPrice, a.HighestBidder))
	s.settler.Settle(ctx, a)
	if err := s.store.Auctions().Remove(a.Item); err != nil && !errors.Is(err, store.ErrItemNotFound) {
		s.log.Error("removing settled auction failed", "item", a.Item, "err", err)
	}
}
