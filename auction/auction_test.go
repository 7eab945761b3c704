package auction

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bidwire/bidwire/protocol"
	"github.com/bidwire/bidwire/store"
	"github.com/bidwire/bidwire/transport"
)

type fixture struct {
	store       *store.MemoryStore
	net         *transport.FakeNetwork
	server      *transport.FakeEndpoint
	broadcaster *Broadcaster
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemoryStore(store.DefaultLimits())
	net := transport.NewFakeNetwork()
	server := net.Endpoint("server:5000")
	b, err := NewBroadcaster(st.Accounts(), st.Subscriptions(), server, slog.Default())
	require.NoError(t, err)
	return &fixture{store: st, net: net, server: server, broadcaster: b}
}

// addParticipant registers an account and returns its control endpoint.
func (f *fixture) addParticipant(t *testing.T, name string, role store.Role) *transport.FakeEndpoint {
	t.Helper()
	addr := name + ":6000"
	require.NoError(t, f.store.Accounts().Put(&store.Participant{
		Name:        name,
		Role:        role,
		Address:     name,
		ControlPort: 6000,
	}))
	return f.net.Endpoint(addr)
}

func recvOne(t *testing.T, ep *transport.FakeEndpoint) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, _, err := ep.Receive(ctx)
	require.NoError(t, err)
	return msg
}

func requireSilent(t *testing.T, ep *transport.FakeEndpoint) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, err := ep.Receive(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBroadcastReachesSubscribersAndSeller(t *testing.T) {
	f := newFixture(t)
	seller := f.addParticipant(t, "sally", store.RoleSeller)
	buyer := f.addParticipant(t, "bob", store.RoleBuyer)
	other := f.addParticipant(t, "olga", store.RoleBuyer)

	require.NoError(t, f.store.Subscriptions().Add("lamp", "bob"))

	f.broadcaster.Broadcast("lamp", "sally", "auction_update 3 lamp brass 40.00 5")

	require.Equal(t, "auction_update 3 lamp brass 40.00 5", recvOne(t, buyer))
	require.Equal(t, "auction_update 3 lamp brass 40.00 5", recvOne(t, seller))
	requireSilent(t, other)
}

func TestBroadcastSkipsUnresolvableRecipient(t *testing.T) {
	f := newFixture(t)
	buyer := f.addParticipant(t, "bob", store.RoleBuyer)
	require.NoError(t, f.store.Subscriptions().Add("lamp", "ghost"))
	require.NoError(t, f.store.Subscriptions().Add("lamp", "bob"))

	// The unresolvable subscriber must not stop the fan out.
	f.broadcaster.Broadcast("lamp", "", "bid_update 4 lamp 55.00 bob 3")
	require.Equal(t, "bid_update 4 lamp 55.00 bob 3", recvOne(t, buyer))
}

func TestBroadcastDedupesSellerAcrossCasing(t *testing.T) {
	f := newFixture(t)
	seller := f.addParticipant(t, "sally", store.RoleSeller)
	require.NoError(t, f.store.Subscriptions().Add("lamp", "SALLY"))

	// A seller subscribed under different casing still gets one copy.
	f.broadcaster.Broadcast("lamp", "sally", "auction_update 3 lamp brass 40.00 5")

	require.Equal(t, "auction_update 3 lamp brass 40.00 5", recvOne(t, seller))
	requireSilent(t, seller)
}

func TestBidAcceptAndBroadcast(t *testing.T) {
	f := newFixture(t)
	seller := f.addParticipant(t, "sally", store.RoleSeller)
	buyer := f.addParticipant(t, "bob", store.RoleBuyer)
	require.NoError(t, f.store.Subscriptions().Add("lamp", "bob"))
	require.NoError(t, f.store.Auctions().Put(store.NewAuction("lamp", "sally", "brass", 40, 10*time.Minute, 2)))

	p, err := NewBidProcessor(f.store, f.broadcaster, slog.Default())
	require.NoError(t, err)

	reply := p.Place(7, protocol.Bid{Item: "lamp", Bidder: "bob", Amount: 55})
	require.Equal(t, "bid-accepted 7", reply)

	a, err := f.store.Auctions().Get("lamp")
	require.NoError(t, err)
	require.Equal(t, 55.0, a.CurrentPrice)
	require.Equal(t, "bob", a.HighestBidder)

	require.True(t, strings.HasPrefix(recvOne(t, buyer), "bid_update 2 lamp 55.00 bob"))
	require.True(t, strings.HasPrefix(recvOne(t, seller), "bid_update 2 lamp 55.00 bob"))
}

func TestBidDenials(t *testing.T) {
	f := newFixture(t)
	f.addParticipant(t, "sally", store.RoleSeller)
	f.addParticipant(t, "bob", store.RoleBuyer)
	require.NoError(t, f.store.Subscriptions().Add("lamp", "bob"))
	require.NoError(t, f.store.Auctions().Put(store.NewAuction("lamp", "sally", "brass", 40, 10*time.Minute, 2)))

	p, err := NewBidProcessor(f.store, f.broadcaster, slog.Default())
	require.NoError(t, err)

	require.Equal(t, "bid-denied 1 reason:bidder not registered",
		p.Place(1, protocol.Bid{Item: "lamp", Bidder: "mallory", Amount: 99}))
	require.Equal(t, "bid-denied 2 reason:item not found",
		p.Place(2, protocol.Bid{Item: "vase", Bidder: "bob", Amount: 99}))
	require.Equal(t, "bid-denied 3 reason:bid too low",
		p.Place(3, protocol.Bid{Item: "lamp", Bidder: "bob", Amount: 40}))

	// Equal bids tie at the current price and are both denied.
	require.Equal(t, "bid-accepted 4", p.Place(4, protocol.Bid{Item: "lamp", Bidder: "bob", Amount: 50}))
	require.Equal(t, "bid-denied 5 reason:bid too low",
		p.Place(5, protocol.Bid{Item: "lamp", Bidder: "bob", Amount: 50}))

	f.addParticipant(t, "carl", store.RoleBuyer)
	require.Equal(t, "bid-denied 6 reason:bidder not subscribed",
		p.Place(6, protocol.Bid{Item: "lamp", Bidder: "carl", Amount: 60}))
}

func TestBidRejectsNaNAmount(t *testing.T) {
	f := newFixture(t)
	f.addParticipant(t, "sally", store.RoleSeller)
	f.addParticipant(t, "bob", store.RoleBuyer)
	require.NoError(t, f.store.Subscriptions().Add("lamp", "bob"))
	require.NoError(t, f.store.Auctions().Put(store.NewAuction("lamp", "sally", "brass", 40, 10*time.Minute, 2)))

	p, err := NewBidProcessor(f.store, f.broadcaster, slog.Default())
	require.NoError(t, err)

	// A NaN amount must not poison the price floor for later bids.
	require.Equal(t, "bid-denied 1 reason:bid too low",
		p.Place(1, protocol.Bid{Item: "lamp", Bidder: "bob", Amount: math.NaN()}))
	require.Equal(t, "bid-denied 2 reason:bid too low",
		p.Place(2, protocol.Bid{Item: "lamp", Bidder: "bob", Amount: 1}))

	a, err := f.store.Auctions().Get("lamp")
	require.NoError(t, err)
	require.Equal(t, 40.0, a.CurrentPrice)
	require.False(t, a.HasBidder())
}

func TestNegotiationAcceptMovesFloorAndResetsBidder(t *testing.T) {
	f := newFixture(t)
	seller := f.addParticipant(t, "sally", store.RoleSeller)
	buyer := f.addParticipant(t, "bob", store.RoleBuyer)
	require.NoError(t, f.store.Subscriptions().Add("lamp", "bob"))
	require.NoError(t, f.store.Auctions().Put(store.NewAuction("lamp", "sally", "brass", 40, 10*time.Minute, 2)))

	n, err := NewNegotiator(f.store, f.broadcaster, slog.Default())
	require.NoError(t, err)

	reply := n.Accept(protocol.NegotiationAccept{Seq: "12", Item: "lamp", NewPrice: 30})
	require.Equal(t, "accepted 12", reply)

	a, err := f.store.Auctions().Get("lamp")
	require.NoError(t, err)
	require.Equal(t, 30.0, a.StartingPrice)
	require.Equal(t, 30.0, a.CurrentPrice)
	require.False(t, a.HasBidder())

	require.True(t, strings.HasPrefix(recvOne(t, buyer), "price_adjustment 2 lamp 30.00"))
	require.True(t, strings.HasPrefix(recvOne(t, seller), "price_adjustment 2 lamp 30.00"))
}

func TestNegotiationAcceptRejectsNonPositivePrice(t *testing.T) {
	f := newFixture(t)
	f.addParticipant(t, "sally", store.RoleSeller)
	require.NoError(t, f.store.Auctions().Put(store.NewAuction("lamp", "sally", "brass", 40, 10*time.Minute, 2)))

	n, err := NewNegotiator(f.store, f.broadcaster, slog.Default())
	require.NoError(t, err)

	require.Equal(t, "accept-denied 12 reason:invalid price",
		n.Accept(protocol.NegotiationAccept{Seq: "12", Item: "lamp", NewPrice: -5}))
	require.Equal(t, "accept-denied 13 reason:invalid price",
		n.Accept(protocol.NegotiationAccept{Seq: "13", Item: "lamp", NewPrice: 0}))

	a, err := f.store.Auctions().Get("lamp")
	require.NoError(t, err)
	require.Equal(t, 40.0, a.StartingPrice)
	require.Equal(t, 40.0, a.CurrentPrice)
}

func TestNegotiationRepliesForUnknownItem(t *testing.T) {
	f := newFixture(t)
	n, err := NewNegotiator(f.store, f.broadcaster, slog.Default())
	require.NoError(t, err)

	require.Equal(t, "accept-denied 9 reason:item not found",
		n.Accept(protocol.NegotiationAccept{Seq: "9", Item: "gone", NewPrice: 5}))
	require.Equal(t, "accept-denied 9 reason:item not found",
		n.Refuse(protocol.NegotiationRefuse{Seq: "9", Item: "gone"}))
}

func TestNegotiationRefuseLeavesAuctionUntouched(t *testing.T) {
	f := newFixture(t)
	f.addParticipant(t, "sally", store.RoleSeller)
	require.NoError(t, f.store.Auctions().Put(store.NewAuction("lamp", "sally", "brass", 40, 10*time.Minute, 2)))

	n, err := NewNegotiator(f.store, f.broadcaster, slog.Default())
	require.NoError(t, err)

	require.Equal(t, "refused 12", n.Refuse(protocol.NegotiationRefuse{Seq: "12", Item: "lamp"}))

	a, err := f.store.Auctions().Get("lamp")
	require.NoError(t, err)
	require.Equal(t, 40.0, a.CurrentPrice)
	require.False(t, a.HasBidder())
}

type recordingSettler struct {
	mu     sync.Mutex
	calls  []*store.Auction
	sealed chan struct{}
}

func newRecordingSettler() *recordingSettler {
	return &recordingSettler{sealed: make(chan struct{}, 4)}
}

func (r *recordingSettler) Settle(_ context.Context, a *store.Auction) {
	r.mu.Lock()
	r.calls = append(r.calls, a.Clone())
	r.mu.Unlock()
	r.sealed <- struct{}{}
}

func (r *recordingSettler) settledOnce(t *testing.T) *store.Auction {
	t.Helper()
	select {
	case <-r.sealed:
	case <-time.After(3 * time.Second):
		t.Fatal("settler was never invoked")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	require.Len(t, r.calls, 1)
	return r.calls[0]
}

func newScheduler(t *testing.T, f *fixture, settler Settler, tick time.Duration) *Scheduler {
	t.Helper()
	n, err := NewNegotiator(f.store, f.broadcaster, slog.Default())
	require.NoError(t, err)
	s, err := NewScheduler(SchedulerOpts{
		Store:       f.store,
		Broadcaster: f.broadcaster,
		Negotiator:  n,
		Settler:     settler,
		Tick:        tick,
		Log:         slog.Default(),
	})
	require.NoError(t, err)
	return s
}

func TestSchedulerSettlesEndedAuctionOnce(t *testing.T) {
	f := newFixture(t)
	seller := f.addParticipant(t, "sally", store.RoleSeller)
	require.NoError(t, f.store.Auctions().Put(store.NewAuction("lamp", "sally", "brass", 40, 50*time.Millisecond, 2)))

	settler := newRecordingSettler()
	s := newScheduler(t, f, settler, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Watch(ctx, "lamp")

	got := settler.settledOnce(t)
	require.Equal(t, "lamp", got.Item)

	cancel()
	s.Wait()

	_, err := f.store.Auctions().Get("lamp")
	require.ErrorIs(t, err, store.ErrItemNotFound)

	ended := false
	for {
		rctx, rcancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		msg, _, rerr := seller.Receive(rctx)
		rcancel()
		if rerr != nil {
			break
		}
		if strings.HasPrefix(msg, "auction_ended 2 lamp brass 40.00 none") {
			ended = true
		}
	}
	require.True(t, ended, "seller never saw the closing announcement")
}

func TestSchedulerOffersNegotiationAtHalfway(t *testing.T) {
	f := newFixture(t)
	seller := f.addParticipant(t, "sally", store.RoleSeller)
	require.NoError(t, f.store.Auctions().Put(store.NewAuction("lamp", "sally", "brass", 40, 400*time.Millisecond, 2)))

	settler := newRecordingSettler()
	s := newScheduler(t, f, settler, 25*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Watch(ctx, "lamp")

	deadline := time.After(3 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("no negotiate_request before deadline")
		default:
		}
		rctx, rcancel := context.WithTimeout(context.Background(), 2*time.Second)
		msg, _, err := seller.Receive(rctx)
		rcancel()
		require.NoError(t, err)
		if strings.HasPrefix(msg, "negotiate_request 2 lamp 40.00") {
			break
		}
		require.True(t, strings.HasPrefix(msg, "auction_update"), "unexpected message %q", msg)
	}

	a, err := f.store.Auctions().Get("lamp")
	require.NoError(t, err)
	require.True(t, a.NegotiationSent)

	cancel()
	s.Wait()
}

func TestSchedulerSkipsNegotiationWhenBidExists(t *testing.T) {
	f := newFixture(t)
	seller := f.addParticipant(t, "sally", store.RoleSeller)
	a := store.NewAuction("lamp", "sally", "brass", 40, 150*time.Millisecond, 2)
	require.True(t, a.PlaceBid("bob", 55))
	require.NoError(t, f.store.Auctions().Put(a))

	settler := newRecordingSettler()
	s := newScheduler(t, f, settler, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Watch(ctx, "lamp")

	got := settler.settledOnce(t)
	require.Equal(t, "bob", got.HighestBidder)
	require.False(t, got.NegotiationSent)

	cancel()
	s.Wait()

	// The seller saw countdowns and the closing announcement, never an offer.
	for {
		rctx, rcancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		msg, _, err := seller.Receive(rctx)
		rcancel()
		if err != nil {
			break
		}
		require.False(t, strings.HasPrefix(msg, "negotiate_request"), "unexpected offer %q", msg)
	}
}

func TestSchedulerWatchIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.addParticipant(t, "sally", store.RoleSeller)
	require.NoError(t, f.store.Auctions().Put(store.NewAuction("lamp", "sally", "brass", 40, 60*time.Millisecond, 2)))

	settler := newRecordingSettler()
	s := newScheduler(t, f, settler, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Watch(ctx, "lamp")
	s.Watch(ctx, "lamp")

	settler.settledOnce(t)
	cancel()
	s.Wait()
}
