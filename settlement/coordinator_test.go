package settlement

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bidwire/bidwire/store"
	"github.com/bidwire/bidwire/transport"
)

func setup(t *testing.T) (*store.MemoryStore, *transport.FakeDialer) {
	t.Helper()
	st := store.NewMemoryStore(store.DefaultLimits())
	require.NoError(t, st.Accounts().Put(&store.Participant{
		Name: "sally", Role: store.RoleSeller, Address: "sally", ReliablePort: 7100,
	}))
	require.NoError(t, st.Accounts().Put(&store.Participant{
		Name: "bob", Role: store.RoleBuyer, Address: "bob", ReliablePort: 7200,
	}))
	return st, transport.NewFakeDialer()
}

func newCoordinator(t *testing.T, st *store.MemoryStore, d *transport.FakeDialer, timeout time.Duration) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(CoordinatorOpts{
		Accounts:     st.Accounts(),
		Sequence:     st.Sequence(),
		Dialer:       d,
		ReplyTimeout: timeout,
		Log:          slog.Default(),
	})
	require.NoError(t, err)
	return c
}

func soldAuction() *store.Auction {
	a := store.NewAuction("lamp", "sally", "brass", 40, time.Minute, 2)
	a.PlaceBid("bob", 55)
	a.StartedAt = time.Now().Add(-2 * time.Minute)
	return a
}

func TestSettleValidSale(t *testing.T) {
	st, dialer := setup(t)
	buyerSess := transport.NewFakeSession("inform_response,1,bob,4111111111111111,12/27,12 Elm St")
	sellerSess := transport.NewFakeSession("inform_response,1,sally,5500000000000004,01/28,9 Oak Ave")
	dialer.Register("bob:7200", buyerSess)
	dialer.Register("sally:7100", sellerSess)

	c := newCoordinator(t, st, dialer, time.Second)
	c.Settle(context.Background(), soldAuction())

	buyerLines := buyerSess.Sent()
	require.Len(t, buyerLines, 2)
	require.Equal(t, "auction_ended 2 lamp brass 55.00 bob", buyerLines[0])
	require.Equal(t, "inform_request,1,lamp,55.00", buyerLines[1])

	sellerLines := sellerSess.Sent()
	require.Len(t, sellerLines, 3)
	require.Equal(t, "auction_ended 2 lamp brass 55.00 bob", sellerLines[0])
	require.Equal(t, "inform_request,1,lamp,55.00", sellerLines[1])
	require.Equal(t, "shipping_info,1,bob,12 Elm St", sellerLines[2])

	require.True(t, buyerSess.Closed())
	require.True(t, sellerSess.Closed())
}

func TestSettleNotSoldNotifiesSellerOnly(t *testing.T) {
	st, dialer := setup(t)
	sellerSess := transport.NewFakeSession()
	dialer.Register("sally:7100", sellerSess)

	a := store.NewAuction("lamp", "sally", "brass", 40, time.Minute, 2)
	a.StartedAt = time.Now().Add(-2 * time.Minute)

	c := newCoordinator(t, st, dialer, time.Second)
	c.Settle(context.Background(), a)

	lines := sellerSess.Sent()
	require.Len(t, lines, 1)
	require.Equal(t, "auction_ended 2 lamp brass 40.00 none", lines[0])
	require.True(t, sellerSess.Closed())
}

func TestSettleCancelsOnMalformedBuyerReply(t *testing.T) {
	st, dialer := setup(t)
	buyerSess := transport.NewFakeSession("not an inform_response")
	sellerSess := transport.NewFakeSession("inform_response,1,sally,5500000000000004,01/28,9 Oak Ave")
	dialer.Register("bob:7200", buyerSess)
	dialer.Register("sally:7100", sellerSess)

	c := newCoordinator(t, st, dialer, time.Second)
	c.Settle(context.Background(), soldAuction())

	for _, sess := range []*transport.FakeSession{buyerSess, sellerSess} {
		lines := sess.Sent()
		require.NotEmpty(t, lines)
		require.Equal(t, "cancel,1,reason:Invalid or no response", lines[len(lines)-1])
		require.True(t, sess.Closed())
	}
}

func TestSettleCancelsOnBuyerTimeout(t *testing.T) {
	st, dialer := setup(t)
	buyerSess := transport.NewFakeSession() // never answers
	sellerSess := transport.NewFakeSession("inform_response,1,sally,5500000000000004,01/28,9 Oak Ave")
	dialer.Register("bob:7200", buyerSess)
	dialer.Register("sally:7100", sellerSess)

	c := newCoordinator(t, st, dialer, 100*time.Millisecond)
	c.Settle(context.Background(), soldAuction())

	lines := buyerSess.Sent()
	require.Equal(t, "cancel,1,reason:Invalid or no response", lines[len(lines)-1])
	require.True(t, buyerSess.Closed())
	require.True(t, sellerSess.Closed())
}

func TestSettleUnreachableBuyerFallsBackToSellerNotice(t *testing.T) {
	st, dialer := setup(t)
	sellerSess := transport.NewFakeSession()
	dialer.Register("sally:7100", sellerSess)
	// No buyer session registered: the dial fails.

	c := newCoordinator(t, st, dialer, time.Second)
	c.Settle(context.Background(), soldAuction())

	lines := sellerSess.Sent()
	require.Len(t, lines, 1)
	require.True(t, strings.HasPrefix(lines[0], "auction_ended 2 lamp brass 55.00"))
}

func TestSettleCancelsBuyerWhenSellerUnreachable(t *testing.T) {
	st, dialer := setup(t)
	buyerSess := transport.NewFakeSession()
	dialer.Register("bob:7200", buyerSess)
	// No seller session registered: that dial fails after the buyer's
	// session is already open.

	c := newCoordinator(t, st, dialer, time.Second)
	c.Settle(context.Background(), soldAuction())

	lines := buyerSess.Sent()
	require.Len(t, lines, 1)
	require.Equal(t, "cancel,1,reason:transaction failed", lines[0])
	require.True(t, buyerSess.Closed())
}
