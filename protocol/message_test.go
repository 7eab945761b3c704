package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClassify_Register(t *testing.T) {
	msg, err := Classify("register,alice,Buyer,10.0.0.5,5000,5001")
	require.NoError(t, err)

	reg, ok := msg.(Register)
	require.True(t, ok)
	require.Equal(t, "alice", reg.Name)
	require.Equal(t, "buyer", reg.Role)
	require.Equal(t, "10.0.0.5", reg.Address)
	require.Equal(t, 5000, reg.ControlPort)
	require.Equal(t, 5001, reg.ReliablePort)
}

func TestClassify_RegisterBadPort(t *testing.T) {
	_, err := Classify("register,alice,buyer,10.0.0.5,xyz,5001")

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	require.Equal(t, "Ports must be integers", parseErr.Reason)
}

func TestClassify_ListItem(t *testing.T) {
	msg, err := Classify("list_item,chair,oak dining chair,10.00,2,bob")
	require.NoError(t, err)

	li, ok := msg.(ListItem)
	require.True(t, ok)
	require.Equal(t, "chair", li.Item)
	require.Equal(t, "oak dining chair", li.Description)
	require.Equal(t, 10.00, li.StartingPrice)
	require.Equal(t, 2*time.Minute, li.Duration)
	require.Equal(t, "bob", li.Seller)
}

func TestClassify_ListItemRejectsNonNumericPrice(t *testing.T) {
	_, err := Classify("list_item,chair,desc,ten,2,bob")

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	require.Equal(t, "Invalid price or duration", parseErr.Reason)
}

func TestClassify_SentinelsBeforeCommaSplit(t *testing.T) {
	msg, err := Classify("  GET_ALL_ITEMS  ")
	require.NoError(t, err)
	require.IsType(t, GetAllItems{}, msg)

	msg, err = Classify("bye")
	require.NoError(t, err)
	require.IsType(t, Bye{}, msg)
}

func TestClassify_NegotiationBeforeCommaSplit(t *testing.T) {
	// accept/refuse are whitespace-delimited and must be routed before any
	// comma parsing happens.
	msg, err := Classify("accept 42 chair 8.00")
	require.NoError(t, err)

	acc, ok := msg.(NegotiationAccept)
	require.True(t, ok)
	require.Equal(t, "42", acc.Seq)
	require.Equal(t, "chair", acc.Item)
	require.Equal(t, 8.00, acc.NewPrice)

	msg, err = Classify("refuse 42 chair")
	require.NoError(t, err)

	ref, ok := msg.(NegotiationRefuse)
	require.True(t, ok)
	require.Equal(t, "chair", ref.Item)
}

func TestClassify_Bid(t *testing.T) {
	msg, err := Classify("bid,chair,carol,12.50")
	require.NoError(t, err)

	bid, ok := msg.(Bid)
	require.True(t, ok)
	require.Equal(t, "chair", bid.Item)
	require.Equal(t, "carol", bid.Bidder)
	require.Equal(t, 12.50, bid.Amount)
}

func TestClassify_SubscribeEchoTag(t *testing.T) {
	msg, err := Classify("subscribe,7,chair,carol")
	require.NoError(t, err)

	sub, ok := msg.(Subscribe)
	require.True(t, ok)
	require.Equal(t, "7", sub.ClientSeq)
	require.Equal(t, "chair", sub.Item)
	require.Equal(t, "carol", sub.Buyer)
}

func TestClassify_RejectsNonFiniteAmounts(t *testing.T) {
	// NaN compares false against any price floor, so letting it through
	// would wreck the strictly-increasing bid ordering.
	for _, tc := range []struct {
		raw    string
		reason string
	}{
		{"bid,chair,carol,NaN", "Invalid bid amount"},
		{"bid,chair,carol,+Inf", "Invalid bid amount"},
		{"bid,chair,carol,-Inf", "Invalid bid amount"},
		{"list_item,chair,desc,NaN,2,bob", "Invalid price or duration"},
		{"list_item,chair,desc,Inf,2,bob", "Invalid price or duration"},
		{"accept 42 chair NaN", "Invalid price"},
		{"accept 42 chair Inf", "Invalid price"},
	} {
		_, err := Classify(tc.raw)
		var parseErr *ParseError
		require.ErrorAs(t, err, &parseErr, "raw %q", tc.raw)
		require.Equal(t, tc.reason, parseErr.Reason, "raw %q", tc.raw)
	}
}

func TestClassify_UnknownAction(t *testing.T) {
	_, err := Classify("dance,around,the,fire")

	var unknown *UnknownActionError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, "dance", unknown.Action)
}

func TestClassify_Empty(t *testing.T) {
	_, err := Classify("   ")
	var parseErr *ParseError
	require.True(t, errors.As(err, &parseErr))
}

func TestReplyFormats(t *testing.T) {
	require.Equal(t, "registered,9", Registered(9))
	require.Equal(t, "register-denied 9 reason:Duplicate name", RegisterDenied(9, "Duplicate name"))
	require.Equal(t, "item_listed 3", ItemListed(3))
	require.Equal(t, "subscribed 7", Subscribed("7"))
	require.Equal(t, "bid-denied 4 reason:Bid too low", BidDenied(4, "Bid too low"))
	require.Equal(t, "bid_update 5 chair 12.00 carol 1", BidUpdate(5, "chair", 12, "carol", 1))
	require.Equal(t, "negotiate_request 5 chair 10.00 1", NegotiateRequest(5, "chair", 10, 1))
	require.Equal(t, "auction_ended 5 chair oak 12.00 carol", AuctionEnded(5, "chair", "oak", 12, "carol"))
}

func TestParseInformResponse(t *testing.T) {
	resp, err := ParseInformResponse("inform_response,17,carol,1234 5678,12 26,12 Maple St")
	require.NoError(t, err)
	require.Equal(t, uint64(17), resp.Seq)
	require.Equal(t, "carol", resp.Name)
	require.Equal(t, "1234 5678", resp.CardNumber)
	require.Equal(t, "12 26", resp.Expiry)
	require.Equal(t, "12 Maple St", resp.Address)

	// Round trip through the client-side renderer.
	again, err := ParseInformResponse(resp.Line())
	require.NoError(t, err)
	require.Equal(t, resp, again)
}

func TestParseInformResponse_Malformed(t *testing.T) {
	for _, line := range []string{
		"",
		"ok",
		"inform_response,17,carol",
		"cancel,17,reason:nope",
	} {
		_, err := ParseInformResponse(line)
		require.Error(t, err, "line %q", line)
	}
}
