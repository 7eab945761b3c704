package protocol

import "fmt"

// Reply builders for the control channel. Accept replies are sent to the
// request's source address; denial replies carry the reason verbatim.

func Registered(seq uint64) string {
	return fmt.Sprintf("registered,%d", seq)
}

func RegisterDenied(seq uint64, reason string) string {
	return fmt.Sprintf("register-denied %d reason:%s", seq, reason)
}

func Deregistered(seq uint64) string {
	return fmt.Sprintf("deregistered %d", seq)
}

func DeregisterDenied(seq uint64, reason string) string {
	return fmt.Sprintf("deregister-denied %d reason:%s", seq, reason)
}

func ItemListed(seq uint64) string {
	return fmt.Sprintf("item_listed %d", seq)
}

func ListDenied(seq uint64, reason string) string {
	return fmt.Sprintf("list-denied %d reason:%s", seq, reason)
}

// Subscription replies echo the caller's own correlation tag rather than a
// server-assigned number; subscribe requests carry the tag on the wire.

func Subscribed(clientSeq string) string {
	return fmt.Sprintf("subscribed %s", clientSeq)
}

func SubscriptionDenied(clientSeq, reason string) string {
	return fmt.Sprintf("subscription-denied %s reason:%s", clientSeq, reason)
}

func Unsubscribed(clientSeq string) string {
	return fmt.Sprintf("unsubscribed %s", clientSeq)
}

func UnsubscribeDenied(clientSeq, reason string) string {
	return fmt.Sprintf("unsubscribe-denied %s reason:%s", clientSeq, reason)
}

func BidAccepted(seq uint64) string {
	return fmt.Sprintf("bid-accepted %d", seq)
}

func BidDenied(seq uint64, reason string) string {
	return fmt.Sprintf("bid-denied %d reason:%s", seq, reason)
}

// Negotiation acknowledgements sent back to the seller.

func NegotiationAccepted(seq string) string {
	return fmt.Sprintf("accepted %s", seq)
}

func NegotiationRefused(seq string) string {
	return fmt.Sprintf("refused %s", seq)
}

func NegotiationDenied(seq, reason string) string {
	return fmt.Sprintf("accept-denied %s reason:%s", seq, reason)
}

// Server-originated broadcasts. Prices always render with two decimals so
// clients can display them without reformatting.

func AuctionAnnounce(seq uint64, item, description string, price float64, minutesLeft int64) string {
	return fmt.Sprintf("auction_announce %d %s %s %.2f %d", seq, item, description, price, minutesLeft)
}

func AuctionUpdate(seq uint64, item, description string, price float64, minutesLeft int64) string {
	return fmt.Sprintf("auction_update %d %s %s %.2f %d", seq, item, description, price, minutesLeft)
}

func BidUpdate(seq uint64, item string, price float64, bidder string, minutesLeft int64) string {
	return fmt.Sprintf("bid_update %d %s %.2f %s %d", seq, item, price, bidder, minutesLeft)
}

func PriceAdjustment(seq uint64, item string, price float64, minutesLeft int64) string {
	return fmt.Sprintf("price_adjustment %d %s %.2f %d", seq, item, price, minutesLeft)
}

func NegotiateRequest(seq uint64, item string, price float64, minutesLeft int64) string {
	return fmt.Sprintf("negotiate_request %d %s %.2f %d", seq, item, price, minutesLeft)
}

func AuctionEnded(seq uint64, item, description string, finalPrice float64, winner string) string {
	return fmt.Sprintf("auction_ended %d %s %s %.2f %s", seq, item, description, finalPrice, winner)
}

// CatalogEntry is one line of the get_all_items listing.
func CatalogEntry(item, description string, price float64, minutesLeft int64, bidder string) string {
	return fmt.Sprintf("item,%s,%s,%.2f,%d,%s", item, description, price, minutesLeft, bidder)
}
