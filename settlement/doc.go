// Package settlement finalizes ended auctions over the reliable channel.
//
// A valid sale (a highest bidder at or above the floor) opens sessions to
// buyer and seller, collects payment and shipping details with one
// inform_request/inform_response round trip per side, simulates the payment
// split, and forwards the buyer's address to the seller. Any missing or
// malformed reply cancels both sides. An auction that ends without a valid
// sale only notifies the seller.
package settlement
