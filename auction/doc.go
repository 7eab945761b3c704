// Package auction holds the coordination engine's lifecycle logic: fanning
// broadcasts out to interested participants, applying bids against the
// catalog, running the one-shot seller negotiation, and the per-auction
// scheduler that drives periodic updates and hands ended auctions to
// settlement.
package auction
