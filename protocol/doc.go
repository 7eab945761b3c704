// Package protocol implements the wire grammar of the auction coordination
// protocol spoken on both channels.
//
// The control channel carries short framed text messages. Most requests are
// comma-delimited and verb-first (register, deregister, list_item, subscribe,
// de-subscribe, bid); the negotiation replies (accept, refuse) are
// whitespace-delimited; and two bare sentinels (get_all_items, bye) have no
// payload at all. Classification order matters and is fixed by Classify:
// sentinels first, then whitespace verbs, then comma verbs.
//
// The reliable channel used for settlement is line-oriented and carries the
// inform_request / inform_response / shipping_info / cancel exchange.
//
// All parsing is total: malformed input produces a *ParseError carrying the
// reason a handler should echo back in its denial, never a panic.
package protocol
