package auction

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bidwire/bidwire/store"
	"github.com/bidwire/bidwire/transport"
)

// Broadcaster fans server-originated messages out to an auction's audience:
// its subscribed buyers plus the seller. Delivery is best effort; a failed
// or unresolvable recipient is logged and skipped, never aborting the fan
// out.
type Broadcaster struct {
	accounts store.AccountDirectory
	subs     store.SubscriptionIndex
	net      transport.Datagram
	log      *slog.Logger
}

func NewBroadcaster(accounts store.AccountDirectory, subs store.SubscriptionIndex, net transport.Datagram, log *slog.Logger) (*Broadcaster, error) {
	if accounts == nil || subs == nil || net == nil {
		return nil, errors.New("broadcaster requires accounts, subscriptions and a transport")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{accounts: accounts, subs: subs, net: net, log: log}, nil
}

// Broadcast delivers payload to every subscriber of item and to seller.
func (b *Broadcaster) Broadcast(item, seller, payload string) {
	names, err := b.subs.Subscribers(item)
	if err != nil {
		b.log.Error("listing subscribers", "item", item, "err", err)
		names = nil
	}
	seen := false
	for _, name := range names {
		if strings.EqualFold(name, seller) {
			seen = true
		}
		b.SendTo(name, payload)
	}
	if !seen && seller != "" {
		b.SendTo(seller, payload)
	}
}

// SendTo delivers payload to one named participant's control endpoint.
func (b *Broadcaster) SendTo(name, payload string) {
	p, err := b.accounts.Get(name)
	if err != nil {
		b.log.Warn("skipping unresolvable recipient", "name", name, "err", err)
		return
	}
	if err := b.net.Send(p.ControlAddr(), payload); err != nil {
		b.log.Warn("broadcast delivery failed", "name", name, "addr", p.ControlAddr(), "err", err)
	}
}

// Reply sends payload straight to a wire address, used for request replies
// where no account lookup is wanted.
func (b *Broadcaster) Reply(addr, payload string) error {
	if err := b.net.Send(addr, payload); err != nil {
		return fmt.Errorf("replying to %q: %w", addr, err)
	}
	return nil
}
