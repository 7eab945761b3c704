package server

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/bidwire/bidwire/auction"
	"github.com/bidwire/bidwire/metrics"
	"github.com/bidwire/bidwire/protocol"
	"github.com/bidwire/bidwire/store"
	"github.com/bidwire/bidwire/transport"
)

// DefaultWorkers is the size of the dispatch pool.
const DefaultWorkers = 10

// DispatcherOpts configures a Dispatcher. Workers defaults to
// DefaultWorkers.
type DispatcherOpts struct {
	Transport  transport.Datagram
	Handlers   *Handlers
	Bids       *auction.BidProcessor
	Negotiator *auction.Negotiator
	Sequence   store.SequenceCounter
	Workers    int
	Log        *slog.Logger
}

// Dispatcher consumes control-channel datagrams with a fixed worker pool
// and routes each request to exactly one handler. Comma verbs consume a
// sequence number before dispatch; the number is persisted by the counter
// so a crash mid-handling never reuses it.
type Dispatcher struct {
	net        transport.Datagram
	handlers   *Handlers
	bids       *auction.BidProcessor
	negotiator *auction.Negotiator
	seq        store.SequenceCounter
	workers    int
	log        *slog.Logger
}

func NewDispatcher(opts DispatcherOpts) (*Dispatcher, error) {
	if opts.Transport == nil || opts.Handlers == nil || opts.Bids == nil || opts.Negotiator == nil || opts.Sequence == nil {
		return nil, errors.New("dispatcher requires transport, handlers, bid processor, negotiator and sequence counter")
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &Dispatcher{
		net:        opts.Transport,
		handlers:   opts.Handlers,
		bids:       opts.Bids,
		negotiator: opts.Negotiator,
		seq:        opts.Sequence,
		workers:    opts.Workers,
		log:        opts.Log,
	}, nil
}

// Run consumes datagrams until ctx is cancelled or the transport fails.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			for {
				raw, from, err := d.net.Receive(ctx)
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return nil
					}
					return err
				}
				d.Dispatch(ctx, raw, from)
			}
		})
	}
	return g.Wait()
}

// Dispatch classifies one raw request and routes it. Every reply goes back
// to the request's source address. Unknown actions are logged and left
// unanswered.
func (d *Dispatcher) Dispatch(ctx context.Context, raw, from string) {
	msg, err := protocol.Classify(raw)
	if err != nil {
		d.handleBadRequest(err, raw, from)
		return
	}
	metrics.IncRequest(msg.Verb())

	switch m := msg.(type) {
	case protocol.GetAllItems:
		// Empty catalog means no reply at all.
		if listing := d.handlers.AllItems(); listing != "" {
			d.reply(from, listing)
		}
	case protocol.Bye:
		d.log.Debug("bye received", "from", from)
	case protocol.NegotiationAccept:
		d.reply(from, d.negotiator.Accept(m))
	case protocol.NegotiationRefuse:
		d.reply(from, d.negotiator.Refuse(m))
	case protocol.Register:
		seq, ok := d.nextSeq(from, m.Verb())
		if !ok {
			return
		}
		d.reply(from, d.handlers.Register(seq, m))
	case protocol.Deregister:
		seq, ok := d.nextSeq(from, m.Verb())
		if !ok {
			return
		}
		d.reply(from, d.handlers.Deregister(seq, m))
	case protocol.ListItem:
		seq, ok := d.nextSeq(from, m.Verb())
		if !ok {
			return
		}
		d.reply(from, d.handlers.List(ctx, seq, m))
	case protocol.Subscribe:
		if _, ok := d.nextSeq(from, m.Verb()); !ok {
			return
		}
		d.reply(from, d.handlers.Subscribe(m))
	case protocol.Desubscribe:
		if _, ok := d.nextSeq(from, m.Verb()); !ok {
			return
		}
		d.reply(from, d.handlers.Desubscribe(m))
	case protocol.Bid:
		seq, ok := d.nextSeq(from, m.Verb())
		if !ok {
			return
		}
		d.reply(from, d.bids.Place(seq, m))
	default:
		d.log.Error("classified message without route", "verb", msg.Verb())
	}
}

// nextSeq allocates and persists one sequence number. On failure the
// requester gets a denial so it is never left unanswered.
func (d *Dispatcher) nextSeq(from, verb string) (uint64, bool) {
	seq, err := d.seq.Next()
	if err != nil {
		d.log.Error("sequence allocation failed", "verb", verb, "err", err)
		d.reply(from, denialFor(verb, 0, reasonInternalError))
		return 0, false
	}
	return seq, true
}

func (d *Dispatcher) handleBadRequest(err error, raw, from string) {
	var parseErr *protocol.ParseError
	if errors.As(err, &parseErr) {
		d.log.Warn("malformed request", "action", parseErr.Action, "reason", parseErr.Reason, "from", from)
		if reply := denialFor(parseErr.Action, 0, parseErr.Reason); reply != "" {
			d.reply(from, reply)
		}
		return
	}
	var unknown *protocol.UnknownActionError
	if errors.As(err, &unknown) {
		d.log.Warn("unknown action", "action", unknown.Action, "from", from)
		return
	}
	d.log.Error("classification failed", "raw", raw, "err", err)
}

// denialFor maps a verb to its denial reply. Subscription denials echo a
// correlation tag the client never supplied on a malformed request, so a
// zero stands in. Verbs without a denial form return the empty string.
func denialFor(verb string, seq uint64, reason string) string {
	switch verb {
	case protocol.VerbRegister:
		return protocol.RegisterDenied(seq, reason)
	case protocol.VerbDeregister:
		return protocol.DeregisterDenied(seq, reason)
	case protocol.VerbListItem:
		return protocol.ListDenied(seq, reason)
	case protocol.VerbSubscribe:
		return protocol.SubscriptionDenied("0", reason)
	case protocol.VerbDesubscribe:
		return protocol.UnsubscribeDenied("0", reason)
	case protocol.VerbBid:
		return protocol.BidDenied(seq, reason)
	case protocol.VerbAccept, protocol.VerbRefuse:
		return protocol.NegotiationDenied("0", reason)
	}
	return ""
}

func (d *Dispatcher) reply(addr, payload string) {
	if payload == "" {
		return
	}
	if err := d.net.Send(addr, payload); err != nil {
		d.log.Warn("reply delivery failed", "addr", addr, "err", err)
	}
}
