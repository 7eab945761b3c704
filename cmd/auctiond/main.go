// Command auctiond runs the auction coordination engine: the UDP control
// channel, the per-auction lifecycle scheduler, reliable-channel
// settlement, and the operator HTTP API.
//
// # Configuration File
//
// Create a YAML file with daemon settings:
//
//	control_listen_addr: ":5000"
//	http_listen_addr: ":8080"
//	metrics_addr: ":9090"
//	max_accounts: 10
//	max_items: 10
//	workers: 10
//	tick_seconds: 30
//	settle_timeout_seconds: 30
//	store:
//	  backend: "bolt"   # memory, bolt or postgres
//	  bolt_path: "auctiond.db"
//
// # Usage
//
//	go run ./cmd/auctiond --config=auctiond.yaml
//	go run ./cmd/auctiond --listen=:5000 --store=memory
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bidwire/bidwire/api/httpserver"
	"github.com/bidwire/bidwire/auction"
	"github.com/bidwire/bidwire/cmd/common"
	"github.com/bidwire/bidwire/server"
	"github.com/bidwire/bidwire/settlement"
	"github.com/bidwire/bidwire/transport"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config file")
		listenAddr = flag.String("listen", "", "Control channel UDP listen address (overrides config)")
		backend    = flag.String("store", "", "Store backend: memory, bolt or postgres (overrides config)")
		boltPath   = flag.String("bolt-path", "", "Bolt database path (overrides config)")
		logJSON    = flag.Bool("log-json", false, "Log in JSON format")
		logDebug   = flag.Bool("log-debug", false, "Enable debug logging")
	)
	flag.Parse()

	cfg := common.DefaultConfig()
	if *configPath != "" {
		loaded, err := common.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "config:", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *listenAddr != "" {
		cfg.ControlListenAddr = *listenAddr
	}
	if *backend != "" {
		cfg.Store.Backend = *backend
	}
	if *boltPath != "" {
		cfg.Store.BoltPath = *boltPath
	}
	cfg.LogJSON = cfg.LogJSON || *logJSON
	cfg.LogDebug = cfg.LogDebug || *logDebug
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log := cfg.NewLogger()
	if err := run(cfg, log); err != nil {
		log.Error("auctiond failed", "err", err)
		os.Exit(1)
	}
}

const (
	httpDrainDuration    = 5 * time.Second
	httpShutdownDuration = 10 * time.Second
	httpReadTimeout      = 5 * time.Second
	httpWriteTimeout     = 10 * time.Second
)

func run(cfg *common.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := cfg.NewStore()
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	udp, err := transport.ListenUDP(cfg.ControlListenAddr)
	if err != nil {
		return fmt.Errorf("binding control channel: %w", err)
	}
	defer udp.Close()
	log.Info("control channel listening", "addr", udp.LocalAddr())

	broadcaster, err := auction.NewBroadcaster(st.Accounts(), st.Subscriptions(), udp, log)
	if err != nil {
		return err
	}
	negotiator, err := auction.NewNegotiator(st, broadcaster, log)
	if err != nil {
		return err
	}
	bids, err := auction.NewBidProcessor(st, broadcaster, log)
	if err != nil {
		return err
	}
	settler, err := settlement.NewCoordinator(settlement.CoordinatorOpts{
		Accounts:     st.Accounts(),
		Sequence:     st.Sequence(),
		Dialer:       transport.NewTCPDialer(cfg.DialTimeout()),
		ReplyTimeout: cfg.SettleTimeout(),
		Log:          log,
	})
	if err != nil {
		return err
	}
	scheduler, err := auction.NewScheduler(auction.SchedulerOpts{
		Store:       st,
		Broadcaster: broadcaster,
		Negotiator:  negotiator,
		Settler:     settler,
		Tick:        cfg.Tick(),
		Log:         log,
	})
	if err != nil {
		return err
	}
	handlers, err := server.NewHandlers(st, broadcaster, scheduler, log)
	if err != nil {
		return err
	}
	dispatcher, err := server.NewDispatcher(server.DispatcherOpts{
		Transport:  udp,
		Handlers:   handlers,
		Bids:       bids,
		Negotiator: negotiator,
		Sequence:   st.Sequence(),
		Workers:    cfg.Workers,
		Log:        log,
	})
	if err != nil {
		return err
	}

	// Auctions persisted before a restart pick their lifecycle back up.
	active, err := st.Auctions().All()
	if err != nil {
		return fmt.Errorf("reading active auctions: %w", err)
	}
	for _, a := range active {
		log.Info("resuming auction", "item", a.Item)
		scheduler.Watch(ctx, a.Item)
	}

	var httpSrv *httpserver.BaseServer
	if cfg.HTTPListenAddr != "" {
		httpSrv, err = httpserver.New(&httpserver.HTTPServerConfig{
			ListenAddr:               cfg.HTTPListenAddr,
			MetricsAddr:              cfg.MetricsAddr,
			EnablePprof:              cfg.EnablePprof,
			Log:                      log,
			DrainDuration:            httpDrainDuration,
			GracefulShutdownDuration: httpShutdownDuration,
			ReadTimeout:              httpReadTimeout,
			WriteTimeout:             httpWriteTimeout,
		}, httpserver.NewInspectionHandler(st, log))
		if err != nil {
			return fmt.Errorf("creating http server: %w", err)
		}
		httpSrv.RunInBackground()
	}

	err = dispatcher.Run(ctx)

	stop()
	udp.Close()
	scheduler.Shutdown()
	if httpSrv != nil {
		httpSrv.Shutdown()
	}
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("dispatcher: %w", err)
	}
	log.Info("auctiond stopped")
	return nil
}
