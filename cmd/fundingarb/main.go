// Command fundingarb runs the funding-rate arbitrage core. Subcommands
// follow the teacher's cmd/polybot/main.go bootstrap shape (godotenv ->
// zerolog -> config.Load -> component wiring -> signal-driven shutdown),
// generalized from a single `run` entrypoint into `run`/`close-all`/
// `reconcile`/`doctor`.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/fundingarb/core"
	"github.com/web3guy0/fundingarb/internal/config"
	"github.com/web3guy0/fundingarb/storage"
	"github.com/web3guy0/fundingarb/types"
	"github.com/web3guy0/fundingarb/venue"
	"github.com/web3guy0/fundingarb/venue/paper"
	"github.com/web3guy0/fundingarb/venue/restvenue"
)

const version = "1.0.0"

// Exit codes (spec section 8): 0 normal, 2 config error, 3 connectivity
// failure, 4 safety abort.
const (
	exitOK          = 0
	exitConfigError = 2
	exitConnFailure = 3
	exitSafetyAbort = 4
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using environment variables")
	}

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: fundingarb <run|close-all|reconcile|doctor> [-config path] [-debug]")
		os.Exit(exitConfigError)
	}

	cmdName := os.Args[1]
	fs := flag.NewFlagSet(cmdName, flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.yaml")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		os.Exit(exitConfigError)
	}
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("configuration failed validation")
		os.Exit(exitConfigError)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup, store, err := wire(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to wire components")
		os.Exit(exitConnFailure)
	}
	defer func() {
		if store != nil {
			_ = store.Close(context.Background())
		}
	}()

	switch cmdName {
	case "run":
		runMain(ctx, cancel, sup)
	case "close-all":
		if err := sup.CloseAll(ctx, "operator_close_all"); err != nil {
			log.Error().Err(err).Msg("close-all did not complete cleanly")
			os.Exit(exitConnFailure)
		}
	case "reconcile":
		mismatches, err := sup.Reconcile(ctx)
		if err != nil {
			log.Error().Err(err).Msg("reconcile failed")
			os.Exit(exitConnFailure)
		}
		log.Info().Int("mismatches", len(mismatches)).Msg("reconcile complete")
	case "doctor":
		runDoctor(ctx, cfg, sup)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmdName)
		os.Exit(exitConfigError)
	}
}

// wire builds the venue adapters, storage and the Supervisor. Paper
// adapters back a dry-run when live_trading is false; restvenue.Adapter is
// used otherwise.
func wire(ctx context.Context, cfg *config.Config) (*core.Supervisor, *storage.Store, error) {
	maker, hedge, err := buildVenues(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := maker.Initialize(ctx); err != nil {
		return nil, nil, fmt.Errorf("initialize maker venue: %w", err)
	}
	if err := hedge.Initialize(ctx); err != nil {
		return nil, nil, fmt.Errorf("initialize hedge venue: %w", err)
	}

	var store *storage.Store
	if cfg.DatabasePath != "" {
		store, err = storage.Open(cfg.DatabasePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open storage: %w", err)
		}
	}

	sup, err := core.NewSupervisor(cfg, maker, hedge, store)
	if err != nil {
		return nil, nil, err
	}

	universe, err := commonUniverse(ctx, maker, hedge)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve symbol universe: %w", err)
	}
	sup.SetUniverse(universe)
	log.Info().Int("symbols", len(universe)).Msg("resolved trading universe")

	return sup, store, nil
}

// dryRunStartingBalanceUSD seeds each paper venue's balance when
// live_trading is false; paper mode is for local dry runs, never production.
var dryRunStartingBalanceUSD = decimal.NewFromInt(100000)

func buildVenues(cfg *config.Config) (venue.Port, venue.Port, error) {
	if !cfg.LiveTrading {
		return paper.New(cfg.MakerVenue.Name, dryRunStartingBalanceUSD),
			paper.New(cfg.HedgeVenue.Name, dryRunStartingBalanceUSD), nil
	}
	maker := restvenue.New(restvenue.Config{
		VenueName: cfg.MakerVenue.Name, RESTBaseURL: cfg.MakerVenue.RESTBaseURL,
		WSURL: cfg.MakerVenue.WSURL, APIKey: cfg.MakerVenue.APIKey,
		APISecret: cfg.MakerVenue.APISecret, AccountIndex: cfg.MakerVenue.AccountIndex,
	})
	hedge := restvenue.New(restvenue.Config{
		VenueName: cfg.HedgeVenue.Name, RESTBaseURL: cfg.HedgeVenue.RESTBaseURL,
		WSURL: cfg.HedgeVenue.WSURL, APIKey: cfg.HedgeVenue.APIKey,
		APISecret: cfg.HedgeVenue.APISecret, AccountIndex: cfg.HedgeVenue.AccountIndex,
	})
	return maker, hedge, nil
}

// commonUniverse trades only symbols both venues list markets for.
func commonUniverse(ctx context.Context, maker, hedge venue.Port) ([]types.Symbol, error) {
	makerMkts, err := maker.LoadMarkets(ctx)
	if err != nil {
		return nil, err
	}
	hedgeMkts, err := hedge.LoadMarkets(ctx)
	if err != nil {
		return nil, err
	}
	var out []types.Symbol
	for symbol := range makerMkts {
		if _, ok := hedgeMkts[symbol]; ok {
			out = append(out, symbol)
		}
	}
	return out, nil
}

func runMain(ctx context.Context, cancel context.CancelFunc, sup *core.Supervisor) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info().Msg("shutdown signal received")
		cancel()
	}()

	if err := sup.Run(ctx); err != nil {
		log.Error().Err(err).Msg("supervisor exited with error")
		os.Exit(exitSafetyAbort)
	}
}

// runDoctor performs a health check: venue connectivity (via both venues'
// balances) and, when storage is configured, a reconciliation pass. It
// opens and closes no trade, but the reconciliation pass writes its
// corrections to storage like any other pass. The schema version is not
// checked.
func runDoctor(ctx context.Context, cfg *config.Config, sup *core.Supervisor) {
	dctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	equity, err := sup.Equity(dctx)
	if err != nil {
		log.Error().Err(err).Msg("doctor: venue connectivity check failed")
		os.Exit(exitConnFailure)
	}
	log.Info().Str("equity_usd", equity.StringFixed(2)).Msg("doctor: venues reachable")

	if cfg.DatabasePath != "" {
		mismatches, err := sup.Reconcile(dctx)
		if err != nil {
			log.Error().Err(err).Msg("doctor: reconciliation failed")
			os.Exit(exitConnFailure)
		}
		log.Info().Int("mismatches", len(mismatches)).Msg("doctor: reconciliation complete")
	}

	os.Exit(exitOK)
}
