package main

import (
	"context"
	"errors"
	"fmt"

	"signal-backtest-go/internal/backtest"
	"signal-backtest-go/internal/binance"
	"signal-backtest-go/internal/config"
	"signal-backtest-go/internal/database"
	"signal-backtest-go/internal/logger"
	"signal-backtest-go/internal/market"
	"signal-backtest-go/internal/marketdata"
	"signal-backtest-go/internal/store"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var errVariantsFailed = errors.New("one or more sweep variants failed")

var runCommand = &cli.Command{
	Name:   "run",
	Usage:  "run a single backtest from the configuration",
	Action: runBacktest,
}

var sweepCommand = &cli.Command{
	Name:   "sweep",
	Usage:  "run one backtest per combination of optimised strategy parameters",
	Action: runSweep,
}

// session is the shared setup of every command.
type session struct {
	cfg    config.Config
	log    *zap.Logger
	prices *market.Frame
}

func setup(ctx context.Context) (*session, error) {
	cfg, err := config.LoadConfig(configDir)
	if err != nil {
		return nil, fmt.Errorf("could not load config: %w", err)
	}
	if persist {
		cfg.Backtest.Persist = true
	}

	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("could not initialize logger: %w", err)
	}
	log.Info("Configuration loaded",
		zap.String("strategy", cfg.Strategy.Name),
		zap.String("rebalance_freq", cfg.Backtest.RebalanceFreq),
		zap.String("mode", cfg.Data.Mode))

	var source marketdata.Source
	if cfg.Data.Mode != config.ModeRead {
		client := binance.NewRestClient(&cfg.Binance, log)
		if _, err := client.GetServerTime(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to Binance API: %w", err)
		}
		source = client
	}

	prices, err := marketdata.NewLoader(cfg.Data, source, log).Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load prices: %w", err)
	}
	return &session{cfg: cfg, log: log, prices: prices}, nil
}

func (s *session) repository() (*store.Repository, error) {
	db, err := database.NewDatabase(s.cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return store.NewRepository(db, s.log), nil
}

func (s *session) meta(variant string) store.RunMeta {
	l := label
	if variant != "" {
		if l != "" {
			l += " "
		}
		l += variant
	}
	return store.RunMeta{Label: l, Strategy: s.cfg.Strategy.Name, RebalanceFreq: s.cfg.Backtest.RebalanceFreq}
}

func runBacktest(c *cli.Context) error {
	s, err := setup(c.Context)
	if err != nil {
		return err
	}
	defer s.log.Sync()

	engine, err := backtest.NewEngine(s.cfg, s.log)
	if err != nil {
		return err
	}
	series, err := engine.Signals(c.Context, s.prices)
	if err != nil {
		return fmt.Errorf("failed to generate signals: %w", err)
	}
	res, err := engine.Run(c.Context, series, s.prices)
	if err != nil {
		s.log.Error("Backtest aborted", zap.Error(err))
		return err
	}
	fmt.Println(res.Summary().JSON())

	if !s.cfg.Backtest.Persist {
		return nil
	}
	repo, err := s.repository()
	if err != nil {
		return err
	}
	return repo.SaveRun(s.meta(""), res)
}

func runSweep(c *cli.Context) error {
	s, err := setup(c.Context)
	if err != nil {
		return err
	}
	defer s.log.Sync()

	variants := s.cfg.Variants()
	s.log.Info("Starting sweep", zap.Int("variants", len(variants)), zap.Int("parallelism", s.cfg.Backtest.Parallelism))

	results, err := backtest.Sweep(c.Context, variants, s.prices, s.cfg.Backtest.Parallelism, s.log)
	if err != nil {
		return err
	}

	var repo *store.Repository
	if s.cfg.Backtest.Persist {
		if repo, err = s.repository(); err != nil {
			return err
		}
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			s.log.Error("Variant failed", zap.String("variant", r.Label), zap.Error(r.Err))
			continue
		}
		fmt.Printf("%s\n%s\n", r.Label, r.Results.Summary().JSON())
		if repo != nil {
			if err := repo.SaveRun(s.meta(r.Label), r.Results); err != nil {
				return err
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", errVariantsFailed, failed, len(results))
	}
	return nil
}
