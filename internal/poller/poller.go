package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/yourorg/goldbtc-metrics/internal/circuitbreaker"
	"github.com/yourorg/goldbtc-metrics/internal/config"
	"github.com/yourorg/goldbtc-metrics/internal/derive"
	"github.com/yourorg/goldbtc-metrics/internal/model"
	"github.com/yourorg/goldbtc-metrics/internal/numeric"
	"github.com/yourorg/goldbtc-metrics/internal/validation"
)

// ProtocolSource provides vault state and history. Implemented by
// fetch.ProtocolClient; tests substitute fakes.
type ProtocolSource interface {
	FetchSnapshot(ctx context.Context) (*model.ProtocolSnapshot, error)
	FetchDailySnapshots(ctx context.Context, count int) ([]model.DailySnapshot, error)
	FetchRebalances(ctx context.Context, count int) ([]model.RebalanceEvent, error)
}

// PriceSource provides asset prices. Implemented by fetch.PriceClient.
type PriceSource interface {
	Fetch(ctx context.Context) (*model.PricePair, error)
}

// Poller drives the refresh cycle: it polls the subgraphs on independent
// schedules, validates what comes back, rederives the metrics and publishes
// them through the circuit breaker.
type Poller struct {
	cfg      config.Config
	protocol ProtocolSource
	prices   PriceSource
	store    *Store
	breaker  *circuitbreaker.CircuitBreaker

	// onUpdate is invoked with every newly published metrics set,
	// used to drive exporter gauges
	onUpdate func(*model.DerivedMetrics)
}

// New creates a poller wired to the given sources and store
func New(cfg config.Config, protocol ProtocolSource, prices PriceSource, store *Store, breaker *circuitbreaker.CircuitBreaker) *Poller {
	return &Poller{
		cfg:      cfg,
		protocol: protocol,
		prices:   prices,
		store:    store,
		breaker:  breaker,
	}
}

// WithUpdateHook registers a callback invoked after each published update
func (p *Poller) WithUpdateHook(hook func(*model.DerivedMetrics)) *Poller {
	p.onUpdate = hook
	return p
}

// Run starts the polling loops and blocks until the context is cancelled.
// Each loop polls independently so a slow price subgraph does not hold up
// vault state refreshes.
func (p *Poller) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return p.loop(ctx, "prices", p.refreshPrices) })
	g.Go(func() error { return p.loop(ctx, "snapshot", p.refreshSnapshot) })
	g.Go(func() error { return p.loop(ctx, "history", p.refreshHistory) })

	return g.Wait()
}

// loop runs one refresh immediately, then on every tick until cancellation
func (p *Poller) loop(ctx context.Context, name string, refresh func(context.Context) error) error {
	if err := p.refreshWithRetry(ctx, name, refresh); err != nil {
		logrus.WithError(err).Warnf("Initial %s refresh failed", name)
	}

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.refreshWithRetry(ctx, name, refresh); err != nil {
				logrus.WithError(err).Warnf("%s refresh failed", name)
			}
		}
	}
}

// refreshWithRetry wraps a refresh in exponential backoff, bounded so the
// retries stay within one poll interval.
func (p *Poller) refreshWithRetry(ctx context.Context, name string, refresh func(context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = p.cfg.PollInterval

	return backoff.Retry(func() error {
		if err := refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			logrus.WithError(err).Debugf("Retrying %s refresh", name)
			return err
		}
		return nil
	}, backoff.WithContext(bo, ctx))
}

func (p *Poller) refreshPrices(ctx context.Context) error {
	pair, err := p.prices.Fetch(ctx)
	if err != nil {
		return err
	}
	if err := validation.ValidatePrices(*pair, 24*time.Hour); err != nil {
		return fmt.Errorf("rejecting fetched prices: %w", err)
	}

	// A cancelled fetch must not overwrite fresher state
	if ctx.Err() != nil {
		return ctx.Err()
	}

	p.store.SetPrices(*pair)
	p.rederive()
	return nil
}

func (p *Poller) refreshSnapshot(ctx context.Context) error {
	snap, err := p.protocol.FetchSnapshot(ctx)
	if err != nil {
		return err
	}
	if err := validation.ValidateSnapshot(*snap); err != nil {
		return fmt.Errorf("rejecting fetched snapshot: %w", err)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	p.store.SetSnapshot(snap)
	p.rederive()
	return nil
}

func (p *Poller) refreshHistory(ctx context.Context) error {
	dailies, err := p.protocol.FetchDailySnapshots(ctx, p.cfg.SnapshotCount)
	if err != nil {
		return err
	}

	rebalances, err := p.protocol.FetchRebalances(ctx, p.cfg.SnapshotCount)
	if err != nil {
		return err
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	p.store.SetDailies(validation.FilterSnapshots(dailies))
	p.store.SetRebalances(rebalances)
	return nil
}

// rederive recomputes the protocol-level metrics from the freshest inputs
// and publishes them if the circuit breaker accepts them. Runs after every
// input refresh; derivation itself is pure and holds no state.
func (p *Poller) rederive() {
	snap := p.store.Snapshot()
	prices, ok := p.store.Prices()
	if snap == nil || !ok {
		return
	}

	derived := derive.Derive(snap, &prices, nil, p.cfg.Decimals, time.Now())
	if derived == nil {
		return
	}

	if err := p.breaker.Check(derived); err != nil {
		logrus.WithError(err).Warn("Derived metrics rejected, keeping last published set")
		return
	}

	p.store.SetDerived(derived)
	if p.onUpdate != nil {
		p.onUpdate(derived)
	}

	logrus.WithFields(logrus.Fields{
		"tvl":             numeric.FormatMoney(derived.TVL),
		"apy":             derived.ProtocolAPY,
		"ratio_deviation": derived.RatioDeviation,
	}).Debug("Published derived metrics")
}
