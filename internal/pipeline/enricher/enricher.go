package enricher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/emperorhan/cca-indexer/internal/circuitbreaker"
	"github.com/emperorhan/cca-indexer/internal/domain/model"
	"github.com/emperorhan/cca-indexer/internal/metrics"
	"github.com/emperorhan/cca-indexer/internal/naming"
	"github.com/emperorhan/cca-indexer/internal/store"
	"github.com/emperorhan/cca-indexer/internal/tracing"
)

const (
	defaultPauseEvery = 10
	defaultPause      = 500 * time.Millisecond
)

type tier struct {
	resolver naming.Resolver
	breaker  *circuitbreaker.Breaker
}

// Enricher attaches reverse-resolved names to the top unresolved wallets.
// Tiers are tried in order; the first name found wins. A wallet is marked
// nameless only after every required source answered not-found.
type Enricher struct {
	wallets    store.WalletRepository
	tiers      []tier
	required   []model.AliasSource
	complete   bool
	pauseEvery int
	pause      time.Duration
	sleepFn    func(ctx context.Context, d time.Duration) error
	logger     *slog.Logger
}

type Option func(*Enricher)

// WithPause sleeps d after every n lookups.
func WithPause(n int, d time.Duration) Option {
	return func(e *Enricher) {
		e.pauseEvery = n
		e.pause = d
	}
}

// WithRequiredSources sets the tiers that must all be configured before a
// wallet can be marked nameless. Defaults to basename and ens.
func WithRequiredSources(sources ...model.AliasSource) Option {
	return func(e *Enricher) {
		e.required = sources
	}
}

func WithSleepFunc(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Enricher) {
		if fn != nil {
			e.sleepFn = fn
		}
	}
}

// WithBreakerConfig overrides the circuit breaker settings used for every tier.
func WithBreakerConfig(failureThreshold int, openTimeout time.Duration) Option {
	return func(e *Enricher) {
		for i := range e.tiers {
			e.tiers[i].breaker = newBreaker(e.tiers[i].resolver.Source(), failureThreshold, openTimeout, e.logger)
		}
	}
}

func New(wallets store.WalletRepository, resolvers []naming.Resolver, logger *slog.Logger, opts ...Option) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Enricher{
		wallets:    wallets,
		required:   []model.AliasSource{model.AliasSourceBasename, model.AliasSourceENS},
		pauseEvery: defaultPauseEvery,
		pause:      defaultPause,
		sleepFn:    sleepCtx,
		logger:     logger.With("component", "enricher"),
	}
	for _, r := range resolvers {
		if r == nil {
			continue
		}
		e.tiers = append(e.tiers, tier{resolver: r, breaker: newBreaker(r.Source(), 0, 0, e.logger)})
	}
	for _, opt := range opts {
		opt(e)
	}
	e.complete = e.hasRequiredTiers()
	if !e.complete {
		e.logger.Warn("naming tiers incomplete; nameless wallets stay unchecked", "required", e.required)
	}
	return e
}

func (e *Enricher) hasRequiredTiers() bool {
	for _, want := range e.required {
		found := false
		for _, t := range e.tiers {
			if t.resolver.Source() == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func newBreaker(source model.AliasSource, failureThreshold int, openTimeout time.Duration, logger *slog.Logger) *circuitbreaker.Breaker {
	return circuitbreaker.New(circuitbreaker.Config{
		Name:             string(source),
		FailureThreshold: failureThreshold,
		OpenTimeout:      openTimeout,
		IsFailure: func(err error) bool {
			return err != nil && !errors.Is(err, naming.ErrNotFound)
		},
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			logger.Warn("resolver breaker state change", "source", name, "from", from.String(), "to", to.String())
			open := 0.0
			if to == circuitbreaker.StateOpen {
				open = 1
			}
			metrics.EnricherBreakerOpen.WithLabelValues(name).Set(open)
		},
	})
}

// Result counts the outcome of one enrichment pass.
type Result struct {
	Checked  int `json:"checked"`
	Resolved int `json:"resolved"`
	NoName   int `json:"no_name"`
	Failed   int `json:"failed"`
	// Deferred wallets had no name in the configured tiers but a required
	// tier is missing, so they stay unchecked.
	Deferred int `json:"deferred"`
}

// Run looks up names for up to limit unchecked wallets in rank order.
// Per-wallet failures are logged and leave the wallet unchecked; only a
// failure to list candidates or a cancelled context is returned.
func (e *Enricher) Run(ctx context.Context, limit int) (res Result, err error) {
	if limit <= 0 || len(e.tiers) == 0 {
		return res, nil
	}

	ctx, span := tracing.StartStage(ctx, "enricher", "enrich")
	defer func() { tracing.End(span, err) }()

	candidates, err := e.wallets.ListUnresolved(ctx, limit)
	if err != nil {
		return res, fmt.Errorf("list unresolved wallets: %w", err)
	}

	for i, w := range candidates {
		if i > 0 && e.pauseEvery > 0 && i%e.pauseEvery == 0 && e.pause > 0 {
			if err := e.sleepFn(ctx, e.pause); err != nil {
				return res, err
			}
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		res.Checked++
		alias, v := e.lookup(ctx, w.Address)
		switch v {
		case verdictUnknown:
			res.Failed++
			continue
		case verdictIncomplete:
			res.Deferred++
			continue
		}
		if err := e.wallets.SetAlias(ctx, w.Address, alias); err != nil {
			e.logger.Warn("persist alias failed", "address", w.Address, "error", err)
			res.Failed++
			continue
		}
		if alias.Status == model.AliasResolved {
			res.Resolved++
		} else {
			res.NoName++
		}
	}

	e.logger.Info("enrichment pass completed",
		"checked", res.Checked,
		"resolved", res.Resolved,
		"no_name", res.NoName,
		"failed", res.Failed,
		"deferred", res.Deferred,
	)
	return res, nil
}

type verdict int

const (
	verdictDefinitive verdict = iota
	// verdictUnknown means a tier errored or its breaker was open.
	verdictUnknown
	// verdictIncomplete means every configured tier said not-found but a
	// required tier is not configured.
	verdictIncomplete
)

// lookup returns the wallet's alias and how far the answer can be trusted.
func (e *Enricher) lookup(ctx context.Context, address string) (model.Alias, verdict) {
	definitive := true
	for _, t := range e.tiers {
		source := t.resolver.Source()
		var name string
		err := t.breaker.Execute(func() error {
			var lerr error
			name, lerr = t.resolver.Lookup(ctx, address)
			return lerr
		})

		switch {
		case err == nil && name != "":
			metrics.EnricherLookupsTotal.WithLabelValues(string(source), "resolved").Inc()
			return model.Alias{Status: model.AliasResolved, Name: name, Source: source}, verdictDefinitive
		case err == nil || errors.Is(err, naming.ErrNotFound):
			metrics.EnricherLookupsTotal.WithLabelValues(string(source), "not_found").Inc()
		case errors.Is(err, circuitbreaker.ErrCircuitOpen):
			metrics.EnricherLookupsTotal.WithLabelValues(string(source), "breaker_open").Inc()
			definitive = false
		default:
			metrics.EnricherLookupsTotal.WithLabelValues(string(source), "error").Inc()
			e.logger.Debug("name lookup failed", "source", source, "address", address, "error", err)
			definitive = false
		}
	}
	switch {
	case !definitive:
		return model.Alias{}, verdictUnknown
	case !e.complete:
		return model.Alias{}, verdictIncomplete
	}
	return model.Alias{Status: model.AliasNone}, verdictDefinitive
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
