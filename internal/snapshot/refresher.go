package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/ChefBingbong/pcs-notification-scheduler/internal/eventbus"
	"github.com/ChefBingbong/pcs-notification-scheduler/internal/storage"
	"github.com/ChefBingbong/pcs-notification-scheduler/internal/task/job"
	"github.com/ChefBingbong/pcs-notification-scheduler/internal/task/serial"
	"github.com/ChefBingbong/pcs-notification-scheduler/internal/task/timer"
	logx "github.com/ChefBingbong/pcs-notification-scheduler/pkg/logx"
)

const (
	KeyPrices  = "snapshot:prices"
	KeyMembers = "snapshot:members"
)

// MemberSink receives every refreshed member list, typically
// runner.Service.ReplaceMembers.
type MemberSink func(members []string) error

type Config struct {
	ID      string
	Tokens  []string
	Prices  PriceSource
	Members MemberSource
	Store   storage.Store
	Sink    MemberSink
	Bus     eventbus.Bus
	Logger  logx.Logger
	Timeout time.Duration
}

// Refresher is the single job that writes Shared.
type Refresher struct {
	cfg    Config
	shared *Shared
	log    logx.Logger
	job    *job.Recurring
}

func NewRefresher(shared *Shared, cfg Config) *Refresher {
	if cfg.ID == "" {
		cfg.ID = "main-service"
	}
	if cfg.Bus == nil {
		cfg.Bus = eventbus.Nop()
	}
	if cfg.Logger.IsZero() {
		cfg.Logger = logx.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Refresher{cfg: cfg, shared: shared, log: cfg.Logger.With(logx.Job(cfg.ID))}
}

func (r *Refresher) ID() string { return r.cfg.ID }

// QueueKey is the serial queue key refreshes run under.
func (r *Refresher) QueueKey() string { return r.cfg.ID + "-1" }

func (r *Refresher) Job() *job.Recurring { return r.job }

// Refresh fetches prices and members concurrently and publishes them.
//
// Before the first success any failure is returned and cancels the sibling
// fetch. Afterwards a price
// failure keeps the previous prices, and a member failure keeps the previous
// members while an empty list is pushed to the sink so batch windows still
// rotate.
func (r *Refresher) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	if !r.shared.Initialized() {
		prices, members, err := r.fetchAll(ctx)
		if err != nil {
			r.cfg.Bus.Publish(eventbus.Event{Type: eventbus.SnapshotFailed, Data: err})
			return fmt.Errorf("initial snapshot: %w", err)
		}
		r.shared.store(prices, members, time.Now())
		r.log.Info("snapshot initialized", logx.Int("members", len(members)), logx.Int("tokens", len(prices)))
		r.publish(ctx, prices, members)
		return nil
	}

	prices, members, priceErr, memErr := r.fetchEach(ctx)
	if priceErr != nil {
		r.log.Warn("price refresh failed, keeping previous prices", logx.Err(priceErr))
		prices = nil
	}
	if memErr != nil {
		r.log.Warn("member refresh failed, keeping previous members", logx.Err(memErr))
		members = nil
	}

	r.shared.store(prices, members, time.Now())
	r.persist(ctx, prices, members)

	var sinkErr error
	if r.cfg.Sink != nil {
		push := members
		if memErr != nil {
			push = []string{}
		}
		sinkErr = r.cfg.Sink(push)
		if sinkErr != nil && memErr == nil {
			r.log.Warn("member push failed", logx.Err(sinkErr))
		}
	}

	if err := errors.Join(priceErr, memErr); err != nil {
		r.cfg.Bus.Publish(eventbus.Event{Type: eventbus.SnapshotFailed, Data: err})
		return err
	}
	r.log.Debug("snapshot refreshed", logx.Int("members", len(members)), logx.Int("tokens", len(prices)))
	r.cfg.Bus.Publish(eventbus.Event{Type: eventbus.SnapshotRefreshed, Data: len(members)})
	return nil
}

// publish persists a complete refresh and pushes its members to the sink.
func (r *Refresher) publish(ctx context.Context, prices map[string]decimal.Decimal, members []string) {
	r.persist(ctx, prices, members)
	if r.cfg.Sink != nil {
		if err := r.cfg.Sink(members); err != nil {
			r.log.Warn("member push failed", logx.Err(err))
		}
	}
	r.cfg.Bus.Publish(eventbus.Event{Type: eventbus.SnapshotRefreshed, Data: len(members)})
}

// fetchAll needs both halves: the first failure cancels the other fetch.
func (r *Refresher) fetchAll(ctx context.Context) (map[string]decimal.Decimal, []string, error) {
	var (
		prices  map[string]decimal.Decimal
		members []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		prices, err = r.fetchPrices(gctx)
		return err
	})
	g.Go(func() (err error) {
		members, err = r.fetchMembers(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return prices, members, nil
}

// fetchEach runs both fetches to completion. Once initialized each half is
// published on its own, so one failing must not cancel the other.
func (r *Refresher) fetchEach(ctx context.Context) (prices map[string]decimal.Decimal, members []string, priceErr, memErr error) {
	var g errgroup.Group
	g.Go(func() error {
		prices, priceErr = r.fetchPrices(ctx)
		return nil
	})
	g.Go(func() error {
		members, memErr = r.fetchMembers(ctx)
		return nil
	})
	_ = g.Wait()
	return prices, members, priceErr, memErr
}

func (r *Refresher) fetchPrices(ctx context.Context) (map[string]decimal.Decimal, error) {
	prices, err := r.cfg.Prices.Prices(ctx, r.cfg.Tokens)
	if err != nil {
		return nil, fmt.Errorf("prices: %w", err)
	}
	return prices, nil
}

func (r *Refresher) fetchMembers(ctx context.Context) ([]string, error) {
	raw, err := r.cfg.Members.Members(ctx)
	if err != nil {
		return nil, fmt.Errorf("members: %w", err)
	}
	members := normalizeMembers(raw)
	if len(members) == 0 {
		return nil, errors.New("members: source returned no members")
	}
	return members, nil
}

func (r *Refresher) persist(ctx context.Context, prices map[string]decimal.Decimal, members []string) {
	if r.cfg.Store == nil {
		return
	}
	if prices != nil {
		all, _ := r.shared.Prices()
		if err := storage.SetJSON(ctx, r.cfg.Store, KeyPrices, all, 0); err != nil {
			r.log.Warn("persist prices failed", logx.Err(err))
		}
	}
	if members != nil {
		if err := storage.SetJSON(ctx, r.cfg.Store, KeyMembers, members, 0); err != nil {
			r.log.Warn("persist members failed", logx.Err(err))
		}
	}
}

// Arm binds the refresher to its recurring job. Every tick queues one
// Refresh under QueueKey so refreshes never overlap.
func (r *Refresher) Arm(ctx context.Context, timers *timer.Service, queue *serial.Queue, spec string, onFatal job.FatalFunc) error {
	if r.job == nil {
		r.job = job.New(r.cfg.ID, timers,
			job.WithLogger(r.cfg.Logger),
			job.WithContext(ctx),
			job.WithFatalHandler(onFatal),
		)
	}
	return r.job.Arm(spec, func(context.Context) error {
		queue.Submit(r.QueueKey(), func(ctx context.Context) error {
			if err := r.Refresh(ctx); err != nil {
				r.log.Debug("refresh tick failed", logx.Err(err))
			}
			return nil
		})
		return nil
	})
}
