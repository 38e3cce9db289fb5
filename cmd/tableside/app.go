package main

import (
	"context"
	"fmt"

	"tableside/internal/allocator"
	"tableside/internal/config"
	"tableside/internal/database"
	"tableside/internal/events"
	"tableside/internal/inventory"
	"tableside/internal/lifecycle"
	"tableside/internal/notify"
	"tableside/internal/pricing"
	"tableside/internal/reconciler"
	"tableside/internal/settlement"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// app holds the wired services shared by serve and sweep.
type app struct {
	db         *database.DB
	rdb        *redis.Client
	bus        *events.EventBus
	amqp       *events.AMQPForwarder
	inventory  *inventory.Inventory
	alloc      *allocator.Allocator
	dispatcher *notify.Dispatcher
	lifecycle  *lifecycle.Service
	settlement *settlement.Service
	pricing    *pricing.Client
	reconciler *reconciler.Reconciler
}

func newApp(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*app, error) {
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		return nil, err
	}
	a := &app{db: db}

	if cfg.Redis.Address != "" {
		a.rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Str("address", cfg.Redis.Address).Msg("redis unreachable, continuing with local fallbacks")
		}
	}

	a.inventory = inventory.New(db, logger)
	tables, err := config.LoadTablesConfig(cfg.TablesConfigPath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load tables: %w", err)
	}
	if err := a.inventory.Sync(ctx, tables); err != nil {
		a.Close()
		return nil, err
	}
	a.alloc = allocator.New(db, logger, allocator.WithRefresher(a.inventory))

	a.bus = events.NewEventBus()
	if cfg.Notify.AMQP.Enabled {
		fwd, err := events.DialAMQP(cfg.Notify.AMQP.URL, cfg.Notify.AMQP.Exchange, logger)
		if err != nil {
			logger.Error().Err(err).Msg("rabbitmq unavailable, events stay in-process")
		} else {
			a.amqp = fwd
			a.bus.SubscribeAll(fwd.Handle)
		}
	}

	var chat notify.Sink
	if cfg.Notify.Telegram.Enabled {
		tg, err := notify.NewTelegramSink(cfg.Notify.Telegram.BotToken)
		if err != nil {
			logger.Error().Err(err).Msg("telegram unavailable, notifications go to the log")
		} else {
			chat = tg
		}
	}
	a.dispatcher = notify.NewDispatcher(db, chat, notify.NewLogSink(logger), notify.NewConfig(cfg.Notify), logger)

	a.lifecycle = lifecycle.NewService(db, a.alloc, a.dispatcher, a.bus, lifecycle.NewConfig(cfg.Seating), logger)

	a.pricing = pricing.NewClient(cfg.Pricing, logger)
	if a.rdb != nil && cfg.Pricing.CacheTTL() > 0 {
		a.pricing.UseRedisCache(a.rdb, cfg.Pricing.CacheTTL())
	}
	a.settlement = settlement.NewService(db, a.alloc, a.pricing, a.pricing, a.bus, settlement.Config{
		DiningMinutes:      int(cfg.Seating.DiningDuration().Minutes()),
		SubscriberDiscount: cfg.Seating.SubscriberDiscount(),
	}, logger)

	var locker reconciler.Locker
	if a.rdb != nil {
		locker = reconciler.NewRedisLocker(a.rdb)
	}
	a.reconciler = reconciler.New(db, a.lifecycle, a.settlement, a.alloc, a.dispatcher, locker,
		reconciler.NewConfig(cfg.Seating, cfg.Reconciler), logger)
	return a, nil
}

// Close releases connections in reverse order of acquisition.
func (a *app) Close() {
	if a.amqp != nil {
		_ = a.amqp.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	_ = a.db.Close()
}
