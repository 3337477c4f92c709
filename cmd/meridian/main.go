package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meridian-erp/meridian-erp/internal/app"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/masterdata"
	"github.com/meridian-erp/meridian-erp/internal/orders"
	"github.com/meridian-erp/meridian-erp/internal/platform/cache"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/platform/sequence"
	"github.com/meridian-erp/meridian-erp/internal/stock"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{
		MaxConns:        cfg.PGMaxConns,
		MaxConnLifetime: cfg.PGConnMaxLifetime,
	})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	var lookup masterdata.Lookup = masterdata.NewRepository(pool)
	if cfg.CacheEnabled {
		redisClient, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Warn("redis unavailable, master data cache disabled", slog.Any("error", err))
		} else {
			defer redisClient.Close()
			lookup = masterdata.NewCachedLookup(lookup, cache.NewJSONCache(redisClient, cfg.CacheTTL))
		}
	}

	seq := sequence.NewCounter(pool, logger)

	ledgerSvc := ledger.NewService(ledger.NewPG(pool), lookup, seq, ledger.Config{
		FXGainAccountCode: cfg.FXGainAccountCode,
		FXLossAccountCode: cfg.FXLossAccountCode,
	}, logger)
	ordersSvc := orders.NewService(orders.NewPG(pool), ledgerSvc, seq, orders.Config{
		RevenueAccountID: cfg.RevenueAccountID,
		ExpenseAccountID: cfg.ExpenseAccountID,
		TaxAccountID:     cfg.TaxAccountID,
	}, logger)
	stockLedger := stock.NewLedger(stock.NewPG(pool), logger)

	router := app.NewRouter(app.RouterParams{
		Config:        cfg,
		LedgerHandler: ledger.NewHandler(logger, ledgerSvc),
		OrdersHandler: orders.NewHandler(logger, ordersSvc),
		StockHandler:  stock.NewHandler(logger, stockLedger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
