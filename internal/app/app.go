package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/yummspb13/kiddeo22-sub010/internal/billing"
	"github.com/yummspb13/kiddeo22-sub010/internal/config"
	"github.com/yummspb13/kiddeo22-sub010/internal/gateway"
	"github.com/yummspb13/kiddeo22-sub010/internal/httpapi"
	"github.com/yummspb13/kiddeo22-sub010/internal/metrics"
	"github.com/yummspb13/kiddeo22-sub010/internal/storage"
	"github.com/yummspb13/kiddeo22-sub010/internal/websocket"
	"github.com/yummspb13/kiddeo22-sub010/pkg/messaging"
)

type App struct {
	cfg       config.Config
	logger    *slog.Logger
	store     *storage.Store
	wsHub     *websocket.Hub
	sweeper   *billing.Sweeper
	publisher messaging.Publisher
	outbox    *messaging.OutboxDispatcher
	httpSrv   *http.Server
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	store, err := storage.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	wsHub := websocket.NewHub()
	gatewayClient := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayShopID, cfg.GatewaySecretKey, cfg.GatewayTimeout)

	refunds := billing.NewRefundManager(store, gatewayClient, wsHub, logger)
	reconciler := billing.NewReconciler(store, refunds, wsHub, cfg.ExpiryGrace, logger)
	initiator := billing.NewInitiator(store, gatewayClient, logger)
	sweeper := billing.NewSweeper(store, wsHub, cfg.SweepInterval, logger)

	publisher, err := messaging.NewRabbitPublisher(cfg.RabbitURL, cfg.BillingExchange)
	if err != nil {
		store.Close()
		return nil, err
	}

	api := httpapi.NewServer(store, initiator, reconciler, refunds, logger)
	wsHandler := websocket.NewHandler(wsHub, store, logger)
	api.HandleFunc("GET /orders/{orderID}/ws", wsHandler.ServeWS)
	httpSrv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api,
	}

	outbox := messaging.NewOutboxDispatcher(store.Pool(), publisher, "billing_outbox", cfg.OutboxInterval, cfg.OutboxBatch, logger)

	return &App{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		wsHub:     wsHub,
		sweeper:   sweeper,
		publisher: publisher,
		outbox:    outbox,
		httpSrv:   httpSrv,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)

	a.outbox.Start(ctx)
	a.sweeper.Start(ctx)
	go a.wsHub.Run(ctx)

	go func() {
		a.logger.Info("billing http server listening", "addr", a.cfg.HTTPAddr)
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (a *App) Close(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.ShutdownGracePeriod)
	defer cancel()
	_ = a.httpSrv.Shutdown(shutdownCtx)
	a.publisher.Close()
	a.store.Close()
}

func Run() error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := config.Load()
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer app.Close(ctx)

	return app.Run(ctx)
}
