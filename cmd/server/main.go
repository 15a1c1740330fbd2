package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"labcart/cmd/server/config"
	"labcart/internal/auth"
	"labcart/internal/catalog"
	"labcart/internal/effects"
	"labcart/internal/effects/queue"
	"labcart/internal/gateway"
	"labcart/internal/httpapi"
	"labcart/internal/notify"
	"labcart/internal/observability"
	"labcart/internal/orders"
	"labcart/internal/realtime"
	"labcart/internal/webhook"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// countingPublisher bumps the transition counter after the inner publisher
// accepts the event.
type countingPublisher struct {
	inner   orders.TransitionPublisher
	metrics *observability.Metrics
}

func (p countingPublisher) Publish(ctx context.Context, ev orders.TransitionEvent) error {
	if err := p.inner.Publish(ctx, ev); err != nil {
		return err
	}
	p.metrics.CountTransition(string(ev.From), string(ev.To))
	return nil
}

func run(ctx context.Context) error {
	store, ledger, cleanupStore, err := buildOrderBackends(ctx)
	if err != nil {
		return err
	}
	defer cleanupStore()

	markers, cleanupMarkers, err := buildEffectMarkers(ctx)
	if err != nil {
		return err
	}
	defer cleanupMarkers()

	metrics := observability.NewMetrics()
	dispatcher := effects.NewDispatcher(markers, notify.LogEmailClient{}, notify.LogAccountClient{})

	kafkaCfg, err := config.LoadKafka()
	if err != nil {
		return err
	}
	var transitionQueue orders.TransitionPublisher
	if len(kafkaCfg.Brokers) > 0 {
		producer := queue.NewProducer(kafkaCfg.Brokers, kafkaCfg.Topic)
		defer producer.Close()
		consumer := queue.NewConsumer(kafkaCfg.Brokers, kafkaCfg.Topic, kafkaCfg.GroupID, dispatcher)
		defer consumer.Close()
		go consumer.Run(ctx)
		transitionQueue = producer
		log.Printf("effect queue on kafka topic %s", kafkaCfg.Topic)
	} else {
		transitionQueue = effects.NewLocalPublisher(dispatcher)
		log.Println("KAFKA_BROKERS not set; effects run in-process")
	}

	hub := realtime.NewHub()
	go hub.Run(ctx)

	publisher := countingPublisher{
		inner:   orders.NewFanoutPublisher(transitionQueue, hub),
		metrics: metrics,
	}
	machine := orders.NewMachine(store, publisher, log.Printf)

	gatewayCfg, err := config.LoadGateway()
	if err != nil {
		return err
	}
	reliabilityCfg, err := orders.LoadReliabilityConfig()
	if err != nil {
		return err
	}
	checkout := orders.NewReliableCheckoutClient(
		gateway.NewClient(gatewayCfg.BaseURL, gatewayCfg.APIKey, gatewayCfg.HTTPTimeout),
		orders.NewRateLimiter(reliabilityCfg.RateLimitInterval, reliabilityCfg.RateLimitBurst),
		orders.NewCircuitBreaker(orders.CircuitBreakerConfig{
			MaxFailures:  reliabilityCfg.BreakerMaxFailures,
			ResetTimeout: reliabilityCfg.BreakerResetTimeout,
		}),
		orders.RetryPolicy{
			MaxAttempts: reliabilityCfg.RetryMaxAttempts,
			BaseDelay:   reliabilityCfg.RetryBaseDelay,
			MaxDelay:    reliabilityCfg.RetryMaxDelay,
			ShouldRetry: func(err error) bool { return errors.Is(err, gateway.ErrGatewayUnavailable) },
		},
	)

	prices, err := config.LoadCatalogPrices()
	if err != nil {
		return err
	}
	service := orders.NewService(store, catalog.NewStaticCatalog(prices), checkout, machine, log.Printf)

	verifier := gateway.NewVerifier(gatewayCfg.WebhookSecret, gatewayCfg.WebhookTolerance)
	ingest := webhook.NewIngest(verifier, ledger, store, machine, log.Printf, func(o webhook.Outcome) {
		metrics.CountWebhookOutcome(string(o))
	})

	tokens, err := config.LoadAdminTokens()
	if err != nil {
		return err
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Service: service,
		Ingest:  ingest,
		Auth:    auth.NewStaticAuthenticator(tokens),
		Hub:     hub,
		Metrics: metrics,
		Logf:    log.Printf,
	})

	httpCfg, err := config.LoadHTTP()
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:    httpCfg.Addr,
		Handler: router,
	}

	obsSrv, obsErr := startObservabilityServer(metrics)
	if obsErr != nil {
		return obsErr
	}

	log.Printf("API listening on %s", httpCfg.Addr)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		metrics.MarkShutdown(0)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("api shutdown: %v", err)
		}
		if obsSrv != nil {
			obsCtx, cancelObs := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancelObs()
			_ = obsSrv.Shutdown(obsCtx)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func startObservabilityServer(metrics *observability.Metrics) (*http.Server, error) {
	cfg, err := config.LoadObservability()
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(metrics))

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("observability server error: %v", err)
		}
	}()

	return srv, nil
}
