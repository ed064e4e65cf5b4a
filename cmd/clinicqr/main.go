package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clinicqr/internal/config"
	"clinicqr/internal/httpapi"
	"clinicqr/internal/hub"
	"clinicqr/internal/metrics"
	"clinicqr/internal/notify"
	"clinicqr/internal/store/postgres"
	"clinicqr/internal/telemetry"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type eventEnvelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

func main() {
	cfg := config.Load()
	shutdownTelemetry := telemetry.Setup("clinicqr")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	st := postgres.NewStore(pool)
	handler := httpapi.NewHandler(st, httpapi.Options{SessionTTL: cfg.SessionTTL})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		PerMinute: cfg.RateLimitPerMinute,
		Burst:     cfg.RateLimitBurst,
	})

	boardHub := hub.New()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/realtime/", newBoardHandler(boardHub))
	mux.Handle("/", handler.Routes())

	otelHandler := otelhttp.NewHandler(
		httpapi.LoggingMiddleware(limiter.Middleware(httpapi.AuthMiddleware(st, mux))),
		"clinicqr",
	)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	notifyStore := notify.NewStore(pool)
	provider := notify.NewProvider(notify.ProviderConfig{
		Kind:              cfg.NotifyProvider,
		SendGridAPIKey:    cfg.SendGridAPIKey,
		SendGridFromEmail: cfg.SendGridFromEmail,
		SendGridFromName:  cfg.SendGridFromName,
		WebhookURL:        cfg.WebhookURL,
	})
	worker := notify.NewWorker(notifyStore, provider, notify.Config{
		BatchSize:   cfg.NotifyBatchSize,
		MaxAttempts: cfg.NotifyMaxAttempts,
	})
	go notify.Start(workerCtx, cfg.NotifyPollInterval, worker)

	go func() {
		ticker := time.NewTicker(cfg.ReminderInterval)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				if err := worker.ScanReminders(workerCtx, st, cfg.ReminderWindowDays); err != nil {
					log.Printf("reminder scan error: %v", err)
				}
			}
		}
	}()

	// Board poller: relay new outbox events to connected clients.
	go func() {
		ticker := time.NewTicker(cfg.RealtimePollInterval)
		defer ticker.Stop()
		last := time.Now().UTC()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(workerCtx, 5*time.Second)
				events, err := st.ListOutboxEvents(ctx, last, 200)
				cancel()
				if err != nil {
					log.Printf("board poll error: %v", err)
					continue
				}
				for _, event := range events {
					last = event.CreatedAt
					env := eventEnvelope{Type: event.Type, Payload: event.Payload, CreatedAt: event.CreatedAt}
					payload, _ := json.Marshal(env)
					boardHub.Broadcast(payload, metaFromPayload(event.Payload))
				}
			}
		}
	}()

	go func() {
		log.Printf("clinicqr listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cancelWorkers()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// newBoardHandler serves the queue board socket. The board is a public
// display; clients pick their slice with a subscribe message.
func newBoardHandler(boardHub *hub.Hub) http.Handler {
	return sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
		boardHub.Register(client)
		metrics.RealtimeClients.Inc()
		defer func() {
			boardHub.Unregister(client)
			metrics.RealtimeClients.Dec()
		}()

		go func() {
			for msg := range client.Send {
				_ = session.Send(string(msg))
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := hub.ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if parsed.Action == "unsubscribe" {
				boardHub.UpdateSubscription(client, hub.Subscription{})
				continue
			}
			boardHub.UpdateSubscription(client, hub.Subscription{
				Service:    parsed.Service,
				Department: parsed.Department,
				QueueTag:   parsed.QueueTag,
			})
		}
	})
}

func metaFromPayload(payload []byte) hub.Subscription {
	var data map[string]interface{}
	if err := json.Unmarshal(payload, &data); err != nil {
		return hub.Subscription{}
	}
	meta := hub.Subscription{}
	if v, ok := data["service"].(string); ok {
		meta.Service = v
	}
	if v, ok := data["department"].(string); ok {
		meta.Department = v
	}
	if v, ok := data["queue_tag"].(string); ok {
		meta.QueueTag = v
	}
	return meta
}
