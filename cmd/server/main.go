package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"

	"github.com/ukaymarket/settlement/internal/cart"
	"github.com/ukaymarket/settlement/internal/catalog"
	"github.com/ukaymarket/settlement/internal/gateway"
	"github.com/ukaymarket/settlement/internal/messaging"
	"github.com/ukaymarket/settlement/internal/orders"
	"github.com/ukaymarket/settlement/internal/payments"
	"github.com/ukaymarket/settlement/internal/settlement"
	"github.com/ukaymarket/settlement/internal/telemetry"
	"github.com/ukaymarket/settlement/internal/wallet"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "settlement", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("settlement", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	if err := runtime.Start(); err != nil {
		logger.Error("failed to start runtime instrumentation", "error", err)
		os.Exit(1)
	}

	postgresURL := os.Getenv("POSTGRES_URL")
	if postgresURL == "" {
		logger.Error("POSTGRES_URL environment variable is required")
		os.Exit(1)
	}

	db, err := telemetry.OpenDB("postgres", postgresURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	callbackToken := os.Getenv("GATEWAY_CALLBACK_TOKEN")
	if callbackToken == "" {
		logger.Error("GATEWAY_CALLBACK_TOKEN environment variable is required")
		os.Exit(1)
	}

	gatewayURL := os.Getenv("GATEWAY_API_URL")
	if gatewayURL == "" {
		logger.Error("GATEWAY_API_URL environment variable is required")
		os.Exit(1)
	}

	feeBps := int64(0)
	if raw := os.Getenv("PLATFORM_FEE_BPS"); raw != "" {
		feeBps, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || feeBps < 0 || feeBps > 10000 {
			logger.Error("PLATFORM_FEE_BPS must be an integer between 0 and 10000", "value", raw)
			os.Exit(1)
		}
	}

	var producer *messaging.Producer
	if kafkaBrokers := os.Getenv("KAFKA_BROKERS"); kafkaBrokers != "" {
		brokers := strings.Split(kafkaBrokers, ",")
		producer = messaging.NewProducer(brokers, "order.settled")
		defer func() { _ = producer.Close() }()
	}

	metrics, err := telemetry.NewSettlementMetrics()
	if err != nil {
		logger.Error("failed to create settlement metrics", "error", err)
		os.Exit(1)
	}

	gatewayClient := gateway.NewClient(gateway.ClientConfig{
		BaseURL:    gatewayURL,
		APIKey:     os.Getenv("GATEWAY_API_KEY"),
		SuccessURL: os.Getenv("PAYMENT_SUCCESS_URL"),
		FailureURL: os.Getenv("PAYMENT_FAILURE_URL"),
	}, logger)

	productRepo := catalog.NewProductRepository(db)
	orderRepo := orders.NewOrderRepository(db)
	ledger := wallet.NewLedger(db)
	cartRepo := cart.NewRepository(db)

	var publisher settlement.Publisher
	if producer != nil {
		publisher = producer
	}

	engine := settlement.NewEngine(db, orderRepo, productRepo, ledger, cartRepo,
		gatewayClient, publisher, metrics, settlement.Config{
			PlatformFeeBps: feeBps,
			Currency:       os.Getenv("CURRENCY"),
			Country:        os.Getenv("COUNTRY"),
		}, logger)

	catalogHandler := catalog.NewHandler(productRepo, logger)
	orderHandler := orders.NewHandler(orderRepo, logger)
	walletHandler := wallet.NewHandler(ledger, gatewayClient, metrics, logger)
	cartHandler := cart.NewHandler(cartRepo, productRepo, logger)
	checkoutHandler := settlement.NewHandler(engine, logger)
	processor := payments.NewProcessor(callbackToken, engine, orderRepo, ledger, metrics, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /products", telemetry.WithHTTPRoute(catalogHandler.HandleCreate))
	mux.HandleFunc("GET /products/{id}", telemetry.WithHTTPRoute(catalogHandler.HandleGet))

	mux.HandleFunc("GET /carts/{userId}", telemetry.WithHTTPRoute(cartHandler.HandleList))
	mux.HandleFunc("POST /carts/{userId}/items", telemetry.WithHTTPRoute(cartHandler.HandleAdd))
	mux.HandleFunc("DELETE /carts/{userId}/items/{productId}", telemetry.WithHTTPRoute(cartHandler.HandleRemove))

	mux.HandleFunc("POST /checkout", telemetry.WithHTTPRoute(checkoutHandler.HandleCheckout))

	mux.HandleFunc("GET /orders", telemetry.WithHTTPRoute(orderHandler.HandleList))
	mux.HandleFunc("GET /orders/{id}", telemetry.WithHTTPRoute(orderHandler.HandleGet))
	mux.HandleFunc("PATCH /orders/{id}/status", telemetry.WithHTTPRoute(orderHandler.HandleUpdateStatus))

	mux.HandleFunc("GET /wallets/{userId}", telemetry.WithHTTPRoute(walletHandler.HandleGet))
	mux.HandleFunc("GET /wallets/{userId}/transactions", telemetry.WithHTTPRoute(walletHandler.HandleListTransactions))
	mux.HandleFunc("POST /wallets/{userId}/topups", telemetry.WithHTTPRoute(walletHandler.HandleTopup))

	mux.HandleFunc("POST /webhooks/payment", telemetry.WithHTTPRoute(processor.HandleWebhook))
	mux.HandleFunc("GET /payments/callback/{status}", telemetry.WithHTTPRoute(processor.HandleCallback))

	mux.Handle("GET /metrics", metricsHandler)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr: ":" + port,
		Handler: otelhttp.NewHandler(mux, "settlement",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("starting settlement service", "port", port, "fee_bps", feeBps)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
