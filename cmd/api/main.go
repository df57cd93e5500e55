package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/DawnBreaker207/Graduate-Project/internal/di"
	"github.com/DawnBreaker207/Graduate-Project/internal/domain"
	"github.com/DawnBreaker207/Graduate-Project/internal/handlers"
	"github.com/DawnBreaker207/Graduate-Project/internal/payments"
	"github.com/DawnBreaker207/Graduate-Project/internal/platform/auth"
	"github.com/DawnBreaker207/Graduate-Project/internal/platform/config"
	pfirestore "github.com/DawnBreaker207/Graduate-Project/internal/platform/firestore"
	"github.com/DawnBreaker207/Graduate-Project/internal/platform/idempotency"
	"github.com/DawnBreaker207/Graduate-Project/internal/platform/jobs"
	"github.com/DawnBreaker207/Graduate-Project/internal/platform/observability"
	"github.com/DawnBreaker207/Graduate-Project/internal/platform/secrets"
	"github.com/DawnBreaker207/Graduate-Project/internal/repositories"
	firestoreRepo "github.com/DawnBreaker207/Graduate-Project/internal/repositories/firestore"
	"github.com/DawnBreaker207/Graduate-Project/internal/services"
	"github.com/DawnBreaker207/Graduate-Project/internal/shipping"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	carrierClient := newCarrierClient(logger, cfg)
	eventPublisher, closeEvents := newEventPublisher(ctx, logger, cfg)
	defer closeEvents()

	healthRepo, err := newHealthRepository(firestoreClient, fetcher, carrierClient)
	if err != nil {
		logger.Fatal("failed to initialise health checks", zap.Error(err))
	}

	registry, err := firestoreRepo.NewRegistry(firestoreProvider, healthRepo)
	if err != nil {
		logger.Fatal("failed to initialise repository registry", zap.Error(err))
	}

	paymentManager, err := newPaymentManager(logger, cfg)
	if err != nil {
		logger.Fatal("failed to initialise payment manager", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, di.Deps{
		Registry: registry,
		Payments: paymentManager,
		Carrier:  carrierClient,
		Events:   eventPublisher,
		Logger:   logger,
		Clock:    time.Now,
	})
	if err != nil {
		logger.Fatal("failed to assemble service container", zap.Error(err))
	}

	var authenticator *auth.Authenticator
	if strings.TrimSpace(cfg.Firebase.ProjectID) != "" {
		firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
		if err != nil {
			logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
		}
		authenticator = auth.NewAuthenticator(firebaseVerifier, auth.WithUserGetter(firebaseVerifier))
	} else {
		logger.Warn("firebase project not configured; order routes are unauthenticated")
	}

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	var cleanupTicker *time.Ticker
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupTicker = time.NewTicker(cfg.Idempotency.CleanupInterval)
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-cleanupTicker.C:
					runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
					removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					cancel()
					if err != nil {
						cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
					}
				case <-cleanupCtx.Done():
					return
				}
			}
		}()
	}

	orderHandlers := handlers.NewOrderHandlers(authenticator, container.Services.Orders, container.Services.Returns, container.Services.Quotes)
	webhookHandlers := handlers.NewWebhookHandlers(container.Services.Orders, gatewaySecrets(cfg), webhookLogger(logger.Named("webhooks")))
	healthHandlers := handlers.NewHealthHandlers(registry.Health())

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithOrderMiddlewares(idempotencyMiddleware),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
	}
	if hmacMiddleware := buildHMACMiddleware(logger.Named("auth"), cfg); hmacMiddleware != nil {
		opts = append(opts, handlers.WithWebhookMiddlewares(hmacMiddleware))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("order api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	if cleanupTicker != nil {
		cleanupTicker.Stop()
	}
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newCarrierClient(logger *zap.Logger, cfg config.Config) *shipping.Client {
	if strings.TrimSpace(cfg.Carrier.Token) == "" || strings.TrimSpace(cfg.Carrier.ShopID) == "" {
		logger.Warn("carrier credentials not configured; shipped orders cannot be booked")
		return nil
	}
	carrierLogger := logger.Named("carrier")
	client, err := shipping.NewClient(cfg.Carrier, nil, func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		carrierLogger.Debug("carrier log", zFields...)
	})
	if err != nil {
		logger.Fatal("failed to initialise carrier client", zap.Error(err))
	}
	return client
}

func newEventPublisher(ctx context.Context, logger *zap.Logger, cfg config.Config) (services.EventPublisher, func()) {
	noop := func() {}
	if cfg.Events.PublishDisabled {
		logger.Info("order event publishing disabled")
		return nil, noop
	}
	if strings.TrimSpace(cfg.Events.ProjectID) == "" || strings.TrimSpace(cfg.Events.OrderTopic) == "" {
		logger.Warn("order event stream not configured; events will not be published")
		return nil, noop
	}

	client, err := pubsub.NewClient(ctx, cfg.Events.ProjectID)
	if err != nil {
		logger.Fatal("failed to initialise pubsub client", zap.Error(err))
	}
	topic := client.Topic(cfg.Events.OrderTopic)

	eventsLogger := logger.Named("events").Sugar()
	publisher, err := jobs.NewPubSubOrderEventPublisher(topic,
		jobs.WithPublishLogger(func(msg string, keysAndValues ...any) {
			eventsLogger.Warnw(msg, keysAndValues...)
		}),
	)
	if err != nil {
		logger.Fatal("failed to initialise order event publisher", zap.Error(err))
	}

	cleanup := func() {
		topic.Stop()
		if err := client.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}
	return publisher, cleanup
}

func newPaymentManager(logger *zap.Logger, cfg config.Config) (*payments.Manager, error) {
	providers := make(map[domain.PaymentMethodTag]payments.Provider)

	if strings.TrimSpace(cfg.PSP.MomoSecretKey) != "" {
		momo, err := payments.NewMomoProvider(payments.MomoConfig{
			Endpoint:    cfg.PSP.MomoEndpoint,
			PartnerCode: cfg.PSP.MomoPartnerCode,
			AccessKey:   cfg.PSP.MomoAccessKey,
			SecretKey:   cfg.PSP.MomoSecretKey,
			ReturnURL:   cfg.PSP.ReturnURL,
			NotifyURL:   cfg.PSP.NotifyURL,
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("momo provider: %w", err)
		}
		providers[domain.PaymentMethodMomo] = momo
	}

	if strings.TrimSpace(cfg.PSP.VNPaySecret) != "" {
		vnpay, err := payments.NewVNPayProvider(payments.VNPayConfig{
			Endpoint:     cfg.PSP.VNPayEndpoint,
			TerminalCode: cfg.PSP.VNPayTerminalCode,
			SecretKey:    cfg.PSP.VNPaySecret,
			ReturnURL:    cfg.PSP.ReturnURL,
		})
		if err != nil {
			return nil, fmt.Errorf("vnpay provider: %w", err)
		}
		providers[domain.PaymentMethodVNPay] = vnpay
	}

	if strings.TrimSpace(cfg.PSP.ZaloPayKey) != "" {
		zalopay, err := payments.NewZaloPayProvider(payments.ZaloPayConfig{
			Endpoint:  cfg.PSP.ZaloPayEndpoint,
			AppID:     cfg.PSP.ZaloPayAppID,
			Key:       cfg.PSP.ZaloPayKey,
			NotifyURL: cfg.PSP.NotifyURL,
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("zalopay provider: %w", err)
		}
		providers[domain.PaymentMethodZaloPay] = zalopay
	}

	if strings.TrimSpace(cfg.PSP.StripeAPIKey) != "" {
		paymentsLogger := logger.Named("payments")
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey:     cfg.PSP.StripeAPIKey,
			SuccessURL: cfg.PSP.ReturnURL,
			CancelURL:  cfg.PSP.ReturnURL,
			Logger: func(_ context.Context, event string, fields map[string]any) {
				zFields := make([]zap.Field, 0, len(fields)+1)
				zFields = append(zFields, zap.String("event", event))
				for k, v := range fields {
					zFields = append(zFields, zap.Any(k, v))
				}
				paymentsLogger.Debug("stripe log", zFields...)
			},
			Clock: time.Now,
		})
		if err != nil {
			return nil, fmt.Errorf("stripe provider: %w", err)
		}
		providers[domain.PaymentMethodCard] = stripeProvider
	}

	return payments.NewManager(providers)
}

func newHealthRepository(client *firestore.Client, fetcher *secrets.Fetcher, carrier *shipping.Client) (repositories.HealthRepository, error) {
	checks := make([]repositories.DependencyCheck, 0, 3)
	if client != nil {
		c := client
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				iter := c.Collections(ctx)
				_, err := iter.Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		})
	}
	if fetcher != nil {
		const secretHealthReference = "secret://system/healthz?version=latest"
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil {
					return nil
				}
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	if carrier != nil {
		c := carrier
		checks = append(checks, repositories.DependencyCheck{
			Name:    "carrier",
			Timeout: 2 * time.Second,
			Check:   c.Ping,
		})
	}
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks configured")
	}
	return repositories.NewDependencyHealthRepository(checks)
}

// gatewaySecrets collects the credentials each gateway signs its callbacks
// with. ZaloPay issues a dedicated callback key (key2); deployments that only
// configured the create key fall back to it.
func gatewaySecrets(cfg config.Config) handlers.GatewaySecrets {
	callbackKey := strings.TrimSpace(cfg.PSP.ZaloPayCallbackKey)
	if callbackKey == "" {
		callbackKey = strings.TrimSpace(cfg.PSP.ZaloPayKey)
	}
	return handlers.GatewaySecrets{
		MomoAccessKey:       strings.TrimSpace(cfg.PSP.MomoAccessKey),
		MomoSecretKey:       strings.TrimSpace(cfg.PSP.MomoSecretKey),
		VNPayHashSecret:     strings.TrimSpace(cfg.PSP.VNPaySecret),
		ZaloPayCallbackKey:  callbackKey,
		StripeWebhookSecret: strings.TrimSpace(cfg.PSP.StripeWebhookSecret),
	}
}

func webhookLogger(logger *zap.Logger) handlers.WebhookLogger {
	sugar := logger.Sugar()
	return func(msg string, keysAndValues ...any) {
		sugar.Infow(msg, keysAndValues...)
	}
}

func buildHMACMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	hmacSecrets := make(map[string]string)
	for key, value := range cfg.Security.HMAC.Secrets {
		if strings.TrimSpace(value) == "" {
			continue
		}
		hmacSecrets[strings.ToLower(key)] = value
	}
	if len(hmacSecrets) == 0 {
		return nil
	}

	provider := staticSecretProvider{secrets: hmacSecrets}
	nonces := auth.NewInMemoryNonceStore()
	adapter := observability.NewPrintfAdapter(logger)
	validator := auth.NewHMACValidator(provider, nonces,
		auth.WithHMACLogger(adapter),
		auth.WithHMACHeaders(cfg.Security.HMAC.SignatureHeader, cfg.Security.HMAC.TimestampHeader, cfg.Security.HMAC.NonceHeader),
		auth.WithHMACClockSkew(cfg.Security.HMAC.ClockSkew),
		auth.WithHMACNonceTTL(cfg.Security.HMAC.NonceTTL),
	)

	guard := validator.RequireHMACResolver(webhookSecretResolver(hmacSecrets))

	// Payment gateways sign notifications with their own schemes, checked by
	// the webhook handlers. The header-based HMAC guard only covers other
	// webhook callers.
	return func(next http.Handler) http.Handler {
		guarded := guard(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if gatewaySignedPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			guarded.ServeHTTP(w, r)
		})
	}
}

func gatewaySignedPath(path string) bool {
	const prefix = "/webhooks/payments/"
	idx := strings.Index(path, prefix)
	if idx < 0 {
		return false
	}
	switch strings.Trim(path[idx+len(prefix):], "/") {
	case "momo", "zalopay", "stripe", "vnpay":
		return true
	}
	return false
}

type staticSecretProvider struct {
	secrets map[string]string
}

func (p staticSecretProvider) GetSecret(_ context.Context, name string) (string, error) {
	if len(p.secrets) == 0 {
		return "", errors.New("auth: hmac secrets not configured")
	}
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return "", errors.New("auth: secret name required")
	}
	if secret, ok := p.secrets[key]; ok && secret != "" {
		return secret, nil
	}
	return "", errors.New("auth: secret not found")
}

func webhookSecretResolver(hmacSecrets map[string]string) func(*http.Request) (string, bool) {
	return func(r *http.Request) (string, bool) {
		path := r.URL.Path
		if idx := strings.Index(path, "/webhooks/"); idx >= 0 {
			path = path[idx+len("/webhooks/"):]
		}
		path = strings.Trim(path, "/")
		if path == "" {
			if secret, ok := hmacSecrets["default"]; ok && secret != "" {
				return "default", true
			}
			return "", false
		}

		segments := strings.Split(path, "/")
		candidates := make([]string, 0, 3)
		if len(segments) >= 2 {
			candidates = append(candidates, strings.ToLower(strings.Join(segments[:2], "/")))
		}
		candidates = append(candidates, strings.ToLower(segments[0]), "default")

		for _, candidate := range candidates {
			if secret, ok := hmacSecrets[candidate]; ok && secret != "" {
				return candidate, true
			}
		}
		return "", false
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		if value, ok := env[key]; ok {
			return strings.TrimSpace(value)
		}
		return ""
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	projectMap := secretProjectMapFromEnv(env)
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}
	credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE")

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if len(projectMap) > 0 {
		opts = append(opts, secrets.WithProjectMap(projectMap))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secret references that must resolve before the
// server starts. Gateway secrets are only required when the matching
// environment value is set, so a cash-only deployment still boots.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	conditional := map[string]string{
		"API_CARRIER_TOKEN":             "Carrier.Token",
		"API_PSP_MOMO_SECRET_KEY":       "PSP.MomoSecretKey",
		"API_PSP_VNPAY_SECRET":          "PSP.VNPaySecret",
		"API_PSP_ZALOPAY_KEY":           "PSP.ZaloPayKey",
		"API_PSP_ZALOPAY_CALLBACK_KEY":  "PSP.ZaloPayCallbackKey",
		"API_PSP_STRIPE_API_KEY":        "PSP.StripeAPIKey",
		"API_PSP_STRIPE_WEBHOOK_SECRET": "PSP.StripeWebhookSecret",
	}
	for envKey, name := range conditional {
		if env != nil && strings.TrimSpace(env[envKey]) != "" {
			required = append(required, name)
		}
	}

	hmacRaw := ""
	if env != nil {
		hmacRaw = strings.TrimSpace(env["API_SECURITY_HMAC_SECRETS"])
	}
	for _, key := range parseHMACSecretKeys(hmacRaw) {
		required = append(required, fmt.Sprintf("Security.HMAC.Secrets[%s]", key))
	}

	return uniqueStrings(required)
}

func secretProjectMapFromEnv(env map[string]string) map[string]string {
	raw := ""
	if env != nil {
		raw = env["API_SECRET_PROJECT_IDS"]
	}
	projects := make(map[string]string)
	for key, value := range parseKeyValueList(raw) {
		projects[strings.ToLower(key)] = value
	}
	return projects
}

func parseHMACSecretKeys(raw string) []string {
	values := parseKeyValueList(raw)
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, strings.ToLower(key))
	}
	sort.Strings(keys)
	return keys
}

func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return result
	}
	entries := strings.Split(raw, ",")
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}
