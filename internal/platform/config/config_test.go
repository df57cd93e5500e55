package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "gp-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Firestore.ProjectID != "gp-dev" {
		t.Errorf("expected firestore project to default to firebase project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.Events.ProjectID != "gp-dev" {
		t.Errorf("expected events project to default to firebase project, got %s", cfg.Events.ProjectID)
	}
	if cfg.Events.OrderTopic != defaultOrderEventsTopic {
		t.Errorf("expected default order events topic, got %s", cfg.Events.OrderTopic)
	}
	if cfg.Orders.DefaultTransportationFee != defaultTransportationFee {
		t.Errorf("unexpected default transportation fee: %d", cfg.Orders.DefaultTransportationFee)
	}
	if cfg.Carrier.BaseURL != defaultCarrierBaseURL {
		t.Errorf("unexpected default carrier base url: %s", cfg.Carrier.BaseURL)
	}
	if cfg.Carrier.Name != defaultCarrierName {
		t.Errorf("unexpected default carrier name: %s", cfg.Carrier.Name)
	}
	if cfg.Security.Environment != "local" {
		t.Errorf("expected default security environment local, got %s", cfg.Security.Environment)
	}
	if cfg.Security.HMAC.SignatureHeader != defaultHMACSignatureHeader {
		t.Errorf("expected default signature header, got %s", cfg.Security.HMAC.SignatureHeader)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected default idempotency ttl: %s", cfg.Idempotency.TTL)
	}
	if cfg.Idempotency.CleanupInterval != defaultIdempotencyInterval {
		t.Errorf("unexpected default cleanup interval: %s", cfg.Idempotency.CleanupInterval)
	}
	if cfg.Idempotency.CleanupBatchSize != defaultIdempotencyBatchSize {
		t.Errorf("unexpected default cleanup batch size: %d", cfg.Idempotency.CleanupBatchSize)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                       "9090",
		"API_SERVER_READ_TIMEOUT":               "20s",
		"API_SERVER_WRITE_TIMEOUT":              "25s",
		"API_SERVER_IDLE_TIMEOUT":               "2m",
		"API_FIREBASE_PROJECT_ID":               "gp-prod",
		"API_FIRESTORE_PROJECT_ID":              "gp-fire",
		"API_ORDERS_DEFAULT_TRANSPORTATION_FEE": "5000",
		"API_CARRIER_BASE_URL":                  "https://online-gateway.ghn.vn",
		"API_CARRIER_TOKEN":                     "secret://carrier/token",
		"API_CARRIER_SHOP_ID":                   "190695",
		"API_CARRIER_TIMEOUT":                   "30s",
		"API_PSP_MOMO_ENDPOINT":                 "https://test-payment.momo.vn",
		"API_PSP_MOMO_PARTNER_CODE":             "MOMO",
		"API_PSP_MOMO_SECRET_KEY":               "secret://momo/key",
		"API_PSP_VNPAY_SECRET":                  "secret://vnpay/secret",
		"API_PSP_ZALOPAY_KEY":                   "secret://zalopay/key",
		"API_PSP_ZALOPAY_CALLBACK_KEY":          "secret://zalopay/callback",
		"API_PSP_STRIPE_API_KEY":                "secret://stripe/api",
		"API_EVENTS_ORDER_TOPIC":                "order-events-prod",
		"API_EVENTS_PUBLISH_DISABLED":           "true",
		"API_SECURITY_ENVIRONMENT":              "prod",
		"API_SECURITY_HMAC_SECRETS":             "payments/stripe=secret://hmac/stripe,carrier=carrier-secret",
		"API_SECURITY_HMAC_HEADER_SIGNATURE":    "X-Custom-Signature",
		"API_SECURITY_HMAC_CLOCK_SKEW":          "3m",
		"API_SECURITY_HMAC_NONCE_TTL":           "10m",
		"API_IDEMPOTENCY_HEADER":                "X-Idem-Key",
		"API_IDEMPOTENCY_TTL":                   "48h",
		"API_IDEMPOTENCY_CLEANUP_INTERVAL":      "30m",
		"API_IDEMPOTENCY_CLEANUP_BATCH":         "500",
	}

	secrets := map[string]string{
		"secret://carrier/token":    "carrier-token",
		"secret://momo/key":         "momo-key",
		"secret://vnpay/secret":     "vnpay-secret",
		"secret://zalopay/key":      "zalopay-key",
		"secret://zalopay/callback": "zalopay-key2",
		"secret://stripe/api":       "stripe-key",
		"secret://hmac/stripe":      "stripe-hmac",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected idle timeout: %s", cfg.Server.IdleTimeout)
	}
	if cfg.Orders.DefaultTransportationFee != 5000 {
		t.Errorf("unexpected transportation fee: %d", cfg.Orders.DefaultTransportationFee)
	}
	if cfg.Carrier.Token != "carrier-token" {
		t.Errorf("expected resolved carrier token, got %s", cfg.Carrier.Token)
	}
	if cfg.Carrier.ShopID != "190695" {
		t.Errorf("unexpected carrier shop id %s", cfg.Carrier.ShopID)
	}
	if cfg.Carrier.Timeout != 30*time.Second {
		t.Errorf("unexpected carrier timeout %s", cfg.Carrier.Timeout)
	}
	if cfg.PSP.MomoSecretKey != "momo-key" {
		t.Errorf("expected resolved momo key, got %s", cfg.PSP.MomoSecretKey)
	}
	if cfg.PSP.VNPaySecret != "vnpay-secret" {
		t.Errorf("expected resolved vnpay secret, got %s", cfg.PSP.VNPaySecret)
	}
	if cfg.PSP.ZaloPayKey != "zalopay-key" {
		t.Errorf("expected resolved zalopay key, got %s", cfg.PSP.ZaloPayKey)
	}
	if cfg.PSP.ZaloPayCallbackKey != "zalopay-key2" {
		t.Errorf("expected resolved zalopay callback key, got %s", cfg.PSP.ZaloPayCallbackKey)
	}
	if cfg.PSP.StripeAPIKey != "stripe-key" {
		t.Errorf("expected resolved stripe api key, got %s", cfg.PSP.StripeAPIKey)
	}
	if cfg.Events.OrderTopic != "order-events-prod" {
		t.Errorf("unexpected order topic %s", cfg.Events.OrderTopic)
	}
	if !cfg.Events.PublishDisabled {
		t.Errorf("expected publishing disabled")
	}
	if cfg.Security.Environment != "prod" {
		t.Errorf("expected security environment prod, got %s", cfg.Security.Environment)
	}
	if cfg.Security.HMAC.Secrets["payments/stripe"] != "stripe-hmac" {
		t.Errorf("expected resolved stripe hmac secret, got %s", cfg.Security.HMAC.Secrets["payments/stripe"])
	}
	if cfg.Security.HMAC.Secrets["carrier"] != "carrier-secret" {
		t.Errorf("expected carrier secret fallback, got %s", cfg.Security.HMAC.Secrets["carrier"])
	}
	if cfg.Security.HMAC.SignatureHeader != "X-Custom-Signature" {
		t.Errorf("unexpected signature header %s", cfg.Security.HMAC.SignatureHeader)
	}
	if cfg.Security.HMAC.ClockSkew != 3*time.Minute {
		t.Errorf("unexpected clock skew %s", cfg.Security.HMAC.ClockSkew)
	}
	if cfg.Security.HMAC.NonceTTL != 10*time.Minute {
		t.Errorf("unexpected nonce ttl %s", cfg.Security.HMAC.NonceTTL)
	}
	if cfg.Idempotency.Header != "X-Idem-Key" {
		t.Errorf("unexpected idempotency header %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != 48*time.Hour {
		t.Errorf("unexpected idempotency ttl %s", cfg.Idempotency.TTL)
	}
	if cfg.Idempotency.CleanupInterval != 30*time.Minute {
		t.Errorf("unexpected cleanup interval %s", cfg.Idempotency.CleanupInterval)
	}
	if cfg.Idempotency.CleanupBatchSize != 500 {
		t.Errorf("unexpected cleanup batch size %d", cfg.Idempotency.CleanupBatchSize)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_SERVER_PORT=7070\nAPI_FIREBASE_PROJECT_ID=gp-dot\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Firebase.ProjectID != "gp-dot" {
		t.Errorf("expected firebase project from dotenv, got %s", cfg.Firebase.ProjectID)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "gp-dev",
		"API_CARRIER_TOKEN":       "secret://missing",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected secret resolution error, got nil")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_FIREBASE_PROJECT_ID=dot-project\nAPI_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("API_FIREBASE_PROJECT_ID", "os-project")
	t.Setenv("API_SECRET_PROJECT_IDS", "prod=project-prod")

	overrides := map[string]string{
		"API_FIREBASE_PROJECT_ID": "override-project",
		"API_SECRET_VERSION_PINS": "secret://carrier/token=5",
	}

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(overrides))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}

	if got := values["API_FIREBASE_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["API_SECRET_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["API_SECRET_PROJECT_IDS"]; got != "prod=project-prod" {
		t.Fatalf("expected system env project map, got %s", got)
	}
	if got := values["API_SECRET_VERSION_PINS"]; got != "secret://carrier/token=5" {
		t.Fatalf("expected override version pin, got %s", got)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "gp-dev",
	}

	_, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Carrier.Token"),
	)
	if err == nil {
		t.Fatal("expected missing secrets error, got nil")
	}
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %T", err)
	}
	expectedRedacted := redactSecretName("Carrier.Token")
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != expectedRedacted {
		t.Fatalf("unexpected redacted names %v", got)
	}
}

func TestLoadMissingRequiredSecretsPanic(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "gp-dev",
	}

	defer func() {
		rec := recover()
		if rec == nil {
			t.Fatal("expected panic when required secrets missing")
		}
		missing, ok := rec.(*MissingSecretsError)
		if !ok {
			t.Fatalf("expected MissingSecretsError panic, got %T", rec)
		}
		if len(missing.Names()) != 1 || missing.Names()[0] != "Carrier.Token" {
			t.Fatalf("unexpected missing secrets %v", missing.Names())
		}
	}()

	Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Carrier.Token"),
		WithPanicOnMissingSecrets(),
	)
}

func TestLoadSupportsLegacySecretScheme(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "gp-dev",
		"API_CARRIER_TOKEN":       "sm://carrier/token",
	}

	secrets := map[string]string{
		"secret://carrier/token": "legacy-token",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errors.New("not found")}
	})

	cfg, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Carrier.Token != "legacy-token" {
		t.Fatalf("expected legacy token, got %s", cfg.Carrier.Token)
	}
}
