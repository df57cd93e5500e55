package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubTokenVerifier struct {
	verifyFn func(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

func (s *stubTokenVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	return s.verifyFn(ctx, idToken)
}

type stubUserGetter struct {
	getFn func(ctx context.Context, uid string) (*firebaseauth.UserRecord, error)
}

func (s *stubUserGetter) GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error) {
	return s.getFn(ctx, uid)
}

func TestRequireFirebaseAuthAllowsShipperToken(t *testing.T) {
	verifier := &stubTokenVerifier{
		verifyFn: func(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
			if idToken != "shipper-token" {
				t.Fatalf("unexpected token: %s", idToken)
			}
			return &firebaseauth.Token{
				UID: "uid-shipper-1",
				Claims: map[string]interface{}{
					"role":   []interface{}{"Shipper"},
					"email":  "shipper@example.com",
					"locale": "vi-VN",
				},
			}, nil
		},
	}

	userCalls := 0
	users := &stubUserGetter{
		getFn: func(ctx context.Context, uid string) (*firebaseauth.UserRecord, error) {
			userCalls++
			if uid != "uid-shipper-1" {
				t.Fatalf("unexpected uid: %s", uid)
			}
			return &firebaseauth.UserRecord{UserInfo: &firebaseauth.UserInfo{UID: uid}}, nil
		},
	}

	authenticator := NewAuthenticator(verifier, WithUserGetter(users))

	var captured *Identity
	handler := authenticator.RequireFirebaseAuth(RoleShipper)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/orders/ord_1/status", nil)
	req.Header.Set("Authorization", "Bearer shipper-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d (%s)", rec.Code, rec.Body.String())
	}
	if captured == nil {
		t.Fatal("identity missing from request context")
	}
	if !captured.HasRole(RoleShipper) {
		t.Fatalf("expected shipper role, got %v", captured.Roles)
	}
	if captured.Locale != "vi-VN" {
		t.Fatalf("unexpected locale: %s", captured.Locale)
	}

	// User records load lazily and only once.
	if userCalls != 0 {
		t.Fatalf("user loaded eagerly: %d calls", userCalls)
	}
	if _, err := captured.User(context.Background()); err != nil {
		t.Fatalf("User: %v", err)
	}
	if _, err := captured.User(context.Background()); err != nil {
		t.Fatalf("User: %v", err)
	}
	if userCalls != 1 {
		t.Fatalf("expected one user load, got %d", userCalls)
	}
}

func TestRequireFirebaseAuthRejectsExpiredToken(t *testing.T) {
	verifier := &stubTokenVerifier{
		verifyFn: func(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
			return nil, ErrTokenExpired
		},
	}

	authenticator := NewAuthenticator(verifier)
	handler := authenticator.RequireFirebaseAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run for expired token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("Authorization", "Bearer stale")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "token_expired" {
		t.Fatalf("unexpected error code: %v", body["error"])
	}
}

func TestRequireFirebaseAuthMissingHeader(t *testing.T) {
	verifier := &stubTokenVerifier{
		verifyFn: func(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
			t.Fatal("verifier should not run without a bearer token")
			return nil, nil
		},
	}

	authenticator := NewAuthenticator(verifier)
	handler := authenticator.RequireFirebaseAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run without a bearer token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireFirebaseAuthFallsBackToCustomerRole(t *testing.T) {
	verifier := &stubTokenVerifier{
		verifyFn: func(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
			return &firebaseauth.Token{
				UID:    "uid-customer-9",
				Claims: map[string]interface{}{"email": "buyer@example.com"},
			}, nil
		},
	}

	authenticator := NewAuthenticator(verifier)

	var captured *Identity
	handler := authenticator.RequireFirebaseAuth(RoleCustomer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil)
	req.Header.Set("Authorization", "Bearer fresh")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if captured == nil || !captured.HasRole(RoleCustomer) {
		t.Fatalf("expected fallback customer role, got %+v", captured)
	}
}

func TestRequireFirebaseAuthInsufficientRole(t *testing.T) {
	verifier := &stubTokenVerifier{
		verifyFn: func(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
			return &firebaseauth.Token{
				UID:    "uid-customer-2",
				Claims: map[string]interface{}{"role": "customer"},
			}, nil
		},
	}

	authenticator := NewAuthenticator(verifier)
	handler := authenticator.RequireFirebaseAuth(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run for customer on admin route")
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/returns/ret_1/confirm", nil)
	req.Header.Set("Authorization", "Bearer customer")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "insufficient_role" {
		t.Fatalf("unexpected error code: %v", body["error"])
	}
}
