package utils

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "widget-secret"

func mintWidgetToken(t *testing.T, secret, widgetID, purpose string) string {
	t.Helper()

	claims := &WidgetClaims{
		WidgetID: widgetID,
		Purpose:  purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestExtractWidgetToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/tools", nil)
	assert.Empty(t, ExtractWidgetToken(r))

	r.Header.Set(HeaderWidgetToken, "header-token")
	assert.Equal(t, "header-token", ExtractWidgetToken(r))

	// Bearer wins over the fallback header.
	r.Header.Set("Authorization", "Bearer bearer-token")
	assert.Equal(t, "bearer-token", ExtractWidgetToken(r))
}

func TestVerifyWidgetToken(t *testing.T) {
	token := mintWidgetToken(t, testSecret, "w1", "widget")

	claims, err := VerifyWidgetToken(token, testSecret, "w1")
	require.NoError(t, err)
	assert.Equal(t, "w1", claims.WidgetID)

	_, err = VerifyWidgetToken(token, "wrong-secret", "w1")
	assert.Error(t, err)

	_, err = VerifyWidgetToken(token, testSecret, "other-widget")
	assert.Error(t, err)

	_, err = VerifyWidgetToken(mintWidgetToken(t, testSecret, "w1", "admin"), testSecret, "w1")
	assert.Error(t, err)

	// Tokens without a purpose claim are accepted for compatibility.
	_, err = VerifyWidgetToken(mintWidgetToken(t, testSecret, "w1", ""), testSecret, "w1")
	assert.NoError(t, err)
}

func TestVerifyWidgetToken_RejectsExpired(t *testing.T) {
	claims := &WidgetClaims{
		WidgetID: "w1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = VerifyWidgetToken(token, testSecret, "w1")
	assert.Error(t, err)
}

func TestWidgetTokenGuard(t *testing.T) {
	widgetFromQuery := func(r *http.Request) string {
		return r.URL.Query().Get("widgetId")
	}

	var gotClaims *WidgetClaims
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims = WidgetClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	guard := WidgetTokenGuard(testSecret, widgetFromQuery)(next)

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		guard.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tools?widgetId=w1", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong widget", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/tools?widgetId=other", nil)
		r.Header.Set(HeaderWidgetToken, mintWidgetToken(t, testSecret, "w1", "widget"))

		rec := httptest.NewRecorder()
		guard.ServeHTTP(rec, r)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/tools?widgetId=w1", nil)
		r.Header.Set(HeaderWidgetToken, mintWidgetToken(t, testSecret, "w1", "websocket"))

		rec := httptest.NewRecorder()
		guard.ServeHTTP(rec, r)

		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, gotClaims)
		assert.Equal(t, "w1", gotClaims.WidgetID)
	})

	t.Run("unconfigured secret", func(t *testing.T) {
		unconfigured := WidgetTokenGuard("", widgetFromQuery)(next)
		rec := httptest.NewRecorder()
		unconfigured.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tools?widgetId=w1", nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestComputeWebhookSignature(t *testing.T) {
	sig := ComputeWebhookSignature("token", "https://example.com/api/webhooks/stream", map[string]string{
		"CallSid": "CA123",
		"From":    "+15551234",
	})

	// Same inputs, same signature; parameter order must not matter.
	again := ComputeWebhookSignature("token", "https://example.com/api/webhooks/stream", map[string]string{
		"From":    "+15551234",
		"CallSid": "CA123",
	})
	assert.Equal(t, sig, again)

	other := ComputeWebhookSignature("other-token", "https://example.com/api/webhooks/stream", nil)
	assert.NotEqual(t, sig, other)
}

func TestWebhookSignatureGuard(t *testing.T) {
	const authToken = "webhook-token"

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	guard := WebhookSignatureGuard(authToken)(next)

	signedRequest := func(t *testing.T, params url.Values) *http.Request {
		t.Helper()

		r := httptest.NewRequest(http.MethodPost, "/api/webhooks/stream", strings.NewReader(params.Encode()))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		r.Header.Set("X-Forwarded-Proto", "https")
		r.Header.Set("X-Forwarded-Host", "gateway.example.com")

		flat := make(map[string]string, len(params))
		for k, vs := range params {
			flat[k] = vs[0]
		}
		sig := ComputeWebhookSignature(authToken, "https://gateway.example.com/api/webhooks/stream", flat)
		r.Header.Set(HeaderWebhookSignature, sig)
		return r
	}

	t.Run("valid signature", func(t *testing.T) {
		rec := httptest.NewRecorder()
		guard.ServeHTTP(rec, signedRequest(t, url.Values{"CallSid": {"CA123"}}))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing signature", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/api/webhooks/stream", nil)
		rec := httptest.NewRecorder()
		guard.ServeHTTP(rec, r)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("tampered body", func(t *testing.T) {
		r := signedRequest(t, url.Values{"CallSid": {"CA123"}})
		r.Body = http.NoBody
		r.PostForm = url.Values{"CallSid": {"CA999"}}
		r.Form = r.PostForm

		rec := httptest.NewRecorder()
		guard.ServeHTTP(rec, r)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unconfigured token", func(t *testing.T) {
		unconfigured := WebhookSignatureGuard("")(next)
		rec := httptest.NewRecorder()
		unconfigured.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/webhooks/stream", nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestRequestURL(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://internal:8080/api/tools?widgetId=w1", nil)
	assert.Equal(t, "http://internal:8080/api/tools?widgetId=w1", RequestURL(r))

	r.Header.Set("X-Forwarded-Proto", "https, http")
	r.Header.Set("X-Forwarded-Host", "gateway.example.com, internal:8080")
	assert.Equal(t, "https://gateway.example.com/api/tools?widgetId=w1", RequestURL(r))
}
