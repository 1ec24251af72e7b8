package utils

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/intervo/stream-gateway/internal/infrastructure/json"
)

const (
	HeaderWidgetToken      = "X-Widget-Token"
	HeaderWebhookSignature = "X-Twilio-Signature"

	purposeWidget    = "widget"
	purposeWebsocket = "websocket"
)

type contextKey string

const widgetClaimsKey contextKey = "widgetClaims"

// WidgetClaims is the payload of a widget-scoped token: which widget it was
// minted for and what it may be used for.
type WidgetClaims struct {
	WidgetID string `json:"widgetId"`
	Purpose  string `json:"purpose,omitempty"`
	jwt.RegisteredClaims
}

// ExtractWidgetToken pulls the widget token from the Authorization bearer
// header or the X-Widget-Token fallback.
func ExtractWidgetToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return r.Header.Get(HeaderWidgetToken)
}

// VerifyWidgetToken parses and validates a widget token against the shared
// secret and the widget it is expected to belong to.
func VerifyWidgetToken(tokenString, secret, expectedWidgetID string) (*WidgetClaims, error) {
	claims := &WidgetClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid widget token")
	}

	if claims.WidgetID == "" || expectedWidgetID == "" || claims.WidgetID != expectedWidgetID {
		return nil, errors.New("widget token does not match widget")
	}

	if claims.Purpose != "" && claims.Purpose != purposeWidget && claims.Purpose != purposeWebsocket {
		return nil, errors.New("widget token purpose not allowed")
	}

	return claims, nil
}

// WidgetTokenGuard authenticates widget-scoped requests. expectedWidgetID
// extracts the widget the request claims to act for (path or query param).
func WidgetTokenGuard(secret string, expectedWidgetID func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				json.WriteError(w, http.StatusInternalServerError, errors.New("widget secret not configured"), "Widget auth unavailable")
				return
			}

			tokenString := ExtractWidgetToken(r)
			if tokenString == "" {
				json.WriteError(w, http.StatusUnauthorized, errors.New("unauthorized"), "Widget token required")
				return
			}

			claims, err := VerifyWidgetToken(tokenString, secret, expectedWidgetID(r))
			if err != nil {
				json.WriteError(w, http.StatusForbidden, err, "Invalid widget token")
				return
			}

			ctx := context.WithValue(r.Context(), widgetClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WidgetClaimsFromContext returns the verified claims attached by
// WidgetTokenGuard, or nil when the request was not widget-authenticated.
func WidgetClaimsFromContext(ctx context.Context) *WidgetClaims {
	claims, _ := ctx.Value(widgetClaimsKey).(*WidgetClaims)
	return claims
}

// ComputeWebhookSignature reproduces the provider's request signature:
// HMAC-SHA1 over the full URL concatenated with the sorted POST parameters,
// base64 encoded.
func ComputeWebhookSignature(authToken, url string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(url)
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(params[k])
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(sb.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// WebhookSignatureGuard rejects webhook requests whose signature does not
// match the shared auth token.
func WebhookSignatureGuard(authToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if authToken == "" {
				json.WriteError(w, http.StatusInternalServerError, errors.New("webhook auth token not configured"), "Webhook auth unavailable")
				return
			}

			signature := r.Header.Get(HeaderWebhookSignature)
			if signature == "" {
				json.WriteError(w, http.StatusForbidden, errors.New("forbidden"), "Missing webhook signature")
				return
			}

			if err := r.ParseForm(); err != nil {
				json.WriteBadRequestError(w, "Unparseable form body")
				return
			}

			params := make(map[string]string, len(r.PostForm))
			for k, vs := range r.PostForm {
				if len(vs) > 0 {
					params[k] = vs[0]
				}
			}

			expected := ComputeWebhookSignature(authToken, RequestURL(r), params)
			if !hmac.Equal([]byte(expected), []byte(signature)) {
				json.WriteError(w, http.StatusForbidden, errors.New("forbidden"), "Invalid webhook signature")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequestURL reconstructs the externally visible URL of the request, honoring
// proxy forwarding headers.
func RequestURL(r *http.Request) string {
	proto := r.Header.Get("X-Forwarded-Proto")
	if proto == "" {
		if r.TLS != nil {
			proto = "https"
		} else {
			proto = "http"
		}
	} else {
		proto = strings.TrimSpace(strings.Split(proto, ",")[0])
	}

	return proto + "://" + RequestHost(r) + r.URL.RequestURI()
}

// RequestHost resolves the externally visible host, preferring the
// proxy-supplied forwarding header over the local one.
func RequestHost(r *http.Request) string {
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		return r.Host
	}
	return strings.TrimSpace(strings.Split(host, ",")[0])
}
