// Package webhook authenticates inbound courier webhooks and hands verified
// payloads off to asynchronous tracking refreshes.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// CodeWebhookAuthError is the stable machine-readable code for rejected
// webhook deliveries.
const CodeWebhookAuthError = "webhook_auth_error"

// Rejection reasons reported by the verifier.
const (
	ReasonStaleTimestamp   = "stale_timestamp"
	ReasonInvalidTimestamp = "invalid_timestamp"
	ReasonBadSignature     = "bad_signature"
	ReasonReplay           = "replay"
)

// AuthError is a webhook verification failure. It is always terminal: the
// delivery is rejected and never processed.
type AuthError struct {
	Courier string
	Reason  string
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return fmt.Sprintf("webhook rejected for %s: %s", e.Courier, e.Reason)
}

// Code returns the stable machine-readable error code.
func (e *AuthError) Code() string {
	return CodeWebhookAuthError
}

// VerifierConfig holds the verification windows.
type VerifierConfig struct {
	// MaxAge is the allowed clock skew between the delivery timestamp and now.
	MaxAge time.Duration
	// ReplayWindow is how long a seen (signature, timestamp) pair stays blocked.
	ReplayWindow time.Duration
}

func (c VerifierConfig) withDefaults() VerifierConfig {
	if c.MaxAge <= 0 {
		c.MaxAge = 5 * time.Minute
	}
	if c.ReplayWindow <= 0 {
		c.ReplayWindow = 10 * time.Minute
	}
	return c
}

// Verifier authenticates webhook deliveries: timestamp staleness, HMAC
// signature, and replay detection against a shared Redis store.
type Verifier struct {
	secrets map[string]string
	rdb     redis.UniversalClient
	cfg     VerifierConfig
	logger  *otelzap.Logger
	now     func() time.Time
}

// NewVerifier creates a verifier. secrets maps courier code to the shared
// webhook secret; couriers without an entry skip verification entirely.
func NewVerifier(secrets map[string]string, rdb redis.UniversalClient, cfg VerifierConfig, logger *otelzap.Logger) *Verifier {
	return &Verifier{
		secrets: secrets,
		rdb:     rdb,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		now:     time.Now,
	}
}

// Verify checks a webhook delivery. All checks must pass; the returned error
// is an *AuthError naming the first failed check. A courier with no
// configured secret passes unverified.
func (v *Verifier) Verify(ctx context.Context, courierCode string, body []byte, signature, timestamp string) error {
	secret, ok := v.secrets[courierCode]
	if !ok || secret == "" {
		v.logger.Ctx(ctx).Warn("No webhook secret configured, skipping verification",
			zap.String("courier", courierCode),
		)
		return nil
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return v.reject(ctx, courierCode, ReasonInvalidTimestamp)
	}

	age := v.now().Unix() - ts
	if age < 0 {
		age = -age
	}
	if age > int64(v.cfg.MaxAge.Seconds()) {
		return v.reject(ctx, courierCode, ReasonStaleTimestamp)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return v.reject(ctx, courierCode, ReasonBadSignature)
	}

	if seen, err := v.markSeen(ctx, courierCode, signature, timestamp); err != nil {
		// A degraded replay store must not drop legitimate deliveries;
		// reconciliation downstream is idempotent anyway.
		v.logger.Ctx(ctx).Warn("Webhook replay store unreachable, accepting delivery",
			zap.String("courier", courierCode),
			zap.Error(err),
		)
	} else if seen {
		return v.reject(ctx, courierCode, ReasonReplay)
	}

	return nil
}

// markSeen records the delivery identity and reports whether it was already
// present. SETNX makes the check-and-record atomic across workers. The key is
// scoped per courier so identical deliveries to different couriers never
// shadow each other.
func (v *Verifier) markSeen(ctx context.Context, courierCode, signature, timestamp string) (bool, error) {
	digest := sha256.Sum256([]byte(signature + "|" + timestamp))
	key := "webhook:replay:" + courierCode + ":" + hex.EncodeToString(digest[:])

	set, err := v.rdb.SetNX(ctx, key, 1, v.cfg.ReplayWindow).Result()
	if err != nil {
		return false, err
	}
	return !set, nil
}

func (v *Verifier) reject(ctx context.Context, courierCode, reason string) error {
	v.logger.Ctx(ctx).Warn("Webhook rejected",
		zap.String("courier", courierCode),
		zap.String("reason", reason),
	)
	return &AuthError{Courier: courierCode, Reason: reason}
}
