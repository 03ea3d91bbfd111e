package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/grvsrs/codexbot/pkg/events"
	"github.com/grvsrs/codexbot/pkg/logger"
)

const (
	maxWebhookBody = 1 << 20 // 1 MiB
	rawBodyLimit   = 5000
)

// handleWebhook ingests a webhook from a provider, verifies its
// authentication, dedups the delivery, and publishes a WebhookEvent.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	provider := strings.ToLower(r.PathValue("provider"))
	if provider == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "provider required"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}

	var eventType, deliveryID string
	switch provider {
	case "github":
		if !verifyGitHubSignature(s.cfg.GitHubWebhookSecret, r.Header.Get("X-Hub-Signature-256"), body) {
			logger.WarnCF("api", "GitHub webhook signature verification failed", map[string]interface{}{
				"remote": r.RemoteAddr,
			})
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
			return
		}
		eventType = r.Header.Get("X-GitHub-Event")
		deliveryID = r.Header.Get("X-GitHub-Delivery")

	default:
		if !verifySharedSecret(s.cfg.WebhookAPISecret, r.Header.Get("Authorization")) {
			logger.WarnCF("api", "Webhook shared secret verification failed", map[string]interface{}{
				"provider": provider,
				"remote":   r.RemoteAddr,
			})
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		eventType = r.Header.Get("X-Event-Type")
		deliveryID = r.Header.Get("X-Delivery-ID")
	}

	if eventType == "" {
		eventType = "unknown"
	}
	if deliveryID == "" {
		deliveryID = uuid.NewString()
	}

	payload := parsePayload(body)

	if s.store != nil {
		fresh, err := s.store.RecordWebhookDelivery(r.Context(), provider, eventType, deliveryID, body)
		if err != nil {
			logger.ErrorCF("api", "Failed to record webhook delivery", map[string]interface{}{
				"provider": provider,
				"error":    err.Error(),
			})
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage failure"})
			return
		}
		if !fresh {
			logger.InfoCF("api", "Duplicate webhook delivery ignored", map[string]interface{}{
				"provider":    provider,
				"delivery_id": deliveryID,
			})
			writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
			return
		}
	}

	event := events.NewWebhookEvent(provider, eventType, payload, deliveryID)
	s.bus.Publish(event)

	logger.InfoCF("api", "Webhook accepted", map[string]interface{}{
		"provider":    provider,
		"event_type":  eventType,
		"delivery_id": deliveryID,
	})

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":   "accepted",
		"event_id": event.EventID(),
	})
}

// parsePayload decodes the body as a JSON object. Non-object or
// malformed bodies become a raw_body payload, truncated.
func parsePayload(body []byte) map[string]interface{} {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err == nil && payload != nil {
		return payload
	}
	raw := string(body)
	if len(raw) > rawBodyLimit {
		raw = raw[:rawBodyLimit]
	}
	return map[string]interface{}{"raw_body": raw}
}

// verifyGitHubSignature checks the X-Hub-Signature-256 HMAC. Fails
// closed when no secret is configured.
func verifyGitHubSignature(secret, signature string, body []byte) bool {
	if secret == "" {
		return false
	}
	const prefix = "sha256="
	if !strings.HasPrefix(signature, prefix) {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.TrimPrefix(signature, prefix)))
}

// verifySharedSecret checks a Bearer shared secret for generic
// providers. Fails closed when no secret is configured.
func verifySharedSecret(secret, authorization string) bool {
	if secret == "" {
		return false
	}
	token := strings.TrimPrefix(authorization, "Bearer ")
	if token == authorization {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}
