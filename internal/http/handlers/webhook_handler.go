// Package handlers provides HTTP handler implementations for the public API.
//
// This file implements the GitHub webhook receiver. Deliveries are
// authenticated with the HMAC-SHA256 signature GitHub sends in
// X-Hub-Signature-256; anything that fails the constant-time check is
// rejected without a body read beyond the raw bytes already consumed.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/somdiproy/smartcode-review/internal/http/middleware"
	"github.com/somdiproy/smartcode-review/internal/webhook"
)

// WebhookResponse acknowledges an authenticated delivery.
type WebhookResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message" example:"event accepted"`
}

// GithubWebhook godoc
// @ID          githubWebhook
// @Summary     Receive a GitHub webhook delivery
// @Description Verifies the X-Hub-Signature-256 HMAC over the raw body and
// @Description acknowledges the event. Deliveries with a missing or wrong
// @Description signature are rejected; when no secret is configured every
// @Description delivery is rejected.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
//
// @Param       X-Hub-Signature-256  header  string  true  "sha256=<hex> HMAC of the body"
//
// @Success     200  {object}  handlers.WebhookResponse  "Event accepted"
// @Failure     401  {object}  handlers.ErrorResponse    "Signature missing or invalid"
// @Router      /webhook/github [post]
func (h *Handlers) GithubWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "could not read delivery body")
		return
	}

	sig := c.GetHeader("X-Hub-Signature-256")
	if !webhook.ValidSignature(h.webhookSecret, sig, body) {
		middleware.LoggerFrom(c).Warn().
			Str("event", c.GetHeader("X-GitHub-Event")).
			Msg("webhook delivery rejected")
		fail(c, http.StatusUnauthorized, ErrCodeAuth, "invalid webhook signature")
		return
	}

	ok(c, http.StatusOK, WebhookResponse{Success: true, Message: "event accepted"})
}
