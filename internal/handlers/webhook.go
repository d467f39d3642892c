package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/whoop-sleep-sync/internal/auth"
	"github.com/PratikDhanave/whoop-sleep-sync/internal/ingest"
)

type WebhookProcessor interface {
	Process(ctx context.Context, d ingest.Delivery) (ingest.Ack, error)
}

// RegisterWebhookRoutes registers the ingestion endpoint.
//
// POST /webhook
// - Signed with X-WHOOP-Signature over timestamp || raw body
// - Answers "ok" once the event is recorded, whatever the sleep sync outcome
func RegisterWebhookRoutes(r gin.IRoutes, proc WebhookProcessor, maxBodyBytes int64) {
	r.POST("/webhook", func(c *gin.Context) {
		// The signature covers the exact bytes received, so the body is read
		// raw and never re-encoded.
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not read body"})
			return
		}

		_, err = proc.Process(c.Request.Context(), ingest.Delivery{
			Signature: c.GetHeader(auth.SignatureHeader),
			Timestamp: c.GetHeader(auth.TimestampHeader),
			Body:      body,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.String(http.StatusOK, "ok")
	})
}
