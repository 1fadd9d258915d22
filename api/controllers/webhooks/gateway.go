package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/angelmondragon/payrecon/api/responses"
	webhooksvc "github.com/angelmondragon/payrecon/internal/webhooks"
	pkgerrors "github.com/angelmondragon/payrecon/pkg/errors"
	"github.com/angelmondragon/payrecon/pkg/logger"
)

const maxWebhookBodyBytes = 1 << 20

// EventHandler verifies and applies one processor event.
type EventHandler interface {
	HandleEvent(ctx context.Context, event *webhooksvc.Event) (string, error)
}

type webhookResponse struct {
	Outcome string `json:"outcome"`
}

// GatewayWebhook receives processor transaction events. Any non-2xx answer
// makes the processor redeliver, so only applied, duplicate and ignored
// events are acknowledged.
func GatewayWebhook(handler EventHandler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if handler == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		event, err := webhooksvc.ParseEvent(payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		outcome, err := handler.HandleEvent(ctx, event)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(logg.WithFields(ctx, map[string]any{
				"event":   event.Event,
				"outcome": outcome,
			}), "gateway webhook handled")
		}
		responses.WriteSuccess(w, webhookResponse{Outcome: outcome})
	}
}
