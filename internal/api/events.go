package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fastprodman/farmpay/internal/infra/logging"
	"github.com/go-chi/chi/v5"
)

const keepAliveInterval = 15 * time.Second

// EventsHandler handles GET /payment/transaction/{id}/events: a
// server-sent event stream of the transaction, closed once it settles.
func (h *HandlerProvider) EventsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.FromContext(ctx)

	tx, err := h.svc.Transaction(ctx, UserID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	rc := http.NewResponseController(w)

	err = rc.SetWriteDeadline(time.Time{})
	if err != nil {
		log.Debug("clear write deadline", "err", err)
	}

	// Seed with the stored state so a new stream starts from it.
	h.events.Publish(ctx, tx)
	updates := h.events.Subscribe(ctx, tx.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err = fmt.Fprint(w, ": ping\n\n")
		case u, ok := <-updates:
			if !ok {
				_, _ = fmt.Fprint(w, "event: end\ndata: {}\n\n")
				_ = rc.Flush()

				return
			}

			var body []byte

			body, err = json.Marshal(u.Transaction)
			if err != nil {
				log.Error("encode event", "err", err)
				return
			}

			_, err = fmt.Fprintf(w, "event: transaction\ndata: %s\n\n", body)
		}

		if err != nil {
			return
		}

		err = rc.Flush()
		if err != nil {
			return
		}
	}
}
