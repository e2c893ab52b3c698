package orders_api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/OrderBox/internal/models"
	"github.com/BearBump/OrderBox/internal/services/reconcile"
	"github.com/BearBump/OrderBox/internal/services/syncer"
	"github.com/pkg/errors"
)

const maxWebhookBody = 1 << 20

type syncRequest struct {
	Mode    string `json:"mode" validate:"omitempty,oneof=incremental full"`
	From    string `json:"from"`
	To      string `json:"to"`
	Confirm bool   `json:"confirm"`
}

type syncResponse struct {
	syncer.Summary
	Error string `json:"error,omitempty"`
}

func (a *API) sync(ch models.Channel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body syncRequest
		if err := a.decode(r, &body); err != nil {
			fail(w, r, err)
			return
		}
		from, err := parseTime(body.From)
		if err != nil {
			fail(w, r, errors.Wrapf(errBadRequest, "from: %v", err))
			return
		}
		to, err := parseTime(body.To)
		if err != nil {
			fail(w, r, errors.Wrapf(errBadRequest, "to: %v", err))
			return
		}

		sum, err := a.d.Syncer.Run(r.Context(), syncer.Request{
			Channel: ch,
			Mode:    syncer.Mode(body.Mode),
			From:    from,
			To:      to,
			Confirm: body.Confirm,
		})
		if err != nil {
			code := statusFor(err)
			if code >= http.StatusInternalServerError {
				slog.Error("sync failed", "channel", ch, "error", err.Error())
			}
			writeJSON(w, code, syncResponse{Summary: sum, Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, syncResponse{Summary: sum})
	}
}

// parseTime accepts RFC 3339 or a bare date. Empty is the zero time.
func parseTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, errors.Errorf("invalid time %q", v)
	}
	return t.UTC(), nil
}

// falabellaOrderIDs reads OrderId (scalar or array) or order_id from a webhook payload.
func falabellaOrderIDs(body []byte) []string {
	var payload struct {
		OrderID  json.RawMessage `json:"OrderId"`
		OrderID2 json.RawMessage `json:"order_id"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}
	raw := payload.OrderID
	if len(raw) == 0 || string(raw) == "null" {
		raw = payload.OrderID2
	}
	if len(raw) == 0 {
		return nil
	}

	var many []json.RawMessage
	if err := json.Unmarshal(raw, &many); err != nil {
		many = []json.RawMessage{raw}
	}
	out := make([]string, 0, len(many))
	for _, m := range many {
		if id := scalarString(m); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func scalarString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func readWebhook(r *http.Request) []byte {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		slog.Warn("webhook body read", "path", r.URL.Path, "error", err.Error())
	}
	return body
}

func (a *API) falabellaWebhook(w http.ResponseWriter, r *http.Request) {
	body := readWebhook(r)
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})

	ids := falabellaOrderIDs(body)
	if len(ids) == 0 {
		slog.Warn("falabella webhook without order ids", "payload", string(body))
		return
	}
	a.background(r, "falabella", func(ctx context.Context) error {
		sum, err := a.d.Syncer.IngestFalabella(ctx, ids)
		if err != nil {
			return err
		}
		slog.Info("falabella webhook ingested", "orders", ids, "inserted", sum.Inserted, "updated", sum.Updated)
		return nil
	})
}

type mlNotification struct {
	Resource string          `json:"resource"`
	Topic    string          `json:"topic"`
	UserID   json.RawMessage `json:"user_id"`
}

func (a *API) mlWebhook(w http.ResponseWriter, r *http.Request) {
	body := readWebhook(r)
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})

	var n mlNotification
	if err := json.Unmarshal(body, &n); err != nil {
		slog.Warn("ml webhook payload", "error", err.Error())
		return
	}
	if n.Topic != "orders_v2" {
		slog.Debug("ml webhook ignored", "topic", n.Topic, "resource", n.Resource)
		return
	}
	a.background(r, "mercadolibre", func(ctx context.Context) error {
		sum, err := a.d.Syncer.IngestMercadoLibre(ctx, n.Resource)
		if err != nil {
			return err
		}
		slog.Info("ml webhook ingested", "resource", n.Resource, "inserted", sum.Inserted, "updated", sum.Updated)
		return nil
	})
}

type mlStatusRequest struct {
	DaysBack int  `json:"days_back" validate:"gte=0,lte=365"`
	DryRun   bool `json:"dry_run"`
}

func (a *API) syncMLStatus(w http.ResponseWriter, r *http.Request) {
	var body mlStatusRequest
	if err := a.decode(r, &body); err != nil {
		fail(w, r, err)
		return
	}
	res, err := a.d.MLStatus.Run(r.Context(), reconcile.MLStatusOptions{DaysBack: body.DaysBack, DryRun: body.DryRun})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": res})
}

type partnerStatusRequest struct {
	DryRun          bool `json:"dry_run"`
	LookbackMinutes int  `json:"lookback_minutes" validate:"gte=0"`
}

func (a *API) syncHalconStatus(w http.ResponseWriter, r *http.Request) {
	var body partnerStatusRequest
	if err := a.decode(r, &body); err != nil {
		fail(w, r, err)
		return
	}
	res, err := a.d.PartnerStatus.Run(r.Context(), reconcile.PartnerOptions{
		Lookback: time.Duration(body.LookbackMinutes) * time.Minute,
		DryRun:   body.DryRun,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": res})
}

func queryInt(r *http.Request, name string) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.Wrapf(errBadRequest, "%s must be a non-negative integer", name)
	}
	return n, nil
}
