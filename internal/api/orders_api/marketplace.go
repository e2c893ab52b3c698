package orders_api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

func writePDF(w http.ResponseWriter, mime, filename string, body []byte) {
	if mime == "" {
		mime = "application/pdf"
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (a *API) mlLabel(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("shipment_id"))
	if id == "" {
		fail(w, r, errors.Wrap(errBadRequest, "shipment_id is required"))
		return
	}
	pdf, err := a.d.Labels.GetLabel(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	writePDF(w, "application/pdf", "etiqueta_ML_"+id+".pdf", pdf)
}

func splitIDs(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (a *API) falabellaLabel(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("order_item_ids")
	ids := splitIDs(raw)
	if len(ids) == 0 {
		fail(w, r, errors.Wrap(errBadRequest, "order_item_ids is required"))
		return
	}
	doc, err := a.d.Falabella.GetDocument(r.Context(), ids)
	if err != nil {
		fail(w, r, err)
		return
	}
	writePDF(w, doc.MimeType, "etiqueta_"+strings.Join(ids, ",")+".pdf", doc.Data)
}

type readyToShipRequest struct {
	OrderItemIDs []string `json:"order_item_ids" validate:"required,min=1,dive,required"`
	PackageID    string   `json:"package_id" validate:"required"`
}

func (a *API) falabellaReadyToShip(w http.ResponseWriter, r *http.Request) {
	var body readyToShipRequest
	if err := a.decode(r, &body); err != nil {
		fail(w, r, err)
		return
	}
	res, err := a.d.Falabella.SetStatusToReadyToShip(r.Context(), body.OrderItemIDs, body.PackageID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": res})
}

type registerWebhookRequest struct {
	CallbackURL string `json:"callbackUrl" validate:"required,url"`
}

func (a *API) falabellaRegisterWebhook(w http.ResponseWriter, r *http.Request) {
	var body registerWebhookRequest
	if err := a.decode(r, &body); err != nil {
		fail(w, r, err)
		return
	}
	res, err := a.d.Falabella.CreateWebhook(r.Context(), body.CallbackURL)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "webhookId": res.WebhookID, "data": res.Body})
}

type pushRequest struct {
	OrderID string `json:"order_id" validate:"required"`
}

func (a *API) pushToHalcon(w http.ResponseWriter, r *http.Request) {
	var body pushRequest
	if err := a.decode(r, &body); err != nil {
		fail(w, r, err)
		return
	}
	res, err := a.d.Partner.Push(r.Context(), body.OrderID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": res})
}
