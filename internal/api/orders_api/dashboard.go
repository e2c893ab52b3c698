package orders_api

import (
	"context"
	"net/http"
	"strings"

	"github.com/BearBump/OrderBox/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

func orderFilter(r *http.Request) (models.OrderFilter, error) {
	q := r.URL.Query()
	f := models.OrderFilter{Search: strings.TrimSpace(q.Get("search"))}

	if v := q.Get("status"); v != "" && v != "all" {
		s, err := models.ParseStatus(v)
		if err != nil {
			return f, errors.Wrap(errBadRequest, err.Error())
		}
		f.Status = &s
	}
	if v := q.Get("channel"); v != "" && v != "all" {
		c, err := models.ParseChannel(v)
		if err != nil {
			return f, errors.Wrap(errBadRequest, err.Error())
		}
		f.Channel = &c
	}
	for _, v := range q["store"] {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" && id != "all" {
				f.Stores = append(f.Stores, id)
			}
		}
	}

	var err error
	if f.Limit, err = queryInt(r, "limit"); err != nil {
		return f, err
	}
	if f.Offset, err = queryInt(r, "offset"); err != nil {
		return f, err
	}
	return f, nil
}

func (a *API) listOrders(w http.ResponseWriter, r *http.Request) {
	f, err := orderFilter(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	page, err := a.d.Orders.ListOrders(r.Context(), f)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *API) listPacks(w http.ResponseWriter, r *http.Request) {
	f, err := orderFilter(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	page, err := a.d.Orders.ListPacks(r.Context(), f)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// orderStats counts today's orders unless since is given.
func (a *API) orderStats(w http.ResponseWriter, r *http.Request) {
	f, err := orderFilter(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	since, err := parseTime(r.URL.Query().Get("since"))
	if err != nil {
		fail(w, r, errors.Wrapf(errBadRequest, "since: %v", err))
		return
	}
	st, err := a.d.Orders.Stats(r.Context(), since, f)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) listCustomers(w http.ResponseWriter, r *http.Request) {
	f, err := orderFilter(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	rep, err := a.d.Orders.Customers(r.Context(), f)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (a *API) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := a.d.Orders.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (a *API) orderHistory(w http.ResponseWriter, r *http.Request) {
	out, err := a.d.Orders.ListHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": out})
}

type statusRequest struct {
	Status    string  `json:"status" validate:"required"`
	Notes     *string `json:"notes"`
	ChangedBy string  `json:"changed_by"`
}

func (a *API) changeStatus(w http.ResponseWriter, r *http.Request) {
	var body statusRequest
	if err := a.decode(r, &body); err != nil {
		fail(w, r, err)
		return
	}
	status, err := models.ParseStatus(body.Status)
	if err != nil {
		fail(w, r, errors.Wrap(errBadRequest, err.Error()))
		return
	}
	changes, err := a.d.Orders.ChangeStatus(r.Context(), chi.URLParam(r, "id"), status, body.ChangedBy, body.Notes)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "changes": changes})
}

type remisionRequest struct {
	Remision string `json:"remision" validate:"required"`
	Fecha    string `json:"fecha"`
	Actor    string `json:"actor"`
}

func (a *API) assignRemision(w http.ResponseWriter, r *http.Request) {
	var body remisionRequest
	if err := a.decode(r, &body); err != nil {
		fail(w, r, err)
		return
	}
	fecha, err := parseTime(body.Fecha)
	if err != nil {
		fail(w, r, errors.Wrapf(errBadRequest, "fecha: %v", err))
		return
	}
	evs, err := a.d.Orders.AssignRemision(r.Context(), chi.URLParam(r, "id"), body.Remision, fecha, body.Actor)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "events": evs})
}

func (a *API) listEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		fail(w, r, err)
		return
	}
	evs, err := a.d.Orders.ListFeed(r.Context(), limit)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evs})
}

// HandleOrderEvent stores one event consumed from the order events topic and
// drops the cached copy of the order it touched.
// Redelivered events are absorbed by the store's idempotent insert.
func (a *API) HandleOrderEvent(ctx context.Context, ev models.OrderEvent) error {
	err := a.d.Events.InsertEvent(ctx, ev)
	if ev.OrderID != "" {
		a.d.Orders.Invalidate(ctx, ev.OrderID)
	}
	return err
}
