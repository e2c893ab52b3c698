// Package orders_api serves the dashboard, the marketplace webhooks and the
// cron-triggered jobs over HTTP.
package orders_api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/BearBump/OrderBox/internal/integrations/marketplace"
	"github.com/BearBump/OrderBox/internal/integrations/marketplace/falabella"
	"github.com/BearBump/OrderBox/internal/integrations/partner/halcon"
	"github.com/BearBump/OrderBox/internal/models"
	"github.com/BearBump/OrderBox/internal/services/orders"
	"github.com/BearBump/OrderBox/internal/services/partner"
	"github.com/BearBump/OrderBox/internal/services/reconcile"
	"github.com/BearBump/OrderBox/internal/services/syncer"
	"github.com/BearBump/OrderBox/internal/storage/pgorders"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// webhookTimeout bounds the background ingest started by a webhook.
const webhookTimeout = 2 * time.Minute

type Syncer interface {
	Run(ctx context.Context, req syncer.Request) (syncer.Summary, error)
	IngestFalabella(ctx context.Context, orderIDs []string) (syncer.Summary, error)
	IngestMercadoLibre(ctx context.Context, resource string) (syncer.Summary, error)
}

type Orders interface {
	ListOrders(ctx context.Context, f models.OrderFilter) (orders.OrdersPage, error)
	ListPacks(ctx context.Context, f models.OrderFilter) (orders.PacksPage, error)
	Stats(ctx context.Context, since time.Time, f models.OrderFilter) (models.OrderStats, error)
	Customers(ctx context.Context, f models.OrderFilter) (orders.CustomersReport, error)
	GetOrder(ctx context.Context, id string) (models.Order, error)
	ChangeStatus(ctx context.Context, id string, status models.Status, changedBy string, notes *string) ([]orders.StatusChange, error)
	AssignRemision(ctx context.Context, id, remision string, fecha time.Time, actor string) ([]models.OrderEvent, error)
	ListHistory(ctx context.Context, id string) ([]models.StatusHistoryEntry, error)
	ListFeed(ctx context.Context, limit int) ([]models.OrderEvent, error)
	Invalidate(ctx context.Context, ids ...string)
}

type Partner interface {
	Push(ctx context.Context, id string) (halcon.PushResult, error)
}

type MLStatus interface {
	Run(ctx context.Context, opts reconcile.MLStatusOptions) (reconcile.MLStatusResult, error)
}

type PartnerStatus interface {
	Run(ctx context.Context, opts reconcile.PartnerOptions) (reconcile.PartnerResult, error)
}

type LabelPrinter interface {
	GetLabel(ctx context.Context, shipmentID string) ([]byte, error)
}

type Falabella interface {
	GetDocument(ctx context.Context, orderItemIDs []string) (*falabella.Document, error)
	SetStatusToReadyToShip(ctx context.Context, orderItemIDs []string, packageID string) (json.RawMessage, error)
	CreateWebhook(ctx context.Context, callbackURL string) (*falabella.WebhookResult, error)
}

type EventStore interface {
	InsertEvent(ctx context.Context, ev models.OrderEvent) error
}

type Deps struct {
	Syncer        Syncer
	Orders        Orders
	Partner       Partner
	MLStatus      MLStatus
	PartnerStatus PartnerStatus
	Labels        LabelPrinter
	Falabella     Falabella
	Events        EventStore

	// CronSecret, when set, is required as a Bearer token on the job endpoints.
	CronSecret string
	// AllowedOrigins for CORS; empty allows any origin.
	AllowedOrigins []string
}

type API struct {
	d        Deps
	validate *validator.Validate
	bg       sync.WaitGroup
}

func New(d Deps) *API {
	return &API{d: d, validate: newValidator()}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	return v
}

// Wait blocks until background webhook ingests have finished.
func (a *API) Wait() {
	a.bg.Wait()
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)

	origins := a.d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/sync-ml", a.sync(models.ChannelMercadoLibre))
		r.Post("/sync-wix", a.sync(models.ChannelWix))
		r.Post("/sync-falabella", a.sync(models.ChannelFalabella))

		r.Post("/falabella-webhook", a.falabellaWebhook)
		r.Post("/ml-webhook", a.mlWebhook)

		r.Get("/ml-label", a.mlLabel)
		r.Get("/falabella-label", a.falabellaLabel)
		r.Post("/falabella-ready-to-ship", a.falabellaReadyToShip)
		r.Post("/falabella-register-webhook", a.falabellaRegisterWebhook)
		r.Post("/push-to-halcon", a.pushToHalcon)

		r.Group(func(r chi.Router) {
			r.Use(a.requireCronSecret)
			r.Post("/sync-ml-status", a.syncMLStatus)
			r.Post("/sync-halcon-status", a.syncHalconStatus)
		})

		r.Get("/orders", a.listOrders)
		r.Get("/orders/stats", a.orderStats)
		r.Get("/packs", a.listPacks)
		r.Get("/customers", a.listCustomers)
		r.Get("/orders/{id}", a.getOrder)
		r.Get("/orders/{id}/history", a.orderHistory)
		r.Patch("/orders/{id}/status", a.changeStatus)
		r.Post("/orders/{id}/remision", a.assignRemision)
		r.Get("/events", a.listEvents)
	})
	return r
}

func (a *API) requireCronSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.d.CronSecret != "" && !bearerMatches(r.Header.Get("Authorization"), a.d.CronSecret) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerMatches(header, secret string) bool {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}

// background runs fn detached from the request, which has already been answered.
func (a *API) background(r *http.Request, name string, fn func(ctx context.Context) error) {
	ctx := context.WithoutCancel(r.Context())
	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		ctx, cancel := context.WithTimeout(ctx, webhookTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			slog.Error("webhook ingest failed", "webhook", name, "error", err.Error())
		}
	}()
}

var errBadRequest = errors.New("bad request")

// decode reads an optional JSON body into dst and validates it.
func (a *API) decode(r *http.Request, dst any) error {
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return errors.Wrapf(errBadRequest, "invalid body: %v", err)
	}
	if err := a.validate.Struct(dst); err != nil {
		return errors.Wrap(errBadRequest, validationMessage(err))
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fe.Field()+" is required")
		case "oneof":
			parts = append(parts, fe.Field()+" must be one of "+fe.Param())
		default:
			parts = append(parts, fe.Field()+" is invalid")
		}
	}
	return strings.Join(parts, "; ")
}

// statusFor maps domain errors to HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, syncer.ErrNotConfirmed),
		errors.Is(err, syncer.ErrUnsupportedResource),
		errors.Is(err, orders.ErrInvalidStatus),
		errors.Is(err, orders.ErrRemisionRequired):
		return http.StatusBadRequest
	case errors.Is(err, pgorders.ErrNotFound),
		errors.Is(err, falabella.ErrDocumentNotFound),
		errors.Is(err, falabella.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, partner.ErrNotEligible):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()), "error", err.Error())
	}
	msg := err.Error()
	if errors.Is(err, marketplace.ErrNotConfigured) {
		msg = "missing credentials: " + msg
	}
	writeError(w, code, msg)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"success": false, "error": msg})
}
