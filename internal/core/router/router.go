// Package router maps the HTTP surface onto the feature, response and
// ingest services.
package router

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/survey-spatial-api/internal/core/model"
	"github.com/mohammed-shakir/survey-spatial-api/internal/core/observability"
	"github.com/mohammed-shakir/survey-spatial-api/internal/core/query"
	"github.com/mohammed-shakir/survey-spatial-api/internal/etag"
	"github.com/mohammed-shakir/survey-spatial-api/internal/export"
	"github.com/mohammed-shakir/survey-spatial-api/internal/features"
	"github.com/mohammed-shakir/survey-spatial-api/internal/ingest"
	mylog "github.com/mohammed-shakir/survey-spatial-api/internal/logger"
	"github.com/mohammed-shakir/survey-spatial-api/internal/responses"
)

type FeatureQuerier interface {
	Query(ctx context.Context, q model.QuerySpec) ([]model.Feature, error)
}

type ResponseService interface {
	List(ctx context.Context, surveyID string, f responses.Filters, p model.Paging, s model.SortOrder) ([]model.Response, error)
	ListByParcel(ctx context.Context, surveyID, parcelID string, p model.Paging, s model.SortOrder) ([]model.Response, error)
	GetOne(ctx context.Context, surveyID, responseID string) (*model.Response, error)
	Remove(ctx context.Context, surveyID string) (int, error)
	RemoveOne(ctx context.Context, surveyID, responseID string) (int, error)
}

type BatchInserter interface {
	InsertBatch(ctx context.Context, surveyID string, items []model.Response) ([]model.Response, error)
}

type Options struct {
	// AnswersVisible decides per request whether the answer map of each
	// response is returned. nil means always visible.
	AnswersVisible func(*http.Request) bool
	MaxBatchBytes  int64
	// StoreOpTimeout bounds every store call made for a request.
	StoreOpTimeout time.Duration
}

const defaultMaxBatchBytes = 8 << 20

type API struct {
	features  FeatureQuerier
	responses ResponseService
	ingest    BatchInserter
	logger    *slog.Logger
	opts      Options
}

func New(f FeatureQuerier, rs ResponseService, in BatchInserter, logger *slog.Logger, opts Options) *API {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxBatchBytes <= 0 {
		opts.MaxBatchBytes = defaultMaxBatchBytes
	}
	return &API{features: f, responses: rs, ingest: in, logger: logger, opts: opts}
}

// Register adds every API route to r.
func (a *API) Register(r chi.Router) {
	r.Get("/features", a.instrument("/features", a.getFeatures))
	r.Get("/features.{ext}", a.instrument("/features.{ext}", a.getFeatures))

	r.Route("/surveys/{sid}", func(r chi.Router) {
		r.Get("/responses", a.instrument("/surveys/{sid}/responses", a.listResponses))
		r.Get("/responses.{ext}", a.instrument("/surveys/{sid}/responses.{ext}", a.listResponses))
		r.Post("/responses", a.instrument("/surveys/{sid}/responses", a.postResponses))
		r.Delete("/responses", a.instrument("/surveys/{sid}/responses", a.deleteResponses))
		r.Get("/responses/in/{bbox}", a.instrument("/surveys/{sid}/responses/in/{bbox}", a.listResponsesInBBox))
		r.Get("/responses/{rid}", a.instrument("/surveys/{sid}/responses/{rid}", a.getResponse))
		r.Delete("/responses/{rid}", a.instrument("/surveys/{sid}/responses/{rid}", a.deleteResponse))
		r.Get("/parcels/{pid}/responses", a.instrument("/surveys/{sid}/parcels/{pid}/responses", a.listParcelResponses))
		r.Get("/csv", a.instrument("/surveys/{sid}/csv", a.exportAs(model.FormatCSV)))
		r.Get("/kml", a.instrument("/surveys/{sid}/kml", a.exportAs(model.FormatKML)))
	})
}

// Handler returns a router serving only the API routes.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	a.Register(r)
	return r
}

// TokenGate returns an AnswersVisible gate: answers are public, or visible
// to requests carrying the admin token in X-Admin-Token.
func TokenGate(public bool, token string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		if public {
			return true
		}
		got := r.Header.Get("X-Admin-Token")
		return token != "" && subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
	}
}

func (a *API) getFeatures(w http.ResponseWriter, r *http.Request) {
	q, err := query.ParseFeatureQuery(r.URL.Query(), chi.URLParam(r, "ext"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	ctx, cancel := a.storeCtx(r.Context())
	defer cancel()

	fs, err := a.features.Query(ctx, q)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.render(w, r, export.Features(fs), q.Format, model.FormatGeoJSON)
}

func (a *API) listResponses(w http.ResponseWriter, r *http.Request) {
	q, err := query.ParseResponseQuery(r.URL.Query(), chi.URLParam(r, "ext"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.list(w, r, responses.Filters{BBox: q.BBox}, q)
}

func (a *API) listResponsesInBBox(w http.ResponseWriter, r *http.Request) {
	bb, err := query.ParseBBox(chi.URLParam(r, "bbox"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	q, err := query.ParseResponseQuery(r.URL.Query(), "")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.list(w, r, responses.Filters{BBox: &bb}, q)
}

func (a *API) listParcelResponses(w http.ResponseWriter, r *http.Request) {
	q, err := query.ParseResponseQuery(r.URL.Query(), "")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	sid, pid := chi.URLParam(r, "sid"), chi.URLParam(r, "pid")
	ctx, cancel := a.storeCtx(mylog.WithSurvey(r.Context(), sid))
	defer cancel()

	rs, err := a.responses.ListByParcel(ctx, sid, pid, q.Paging, q.Sort)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.render(w, r, export.Responses(a.redact(r, rs)), q.Format, model.FormatJSON)
}

func (a *API) exportAs(f model.Format) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := query.ParseResponseQuery(r.URL.Query(), string(f))
		if err != nil {
			a.fail(w, r, err)
			return
		}
		a.list(w, r, responses.Filters{BBox: q.BBox}, q)
	}
}

func (a *API) list(w http.ResponseWriter, r *http.Request, f responses.Filters, q model.QuerySpec) {
	sid := chi.URLParam(r, "sid")
	ctx, cancel := a.storeCtx(mylog.WithSurvey(r.Context(), sid))
	defer cancel()

	rs, err := a.responses.List(ctx, sid, f, q.Paging, q.Sort)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.render(w, r, export.Responses(a.redact(r, rs)), q.Format, model.FormatJSON)
}

func (a *API) getResponse(w http.ResponseWriter, r *http.Request) {
	sid, rid := chi.URLParam(r, "sid"), chi.URLParam(r, "rid")
	ctx, cancel := a.storeCtx(mylog.WithSurvey(r.Context(), sid))
	defer cancel()

	resp, err := a.responses.GetOne(ctx, sid, rid)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	body := map[string]any{}
	if resp != nil {
		body["response"] = a.redact(r, []model.Response{*resp})[0]
	}
	b, err := json.Marshal(body)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.respond(w, r, export.Rendered{Body: b, ContentType: export.ContentTypeJSON})
}

func (a *API) postResponses(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")
	items, err := ingest.DecodeBatch(http.MaxBytesReader(w, r.Body, a.opts.MaxBatchBytes))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	ctx, cancel := a.storeCtx(mylog.WithSurvey(r.Context(), sid))
	defer cancel()

	out, err := a.ingest.InsertBatch(ctx, sid, items)
	var pf *ingest.PartialFailure
	if errors.As(err, &pf) {
		a.logger.ErrorContext(ctx, "batch insert partially failed",
			"inserted", pf.Inserted, "failed", len(pf.Failed))
		failed := pf.Failed
		if failed == nil {
			failed = []int{}
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"inserted": pf.Inserted,
			"failed":   failed,
		})
		return
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"responses": out})
}

func (a *API) deleteResponses(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")
	ctx, cancel := a.storeCtx(mylog.WithSurvey(r.Context(), sid))
	defer cancel()

	n, err := a.responses.Remove(ctx, sid)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (a *API) deleteResponse(w http.ResponseWriter, r *http.Request) {
	sid, rid := chi.URLParam(r, "sid"), chi.URLParam(r, "rid")
	ctx, cancel := a.storeCtx(mylog.WithSurvey(r.Context(), sid))
	defer cancel()

	n, err := a.responses.RemoveOne(ctx, sid, rid)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

// render serializes rs in the negotiated format and answers it through
// the ETag gate.
func (a *API) render(w http.ResponseWriter, r *http.Request, rs export.ResultSet, requested, def model.Format) {
	f := export.Negotiate(export.NegotiationInput{
		Requested:     requested,
		AcceptHeader:  r.Header.Get("Accept"),
		DefaultFormat: def,
	})
	out, err := export.Render(rs, f)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.respond(w, r, out)
}

// respond writes a rendered body, or 304 when If-None-Match already holds
// its fingerprint.
func (a *API) respond(w http.ResponseWriter, r *http.Request, out export.Rendered) {
	tag := etag.Fingerprint(out.Body)
	h := w.Header()
	h.Set("ETag", tag)
	h.Set("Vary", "Accept")
	if etag.Evaluate(tag, r.Header.Get("If-None-Match")) == etag.NotModified {
		observability.IncNotModified(routeOf(r))
		w.WriteHeader(http.StatusNotModified)
		return
	}
	h.Set("Content-Type", out.ContentType)
	if out.Disposition != "" {
		h.Set("Content-Disposition", out.Disposition)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.Body)
}

func (a *API) redact(r *http.Request, rs []model.Response) []model.Response {
	if a.opts.AnswersVisible == nil || a.opts.AnswersVisible(r) {
		return rs
	}
	out := make([]model.Response, len(rs))
	for i, resp := range rs {
		resp.Responses = nil
		out[i] = resp
	}
	return out
}

func (a *API) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.opts.StoreOpTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.opts.StoreOpTimeout)
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		a.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "status", code, "err", err)
		http.Error(w, http.StatusText(code), code)
		return
	}
	http.Error(w, err.Error(), code)
}

func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ingest.ErrMalformedBatch):
		return http.StatusBadRequest
	case errors.Is(err, features.ErrStore), errors.Is(err, responses.ErrStore):
		return http.StatusInternalServerError
	default:
		return query.HTTPStatus(err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", export.ContentTypeJSON)
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
