package transport

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/clubpulse/internal/dashboard"
	"github.com/pitabwire/clubpulse/internal/export"
	"github.com/pitabwire/clubpulse/model"
)

// DashboardService is the session API the handlers drive. Implemented by
// dashboard.Service.
type DashboardService interface {
	Create(ctx context.Context, rctx *model.RequestContext) (dashboard.State, error)
	Get(ctx context.Context, rctx *model.RequestContext, id string) (dashboard.State, error)
	Delete(ctx context.Context, rctx *model.RequestContext, id string) error
	Dispatch(ctx context.Context, rctx *model.RequestContext, id string, action dashboard.Action) (dashboard.State, error)
	LocationWise(ctx context.Context, rctx *model.RequestContext, id string) ([]model.LocationStats, error)
}

// LookupProvider serves option lists. Implemented by lookup.Provider.
type LookupProvider interface {
	Get(ctx context.Context, rctx *model.RequestContext, lookupID, q string) (model.LookupResponse, error)
}

// Exporter generates CSV exports. Implemented by export.Exporter.
type Exporter interface {
	Export(ctx context.Context, rctx *model.RequestContext, filters model.FilterState, req export.Request) (model.ExportResult, error)
}

// requestContext fetches the RequestContext or answers 401.
func requestContext(w http.ResponseWriter, r *http.Request) (*model.RequestContext, bool) {
	rctx := model.RequestContextFrom(r.Context())
	if rctx == nil {
		WriteError(w, r, model.NewUnauthorizedError("missing request context"))
		return nil, false
	}
	return rctx, true
}

func handleSessionCreate(svc DashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		st, err := svc.Create(r.Context(), rctx)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		w.Header().Set("Location", "/ui/sessions/"+st.ID)
		WriteJSON(w, http.StatusCreated, st)
	}
}

func handleSessionGet(svc DashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		st, err := svc.Get(r.Context(), rctx, chi.URLParam(r, "sessionId"))
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, st)
	}
}

func handleSessionDelete(svc DashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		if err := svc.Delete(r.Context(), rctx, chi.URLParam(r, "sessionId")); err != nil {
			WriteError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleDispatch(svc DashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		var action dashboard.Action
		if err := decodeJSON(r, &action); err != nil {
			WriteError(w, r, err)
			return
		}
		if action.Type == "" {
			WriteError(w, r, model.NewBadRequestError("action type is required"))
			return
		}
		st, err := svc.Dispatch(r.Context(), rctx, chi.URLParam(r, "sessionId"), action)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, st)
	}
}

func handleLocationWise(svc DashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		rows, err := svc.LocationWise(r.Context(), rctx, chi.URLParam(r, "sessionId"))
		if err != nil {
			WriteError(w, r, err)
			return
		}
		if rows == nil {
			rows = []model.LocationStats{}
		}
		WriteJSON(w, http.StatusOK, map[string]any{"data": rows})
	}
}

func handleExport(svc DashboardService, exporter Exporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		var req export.Request
		if err := decodeJSON(r, &req); err != nil {
			WriteError(w, r, err)
			return
		}
		st, err := svc.Get(r.Context(), rctx, chi.URLParam(r, "sessionId"))
		if err != nil {
			WriteError(w, r, err)
			return
		}
		res, err := exporter.Export(r.Context(), rctx, st.Applied, req)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}

func handleLookup(provider LookupProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		lookupID := chi.URLParam(r, "lookupId")
		q := r.URL.Query().Get("q")

		resp, err := provider.Get(r.Context(), rctx, lookupID, q)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}
