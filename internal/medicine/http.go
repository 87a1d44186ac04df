package medicine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"MediStore/pkg/kit"
)

const (
	msgNotFound      = "Medicine not found"
	msgAlreadyExists = "Medicine already exists"
	msgEmpty         = "No medicines found"
	msgNoValidPrices = "No valid prices found"
	msgStorage       = "error reading medicine store"
)

var outcomeMessages = map[Outcome]string{
	NotFound:      msgNotFound,
	AlreadyExists: msgAlreadyExists,
	Empty:         msgEmpty,
	NoValidPrices: msgNoValidPrices,
}

type Server struct {
	Store   Store
	Log     *zap.Logger
	Metrics *kit.Metrics
}

type listResp struct {
	Medicines []Record `json:"medicines"`
}

type averageResp struct {
	AveragePrice float64 `json:"average_price"`
}

// mountAPI registers the medicine endpoints. writeLimit, when set, wraps the
// mutating routes.
func (s *Server) mountAPI(r chi.Router, writeLimit func(http.Handler) http.Handler) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", s.ready)

	r.Get("/medicines", s.list)
	r.Get("/medicines/{name}", s.get)
	r.Get("/average", s.average)

	r.Group(func(wr chi.Router) {
		if writeLimit != nil {
			wr.Use(writeLimit)
		}
		wr.Post("/create", s.create)
		wr.Post("/update", s.update)
		wr.Put("/update", s.update)
		wr.Delete("/delete", s.delete)
	})
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
	defer cancel()

	if err := s.Store.Ping(ctx); err != nil {
		s.logger().Warn("readyz failed", zap.Error(err))
		kit.WriteError(w, r, http.StatusServiceUnavailable, "not ready", nil)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	recs, err := s.Store.ListAll(r.Context())
	if err != nil {
		s.storageFailure(w, r, "list", err)
		return
	}
	s.observe("list", OK)
	if recs == nil {
		recs = []Record{}
	}
	kit.WriteJSON(w, http.StatusOK, listResp{Medicines: recs})
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	// chi matches against RawPath when the request path needed escaping.
	name := chi.URLParam(r, "name")
	if r.URL.RawPath != "" {
		if unescaped, err := url.PathUnescape(name); err == nil {
			name = unescaped
		}
	}

	rec, out, err := s.Store.GetByName(r.Context(), name)
	if err != nil {
		s.storageFailure(w, r, "get", err, zap.String("name", name))
		return
	}
	s.observe("get", out)
	if out != OK {
		kit.WriteOutcome(w, outcomeMessages[out])
		return
	}
	kit.WriteJSON(w, http.StatusOK, rec)
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	f, ok := s.decodeForm(w, r, true)
	if !ok {
		return
	}

	out, err := s.Store.Create(r.Context(), f.Name, f.Price)
	s.finishMutation(w, r, "create", f.Name, out, err)
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	f, ok := s.decodeForm(w, r, true)
	if !ok {
		return
	}

	out, err := s.Store.UpdatePrice(r.Context(), f.Name, f.Price)
	s.finishMutation(w, r, "update", f.Name, out, err)
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) {
	f, ok := s.decodeForm(w, r, false)
	if !ok {
		return
	}

	out, err := s.Store.Delete(r.Context(), f.Name)
	s.finishMutation(w, r, "delete", f.Name, out, err)
}

func (s *Server) average(w http.ResponseWriter, r *http.Request) {
	avg, out, err := s.Store.AveragePrice(r.Context())
	if err != nil {
		s.storageFailure(w, r, "average", err)
		return
	}
	s.observe("average", out)
	if out != OK {
		kit.WriteOutcome(w, outcomeMessages[out])
		return
	}
	kit.WriteJSON(w, http.StatusOK, averageResp{AveragePrice: avg})
}

var pastTense = map[string]string{
	"create": "created",
	"update": "updated",
	"delete": "deleted",
}

func (s *Server) finishMutation(w http.ResponseWriter, r *http.Request, op, name string, out Outcome, err error) {
	if errors.Is(err, ErrInvalidPrice) {
		kit.WriteError(w, r, http.StatusUnprocessableEntity, "invalid form", map[string]any{"price": err.Error()})
		return
	}
	if err != nil {
		s.storageFailure(w, r, op, err, zap.String("name", name))
		return
	}
	s.observe(op, out)
	if out != OK {
		kit.WriteOutcome(w, outcomeMessages[out])
		return
	}
	kit.WriteMessage(w, fmt.Sprintf("Medicine '%s' %s successfully", name, pastTense[op]))
}

func (s *Server) storageFailure(w http.ResponseWriter, r *http.Request, op string, err error, fields ...zap.Field) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.Metrics.ObserveStoreOp(op, "cancelled")
		kit.WriteError(w, r, http.StatusServiceUnavailable, "request cancelled", nil)
		return
	}

	s.Metrics.ObserveStoreOp(op, "storage_error")
	fields = append(fields,
		zap.String("op", op),
		zap.String("request_id", chimw.GetReqID(r.Context())),
		zap.Error(err),
	)
	s.logger().Error("medicine store failed", fields...)
	kit.WriteError(w, r, http.StatusInternalServerError, msgStorage, nil)
}

func (s *Server) observe(op string, out Outcome) {
	s.Metrics.ObserveStoreOp(op, out.String())
}

func (s *Server) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}
