// Package httpapi exposes the auction ledger over HTTP and streams journaled
// events to websocket subscribers.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	Router *chi.Mux
}

func NewServer(handler *Handler, hub *Hub) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/owner", handler.GetOwner)
	r.Get("/metrics", handler.GetMetrics)

	r.Route("/auctions", func(r chi.Router) {
		r.Post("/", handler.CreateAuction)
		r.Get("/", handler.ListAuctions)
		r.Get("/{auctionId}", handler.GetAuction)
		r.Get("/{auctionId}/price", handler.GetPrice)
		r.Post("/{auctionId}/buy", handler.Buy)
	})

	r.Route("/accounts/{account}", func(r chi.Router) {
		r.Get("/", handler.GetBalance)
		r.Post("/deposit", handler.Deposit)
	})

	r.Get("/events", handler.ListEvents)
	if hub != nil {
		r.Get("/events/stream", hub.ServeHTTP)
	}

	return &Server{Router: r}
}

// requestLogger writes one structured line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("HTTP request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())))
	})
}
