package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"pricehub/internal/application/port"
	"pricehub/internal/application/service"
	"pricehub/internal/domain"
	"pricehub/internal/interfaces/ws"
)

// StatusReporter is implemented by service.StatusService.
type StatusReporter interface {
	Snapshot() service.Status
}

type Deps struct {
	Addr   string
	WsPath string
	Hub    http.Handler
	Status StatusReporter
	Prices port.PriceReader
}

// Server exposes the client websocket plus the operator endpoints.
type Server struct {
	deps Deps
	srv  *http.Server
}

func NewServer(d Deps) *Server {
	if d.WsPath == "" {
		d.WsPath = "/ws"
	}
	s := &Server{deps: d}
	s.srv = &http.Server{
		Addr:              d.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.deps.Hub != nil {
		mux.Handle(s.deps.WsPath, s.deps.Hub)
	}
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/prices", s.handlePrices)
	return mux
}

// Run serves until ctx is cancelled, then shuts down within shutdownTimeout.
// Hijacked websocket connections are not waited for; the hub closes them.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	ln, err := net.Listen("tcp", s.deps.Addr)
	if err != nil {
		return err
	}
	log.Info().Str("addr", ln.Addr().String()).Str("ws_path", s.deps.WsPath).Msg("http server listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown")
		return err
	}
	log.Info().Msg("http server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := struct {
		Status   string `json:"status"`
		Upstream string `json:"upstream"`
	}{Status: "ok", Upstream: "unknown"}

	if s.deps.Status != nil {
		if s.deps.Status.Snapshot().UpstreamConnected {
			health.Upstream = "connected"
		} else {
			// still serving cached prices and accepting clients
			health.Status = "degraded"
			health.Upstream = "disconnected"
		}
	}
	writeJSON(w, http.StatusOK, health)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Status == nil {
		http.Error(w, "status unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Status.Snapshot())
}

// handlePrices dumps the cache as price frames; ?symbols=BTCUSDT,ETHUSDT filters.
func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	if s.deps.Prices == nil {
		writeJSON(w, http.StatusOK, []ws.PriceFrame{})
		return
	}

	var ticks []domain.PriceTick
	if q := r.URL.Query().Get("symbols"); q != "" {
		for _, sym := range domain.CanonicalSymbols(strings.Split(q, ",")) {
			if t, ok := s.deps.Prices.Get(sym); ok {
				ticks = append(ticks, t)
			}
		}
	} else {
		for _, t := range s.deps.Prices.GetAll() {
			ticks = append(ticks, t)
		}
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i].Symbol < ticks[j].Symbol })

	out := make([]ws.PriceFrame, 0, len(ticks))
	for _, t := range ticks {
		out = append(out, ws.NewPriceFrame(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("write response failed")
	}
}
