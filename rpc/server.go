package rpc

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"dscd/native/bank"
	"dscd/native/dsc"
	"dscd/native/oracle"
	"dscd/observability"
	"dscd/token"
)

const requestLimit = 1 << 20 // 1 MiB

// Server exposes the collateral engine over HTTP. Callers are identified by
// the bech32 account address carried in each request body; there is no
// signature verification here, operators front the API with their own
// authentication layer.
type Server struct {
	engine *dsc.Engine
	ledger *bank.Ledger
	stable *token.Stablecoin
	feeds  map[string]*oracle.ManualFeed
	log    *slog.Logger

	mu       sync.Mutex
	visitors map[string]*rate.Limiter
	perSec   rate.Limit
	burst    int
}

// NewServer wires the API around an engine and its supporting ledgers. feeds
// holds the manual price feeds keyed by asset symbol so operators can post
// price updates.
func NewServer(engine *dsc.Engine, ledger *bank.Ledger, stable *token.Stablecoin, feeds map[string]*oracle.ManualFeed, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		engine:   engine,
		ledger:   ledger,
		stable:   stable,
		feeds:    feeds,
		log:      log,
		visitors: make(map[string]*rate.Limiter),
		perSec:   rate.Limit(50),
		burst:    100,
	}
}

// Router builds the HTTP handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(s.observe)
	r.Use(s.throttle)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(v1 chi.Router) {
		v1.Post("/collateral/deposit", s.handleDeposit)
		v1.Post("/collateral/redeem", s.handleRedeem)
		v1.Post("/mint", s.handleMint)
		v1.Post("/burn", s.handleBurn)
		v1.Post("/deposit-and-mint", s.handleDepositAndMint)
		v1.Post("/redeem-for-dsc", s.handleRedeemForDsc)
		v1.Post("/liquidate", s.handleLiquidate)

		v1.Get("/accounts/{address}", s.handleAccount)
		v1.Get("/assets", s.handleAssets)
		v1.Get("/token", s.handleToken)

		v1.Post("/token/approve", s.handleApprove)
		v1.Post("/oracle/price", s.handleSetPrice)
		v1.Post("/bank/fund", s.handleFund)
	})

	return r
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) observe(next http.Handler) http.Handler {
	metrics := observability.HTTP()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		done := metrics.Track()
		defer done()
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		metrics.Observe(route, r.Method, rec.status, start)
		if rec.status >= http.StatusInternalServerError {
			s.log.Error("request failed", "route", route, "method", r.Method, "status", rec.status)
		}
	})
}

func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.obtainLimiter(clientID(r)).Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) obtainLimiter(id string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.visitors[id]
	if !ok {
		limiter = rate.NewLimiter(s.perSec, s.burst)
		s.visitors[id] = limiter
	}
	return limiter
}

func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
