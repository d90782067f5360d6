package gateway

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"sagemarket/core/epoch"
	"sagemarket/core/events"
	"sagemarket/gateway/config"
	"sagemarket/gateway/idempotency"
	"sagemarket/gateway/middleware"
	"sagemarket/native/bank"
	"sagemarket/native/collateral"
	"sagemarket/native/common"
	"sagemarket/native/escrow"
	"sagemarket/native/fees"
	"sagemarket/native/mining"
	"sagemarket/native/orderbook"
	"sagemarket/native/vesting"
)

// Engines bundles the settlement engines the gateway fronts.
type Engines struct {
	Bank       *bank.Engine
	Fees       *fees.Engine
	Collateral *collateral.Engine
	Mining     *mining.Engine
	Vesting    *vesting.Engine
	Escrow     *escrow.Engine
	Orderbook  *orderbook.Engine
	Epochs     *epoch.Tracker
	Pauses     *common.PauseRegistry
	Feed       *events.Feed
}

// Server exposes the settlement engines over HTTP for operators, indexers
// and devnet tooling.
type Server struct {
	cfg     config.Config
	logger  *slog.Logger
	obs     *middleware.Observability
	auth    *middleware.Auth
	idem    *idempotency.Store
	engines Engines
	admin   [20]byte
}

// NewServer wires the gateway. The idempotency store may be nil when replay
// protection is disabled.
func NewServer(cfg config.Config, logger *slog.Logger, engines Engines, admin [20]byte, idem *idempotency.Store) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName:   cfg.Observability.ServiceName,
		MetricsPrefix: cfg.Observability.MetricsPrefix,
		LogRequests:   cfg.Observability.LogRequests,
		Enabled:       cfg.Observability.Metrics || cfg.Observability.LogRequests,
	}, logger)
	var auth *middleware.Auth
	if cfg.Auth.Enabled {
		auth = middleware.NewAuth(cfg.Auth.Secret, cfg.Auth.Issuer)
	}
	return &Server{
		cfg:     cfg,
		logger:  logger,
		obs:     obs,
		auth:    auth,
		idem:    idem,
		engines: engines,
		admin:   admin,
	}
}

// Handler builds the gateway's route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.obs.Middleware("root"))
	r.Use(s.replay)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.cfg.Observability.Metrics {
		r.Handle("/metrics", s.obs.MetricsHandler())
	}

	r.Route("/v1", func(v1 chi.Router) {
		if s.auth != nil {
			v1.Use(s.auth.Middleware)
		}
		v1.Get("/events", s.handleEvents)
		v1.Get("/epoch", s.handleEpoch)
		v1.Post("/epoch/advance", s.handleEpochAdvance)
		v1.Post("/admin/pause", s.handlePause)
		v1.Get("/balances/{addr}", s.handleBalances)

		v1.Route("/fees", func(sr chi.Router) {
			sr.Post("/process", s.handleFeesProcess)
			sr.Get("/config", s.handleFeesConfig)
			sr.Post("/config", s.handleFeesSetConfig)
			sr.Get("/stats", s.handleFeesStats)
			sr.Post("/staker/share", s.handleStakerShare)
			sr.Post("/staker/claim", s.handleStakerClaim)
			sr.Get("/staker/{addr}", s.handleStakerReward)
		})

		v1.Route("/collateral", func(sr chi.Router) {
			sr.Post("/deposit", s.handleCollateralDeposit)
			sr.Post("/withdraw/initiate", s.handleWithdrawInitiate)
			sr.Post("/withdraw/complete", s.handleWithdrawComplete)
			sr.Post("/slash", s.handleSlash)
			sr.Post("/weight", s.handlePotentialWeight)
			sr.Get("/{addr}", s.handleCollateralState)
		})

		v1.Route("/mining", func(sr chi.Router) {
			sr.Post("/jobs", s.handleJobCompletion)
			sr.Get("/pool", s.handleMiningPool)
			sr.Get("/workers/{addr}", s.handleWorkerStats)
		})

		v1.Route("/vesting", func(sr chi.Router) {
			sr.Post("/grants", s.handleVestingGrant)
			sr.Post("/claim", s.handleVestingClaim)
			sr.Get("/{addr}", s.handleVestingEntries)
		})

		v1.Route("/escrow", func(sr chi.Router) {
			sr.Post("/", s.handleEscrowCreate)
			sr.Get("/{id}", s.handleEscrowGet)
			sr.Post("/{id}/assign", s.handleEscrowAssign)
			sr.Post("/{id}/complete", s.handleEscrowComplete)
			sr.Post("/{id}/refund", s.handleEscrowRefund)
			sr.Post("/{id}/dispute", s.handleEscrowDispute)
			sr.Post("/{id}/resolve", s.handleEscrowResolve)
		})

		v1.Route("/orderbook", func(sr chi.Router) {
			sr.Post("/pairs", s.handlePairCreate)
			sr.Get("/pairs/{id}", s.handlePairGet)
			sr.Get("/pairs/{id}/best", s.handleBestPrices)
			sr.Get("/pairs/{id}/twap", s.handleTWAP)
			sr.Get("/pairs/{id}/stats", s.handleStats24h)
			sr.Post("/pairs/{id}/expire", s.handleExpireOrders)
			sr.Post("/orders", s.handleLimitOrder)
			sr.Post("/orders/market", s.handleMarketOrder)
			sr.Get("/orders/{id}", s.handleOrderGet)
			sr.Delete("/orders/{id}", s.handleOrderCancel)
			sr.Get("/trades/{id}", s.handleTradeGet)
			sr.Post("/fees/withdraw", s.handleBookFeesWithdraw)
		})
	})
	return r
}

// replay serves cached responses for repeated Idempotency-Key headers on
// mutating requests and records fresh ones.
func (s *Server) replay(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.idem == nil || (r.Method != http.MethodPost && r.Method != http.MethodDelete) {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		if rec, err := s.idem.Get(key); err == nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotent-Replay", "true")
			w.WriteHeader(rec.StatusCode)
			_, _ = w.Write(rec.Body)
			return
		}
		recorder := &captureWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		if err := s.idem.Put(key, recorder.status, recorder.body); err != nil {
			s.logger.Warn("idempotency store write failed", slog.String("error", err.Error()))
		}
	})
}

type captureWriter struct {
	http.ResponseWriter
	status int
	body   []byte
}

func (c *captureWriter) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *captureWriter) Write(p []byte) (int, error) {
	c.body = append(c.body, p...)
	return c.ResponseWriter.Write(p)
}
