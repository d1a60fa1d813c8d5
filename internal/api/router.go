package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rwastockholm/custody-engine/internal/metrics"
)

// NewRouter mounts the service and hub on a chi router with the standard
// middleware stack.
func NewRouter(svc *Service, hub *WSHub) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"custody-engine"}`))
	})

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// The upgrade must not sit behind the request timeout.
		r.Get("/ws", hub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Post("/execute", svc.Execute)

			// Marketplace.
			r.Get("/listings", svc.ListListings)
			r.Post("/listings", svc.ListNft)
			r.Get("/listings/{tokenID}", svc.GetListing)
			r.Post("/listings/{tokenID}/buy", svc.BuyNft)

			// Staking.
			r.Get("/stakes", svc.ListPositions)
			r.Post("/stakes", svc.StakeNft)
			r.Get("/stakes/{tokenID}", svc.GetPosition)
			r.Get("/stakes/{tokenID}/rewards", svc.GetPendingRewards)
			r.Post("/stakes/{tokenID}/unstake", svc.UnstakeNft)
			r.Post("/stakes/{tokenID}/claim", svc.ClaimRewards)
			r.Get("/summary", svc.GetSummary)

			// Receive hooks called by token contracts.
			r.Post("/receive/nft", svc.ReceiveNft)
			r.Post("/receive/token", svc.ReceiveToken)

			// Admin.
			r.Get("/config", svc.GetConfig)
			r.Put("/config/exchange-rate", svc.SetExchangeRate)
			r.Put("/config/reward-rate", svc.SetRewardRate)
		})
	})

	return r
}

// cors allows cross-origin requests from browser frontends.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
