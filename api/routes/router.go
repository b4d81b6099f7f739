package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pineoslabs/referral-ledger/api/controllers"
	"github.com/pineoslabs/referral-ledger/api/middleware"
	"github.com/pineoslabs/referral-ledger/internal/ledger"
	"github.com/pineoslabs/referral-ledger/internal/rules"
	"github.com/pineoslabs/referral-ledger/pkg/config"
	"github.com/pineoslabs/referral-ledger/pkg/db"
	"github.com/pineoslabs/referral-ledger/pkg/logger"
	"github.com/pineoslabs/referral-ledger/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	registry *prometheus.Registry,
	ledgerService ledger.Service,
	rulesService rules.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})

	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/ledger", func(r chi.Router) {
		r.Post("/credit", controllers.LedgerCredit(ledgerService, logg))
		r.Post("/debit", controllers.LedgerDebit(ledgerService, logg))
		r.Post("/reverse", controllers.LedgerReverse(ledgerService, logg))
		r.Get("/balance/{userID}", controllers.LedgerBalance(ledgerService, logg))
		r.Get("/entries", controllers.LedgerEntries(ledgerService, logg))
	})

	r.Route("/api/v1/rules", func(r chi.Router) {
		r.Post("/", controllers.RuleCreate(rulesService, logg))
		r.Get("/", controllers.RuleList(rulesService, logg))
		r.Post("/evaluate", controllers.RuleEvaluate(rulesService, logg))
		r.Get("/{id}", controllers.RuleGet(rulesService, logg))
		r.Delete("/{id}", controllers.RuleDeactivate(rulesService, logg))
	})

	return r
}
