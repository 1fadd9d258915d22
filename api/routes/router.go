package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/payrecon/api/controllers"
	paymentcontrollers "github.com/angelmondragon/payrecon/api/controllers/payments"
	purchasecontrollers "github.com/angelmondragon/payrecon/api/controllers/purchases"
	subscriptioncontrollers "github.com/angelmondragon/payrecon/api/controllers/subscriptions"
	webhookcontrollers "github.com/angelmondragon/payrecon/api/controllers/webhooks"
	"github.com/angelmondragon/payrecon/api/middleware"
	"github.com/angelmondragon/payrecon/pkg/config"
	"github.com/angelmondragon/payrecon/pkg/logger"
)

// RouterParams collects everything the HTTP surface depends on.
type RouterParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	DB            controllers.Pinger
	Redis         controllers.Pinger
	Idempotency   middleware.ReplayStore
	Gatherer      prometheus.Gatherer
	HTTPMetrics   middleware.RequestObserver
	Payments      paymentcontrollers.Service
	Verifier      paymentcontrollers.Verifier
	Purchases     purchasecontrollers.Service
	Subscriptions subscriptioncontrollers.Service
	Webhooks      webhookcontrollers.EventHandler
}

func NewRouter(p RouterParams) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, p.HTTPMetrics),
		middleware.CORS(cfg.CORS.AllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    p.DB,
			"redis": p.Redis,
		}))
	})

	if p.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(p.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/gateway", webhookcontrollers.GatewayWebhook(p.Webhooks, logg))
	})

	r.Get("/api/v1/payments/config", paymentcontrollers.PaymentConfig(p.Payments, logg))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(p.Idempotency, logg))

		r.Route("/api/v1/payments", func(r chi.Router) {
			r.Get("/", paymentcontrollers.PaymentList(p.Payments, logg))
			r.Post("/", paymentcontrollers.PaymentInitiate(p.Payments, logg))
			r.Post("/card", paymentcontrollers.PaymentChargeCard(p.Payments, logg))
			r.Post("/verify/{transactionId}", paymentcontrollers.PaymentVerify(p.Verifier, logg))
			r.Get("/{reference}", paymentcontrollers.PaymentGet(p.Payments, logg))
		})

		r.Route("/api/v1/purchases", func(r chi.Router) {
			r.Get("/", purchasecontrollers.PurchaseList(p.Purchases, logg))
			r.Get("/{productType}/{productId}", purchasecontrollers.PurchaseOwnership(p.Purchases, logg))
		})

		r.Route("/api/v1/subscriptions", func(r chi.Router) {
			r.Get("/", subscriptioncontrollers.SubscriptionList(p.Subscriptions, logg))
			r.Route("/{subscriptionId}", func(r chi.Router) {
				r.Get("/", subscriptioncontrollers.SubscriptionFetch(p.Subscriptions, logg))
				r.Post("/cancel", subscriptioncontrollers.SubscriptionCancel(p.Subscriptions, logg))
				r.Post("/renew", subscriptioncontrollers.SubscriptionRenew(p.Subscriptions, logg))
				r.Post("/pause", subscriptioncontrollers.SubscriptionPause(p.Subscriptions, logg))
				r.Post("/resume", subscriptioncontrollers.SubscriptionResume(p.Subscriptions, logg))
				r.Put("/payment-source", subscriptioncontrollers.SubscriptionPaymentSource(p.Subscriptions, logg))
			})
		})
	})

	return r
}
