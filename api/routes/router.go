package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/threadline-backend/api/controllers"
	cartcontrollers "github.com/angelmondragon/threadline-backend/api/controllers/cart"
	checkoutcontrollers "github.com/angelmondragon/threadline-backend/api/controllers/checkout"
	ordercontrollers "github.com/angelmondragon/threadline-backend/api/controllers/orders"
	webhookcontrollers "github.com/angelmondragon/threadline-backend/api/controllers/webhooks"
	"github.com/angelmondragon/threadline-backend/api/middleware"
	"github.com/angelmondragon/threadline-backend/internal/auth"
	"github.com/angelmondragon/threadline-backend/internal/cart"
	checkoutsvc "github.com/angelmondragon/threadline-backend/internal/checkout"
	"github.com/angelmondragon/threadline-backend/internal/orders"
	products "github.com/angelmondragon/threadline-backend/internal/products"
	"github.com/angelmondragon/threadline-backend/internal/shipping"
	"github.com/angelmondragon/threadline-backend/internal/webhooks"
	paystackwebhook "github.com/angelmondragon/threadline-backend/internal/webhooks/paystack"
	squarewebhook "github.com/angelmondragon/threadline-backend/internal/webhooks/square"
	"github.com/angelmondragon/threadline-backend/pkg/config"
	"github.com/angelmondragon/threadline-backend/pkg/enums"
	"github.com/angelmondragon/threadline-backend/pkg/logger"
	"github.com/angelmondragon/threadline-backend/pkg/redis"
)

// Dependencies are the services the HTTP surface dispatches to. Nil services answer
// with an internal error instead of panicking.
type Dependencies struct {
	DB        controllers.Pinger
	Redis     *redis.Client
	Idem      middleware.ResponseStore
	Storage   controllers.Pinger
	Analytics controllers.Pinger
	Gatherer  prometheus.Gatherer

	Auth     auth.Service
	Products products.Service
	Cart     cart.Service
	Checkout checkoutsvc.Service
	Shipping shipping.Service
	Orders   orders.Service

	PaystackWebhook *paystackwebhook.Service
	PaystackGuard   *webhooks.IdempotencyGuard
	SquareWebhook   *squarewebhook.Service
	SquareGuard     *webhooks.IdempotencyGuard
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.AllowedOrigins...),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readinessDeps(deps)))
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/paystack", paystackHandler(cfg, logg, deps))
		r.Post("/square", squareHandler(cfg, logg, deps))
	})

	idem := deps.Idem
	if idem == nil && deps.Redis != nil {
		idem = deps.Redis
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(deps.Auth, logg))
		r.Use(middleware.CartSession(logg))
		if idem != nil {
			r.Use(middleware.Idempotency(idem, logg))
		}

		r.Get("/products", controllers.ProductsList(deps.Products, logg))
		r.Get("/products/{productID}", controllers.ProductDetail(deps.Products, logg))
		r.Get("/categories", controllers.CategoriesList(deps.Products, logg))
		r.Get("/featured", controllers.FeaturedList(deps.Products, logg))

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", cartcontrollers.Fetch(deps.Cart, logg))
			r.Delete("/", cartcontrollers.Clear(deps.Cart, logg))
			r.Post("/size", cartcontrollers.SelectSize(deps.Cart, logg))
			r.Post("/lines", cartcontrollers.AddLine(deps.Cart, logg))
			r.Delete("/lines/{productID}/{size}", cartcontrollers.RemoveLine(deps.Cart, logg))
			r.Post("/lines/{productID}/{size}/increase", cartcontrollers.Increase(deps.Cart, logg))
			r.Post("/lines/{productID}/{size}/decrease", cartcontrollers.Decrease(deps.Cart, logg))
		})

		r.Route("/checkout", func(r chi.Router) {
			r.Get("/", checkoutcontrollers.Get(deps.Checkout, logg))
			r.Post("/", checkoutcontrollers.Begin(deps.Checkout, logg))
			r.Post("/shipping", checkoutcontrollers.Shipping(deps.Checkout, logg))
			r.Post("/shipping/profile", checkoutcontrollers.ShippingProfile(deps.Checkout, logg))
			r.Post("/back", checkoutcontrollers.Back(deps.Checkout, logg))
			r.Post("/payment", checkoutcontrollers.StartPayment(deps.Checkout, logg))
			r.Post("/payment/success", checkoutcontrollers.PaymentSuccess(deps.Checkout, logg))
			r.Post("/payment/cancel", checkoutcontrollers.PaymentCancel(deps.Checkout, logg))
			r.Post("/confirm", checkoutcontrollers.Confirm(deps.Checkout, logg))
		})

		r.Post("/auth/sign-out", controllers.AuthSignOut(deps.Auth, logg))

		r.Route("/me", func(r chi.Router) {
			r.Use(middleware.RequireAuth(logg))
			r.Get("/shipping", controllers.MyShippingProfile(deps.Shipping, logg))
			r.Delete("/shipping", controllers.DeleteMyShippingProfile(deps.Shipping, logg))
			r.Get("/orders", ordercontrollers.MyOrders(deps.Orders, logg))
			r.Get("/orders/{orderID}", ordercontrollers.MyOrderDetail(deps.Orders, logg))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(enums.MemberRoleAdmin, logg))
			r.Get("/stats", ordercontrollers.AdminStats(deps.Orders, logg))
			r.Get("/orders", ordercontrollers.AdminList(deps.Orders, logg))
			r.Post("/orders/{orderID}/payment-status", ordercontrollers.AdminPaymentStatus(deps.Orders, logg))

			r.Post("/products", controllers.AdminCreateProduct(deps.Products, logg))
			r.Put("/products/{productID}", controllers.AdminUpdateProduct(deps.Products, logg))
			r.Delete("/products/{productID}", controllers.AdminDeleteProduct(deps.Products, logg))
			r.Post("/categories", controllers.AdminCreateCategory(deps.Products, logg))
			r.Post("/featured", controllers.AdminCreateFeatured(deps.Products, logg))
			r.Put("/featured/{featuredID}", controllers.AdminUpdateFeatured(deps.Products, logg))
			r.Delete("/featured/{featuredID}", controllers.AdminDeleteFeatured(deps.Products, logg))
			r.Post("/uploads", controllers.AdminUploadImage(deps.Products, logg))
		})
	})

	return r
}

func readinessDeps(deps Dependencies) map[string]controllers.Pinger {
	out := map[string]controllers.Pinger{
		"db":        deps.DB,
		"storage":   deps.Storage,
		"analytics": deps.Analytics,
	}
	if deps.Redis != nil {
		out["redis"] = deps.Redis
	}
	return out
}

// Webhook services are pointers; a nil pointer must reach the controller as a nil
// interface so it answers with an internal error.
func paystackHandler(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.HandlerFunc {
	var svc webhookcontrollers.PaystackWebhookService
	if deps.PaystackWebhook != nil {
		svc = deps.PaystackWebhook
	}
	if deps.PaystackGuard == nil {
		return webhookcontrollers.PaystackWebhook(svc, cfg.Paystack.SecretKey, nil, logg)
	}
	return webhookcontrollers.PaystackWebhook(svc, cfg.Paystack.SecretKey, deps.PaystackGuard, logg)
}

func squareHandler(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.HandlerFunc {
	var svc webhookcontrollers.SquareWebhookService
	if deps.SquareWebhook != nil {
		svc = deps.SquareWebhook
	}
	if deps.SquareGuard == nil {
		return webhookcontrollers.SquareWebhook(svc, cfg.Square, nil, logg)
	}
	return webhookcontrollers.SquareWebhook(svc, cfg.Square, deps.SquareGuard, logg)
}
