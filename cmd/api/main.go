package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/BohdanKuzik/MamaSHO/internal/config"
	"github.com/BohdanKuzik/MamaSHO/internal/database"
	"github.com/BohdanKuzik/MamaSHO/internal/models"
	"github.com/BohdanKuzik/MamaSHO/internal/notify"
	"github.com/BohdanKuzik/MamaSHO/internal/payment"
	"github.com/BohdanKuzik/MamaSHO/internal/store"
)

type server struct {
	db       *sql.DB
	redis    *redis.Client
	cfg      *config.Config
	logger   zerolog.Logger
	notifier *notify.Notifier

	// gateway is nil when merchant credentials are not configured; the
	// payment endpoints answer with a configuration error in that case.
	gateway   *payment.Client
	processor *payment.Processor
}

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "storefront-api").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect to database")
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer rdb.Close()

	logger.Info().Msg("connected to database")

	srv := &server{
		db:       db,
		redis:    rdb,
		cfg:      cfg,
		logger:   logger,
		notifier: notify.New(cfg.Mail, logger),
	}

	gateway, err := payment.NewClient(cfg.Payment)
	if err != nil {
		if errors.Is(err, database.ErrGatewayNotConfigured) {
			logger.Warn().Msg("payment gateway credentials not configured, card payments disabled")
		} else {
			logger.Fatal().Err(err).Msg("init payment gateway")
		}
	} else {
		srv.gateway = gateway
		srv.processor = &payment.Processor{
			DB:     db,
			Client: gateway,
			Logger: logger,
			OnPaid: srv.notifyOrderPaid,
		}
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      srv.router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info().Str("port", cfg.Server.Port).Msg("server starting")
	if err := httpServer.ListenAndServe(); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}

func (s *server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Use(s.withHolder)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/products", func(r chi.Router) {
		r.Get("/", s.handleListProducts)
		r.Get("/{productID}", s.handleGetProduct)
		r.Post("/{productID}/reserve", s.handleReserveProduct)
		r.Put("/{productID}/stock", s.handleAdjustStock)
	})

	r.Route("/basket", func(r chi.Router) {
		r.Get("/", s.handleBasketDetail)
		r.Delete("/", s.handleBasketClear)
		r.Post("/items/{productID}", s.handleBasketAdd)
		r.Put("/items/{productID}", s.handleBasketUpdate)
		r.Delete("/items/{productID}", s.handleBasketRemove)
		r.Post("/merge", s.handleBasketMerge)
	})

	r.Post("/checkout", s.handleCheckout)

	r.Route("/orders", func(r chi.Router) {
		r.Get("/", s.handleListOrders)
		r.Get("/{orderID}", s.handleGetOrder)
		r.Post("/{orderID}/cancel", s.handleCancelOrder)
		r.Post("/{orderID}/status", s.handleUpdateOrderStatus)
		r.Get("/{orderID}/payment", s.handleOrderPayment)
		r.Get("/{orderID}/payment/status", s.handleOrderPaymentStatus)
	})

	r.Post("/payments/wayforpay/callback", s.handlePaymentCallback)

	return r
}

// notifyOrderPaid is the payment processor's paid hook: resolve the customer
// email and mail them in the background.
func (s *server) notifyOrderPaid(order *models.Order) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		customer, err := store.GetCustomerByID(ctx, s.db, order.CustomerID)
		if err != nil {
			s.logger.Error().Err(err).Int64("order_id", order.ID).Msg("resolve customer for paid notification")
			return
		}

		s.notifier.OrderPaid(order, customer.Email)
	}()
}
