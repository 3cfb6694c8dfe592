package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"

	cartController "github.com/Alturino/storefront/cart/pkg/controller"
	"github.com/Alturino/storefront/cart/pkg/store"
	checkoutController "github.com/Alturino/storefront/checkout/pkg/controller"
	"github.com/Alturino/storefront/checkout/pkg/publisher"
	"github.com/Alturino/storefront/checkout/pkg/gateway"
	"github.com/Alturino/storefront/checkout/pkg/session"
	"github.com/Alturino/storefront/internal/common/constants"
	commonErrors "github.com/Alturino/storefront/internal/common/errors"
	"github.com/Alturino/storefront/internal/config"
	"github.com/Alturino/storefront/internal/fetch"
	"github.com/Alturino/storefront/internal/infra"
	"github.com/Alturino/storefront/internal/log"
	"github.com/Alturino/storefront/internal/middleware"
	inOtel "github.com/Alturino/storefront/internal/otel"
	"github.com/Alturino/storefront/internal/schedule"
	"github.com/Alturino/storefront/internal/storage"
	notificationController "github.com/Alturino/storefront/notification/pkg/controller"
	"github.com/Alturino/storefront/notification/pkg/queue"
)

func runServer(c context.Context, configName string) {
	c, span := inOtel.Tracer.Start(c, "main runServer")
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, "main runServer").
		Logger()

	logger = logger.With().Str(log.KeyProcess, "initializing config").Logger()
	logger.Info().Msg("initializing config")
	cfg, err := config.InitConfig(c, configName)
	if err != nil {
		err = fmt.Errorf("failed initializing config with error=%w", err)
		commonErrors.HandleError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		return
	}
	logger.Info().Msg("initialized config")

	logger = log.InitLogger(cfg.Application.LogPath, cfg.Application.Env).
		With().
		Str(log.KeyAppName, constants.AppStorefront).
		Str(log.KeyTag, "main runServer").
		Logger()
	c = logger.WithContext(c)

	logger = logger.With().Str(log.KeyProcess, "initializing otel sdk").Logger()
	logger.Info().Msg("initializing otel sdk")
	shutdownFuncs, err := inOtel.InitOtelSdk(c, constants.AppStorefront, cfg.Otel)
	if err != nil {
		err = fmt.Errorf("failed initializing otel sdk with error=%w", err)
		commonErrors.HandleError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		return
	}
	defer func() {
		logger.Info().Msg("shutting down otel")
		if err := inOtel.ShutdownOtel(context.Background(), shutdownFuncs); err != nil {
			err = fmt.Errorf("failed shutting down otel with error=%w", err)
			logger.Error().Err(err).Msg(err.Error())
			return
		}
		logger.Info().Msg("shutdown otel")
	}()
	logger.Info().Msg("initialized otel sdk")

	logger = logger.With().
		Str(log.KeyProcess, "initializing storage").
		Str(log.KeyStorageDriver, cfg.Storage.Driver).
		Logger()
	logger.Info().Msg("initializing storage")
	c = logger.WithContext(c)
	st, closeStorage, err := newStorage(c, cfg)
	if err != nil {
		err = fmt.Errorf("failed initializing storage with error=%w", err)
		commonErrors.HandleError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		return
	}
	defer closeStorage()
	logger.Info().Msg("initialized storage")

	registerer := prometheus.DefaultRegisterer
	scheduler := schedule.NewLoop()
	defer scheduler.Close()

	logger = logger.With().Str(log.KeyProcess, "initializing notification queue").Logger()
	logger.Info().Msg("initializing notification queue")
	notifications := queue.New(scheduler,
		queue.WithGap(cfg.Notification.Gap),
		queue.WithRegisterer(registerer),
	)
	logger.Info().Msg("initialized notification queue")

	logger = logger.With().Str(log.KeyProcess, "initializing cart store").Logger()
	logger.Info().Msg("initializing cart store")
	c = logger.WithContext(c)
	cart := store.New(c, st, store.WithKey(cfg.Cart.Key), store.WithTTL(cfg.Cart.TTL))
	logger.Info().Msg("initialized cart store")

	logger = logger.With().Str(log.KeyProcess, "initializing payment session").Logger()
	logger.Info().Msg("initializing payment session")
	fetcher := fetch.New(notifications, fetch.Policy{
		MaxRetries:  cfg.Fetcher.MaxRetries,
		BaseDelay:   cfg.Fetcher.BaseDelay,
		Recoverable: cfg.Fetcher.RecoverableStatus,
	},
		fetch.WithNotificationDuration(cfg.Fetcher.NotificationLength),
		fetch.WithRegisterer(registerer),
	)
	methods := make([]session.Method, 0, len(cfg.Checkout.Methods))
	for _, m := range cfg.Checkout.Methods {
		logger.Info().
			Str(log.KeyPaymentMethod, m.Name).
			Str(log.KeyGatewayURL, m.BaseURL).
			Msg("registering payment method")
		methods = append(methods, session.Method{
			Name:     m.Name,
			Currency: m.Currency,
			Gateway:  gateway.NewClient(m, gateway.WithRetryableStatus(cfg.Fetcher.RecoverableStatus...)),
		})
	}
	opts := []session.Option{
		session.WithCurrency(cfg.Cart.Currency),
		session.WithCountdown(cfg.Checkout.Countdown),
		session.WithPollInterval(cfg.Checkout.PollInterval),
		session.WithNotificationDuration(cfg.Notification.DefaultDuration),
		session.WithRegisterer(registerer),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		settlements := publisher.NewKafka(cfg.Kafka)
		defer func() {
			if err := settlements.Close(); err != nil {
				err = fmt.Errorf("failed closing settlement publisher with error=%w", err)
				logger.Error().Err(err).Msg(err.Error())
			}
		}()
		worker := publisher.NewWorker(settlements, cfg.Kafka.BatchSize, cfg.Kafka.FlushInterval)
		wg := &sync.WaitGroup{}
		wg.Add(1)
		go worker.StartWorker(c, wg)
		defer wg.Wait()
		opts = append(opts, session.WithPublisher(worker))
		logger.Info().Str(log.KeyTopic, cfg.Kafka.Topic).Msg("publishing settlements to kafka")
	}
	payment := session.New(c, cart, scheduler, notifications, fetcher, methods, opts...)
	defer payment.Close()
	logger.Info().Msg("initialized payment session")

	logger = logger.With().Str(log.KeyProcess, "initializing router").Logger()
	logger.Info().Msg("initializing router")
	router := mux.NewRouter()
	router.Use(
		otelmux.Middleware(constants.AppStorefront),
		middleware.Logging(logger),
		middleware.RecoverPanic,
	)
	router.Handle("/metrics", promhttp.Handler())
	cartController.AttachCartController(router, cart)
	checkoutController.AttachCheckoutController(router, payment)
	notificationController.AttachNotificationController(router, notifications)
	logger.Info().Msg("initialized router")

	logger = logger.With().Str(log.KeyProcess, "initializing server").Logger()
	logger.Info().Msg("initializing server")
	server := http.Server{
		Addr: fmt.Sprintf("%s:%d", cfg.Application.Host, cfg.Application.Port),
		BaseContext: func(net.Listener) context.Context {
			return logger.WithContext(context.Background())
		},
		Handler:      router,
		ReadTimeout:  45 * time.Second,
		WriteTimeout: 45 * time.Second,
	}
	logger.Info().Msg("initialized server")

	go func() {
		logger.Info().Msgf("start listening request at %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			err = fmt.Errorf("encounter error=%w while running server", err)
			logger.Error().Err(err).Msg(err.Error())
		}
	}()

	<-c.Done()
	logger = logger.With().Str(log.KeyProcess, "shutting down server").Logger()
	logger.Info().Msg("received interuption signal shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		err = fmt.Errorf("failed shutting down server with error=%w", err)
		logger.Error().Err(err).Msg(err.Error())
		return
	}
	logger.Info().Msg("shutdown server")
}

func newStorage(c context.Context, cfg *config.Config) (storage.Storage, func(), error) {
	logger := zerolog.Ctx(c)

	switch cfg.Storage.Driver {
	case "", "memory":
		return storage.NewMemory(), func() {}, nil
	case "redis":
		client, err := infra.NewCacheClient(c, cfg.Cache)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			if err := client.Close(); err != nil {
				logger.Error().Err(err).Msg("failed closing cache")
			}
		}
		return storage.NewRedis(client, constants.AppStorefront, cfg.Cart.TTL), closeFn, nil
	case "postgres":
		pool, err := infra.NewDatabaseClient(c, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		return storage.NewPostgres(pool), pool.Close, nil
	}
	return nil, nil, fmt.Errorf("%w: %s", commonErrors.ErrUnknownStorage, cfg.Storage.Driver)
}
