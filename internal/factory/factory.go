package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"enquiry-service/internal/bucketing"
	"enquiry-service/internal/client"
	"enquiry-service/internal/config"
	"enquiry-service/internal/encryption"
	"enquiry-service/internal/events"
	"enquiry-service/internal/hashing"
	"enquiry-service/internal/notify"
	"enquiry-service/internal/repository"
	"enquiry-service/internal/repository/memory"
	"enquiry-service/internal/repository/postgres"
	redisrepo "enquiry-service/internal/repository/redis"
	"enquiry-service/internal/repository/scylla"
	"enquiry-service/internal/search"
	"enquiry-service/internal/service"
	"enquiry-service/internal/util"
)

const (
	purgeInterval      = time.Minute
	searchSyncInterval = 5 * time.Minute
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config *config.Config

	// Clients
	databaseClient   *client.DatabaseClient
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.Manager
	fingerprinter     *bucketing.Fingerprinter

	// Stores and delivery
	otpStore          repository.OTPStore
	otpStoreName      string
	enquiryRepository *postgres.EnquiryRepository
	searchIndex       *search.ElasticIndex
	eventSink         events.Sink
	smsSender         notify.SMSSender
	mailer            notify.Mailer
	dispatcher        *notify.Dispatcher

	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config:        cfg,
		fingerprinter: bucketing.NewFingerprinter(),
		closed:        make(chan struct{}),
	}

	if err := factory.initializeClients(); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := factory.initializeManagers(); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}

	factory.initializeStores()
	factory.initializeDelivery()

	if factory.searchIndex != nil {
		go factory.syncSearchIndex()
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("otp_store", factory.otpStoreName),
		util.Bool("search_index", factory.searchIndex != nil),
		util.Bool("kafka_events", factory.kafkaProducer != nil),
		util.Bool("clickhouse_events", factory.clickhouseClient != nil),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
	)

	return factory, nil
}

// initializeClients connects to every configured backend. The enquiry
// database is required; the rest degrade to in-process fallbacks outside
// production.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger := util.Get()
	var initErrors []error

	if err := f.config.Validate(); err != nil {
		return err
	}

	// Enquiry database
	db, err := client.NewDatabaseClient(f.config, logger)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	f.databaseClient = db

	// Redis
	if f.config.OTP.Store == "redis" {
		if redisClient, err := client.NewRedisClient(f.config, logger); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
		} else {
			f.redisClient = redisClient
			if err := f.redisClient.HealthCheck(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
			} else {
				util.Info("Redis client initialized and healthy")
			}
		}
	}

	// ScyllaDB
	if f.config.OTP.Store == "scylla" {
		if scyllaClient, err := scylla.NewScyllaClient(f.config, logger); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
		} else {
			f.scyllaClient = scyllaClient
			if err := f.scyllaClient.HealthCheck(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
			} else {
				util.Info("ScyllaDB client initialized and healthy")
			}
		}
	}

	// Kafka
	if len(f.config.Kafka.Brokers) > 0 {
		if producer, err := client.NewKafkaProducer(f.config, logger); err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
		}
	}

	// Elasticsearch
	if f.config.Elasticsearch.URL != "" {
		if esClient, err := client.NewElasticsearchClient(f.config, logger); err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
		} else {
			f.esClient = esClient
			index := search.NewElasticIndex(esClient, f.config.Elasticsearch.Index, util.Named("search"))
			if err := index.EnsureIndex(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("elasticsearch index: %w", err))
			} else {
				f.searchIndex = index
				util.Info("Elasticsearch index ready", util.String("index", f.config.Elasticsearch.Index))
			}
		}
	}

	// ClickHouse
	if f.config.Clickhouse.URL != "" {
		if chClient, err := client.NewClickHouseClient(f.config, logger); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
		} else {
			f.clickhouseClient = chClient
			util.Info("ClickHouse client initialized and healthy")
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// initializeManagers resolves the OTP pepper (through KMS when enabled)
// and builds the hasher
func (f *Factory) initializeManagers() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var kmsAPI encryption.KMSAPI
	if f.config.KMS.Enabled {
		kmsClient, err := encryption.NewKMSClient(ctx, f.config)
		if err != nil {
			return err
		}
		kmsAPI = kmsClient
	}
	f.encryptionManager = encryption.NewManager(f.config, kmsAPI)

	pepper, err := f.encryptionManager.ResolvePepper(ctx)
	if err != nil {
		return err
	}

	f.hasher, err = hashing.NewHasher(f.config, pepper)
	if err != nil {
		return err
	}

	util.Info("Managers initialized successfully",
		util.Bool("kms_enabled", f.config.KMS.Enabled),
		util.Duration("argon2_cost", f.hasher.Benchmark(3)),
	)
	return nil
}

// initializeStores picks the OTP backend named by OTP_STORE, falling back
// to the in-memory store when that backend is unavailable
func (f *Factory) initializeStores() {
	f.enquiryRepository = postgres.NewEnquiryRepository(f.databaseClient.DB)

	switch {
	case f.config.OTP.Store == "redis" && f.redisClient != nil:
		f.otpStore, f.otpStoreName = redisrepo.NewOTPStore(f.redisClient), "redis"
	case f.config.OTP.Store == "scylla" && f.scyllaClient != nil:
		f.otpStore, f.otpStoreName = scylla.NewOTPStore(f.scyllaClient), "scylla"
	default:
		if f.config.OTP.Store != "memory" {
			util.Warn("OTP store unavailable, using in-memory store",
				util.String("requested", f.config.OTP.Store))
		}
		store := memory.NewOTPStore()
		f.otpStore, f.otpStoreName = store, "memory"
		go f.purgeExpired(store)
	}
}

// syncSearchIndex backfills the search index from the database, and again
// whenever a failed write leaves it out of sync, until the factory closes
func (f *Factory) syncSearchIndex() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-f.closed
		cancel()
	}()

	ticker := time.NewTicker(searchSyncInterval)
	defer ticker.Stop()
	for {
		if !f.searchIndex.Ready() {
			if _, err := f.searchIndex.Backfill(ctx, f.enquiryRepository); err != nil && ctx.Err() == nil {
				util.Warn("Search index backfill failed", util.ErrorField(err))
			}
		}
		select {
		case <-f.closed:
			return
		case <-ticker.C:
		}
	}
}

// purgeExpired drops expired in-memory OTP records until the factory closes
func (f *Factory) purgeExpired(store *memory.OTPStore) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-f.closed:
			return
		case now := <-ticker.C:
			if n := store.Purge(now); n > 0 {
				util.Debug("Purged expired OTP records", util.Int("count", n))
			}
		}
	}
}

// initializeDelivery builds the SMS sender, mailer, event sinks and the
// background dispatcher. Missing credentials select console implementations.
func (f *Factory) initializeDelivery() {
	cfg := f.config

	if cfg.TwilioConfigured() {
		var opts []notify.TwilioOption
		if cfg.Twilio.Channel == notify.ChannelWhatsApp {
			opts = append(opts, notify.WithWhatsApp())
		}
		f.smsSender = notify.NewTwilioSender(
			cfg.Twilio.AccountSID,
			cfg.Twilio.AuthToken,
			cfg.Twilio.PhoneNumber,
			cfg.Notification.CompanyName,
			cfg.OTP.ExpiryMinutes,
			util.Named("sms"),
			opts...,
		)
	} else {
		util.Warn("Twilio credentials not set, OTP codes will be logged instead of sent")
		f.smsSender = notify.NewConsoleSender(util.Named("sms"))
	}

	if cfg.SMTPConfigured() {
		f.mailer = notify.NewSMTPMailer(
			cfg.SMTP.Host,
			cfg.SMTP.Port,
			cfg.SMTP.User,
			cfg.SMTP.Password,
			cfg.SMTP.SenderEmail,
			cfg.OTP.DeliveryTimeout,
		)
	} else {
		util.Warn("SMTP credentials not set, e-mails will be logged instead of sent")
		f.mailer = notify.NewConsoleMailer(util.Named("mail"))
	}

	var sinks events.Multi
	if f.kafkaProducer != nil {
		sinks = append(sinks, events.NewKafkaSink(f.kafkaProducer, f.kafkaProducer.Close))
	}
	if f.clickhouseClient != nil {
		sink := events.NewClickHouseSink(f.clickhouseClient, f.clickhouseClient.Close)
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := sink.EnsureSchema(ctx)
		cancel()
		if err != nil {
			util.Warn("ClickHouse events table unavailable", util.ErrorField(err))
		}
		sinks = append(sinks, sink)
	}
	if len(sinks) == 0 {
		f.eventSink = events.Nop{}
	} else {
		f.eventSink = sinks
	}

	f.dispatcher = notify.NewDispatcher(f.mailer, cfg.Notification, cfg.OTP.DeliveryTimeout, util.Named("dispatcher"))
}

// ==============================
// Service Factory
// ==============================
func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		deps := service.Dependencies{
			OTPStore:        f.otpStore,
			Enquiries:       f.enquiryRepository,
			Hasher:          f.hasher,
			Fingerprinter:   f.fingerprinter,
			SMS:             f.smsSender,
			Notifier:        f.dispatcher,
			Events:          f.eventSink,
			OTPTTL:          f.config.OTPTTL(),
			DeliveryTimeout: f.config.OTP.DeliveryTimeout,
		}
		if f.searchIndex != nil {
			deps.Index = f.searchIndex
		}
		f.serviceFactory = service.NewServiceFactory(deps, util.Get())
	}
	return f.serviceFactory
}

// ==============================
// Health Checks
// ==============================

type healthCheck func(ctx context.Context) error

// HealthCheck runs every dependency check concurrently. A nil entry means
// the dependency is healthy.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	checks := map[string]healthCheck{}
	if f.databaseClient != nil {
		checks["database"] = f.databaseClient.HealthCheck
	} else {
		checks["database"] = func(context.Context) error { return fmt.Errorf("database client not initialized") }
	}
	if f.otpStore != nil {
		checks["otp_store"] = f.otpStore.HealthCheck
	}
	if f.searchIndex != nil {
		checks["elasticsearch"] = f.searchIndex.HealthCheck
	}
	if f.clickhouseClient != nil {
		checks["clickhouse"] = f.clickhouseClient.HealthCheck
	}
	if f.kafkaProducer != nil {
		checks["kafka"] = f.kafkaProducer.HealthCheck
	}

	var mu sync.Mutex
	results := make(map[string]error, len(checks))

	var g errgroup.Group
	for name, check := range checks {
		name, check := name, check
		g.Go(func() error {
			err := check(ctx)
			mu.Lock()
			results[name] = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Close drains background work and releases clients in reverse order of
// creation
func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.dispatcher != nil {
			if !f.dispatcher.WaitTimeout(f.config.OTP.DeliveryTimeout) {
				util.Warn("Background deliveries still running at shutdown")
			}
		}

		// closes the Kafka producer and ClickHouse connection it wraps
		if f.eventSink != nil {
			if err := f.eventSink.Close(); err != nil {
				util.Error("Failed to close event sinks", util.ErrorField(err))
			} else {
				util.Info("Event sinks closed")
			}
		} else {
			if f.kafkaProducer != nil {
				_ = f.kafkaProducer.Close()
			}
			if f.clickhouseClient != nil {
				_ = f.clickhouseClient.Close()
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
			util.Info("Elasticsearch client closed")
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		if f.databaseClient != nil {
			if err := f.databaseClient.Close(); err != nil {
				util.Error("Failed to close database client", util.ErrorField(err))
			} else {
				util.Info("Database client closed")
			}
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
		}

		util.Info("Factory shutdown completed")
		util.Sync()
	})

	return nil
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) Logger() *zap.Logger {
	return util.Get()
}

