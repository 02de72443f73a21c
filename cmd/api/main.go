package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/aluno-go-api/internal/config"
	"github.com/noah-isme/aluno-go-api/internal/database"
	"github.com/noah-isme/aluno-go-api/internal/handler"
	"github.com/noah-isme/aluno-go-api/internal/middleware"
	"github.com/noah-isme/aluno-go-api/internal/models"
	"github.com/noah-isme/aluno-go-api/internal/queue"
	"github.com/noah-isme/aluno-go-api/internal/repository"
	"github.com/noah-isme/aluno-go-api/internal/router"
	"github.com/noah-isme/aluno-go-api/internal/service"
	"github.com/noah-isme/aluno-go-api/pkg/ai"
	"github.com/noah-isme/aluno-go-api/pkg/chat"
	"github.com/noah-isme/aluno-go-api/pkg/sales"
	"github.com/noah-isme/aluno-go-api/pkg/whatsapp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.Student{},
		&models.Product{},
		&models.AccessRule{},
		&models.SalesProductMapping{},
		&models.Class{},
		&models.Enrollment{},
		&models.SalesBuyer{},
		&models.CourseStatusHistory{},
		&models.Event{},
		&models.Campaign{},
		&models.CampaignRecipient{},
		&models.MessageTemplate{},
	); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	natsConn, err := database.ConnectNATS(cfg.NatsURL)
	if err != nil {
		log.Fatalf("failed to connect to nats: %v", err)
	}
	defer natsConn.Close()

	broker := queue.NewBroker(natsConn, logger)
	validate := validator.New(validator.WithRequiredStructEnabled())

	// transport adapters; a disabled feature leaves the interface nil
	var chatGateway service.ChatGateway
	if cfg.ChatEnabled() {
		chatGateway = chat.New(chat.Config{
			BaseURL:      cfg.ChatBaseURL,
			BotToken:     cfg.ChatBotToken,
			GuildID:      cfg.ChatGuildID,
			AdminChannel: cfg.ChatAdminChannel,
		}, logger)
	}

	var messageSender service.MessageSender
	if cfg.WhatsappEnabled() {
		messageSender = whatsapp.New(whatsapp.Config{
			BaseURL:  cfg.WhatsappBaseURL,
			Instance: cfg.WhatsappInstance,
			APIKey:   cfg.WhatsappAPIKey,
			DevMode:  cfg.WhatsappDevMode,
			DevDir:   cfg.WhatsappDevDir,
		}, logger)
	}

	var variationGenerator *ai.Generator
	if cfg.VariationsEnabled() {
		variationGenerator, err = ai.NewGenerator(ai.GeneratorConfig{
			APIKey: cfg.OpenAIKey,
			Model:  cfg.OpenAIModel,
			Logger: logger,
		})
		if err != nil {
			log.Fatalf("failed to create variation generator: %v", err)
		}
	}

	studentRepo := repository.NewStudentRepository(db)
	productRepo := repository.NewProductRepository(db)
	buyerRepo := repository.NewSalesBuyerRepository(db)
	courseStatusRepo := repository.NewCourseStatusRepository(db)
	eventRepo := repository.NewEventRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	templateRepo := repository.NewTemplateRepository(db)
	campaignRepo := repository.NewCampaignRepository(db)

	templateService := service.NewTemplateService(templateRepo, logger)
	tokenService := service.NewTokenService(studentRepo, logger)
	enrollmentService := service.NewEnrollmentService(enrollmentRepo, logger)

	lifecycleService := service.NewLifecycleService(service.LifecycleDeps{
		DB:           db,
		Students:     studentRepo,
		Products:     productRepo,
		Buyers:       buyerRepo,
		CourseStatus: courseStatusRepo,
		Events:       eventRepo,
		Enrollments:  enrollmentService,
		Templates:    templateService,
		Tokens:       tokenService,
		Chat:         chatGateway,
		Whatsapp:     messageSender,
	}, logger)

	eventService := service.NewEventService(eventRepo, studentRepo, templateService, enrollmentService, chatGateway, messageSender, logger)
	campaignService := service.NewCampaignService(campaignRepo, studentRepo, productRepo, templateService, tokenService, messageSender, broker, validate, logger)
	webhookService := service.NewWebhookService(eventRepo, studentRepo, lifecycleService, broker, cfg.WebhookProcessingEnabled, logger)

	var syncService service.SalesSyncService
	if cfg.SalesEnabled() {
		salesClient := sales.New(sales.Config{
			ClientID:     cfg.SalesClientID,
			ClientSecret: cfg.SalesClientSecret,
			BaseURL:      cfg.SalesBaseURL,
			TokenURL:     cfg.SalesTokenURL,
		}, redisClient, logger)

		syncService = service.NewSalesSyncService(service.SalesSyncDeps{
			API:       salesClient,
			Products:  productRepo,
			Students:  studentRepo,
			Buyers:    buyerRepo,
			Events:    eventRepo,
			Lifecycle: lifecycleService,
			Publisher: broker,
			Cache:     redisClient,
		}, logger)
	}

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	startWorkers(workerCtx, broker, campaignService, webhookService, syncService, logger)

	if syncService != nil {
		go runSyncScheduler(workerCtx, syncService, cfg.SalesSyncInterval, logger)
	}

	webhookHandler := handler.NewWebhookHandler(webhookService, cfg.WebhookSecret, logger)
	onboardingHandler := handler.NewOnboardingHandler(tokenService, lifecycleService, studentRepo, validate, logger)
	messagingHandler := handler.NewMessagingHandler(campaignService, templateService, studentRepo, productRepo, variationGenerator, validate, logger)
	adminEventHandler := handler.NewAdminEventHandler(eventService, logger)
	adminStudentHandler := handler.NewAdminStudentHandler(studentRepo, syncService, validate, logger)
	adminTemplateHandler := handler.NewAdminTemplateHandler(templateService, validate, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		WebhookHandler:       webhookHandler,
		OnboardingHandler:    onboardingHandler,
		MessagingHandler:     messagingHandler,
		AdminEventHandler:    adminEventHandler,
		AdminStudentHandler:  adminStudentHandler,
		AdminTemplateHandler: adminTemplateHandler,
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, stopWorkers)
}

func startWorkers(ctx context.Context, broker *queue.Broker, campaigns service.CampaignService, webhooks service.WebhookService, sync service.SalesSyncService, logger zerolog.Logger) {
	err := broker.Subscribe(ctx, queue.SubjectCampaignSend, queue.CampaignSendTimeout, func(ctx context.Context, data []byte) error {
		var job queue.CampaignSendJob
		if err := json.Unmarshal(data, &job); err != nil {
			return err
		}
		return campaigns.Process(ctx, job.CampaignID, job.OnlyPending)
	})
	if err != nil {
		log.Fatalf("failed to start campaign worker: %v", err)
	}

	err = broker.Subscribe(ctx, queue.SubjectWebhookProcess, queue.WebhookProcessTimeout, func(ctx context.Context, data []byte) error {
		var job queue.WebhookProcessJob
		if err := json.Unmarshal(data, &job); err != nil {
			return err
		}
		return webhooks.ProcessEvent(ctx, job.EventID)
	})
	if err != nil {
		log.Fatalf("failed to start webhook worker: %v", err)
	}

	if sync == nil {
		return
	}

	err = broker.Subscribe(ctx, queue.SubjectSalesSync, queue.SalesSyncTimeout, func(ctx context.Context, data []byte) error {
		var job queue.SalesSyncJob
		if err := json.Unmarshal(data, &job); err != nil {
			return err
		}
		return sync.Run(ctx, job)
	})
	if err != nil {
		log.Fatalf("failed to start sync worker: %v", err)
	}

	logger.Info().Msg("background workers started")
}

// runSyncScheduler queues the periodic reconciliation runs. Only one
// scheduler should run per deployment.
func runSyncScheduler(ctx context.Context, sync service.SalesSyncService, interval time.Duration, logger zerolog.Logger) {
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, kind := range []string{queue.SyncKindBuyers, queue.SyncKindLifecycle} {
				if _, err := sync.Enqueue(ctx, kind, nil); err != nil {
					logger.Error().Err(err).Str("kind", kind).Msg("failed to enqueue scheduled sync")
				}
			}
		}
	}
}

func waitForShutdown(app *fiber.App, stopWorkers context.CancelFunc) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()
	stopWorkers()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
