package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/aluno-go-api/internal/models"
	"github.com/noah-isme/aluno-go-api/internal/observability"
	"github.com/noah-isme/aluno-go-api/internal/queue"
	"github.com/noah-isme/aluno-go-api/internal/repository"
	"github.com/noah-isme/aluno-go-api/pkg/sales"
	"github.com/noah-isme/aluno-go-api/pkg/whatsapp"
)

// syncTaskKeyPrefix keys sync progress records in Redis so any worker or
// API instance can serve the poll endpoint.
const syncTaskKeyPrefix = "sync:task:"

// syncTaskTTL bounds how long finished task records stay pollable.
const syncTaskTTL = 24 * time.Hour

// Buyer-snapshot window scan: how far back to look and in what slices.
const (
	syncLookback    = 3 * 365 * 24 * time.Hour
	syncWindowSlice = 180 * 24 * time.Hour
)

// vendorStatusMap translates sales-platform transaction statuses into the
// four commercial statuses. Unknown vendor statuses are skipped with a
// warning rather than guessed at.
var vendorStatusMap = map[string]string{
	"APPROVED":   models.CommercialActive,
	"COMPLETE":   models.CommercialActive,
	"DELAYED":    models.CommercialOverdue,
	"OVERDUE":    models.CommercialOverdue,
	"CANCELLED":  models.CommercialCancelled,
	"CANCELED":   models.CommercialCancelled,
	"EXPIRED":    models.CommercialCancelled,
	"REFUNDED":   models.CommercialRefunded,
	"CHARGEBACK": models.CommercialRefunded,
}

// vendorQueryStatuses is the set of transaction statuses the history scan
// asks the platform for, one query per status per window slice.
var vendorQueryStatuses = []string{
	"APPROVED", "COMPLETE", "DELAYED", "CANCELLED", "REFUNDED", "CHARGEBACK", "EXPIRED",
}

// ErrSyncTaskNotFound is returned when a polled task id is unknown or expired.
var ErrSyncTaskNotFound = errors.New("sync task not found")

// SalesAPI is the slice of the sales-platform client the reconciler needs.
type SalesAPI interface {
	ListSubscriptions(ctx context.Context, productID string) ([]sales.Subscription, error)
	ListSalesHistory(ctx context.Context, q sales.HistoryQuery) ([]sales.Sale, error)
	ListUsers(ctx context.Context, productID string) ([]sales.BuyerContact, error)
}

// SyncProgress is the pollable record of one reconciler run.
type SyncProgress struct {
	TaskID     string         `json:"task_id"`
	Kind       string         `json:"kind"`
	Status     string         `json:"status"`
	Counters   map[string]int `json:"counters,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// Sync task statuses.
const (
	SyncQueued    = "queued"
	SyncRunning   = "running"
	SyncCompleted = "completed"
	SyncFailed    = "failed"
)

// SalesSyncService reconciles the student registry against the sales
// platform. Runs are queued as background jobs; progress is pollable by
// task id across instances.
type SalesSyncService interface {
	// Enqueue schedules a reconciler run and returns its task id.
	Enqueue(ctx context.Context, kind string, productID *uint) (string, error)
	Progress(ctx context.Context, taskID string) (SyncProgress, error)
	// Run executes a queued job; called from the queue worker.
	Run(ctx context.Context, job queue.SalesSyncJob) error
}

type salesSyncService struct {
	api       SalesAPI
	products  repository.ProductRepository
	students  repository.StudentRepository
	buyers    repository.SalesBuyerRepository
	events    repository.EventRepository
	lifecycle LifecycleService
	publisher queue.Publisher
	cache     *redis.Client
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// SalesSyncDeps groups the reconciler's collaborators.
type SalesSyncDeps struct {
	API       SalesAPI
	Products  repository.ProductRepository
	Students  repository.StudentRepository
	Buyers    repository.SalesBuyerRepository
	Events    repository.EventRepository
	Lifecycle LifecycleService
	Publisher queue.Publisher
	Cache     *redis.Client
}

// NewSalesSyncService constructs the sales reconciler.
func NewSalesSyncService(deps SalesSyncDeps, logger zerolog.Logger) SalesSyncService {
	return &salesSyncService{
		api:       deps.API,
		products:  deps.Products,
		students:  deps.Students,
		buyers:    deps.Buyers,
		events:    deps.Events,
		lifecycle: deps.Lifecycle,
		publisher: deps.Publisher,
		cache:     deps.Cache,
		logger:    logger.With().Str("component", "sales_sync").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/aluno-go-api/internal/service/salessync"),
		now:       time.Now,
	}
}

func (s *salesSyncService) Enqueue(ctx context.Context, kind string, productID *uint) (string, error) {
	switch kind {
	case queue.SyncKindBuyers, queue.SyncKindLifecycle, queue.SyncKindHistorical:
	default:
		return "", fmt.Errorf("unknown sync kind %q", kind)
	}

	taskID := uuid.NewString()
	if err := s.saveProgress(ctx, SyncProgress{
		TaskID:    taskID,
		Kind:      kind,
		Status:    SyncQueued,
		StartedAt: s.now(),
	}); err != nil {
		return "", err
	}

	err := s.publisher.Publish(queue.SubjectSalesSync, queue.SalesSyncJob{
		TaskID:    taskID,
		Kind:      kind,
		ProductID: productID,
	})
	if err != nil {
		return "", fmt.Errorf("enqueue sync: %w", err)
	}

	return taskID, nil
}

func (s *salesSyncService) Progress(ctx context.Context, taskID string) (SyncProgress, error) {
	raw, err := s.cache.Get(ctx, syncTaskKeyPrefix+taskID).Result()
	if errors.Is(err, redis.Nil) {
		return SyncProgress{}, ErrSyncTaskNotFound
	}
	if err != nil {
		return SyncProgress{}, fmt.Errorf("load sync task: %w", err)
	}

	var progress SyncProgress
	if err := json.Unmarshal([]byte(raw), &progress); err != nil {
		return SyncProgress{}, fmt.Errorf("decode sync task: %w", err)
	}

	return progress, nil
}

func (s *salesSyncService) saveProgress(ctx context.Context, progress SyncProgress) error {
	encoded, err := json.Marshal(progress)
	if err != nil {
		return err
	}

	err = s.cache.Set(ctx, syncTaskKeyPrefix+progress.TaskID, encoded, syncTaskTTL).Err()
	if err != nil {
		return fmt.Errorf("store sync task: %w", err)
	}

	return nil
}

func (s *salesSyncService) Run(ctx context.Context, job queue.SalesSyncJob) error {
	ctx, span := s.tracer.Start(ctx, "sales.sync", trace.WithAttributes(
		attribute.String("kind", job.Kind),
		attribute.String("task_id", job.TaskID),
	))
	defer span.End()

	progress := SyncProgress{
		TaskID:    job.TaskID,
		Kind:      job.Kind,
		Status:    SyncRunning,
		StartedAt: s.now(),
	}
	if job.TaskID != "" {
		if err := s.saveProgress(ctx, progress); err != nil {
			s.logger.Warn().Err(err).Str("task_id", job.TaskID).Msg("failed to mark sync running")
		}
	}

	var counters map[string]int
	var err error
	switch job.Kind {
	case queue.SyncKindBuyers:
		counters, err = s.syncBuyers(ctx, job.ProductID)
	case queue.SyncKindLifecycle:
		counters, err = s.syncLifecycle(ctx, job.ProductID)
	case queue.SyncKindHistorical:
		counters, err = s.historicalOnboarding(ctx)
	default:
		err = fmt.Errorf("unknown sync kind %q", job.Kind)
	}

	now := s.now()
	progress.Counters = counters
	progress.FinishedAt = &now
	if err != nil {
		progress.Status = SyncFailed
		progress.Error = err.Error()
	} else {
		progress.Status = SyncCompleted
	}
	if job.TaskID != "" {
		if saveErr := s.saveProgress(ctx, progress); saveErr != nil {
			s.logger.Warn().Err(saveErr).Str("task_id", job.TaskID).Msg("failed to store sync result")
		}
	}

	return err
}

// syncBuyers refreshes the buyer snapshot table from the platform's sales
// history of every active product (or one product). Each buyer e-mail is
// handled independently so a bad row cannot abort the run.
func (s *salesSyncService) syncBuyers(ctx context.Context, productID *uint) (map[string]int, error) {
	counters := map[string]int{"inserted": 0, "updated": 0, "errors": 0}

	products, err := s.scopedProducts(ctx, productID)
	if err != nil {
		return counters, err
	}

	now := s.now()
	for _, product := range products {
		if product.SalesProductID == "" {
			continue
		}

		statuses, names, err := s.scanHistory(ctx, product.SalesProductID, now)
		if err != nil {
			s.logger.Error().Err(err).Str("sales_product_id", product.SalesProductID).Msg("history scan failed")
			counters["errors"]++
			observability.SalesSyncErrors().Inc()
			continue
		}

		contacts := s.contactsByEmail(ctx, product.SalesProductID)

		for email, status := range statuses {
			row := models.SalesBuyer{
				Email:          email,
				SalesProductID: product.SalesProductID,
				Name:           names[email],
				Status:         status,
				LastSyncedAt:   now,
			}
			if contact, ok := contacts[email]; ok {
				if contact.Name != "" {
					row.Name = contact.Name
				}
				row.Phone = whatsapp.NormalizePhone(contact.Phone)
			}
			if student, err := s.students.GetByEmail(ctx, email); err == nil {
				row.StudentID = &student.ID
			}

			inserted, err := s.buyers.Upsert(ctx, &row)
			if err != nil {
				s.logger.Error().Err(err).Str("email", email).Msg("buyer upsert failed")
				counters["errors"]++
				observability.SalesSyncErrors().Inc()
				continue
			}
			if inserted {
				counters["inserted"]++
				observability.SalesSyncRows().WithLabelValues("inserted").Inc()
			} else {
				counters["updated"]++
				observability.SalesSyncRows().WithLabelValues("updated").Inc()
			}
		}
	}

	s.recordCompletion(ctx, queue.SyncKindBuyers, counters)

	return counters, nil
}

// scanHistory walks the lookback window in fixed slices, one query per
// vendor transaction status, and folds the results into the best commercial
// status seen per buyer e-mail.
func (s *salesSyncService) scanHistory(ctx context.Context, salesProductID string, now time.Time) (map[string]string, map[string]string, error) {
	statuses := make(map[string]string)
	names := make(map[string]string)

	start := now.Add(-syncLookback)
	for sliceStart := start; sliceStart.Before(now); sliceStart = sliceStart.Add(syncWindowSlice) {
		sliceEnd := sliceStart.Add(syncWindowSlice)
		if sliceEnd.After(now) {
			sliceEnd = now
		}

		for _, vendorStatus := range vendorQueryStatuses {
			rows, err := s.api.ListSalesHistory(ctx, sales.HistoryQuery{
				TransactionStatus: vendorStatus,
				StartDate:         sliceStart,
				EndDate:           sliceEnd,
				ProductID:         salesProductID,
			})
			if err != nil {
				return nil, nil, fmt.Errorf("sales history %s: %w", vendorStatus, err)
			}

			for _, sale := range rows {
				email := strings.ToLower(strings.TrimSpace(sale.BuyerEmail))
				if email == "" {
					continue
				}

				mapped, known := vendorStatusMap[strings.ToUpper(sale.TransactionStatus)]
				if !known {
					s.logger.Warn().Str("transaction_status", sale.TransactionStatus).Msg("unknown vendor transaction status, skipping")
					continue
				}

				if models.CommercialPriority(mapped) > models.CommercialPriority(statuses[email]) {
					statuses[email] = mapped
				}
				if sale.BuyerName != "" {
					names[email] = sale.BuyerName
				}
			}
		}
	}

	return statuses, names, nil
}

func (s *salesSyncService) contactsByEmail(ctx context.Context, salesProductID string) map[string]sales.BuyerContact {
	out := make(map[string]sales.BuyerContact)
	contacts, err := s.api.ListUsers(ctx, salesProductID)
	if err != nil {
		// contact backfill is best effort; snapshot status sync proceeds
		s.logger.Warn().Err(err).Str("sales_product_id", salesProductID).Msg("buyer contact fetch failed")
		return out
	}

	for _, contact := range contacts {
		email := strings.ToLower(strings.TrimSpace(contact.Email))
		if email != "" {
			out[email] = contact
		}
	}

	return out
}

// syncLifecycle walks active subscriptions and approved one-time sales,
// materialising a student per unique buyer and pushing each through the
// purchase_approved transition. Already-active students no-op.
func (s *salesSyncService) syncLifecycle(ctx context.Context, productID *uint) (map[string]int, error) {
	counters := map[string]int{"synced": 0, "created": 0, "already_active": 0, "errors": 0}

	products, err := s.scopedProducts(ctx, productID)
	if err != nil {
		return counters, err
	}

	now := s.now()
	for _, product := range products {
		if product.SalesProductID == "" {
			continue
		}

		buyers := make(map[string]string)

		subscriptions, err := s.api.ListSubscriptions(ctx, product.SalesProductID)
		if err != nil {
			s.logger.Error().Err(err).Str("sales_product_id", product.SalesProductID).Msg("subscription fetch failed")
			counters["errors"]++
			observability.SalesSyncErrors().Inc()
		} else {
			for _, sub := range subscriptions {
				email := strings.ToLower(strings.TrimSpace(sub.SubscriberEmail))
				if email != "" {
					buyers[email] = sub.SubscriberName
				}
			}
		}

		statuses, names, err := s.scanHistory(ctx, product.SalesProductID, now)
		if err != nil {
			s.logger.Error().Err(err).Str("sales_product_id", product.SalesProductID).Msg("history scan failed")
			counters["errors"]++
			observability.SalesSyncErrors().Inc()
		} else {
			for email, status := range statuses {
				if status != models.CommercialActive {
					continue
				}
				if _, seen := buyers[email]; !seen {
					buyers[email] = names[email]
				}
			}
		}

		for email, name := range buyers {
			if err := s.syncBuyerLifecycle(ctx, email, name, product.SalesProductID, counters); err != nil {
				s.logger.Error().Err(err).Str("email", email).Msg("lifecycle sync failed for buyer")
				counters["errors"]++
				observability.SalesSyncErrors().Inc()
			}
		}
	}

	s.recordCompletion(ctx, queue.SyncKindLifecycle, counters)

	return counters, nil
}

func (s *salesSyncService) syncBuyerLifecycle(ctx context.Context, email, name, salesProductID string, counters map[string]int) error {
	student, err := s.students.GetByEmail(ctx, email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		student, err = s.createStudent(ctx, email, name, "")
		if err != nil {
			return err
		}
		counters["created"]++
	} else if err != nil {
		return fmt.Errorf("load student: %w", err)
	}

	result, err := s.lifecycle.Transition(ctx, student.ID, TriggerPurchaseApproved, salesProductID)
	if err != nil {
		return fmt.Errorf("transition: %w", err)
	}

	if result.Applied {
		counters["synced"]++
	} else {
		counters["already_active"]++
	}

	return nil
}

// historicalOnboarding is the one-shot backfill for snapshot rows with an
// active commercial status and no linked student account.
func (s *salesSyncService) historicalOnboarding(ctx context.Context) (map[string]int, error) {
	counters := map[string]int{"onboarded": 0, "created": 0, "errors": 0}

	rows, err := s.buyers.ListActiveUnlinked(ctx)
	if err != nil {
		return counters, fmt.Errorf("list unlinked buyers: %w", err)
	}

	for _, row := range rows {
		if err := s.onboardSnapshotRow(ctx, row, counters); err != nil {
			s.logger.Error().Err(err).Str("email", row.Email).Msg("historical onboarding failed for buyer")
			counters["errors"]++
			observability.SalesSyncErrors().Inc()
		}
	}

	s.recordCompletion(ctx, queue.SyncKindHistorical, counters)

	return counters, nil
}

func (s *salesSyncService) onboardSnapshotRow(ctx context.Context, row models.SalesBuyer, counters map[string]int) error {
	student, err := s.students.GetByEmail(ctx, row.Email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		student, err = s.createStudent(ctx, row.Email, row.Name, row.Phone)
		if err != nil {
			return err
		}
		counters["created"]++
	} else if err != nil {
		return fmt.Errorf("load student: %w", err)
	}

	if err := s.buyers.Link(ctx, row.ID, student.ID); err != nil {
		return fmt.Errorf("link buyer: %w", err)
	}

	if _, err := s.lifecycle.Transition(ctx, student.ID, TriggerPurchaseApproved, row.SalesProductID); err != nil {
		return fmt.Errorf("transition: %w", err)
	}

	counters["onboarded"]++

	return nil
}

func (s *salesSyncService) createStudent(ctx context.Context, email, name, phone string) (models.Student, error) {
	hash, err := randomPasswordHash()
	if err != nil {
		return models.Student{}, err
	}

	if name == "" {
		name = email
	}

	student := models.Student{
		Name:         name,
		Email:        email,
		Role:         models.RoleStudent,
		PasswordHash: hash,
		SalesID:      email,
	}
	if normalised := whatsapp.NormalizePhone(phone); normalised != "" {
		student.WhatsappPhone = &normalised
	}

	if err := s.students.Create(ctx, &student); err != nil {
		return models.Student{}, fmt.Errorf("create student: %w", err)
	}

	s.logger.Info().Str("email", email).Uint("student_id", student.ID).Msg("created student from sales sync")

	return student, nil
}

// randomPasswordHash generates a throwaway credential for auto-created
// accounts. The student resets it through the regular flow; the plaintext is
// never stored or sent anywhere.
func randomPasswordHash() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate password: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(base64.RawStdEncoding.EncodeToString(raw)), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	return string(hash), nil
}

func (s *salesSyncService) scopedProducts(ctx context.Context, productID *uint) ([]models.Product, error) {
	if productID != nil {
		product, err := s.products.GetByID(ctx, *productID)
		if err != nil {
			return nil, fmt.Errorf("load product: %w", err)
		}
		return []models.Product{product}, nil
	}

	products, err := s.products.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active products: %w", err)
	}

	return products, nil
}

func (s *salesSyncService) recordCompletion(ctx context.Context, kind string, counters map[string]int) {
	payload := datatypes.JSONMap{"kind": kind}
	for name, value := range counters {
		payload[name] = value
	}

	event := models.Event{
		Type:    models.EventSalesSyncCompleted,
		Outcome: models.OutcomeProcessed,
		Payload: payload,
	}
	if err := s.events.Create(ctx, &event); err != nil {
		s.logger.Error().Err(err).Str("kind", kind).Msg("failed to record sync completion")
	}
}
