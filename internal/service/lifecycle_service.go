package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/aluno-go-api/internal/models"
	"github.com/noah-isme/aluno-go-api/internal/observability"
	"github.com/noah-isme/aluno-go-api/internal/repository"
)

// Trigger names the external cause of a lifecycle transition.
type Trigger string

// Lifecycle triggers.
const (
	TriggerPurchaseApproved      Trigger = "purchase_approved"
	TriggerPurchaseDelayed       Trigger = "purchase_delayed"
	TriggerChatRegistered        Trigger = "chat_registered"
	TriggerSubscriptionCancelled Trigger = "subscription_cancelled"
	TriggerPurchaseRefunded      Trigger = "purchase_refunded"
)

type transitionKey struct {
	from    string
	trigger Trigger
}

type transitionTarget struct {
	to           string
	reactivation bool
}

// transitionTable is the closed set of valid transitions. The empty from
// state stands for an unmanaged student. Anything not listed is a no-op.
var transitionTable = map[transitionKey]transitionTarget{
	{"", TriggerPurchaseApproved}:                          {to: models.StatePendingOnboarding},
	{"", TriggerPurchaseDelayed}:                           {to: models.StatePendingPayment},
	{models.StatePendingPayment, TriggerPurchaseApproved}:  {to: models.StatePendingOnboarding},
	{models.StatePendingOnboarding, TriggerChatRegistered}: {to: models.StateActive},
	{models.StateActive, TriggerSubscriptionCancelled}:     {to: models.StateChurned},
	{models.StateActive, TriggerPurchaseRefunded}:          {to: models.StateChurned},
	{models.StateChurned, TriggerPurchaseApproved}:         {to: models.StateActive, reactivation: true},
}

// commercialByTrigger maps purchase triggers onto the commercial status
// recorded in the course status history.
var commercialByTrigger = map[Trigger]string{
	TriggerPurchaseApproved:      models.CommercialActive,
	TriggerPurchaseDelayed:       models.CommercialOverdue,
	TriggerSubscriptionCancelled: models.CommercialCancelled,
	TriggerPurchaseRefunded:      models.CommercialRefunded,
}

// sideEffectAttempts is how often each side-effect is tried before its
// failure is recorded and alerted.
const sideEffectAttempts = 2

// ChatGateway is the slice of the chat transport the machine needs.
type ChatGateway interface {
	AssignRole(ctx context.Context, userID, roleID string) bool
	RevokeRole(ctx context.Context, userID, roleID string) bool
	SendDM(ctx context.Context, userID, content string) bool
	AlertAdmin(ctx context.Context, content string) bool
}

// MessageSender is the slice of the messaging transport the machine needs.
type MessageSender interface {
	SendText(ctx context.Context, phone, text string) bool
}

// TransitionResult reports what, if anything, a trigger changed.
type TransitionResult struct {
	Applied      bool
	From         string
	To           string
	Reactivation bool
}

// LifecycleService is the authoritative state machine over student lifecycle
// states. A valid transition commits the state write and its audit event
// atomically, then fires the ordered side-effects for the target state;
// invalid (state, trigger) pairs mutate nothing and log nothing.
type LifecycleService interface {
	Transition(ctx context.Context, studentID uint, trigger Trigger, salesProductID string) (TransitionResult, error)
}

type lifecycleService struct {
	db           *gorm.DB
	students     repository.StudentRepository
	products     repository.ProductRepository
	buyers       repository.SalesBuyerRepository
	courseStatus repository.CourseStatusRepository
	events       repository.EventRepository
	enrollments  EnrollmentService
	templates    TemplateService
	tokens       TokenService
	chat         ChatGateway
	whatsapp     MessageSender
	logger       zerolog.Logger
	tracer       trace.Tracer
	now          func() time.Time
}

// LifecycleDeps groups the collaborators of the lifecycle machine.
type LifecycleDeps struct {
	DB           *gorm.DB
	Students     repository.StudentRepository
	Products     repository.ProductRepository
	Buyers       repository.SalesBuyerRepository
	CourseStatus repository.CourseStatusRepository
	Events       repository.EventRepository
	Enrollments  EnrollmentService
	Templates    TemplateService
	Tokens       TokenService
	Chat         ChatGateway
	Whatsapp     MessageSender
}

// NewLifecycleService constructs the lifecycle state machine.
func NewLifecycleService(deps LifecycleDeps, logger zerolog.Logger) LifecycleService {
	return &lifecycleService{
		db:           deps.DB,
		students:     deps.Students,
		products:     deps.Products,
		buyers:       deps.Buyers,
		courseStatus: deps.CourseStatus,
		events:       deps.Events,
		enrollments:  deps.Enrollments,
		templates:    deps.Templates,
		tokens:       deps.Tokens,
		chat:         deps.Chat,
		whatsapp:     deps.Whatsapp,
		logger:       logger.With().Str("component", "lifecycle").Logger(),
		tracer:       otel.Tracer("github.com/noah-isme/aluno-go-api/internal/service/lifecycle"),
		now:          time.Now,
	}
}

func (s *lifecycleService) Transition(ctx context.Context, studentID uint, trigger Trigger, salesProductID string) (TransitionResult, error) {
	ctx, span := s.tracer.Start(ctx, "lifecycle.transition", trace.WithAttributes(
		attribute.String("trigger", string(trigger)),
		attribute.Int64("student_id", int64(studentID)),
	))
	defer span.End()

	student, err := s.students.GetByID(ctx, studentID)
	if err != nil {
		return TransitionResult{}, fmt.Errorf("load student: %w", err)
	}

	target, ok := transitionTable[transitionKey{from: student.State(), trigger: trigger}]
	if !ok {
		return TransitionResult{Applied: false, From: student.State()}, nil
	}

	result := TransitionResult{
		Applied:      true,
		From:         student.State(),
		To:           target.to,
		Reactivation: target.reactivation,
	}

	// state write and transition event commit together
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Student{}).
			Where("id = ?", student.ID).
			Update("lifecycle_state", target.to).Error; err != nil {
			return err
		}

		event := models.Event{
			Type:     models.EventLifecycleTransition,
			TargetID: &student.ID,
			Outcome:  models.OutcomeProcessed,
			Payload: datatypes.JSONMap{
				"from":             result.From,
				"to":               result.To,
				"trigger":          string(trigger),
				"sales_product_id": salesProductID,
				"reactivation":     result.Reactivation,
			},
		}
		return tx.Create(&event).Error
	})
	if err != nil {
		return TransitionResult{}, fmt.Errorf("commit transition: %w", err)
	}

	observability.Transitions().WithLabelValues(target.to).Inc()
	student.LifecycleState = &target.to

	implicated, err := s.implicatedProducts(ctx, student, trigger, salesProductID)
	if err != nil {
		s.logger.Error().Err(err).Uint("student_id", student.ID).Msg("failed to resolve products for side-effects")
		implicated = nil
	}

	if status, ok := commercialByTrigger[trigger]; ok {
		for _, product := range implicated {
			if err := s.courseStatus.SetCurrent(ctx, student.ID, product.ID, status, s.now()); err != nil {
				s.logger.Error().Err(err).Uint("product_id", product.ID).Msg("failed to record course status")
			}
		}
	}

	s.runSideEffects(ctx, &student, result, implicated)

	return result, nil
}

// implicatedProducts resolves which products a transition consults: exactly
// the purchased product on purchase triggers, the union across all active
// buyer records on chat registration.
func (s *lifecycleService) implicatedProducts(ctx context.Context, student models.Student, trigger Trigger, salesProductID string) ([]models.Product, error) {
	if trigger != TriggerChatRegistered {
		if salesProductID == "" {
			return nil, nil
		}
		return s.products.ResolveBySalesID(ctx, salesProductID)
	}

	buyerRows, err := s.buyers.ListActiveByEmail(ctx, student.Email)
	if err != nil {
		return nil, err
	}

	seen := make(map[uint]struct{})
	var union []models.Product
	for _, row := range buyerRows {
		resolved, err := s.products.ResolveBySalesID(ctx, row.SalesProductID)
		if err != nil {
			return nil, err
		}
		for _, product := range resolved {
			if _, dup := seen[product.ID]; dup {
				continue
			}
			seen[product.ID] = struct{}{}
			union = append(union, product)
		}
	}

	return union, nil
}

func (s *lifecycleService) runSideEffects(ctx context.Context, student *models.Student, result TransitionResult, products []models.Product) {
	productName := ""
	if len(products) > 0 {
		productName = products[0].Name
	}

	switch result.To {
	case models.StatePendingOnboarding:
		s.effectsPendingOnboarding(ctx, student, productName)
	case models.StateActive:
		s.effectsActive(ctx, student, result.Reactivation, products, productName)
	case models.StateChurned:
		s.effectsChurned(ctx, student, products, productName)
	}
}

func (s *lifecycleService) effectsPendingOnboarding(ctx context.Context, student *models.Student, productName string) {
	var token string
	s.runEffect(ctx, "issue_token", "lifecycle.token_issued", student.ID, nil, func(ctx context.Context) (bool, error) {
		issued, err := s.tokens.Issue(ctx, student)
		if err != nil {
			return false, err
		}
		token = issued
		return true, nil
	})

	if student.WhatsappPhone == nil || *student.WhatsappPhone == "" {
		return
	}

	vars := map[string]string{
		"primeiro_nome": student.FirstName(),
		"nome":          student.Name,
		"token":         token,
		"product_name":  productName,
	}
	s.sendLifecycleMessage(ctx, student, models.TemplateOnboarding, vars)
}

func (s *lifecycleService) effectsActive(ctx context.Context, student *models.Student, reactivation bool, products []models.Product, productName string) {
	s.applyAccessRules(ctx, student, products, true)

	if student.WhatsappPhone == nil || *student.WhatsappPhone == "" {
		return
	}

	kind := models.TemplateWelcome
	if reactivation {
		kind = models.TemplateWelcomeBack
	}
	vars := map[string]string{
		"primeiro_nome": student.FirstName(),
		"nome":          student.Name,
		"product_name":  productName,
	}
	s.sendLifecycleMessage(ctx, student, kind, vars)
}

func (s *lifecycleService) effectsChurned(ctx context.Context, student *models.Student, products []models.Product, productName string) {
	s.applyAccessRules(ctx, student, products, false)

	if student.WhatsappPhone == nil || *student.WhatsappPhone == "" {
		return
	}

	vars := map[string]string{
		"primeiro_nome": student.FirstName(),
		"nome":          student.Name,
		"product_name":  productName,
	}
	s.sendLifecycleMessage(ctx, student, models.TemplateChurn, vars)
}

// applyAccessRules grants (or revokes) every access rule of the implicated
// products. The rule kind set is closed; an unknown kind is a bug and is
// logged loudly rather than silently skipped.
func (s *lifecycleService) applyAccessRules(ctx context.Context, student *models.Student, products []models.Product, grant bool) {
	for _, product := range products {
		for _, rule := range product.AccessRules {
			switch rule.Kind {
			case models.RuleChatRole:
				s.applyChatRole(ctx, student, rule.Value, grant)
			case models.RuleClassEnrolment:
				s.applyClassEnrolment(ctx, student, rule.Value, grant)
			default:
				s.logger.Error().Str("kind", rule.Kind).Uint("rule_id", rule.ID).Msg("unknown access rule kind")
			}
		}
	}
}

func (s *lifecycleService) applyChatRole(ctx context.Context, student *models.Student, roleID string, grant bool) {
	if student.ChatID == nil || *student.ChatID == "" {
		return
	}

	name, eventType := "assign_chat_role", models.EventChatRoleAssigned
	if !grant {
		name, eventType = "revoke_chat_role", models.EventChatRoleRevoked
	}

	payload := datatypes.JSONMap{"role_id": roleID}
	s.runEffect(ctx, name, eventType, student.ID, payload, func(ctx context.Context) (bool, error) {
		if s.chat == nil {
			return false, fmt.Errorf("chat transport not configured")
		}
		if grant {
			return s.chat.AssignRole(ctx, *student.ChatID, roleID), nil
		}
		return s.chat.RevokeRole(ctx, *student.ChatID, roleID), nil
	})
}

func (s *lifecycleService) applyClassEnrolment(ctx context.Context, student *models.Student, classValue string, grant bool) {
	classID, err := strconv.ParseUint(classValue, 10, 32)
	if err != nil {
		s.logger.Error().Str("value", classValue).Msg("access rule carries non-numeric class id")
		return
	}

	name, eventType := "auto_enrol", models.EventClassEnrolled
	if !grant {
		name, eventType = "auto_unenrol", models.EventClassUnenrolled
	}

	payload := datatypes.JSONMap{"class_id": classValue}
	s.runEffect(ctx, name, eventType, student.ID, payload, func(ctx context.Context) (bool, error) {
		if grant {
			_, err := s.enrollments.AutoEnrol(ctx, uint(classID), student.ID)
			return err == nil, err
		}
		_, err := s.enrollments.AutoUnenrol(ctx, uint(classID), student.ID)
		return err == nil, err
	})
}

func (s *lifecycleService) sendLifecycleMessage(ctx context.Context, student *models.Student, kind string, vars map[string]string) {
	payload := datatypes.JSONMap{"kind": kind}
	s.runEffect(ctx, "whatsapp_"+kind, models.EventMessageSent, student.ID, payload, func(ctx context.Context) (bool, error) {
		if s.whatsapp == nil {
			return false, fmt.Errorf("messaging transport not configured")
		}
		text := s.templates.ResolveLifecycle(ctx, kind, vars)
		return s.whatsapp.SendText(ctx, *student.WhatsappPhone, text), nil
	})
}

// runEffect attempts one side-effect with retry, records exactly one outcome
// event, and alerts an admin on persistent failure. A failed effect never
// aborts the remaining effects or the transition itself.
func (s *lifecycleService) runEffect(ctx context.Context, name, eventType string, targetID uint, payload datatypes.JSONMap, fn func(context.Context) (bool, error)) {
	var lastErr error
	ok := false
	for attempt := 0; attempt < sideEffectAttempts && !ok; attempt++ {
		var success bool
		success, lastErr = fn(ctx)
		ok = success && lastErr == nil
	}

	if payload == nil {
		payload = datatypes.JSONMap{}
	}
	payload["effect"] = name

	event := models.Event{
		Type:     eventType,
		TargetID: &targetID,
		Payload:  payload,
	}
	if ok {
		event.Outcome = models.OutcomeProcessed
		observability.SideEffects().WithLabelValues(name, models.OutcomeProcessed).Inc()
	} else {
		event.Outcome = models.OutcomeFailed
		if lastErr != nil {
			event.Error = lastErr.Error()
		} else {
			event.Error = "transport reported failure"
		}
		observability.SideEffects().WithLabelValues(name, models.OutcomeFailed).Inc()
	}

	if err := s.events.Create(ctx, &event); err != nil {
		s.logger.Error().Err(err).Str("effect", name).Msg("failed to record side-effect event")
	}

	if !ok {
		s.alertAdmin(ctx, fmt.Sprintf("side-effect %s failed for student %d: %s", name, targetID, event.Error))
	}
}

func (s *lifecycleService) alertAdmin(ctx context.Context, message string) {
	if s.chat != nil && s.chat.AlertAdmin(ctx, message) {
		return
	}
	s.logger.Error().Str("alert", message).Msg("admin alert (chat unavailable)")
}
