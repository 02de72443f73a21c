package service

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"github.com/noah-isme/aluno-go-api/internal/models"
	"github.com/noah-isme/aluno-go-api/internal/repository"
)

// CampaignKind selects the campaign variable set for validation.
const CampaignKind = "campaign"

var templatePlaceholderPattern = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// allowedTemplateVars lists the variables each event kind may reference.
var allowedTemplateVars = map[string][]string{
	models.TemplateOnboarding:  {"primeiro_nome", "nome", "token", "product_name"},
	models.TemplateWelcome:     {"primeiro_nome", "nome", "product_name"},
	models.TemplateWelcomeBack: {"primeiro_nome", "nome", "product_name"},
	models.TemplateChurn:       {"primeiro_nome", "nome", "product_name"},
	CampaignKind:               {"nome", "primeiro_nome", "email", "turma", "token"},
}

// defaultTemplates are the deploy-ready fallbacks used when the stored
// template is missing or unreadable. They must never be empty.
var defaultTemplates = map[string]string{
	models.TemplateOnboarding: "Olá {primeiro_nome}! Sua compra de {product_name} foi confirmada. " +
		"Use o código {token} para concluir seu cadastro na comunidade.",
	models.TemplateWelcome: "Bem-vindo(a), {primeiro_nome}! Seu acesso a {product_name} está liberado. Bons estudos!",
	models.TemplateWelcomeBack: "Que bom ter você de volta, {primeiro_nome}! Seu acesso a {product_name} foi reativado.",
	models.TemplateChurn: "Olá {primeiro_nome}, seu acesso a {product_name} foi encerrado. " +
		"Se quiser voltar, estamos por aqui.",
}

// TemplateValidationError reports a placeholder the template kind does not
// allow, naming the offending variable and the full allowed set.
type TemplateValidationError struct {
	Variable string
	Allowed  []string
}

func (e *TemplateValidationError) Error() string {
	sorted := append([]string(nil), e.Allowed...)
	sort.Strings(sorted)
	return fmt.Sprintf("invalid variable {%s}: allowed variables are {%s}", e.Variable, strings.Join(sorted, "}, {"))
}

// TemplateService validates and resolves {placeholder} message templates.
type TemplateService interface {
	// Validate rejects any {word} in text that the kind does not allow.
	Validate(kind, text string) error
	// Resolve performs straight textual substitution; unknown placeholders
	// are left untouched.
	Resolve(text string, vars map[string]string) string
	// ResolveLifecycle resolves the stored template for the kind, falling
	// back to the hard-coded default on a miss or read error.
	ResolveLifecycle(ctx context.Context, kind string, vars map[string]string) string
	Get(ctx context.Context, kind string) (models.MessageTemplate, error)
	Update(ctx context.Context, kind, text, editor string) (models.MessageTemplate, error)
}

type templateService struct {
	repo      repository.TemplateRepository
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
}

// NewTemplateService constructs a template service.
func NewTemplateService(repo repository.TemplateRepository, logger zerolog.Logger) TemplateService {
	return &templateService{
		repo:      repo,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "template_service").Logger(),
	}
}

func (s *templateService) Validate(kind, text string) error {
	allowed, ok := allowedTemplateVars[kind]
	if !ok {
		return fmt.Errorf("unknown template kind %q", kind)
	}

	allowedSet := make(map[string]struct{}, len(allowed))
	for _, name := range allowed {
		allowedSet[name] = struct{}{}
	}

	for _, match := range templatePlaceholderPattern.FindAllStringSubmatch(text, -1) {
		name := match[1]
		if _, ok := allowedSet[name]; !ok {
			return &TemplateValidationError{Variable: name, Allowed: allowed}
		}
	}

	return nil
}

func (s *templateService) Resolve(text string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for name, value := range vars {
		pairs = append(pairs, "{"+name+"}", value)
	}

	return strings.NewReplacer(pairs...).Replace(text)
}

func (s *templateService) ResolveLifecycle(ctx context.Context, kind string, vars map[string]string) string {
	text := defaultTemplates[kind]

	stored, err := s.repo.GetByKind(ctx, kind)
	if err == nil && strings.TrimSpace(stored.Text) != "" {
		text = stored.Text
	} else if err != nil {
		s.logger.Debug().Err(err).Str("kind", kind).Msg("stored template unavailable, using default")
	}

	return s.Resolve(text, vars)
}

func (s *templateService) Get(ctx context.Context, kind string) (models.MessageTemplate, error) {
	if _, ok := defaultTemplates[kind]; !ok {
		return models.MessageTemplate{}, fmt.Errorf("unknown template kind %q", kind)
	}

	stored, err := s.repo.GetByKind(ctx, kind)
	if err != nil {
		// fall back to the deploy-ready default so admins always see the
		// wording that would actually be sent
		return models.MessageTemplate{EventKind: kind, Text: defaultTemplates[kind]}, nil
	}

	return stored, nil
}

func (s *templateService) Update(ctx context.Context, kind, text, editor string) (models.MessageTemplate, error) {
	if _, ok := defaultTemplates[kind]; !ok {
		return models.MessageTemplate{}, fmt.Errorf("unknown template kind %q", kind)
	}

	clean := strings.TrimSpace(s.sanitizer.Sanitize(text))
	if clean == "" {
		return models.MessageTemplate{}, fmt.Errorf("template text must not be empty")
	}

	if err := s.Validate(kind, clean); err != nil {
		return models.MessageTemplate{}, err
	}

	template := models.MessageTemplate{EventKind: kind, Text: clean, UpdatedBy: editor}
	if err := s.repo.Upsert(ctx, &template); err != nil {
		return models.MessageTemplate{}, err
	}

	return template, nil
}

// DefaultTemplate returns the hard-coded fallback for a lifecycle kind.
func DefaultTemplate(kind string) string {
	return defaultTemplates[kind]
}
