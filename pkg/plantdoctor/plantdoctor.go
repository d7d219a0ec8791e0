// Package plantdoctor answers farmers' crop health questions through a language model.
package plantdoctor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"agrimarket/pkg/fault"
	"agrimarket/pkg/session"
	"agrimarket/pkg/storage/sqlstore"
)

// contextSize is how many earlier consultations are replayed to the model.
const contextSize = 5

// SystemInstruction frames every answer.
const SystemInstruction = `You are an experienced agronomist helping small farmers.
Diagnose likely pests, diseases or nutrient problems from the description, say how sure you are,
and give practical treatment steps with locally available inputs. Prefer integrated pest management,
mention safety precautions for any chemical, and suggest contacting the local agriculture office
when the symptoms are severe or unclear. Answer briefly in plain language.`

// ErrNotConfigured is returned by Ask when no model is available.
var ErrNotConfigured = fault.Conflict("plant doctor is not configured")

// Consultation is one question and the answer given.
type Consultation struct {
	ID        string    `json:"id"`
	FarmerID  string    `json:"farmer_id"`
	Crop      string    `json:"crop,omitempty"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	CreatedAt time.Time `json:"created_at"`
}

// Prompt is what an Advisor is asked.
type Prompt struct {
	System   string
	History  []Consultation
	Crop     string
	Question string
}

// Advisor produces an answer for a prompt.
type Advisor interface {
	Advise(ctx context.Context, p Prompt) (string, error)
}

// Repository persists consultations.
type Repository interface {
	Save(ctx context.Context, c Consultation) error
	Recent(ctx context.Context, farmerID string, limit int) ([]Consultation, error)
}

// Service records consultations. Calls are not serialised; each farmer's question is independent.
type Service struct {
	repo    Repository
	advisor Advisor
	lggr    *zap.SugaredLogger
	now     func() time.Time
}

// NewService wires the advisor. A nil advisor disables Ask.
func NewService(repo Repository, advisor Advisor, lggr *zap.SugaredLogger) *Service {
	return &Service{
		repo:    repo,
		advisor: advisor,
		lggr:    lggr.Named("plantdoctor"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Enabled reports whether questions can be answered.
func (s *Service) Enabled() bool {
	return s.advisor != nil
}

// Ask answers a farmer's question with their recent consultations as context.
func (s *Service) Ask(ctx context.Context, who session.Actor, crop, question string) (Consultation, error) {
	if who.Role != session.RoleFarmer {
		return Consultation{}, fault.Forbidden("plant doctor is available to farmers only")
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return Consultation{}, fault.Validation("question is required")
	}
	if s.advisor == nil {
		return Consultation{}, ErrNotConfigured
	}

	recent, err := s.repo.Recent(ctx, who.ID, contextSize)
	if err != nil {
		return Consultation{}, fmt.Errorf("load history: %w", err)
	}
	// Oldest first reads as a conversation.
	history := make([]Consultation, len(recent))
	for i, c := range recent {
		history[len(recent)-1-i] = c
	}

	crop = strings.TrimSpace(crop)
	answer, err := s.advisor.Advise(ctx, Prompt{System: SystemInstruction, History: history, Crop: crop, Question: question})
	if err != nil {
		s.lggr.Errorw("advisor failed", "farmer", who.ID, "err", err)
		return Consultation{}, fmt.Errorf("ask advisor: %w", err)
	}
	c := Consultation{
		ID:        sqlstore.NewID("pdc"),
		FarmerID:  who.ID,
		Crop:      crop,
		Question:  question,
		Answer:    strings.TrimSpace(answer),
		CreatedAt: s.now(),
	}
	if err := s.repo.Save(ctx, c); err != nil {
		return Consultation{}, fmt.Errorf("save consultation: %w", err)
	}
	s.lggr.Infow("consultation answered", "id", c.ID, "farmer", who.ID, "crop", crop, "context", len(history))
	return c, nil
}

// History returns the farmer's consultations, newest first.
func (s *Service) History(ctx context.Context, who session.Actor, limit int) ([]Consultation, error) {
	if who.Role != session.RoleFarmer {
		return nil, fault.Forbidden("plant doctor is available to farmers only")
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.Recent(ctx, who.ID, limit)
}

// UserText renders the question turn sent to the model.
func (p Prompt) UserText() string {
	if p.Crop == "" {
		return p.Question
	}
	return fmt.Sprintf("Crop: %s\n%s", p.Crop, p.Question)
}
