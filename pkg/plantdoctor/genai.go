package plantdoctor

import (
	"context"
	"errors"
	"fmt"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GenAIAdvisor asks a Gemini model through the Google GenAI SDK.
type GenAIAdvisor struct {
	client *genai.Client
	model  string
	lggr   *zap.SugaredLogger
}

// NewGenAIAdvisor creates the client. An empty key is an error; callers treat it as "disabled".
func NewGenAIAdvisor(ctx context.Context, apiKey, model string, lggr *zap.SugaredLogger) (*GenAIAdvisor, error) {
	if apiKey == "" {
		return nil, errors.New("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GenAIAdvisor{client: client, model: model, lggr: lggr.Named("genai")}, nil
}

// Contents turns the prompt into alternating user and model turns.
func Contents(p Prompt) []*genai.Content {
	contents := make([]*genai.Content, 0, 2*len(p.History)+1)
	for _, c := range p.History {
		contents = append(contents,
			genai.NewContentFromText(Prompt{Crop: c.Crop, Question: c.Question}.UserText(), genai.RoleUser),
			genai.NewContentFromText(c.Answer, genai.RoleModel),
		)
	}
	return append(contents, genai.NewContentFromText(p.UserText(), genai.RoleUser))
}

// Advise generates an answer, retrying transient failures.
func (a *GenAIAdvisor) Advise(ctx context.Context, p Prompt) (string, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(p.System, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.4),
	}
	return retry.DoWithData(
		func() (string, error) {
			resp, err := a.client.Models.GenerateContent(ctx, a.model, Contents(p), config)
			if err != nil {
				return "", err
			}
			text := resp.Text()
			if text == "" {
				return "", errors.New("model returned an empty answer")
			}
			return text, nil
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			a.lggr.Warnw("retrying generate content", "attempt", n+1, "err", err)
		}),
	)
}
