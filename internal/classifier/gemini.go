package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const classifyPrompt = `You are a moderation risk classifier for a community chat platform.
Assess the following user content and respond with ONLY a JSON object:
{"score": <float 0.0-1.0, 0 = benign, 1 = certain violation>,
 "category": <one of "none", "spam", "toxicity", "harassment", "phishing", "scam">,
 "rationale": <one short sentence>}

Channel context: %s
Content:
%s`

const extractIntentPrompt = `You convert a moderation operator's free-text request into a structured command.
Respond with ONLY a JSON object:
{"op": <one of "query_user", "query_top_risk", "query_stats", "execute_action", "unknown">,
 "user": <user id mentioned, or "">,
 "action": <for execute_action: one of "warn", "mute", "kick", "ban", "unban", else "">,
 "limit": <integer result limit if mentioned, else 0>,
 "reason": <short reason if given, else "">}

If the request does not clearly map to one of the listed operations, use "unknown".

Request:
%s`

// GeminiService implements Service against the Gemini API.
type GeminiService struct {
	client *genai.Client
	model  string
}

func NewGeminiService(apiKey, model string) (*GeminiService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiService{client: client, model: model}, nil
}

// Classify scores one piece of content. The model response is validated
// and coerced into the fixed schema here; nothing untyped crosses this
// boundary.
func (s *GeminiService) Classify(ctx context.Context, content, channelContext string) (*Classification, error) {
	prompt := fmt.Sprintf(classifyPrompt, channelContext, content)

	raw, err := s.generateJSON(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var cls Classification
	if err := json.Unmarshal([]byte(raw), &cls); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	// Clamp rather than reject: scores drift, schema must not.
	if cls.Score < 0 {
		cls.Score = 0
	}
	if cls.Score > 1 {
		cls.Score = 1
	}
	cls.Category = strings.ToLower(strings.TrimSpace(cls.Category))

	return &cls, nil
}

// ExtractIntent maps operator free text onto the closed command grammar.
func (s *GeminiService) ExtractIntent(ctx context.Context, text string) (*ExtractedIntent, error) {
	prompt := fmt.Sprintf(extractIntentPrompt, text)

	raw, err := s.generateJSON(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var intent ExtractedIntent
	if err := json.Unmarshal([]byte(raw), &intent); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	intent.Op = strings.ToLower(strings.TrimSpace(intent.Op))
	intent.Action = strings.ToLower(strings.TrimSpace(intent.Action))

	return &intent, nil
}

func (s *GeminiService) generateJSON(ctx context.Context, prompt string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0),
	}

	resp, err := s.client.Models.GenerateContent(ctx, s.model, genai.Text(prompt), cfg)
	if err != nil {
		return "", mapServiceError(err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrMalformed
	}
	// Some models wrap JSON in a fenced block even in JSON mode.
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	return strings.TrimSpace(text), nil
}

// mapServiceError translates transport/API failures into the package's
// error taxonomy before they cross the boundary.
func mapServiceError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429:
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		case apiErr.Code >= 500:
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		case apiErr.Code >= 400:
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}

	return fmt.Errorf("%w: %v", ErrTimeout, err)
}
