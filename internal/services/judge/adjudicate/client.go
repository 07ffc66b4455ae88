// Package adjudicate submits compressed evidence and the rule document
// to a multimodal reasoning model and collects its streamed output.
package adjudicate

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/rplusq/run-judge/internal/platform/errors"
	"github.com/rplusq/run-judge/internal/platform/timeouts"
	"github.com/rplusq/run-judge/internal/services/judge/compress"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

// Config configures the model client.
type Config struct {
	// BaseURL is an OpenAI-compatible API root.
	BaseURL string
	// APIKey authenticates requests.
	APIKey string
	// Model names the multimodal model to invoke.
	Model string
	// HTTPClient overrides the transport; nil uses http.DefaultClient.
	HTTPClient *http.Client
	// Timeout bounds one request including the full stream read. Zero
	// uses the adjudication default.
	Timeout time.Duration
}

// Client invokes the reasoning model over a streamed chat completion.
type Client struct {
	cfg Config
}

// NewClient validates cfg and builds a Client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("model api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = timeouts.Adjudication
	}
	return &Client{cfg: cfg}, nil
}

// Adjudicate sends the rule document plus all evidence images in one
// request and returns the concatenated final-answer output. The model
// may emit its response in separate chunks; chunks on the answer
// channel are concatenated in emission order, chunks on the tool
// channel are discarded.
func (c *Client) Adjudicate(ctx context.Context, rules string, evidence []compress.Compressed) (string, error) {
	if len(evidence) == 0 {
		return "", apperrors.New(apperrors.CodeModelRequestFailed, "no evidence to adjudicate")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(c.buildRequest(rules, evidence))
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeModelRequestFailed, "marshal model request", err)
	}

	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeModelRequestFailed, "build model request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// Credential material travels only in the Authorization header and
	// is never echoed in errors.
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "text/event-stream")

	res, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeModelRequestFailed, "model request failed", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		detail, readErr := io.ReadAll(io.LimitReader(res.Body, 4096))
		if readErr != nil {
			detail = nil
		}
		return "", apperrors.New(apperrors.CodeModelRequestFailed,
			fmt.Sprintf("model request status %d: %s", res.StatusCode, strings.TrimSpace(string(detail))))
	}

	chunks := make(chan chunk)
	go produceChunks(res.Body, chunks)

	var answer strings.Builder
	var discardedTool int
	for ch := range chunks {
		if ch.err != nil {
			// Drain so the producer goroutine exits.
			for range chunks {
			}
			return "", apperrors.Wrap(apperrors.CodeModelRequestFailed, "read model stream", ch.err)
		}
		switch ch.channel {
		case channelAnswer:
			answer.WriteString(ch.text)
		case channelTool:
			discardedTool++
		}
	}
	if discardedTool > 0 {
		log.Printf("adjudication discarded %d tool-channel chunks", discardedTool)
	}
	if strings.TrimSpace(answer.String()) == "" {
		return "", apperrors.New(apperrors.CodeModelOutputMalformed, "model stream produced no answer content")
	}
	return answer.String(), nil
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

func (c *Client) buildRequest(rules string, evidence []compress.Compressed) map[string]any {
	parts := []contentPart{{Type: "text", Text: rules}}
	for _, ev := range evidence {
		parts = append(parts,
			contentPart{Type: "text", Text: fmt.Sprintf("the following image ID is %d", ev.ActivityID)},
			contentPart{Type: "image_url", ImageURL: &imageURL{
				URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(ev.JPEG),
			}},
		)
	}
	return map[string]any{
		"model":    c.cfg.Model,
		"stream":   true,
		"messages": []chatMessage{{Role: "user", Content: parts}},
	}
}
