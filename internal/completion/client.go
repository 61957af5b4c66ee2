package completion

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/copilot-import/copilot-import/internal/config"
	apperrors "github.com/copilot-import/copilot-import/internal/errors"
	"github.com/copilot-import/copilot-import/internal/metrics"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"github.com/tiktoken-go/tokenizer"
	"golang.org/x/oauth2"
)

// Client sends completion requests. It is safe for concurrent use.
type Client struct {
	endpoint     string
	intent       string
	organization string
	sampling     Sampling
	httpClient   *http.Client
	tokens       oauth2.TokenSource
}

// NewClient builds a client from cfg. tokens supplies the bearer credential for
// every request; a nil source or an empty token sends requests unauthenticated.
func NewClient(cfg *config.Config, tokens oauth2.TokenSource) *Client {
	return &Client{
		endpoint:     cfg.Completion.EndpointURL(),
		intent:       cfg.Completion.Intent,
		organization: cfg.Completion.Organization,
		sampling: Sampling{
			MaxTokens:   cfg.Completion.GetMaxTokens(),
			Temperature: cfg.Completion.GetTemperature(),
			TopP:        cfg.Completion.GetTopP(),
			N:           cfg.Completion.GetN(),
			Logprobs:    cfg.Completion.GetLogprobs(),
		},
		httpClient: cfg.HTTPClient(),
		tokens:     tokens,
	}
}

// EnvTokenSource reads the bearer token from cfg's token environment variable on
// every request, so a reloaded .env takes effect without rebuilding the client.
func EnvTokenSource(cfg *config.Config) oauth2.TokenSource {
	return tokenSourceFunc(func() (*oauth2.Token, error) {
		return &oauth2.Token{AccessToken: cfg.Token(), TokenType: "Bearer"}, nil
	})
}

type tokenSourceFunc func() (*oauth2.Token, error)

func (f tokenSourceFunc) Token() (*oauth2.Token, error) { return f() }

// Complete sends req and parses the choices. Any non-200 status is returned as an
// apperrors.KindHTTP error carrying the status and raw body.
func (c *Client) Complete(ctx context.Context, req *Request) (*Response, error) {
	sampling := c.sampling
	if req.Sampling != nil {
		sampling = *req.Sampling
	}
	prompt := req.HeaderPrompt()
	body, err := buildPayload(prompt, req.Stop, sampling)
	if err != nil {
		return nil, fmt.Errorf("failed to build completion payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create completion request: %w", err)
	}
	requestID := uuid.NewString()
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("OpenAI-Intent", c.intent)
	httpReq.Header.Set("OpenAI-Organization", c.organization)
	httpReq.Header.Set("X-Request-Id", requestID)

	promptTokens := countTokens(prompt)
	metrics.ObservePromptTokens(promptTokens)
	log.WithFields(log.Fields{
		"path":          req.Path,
		"request_id":    requestID,
		"prompt_tokens": promptTokens,
		"stop":          req.Stop,
	}).Debug("completion request")

	client, err := c.clientFor(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	httpResp, err := client.Do(httpReq)
	if err != nil {
		metrics.RecordCompletion(0, time.Since(start))
		return nil, fmt.Errorf("completion request failed: %w", err)
	}
	defer func() {
		if errClose := httpResp.Body.Close(); errClose != nil {
			log.Errorf("completion client: close response body error: %v", errClose)
		}
	}()

	data, err := io.ReadAll(httpResp.Body)
	metrics.RecordCompletion(httpResp.StatusCode, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("failed to read completion response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		log.WithFields(log.Fields{
			"status":     httpResp.StatusCode,
			"request_id": requestID,
		}).Warnf("completion endpoint returned an error: %s", string(data))
		return nil, apperrors.HTTP("Copilot returned an error", httpResp.StatusCode, data)
	}

	resp, err := parseResponse(data)
	if err != nil {
		return nil, err
	}
	resp.RequestID = requestID
	return resp, nil
}

// clientFor returns an http.Client that attaches the bearer token, or the plain
// client when no token is available.
func (c *Client) clientFor(ctx context.Context) (*http.Client, error) {
	if c.tokens == nil {
		return c.httpClient, nil
	}
	tok, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to obtain completion token: %w", err)
	}
	if tok == nil || strings.TrimSpace(tok.AccessToken) == "" {
		log.Debug("no completion token configured; sending unauthenticated request")
		return c.httpClient, nil
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(tok)), nil
}

func buildPayload(prompt string, stop []string, s Sampling) ([]byte, error) {
	if stop == nil {
		stop = []string{}
	}
	body := []byte(`{}`)
	var err error
	for _, kv := range []struct {
		path  string
		value any
	}{
		{"prompt", prompt},
		{"max_tokens", s.MaxTokens},
		{"temperature", s.Temperature},
		{"top_p", s.TopP},
		{"n", s.N},
		{"logprobs", s.Logprobs},
		{"stop", stop},
		{"stream", false},
	} {
		if body, err = sjson.SetBytes(body, kv.path, kv.value); err != nil {
			return nil, err
		}
	}
	return body, nil
}

func parseResponse(data []byte) (*Response, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("completion response is not valid JSON: %s", string(data))
	}
	root := gjson.ParseBytes(data)
	resp := &Response{ID: root.Get("id").String()}
	root.Get("choices").ForEach(func(_, choice gjson.Result) bool {
		resp.Choices = append(resp.Choices, Choice{
			Index:        int(choice.Get("index").Int()),
			Text:         choice.Get("text").String(),
			FinishReason: choice.Get("finish_reason").String(),
		})
		return true
	})
	return resp, nil
}

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

// countTokens estimates prompt size with the cl100k encoding, falling back to a
// four-bytes-per-token estimate if the codec cannot be loaded.
func countTokens(text string) int {
	codecOnce.Do(func() {
		enc, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			log.Debugf("tokenizer unavailable: %v", err)
			return
		}
		codec = enc
	})
	if codec == nil {
		return (len(text) + 3) / 4
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return (len(text) + 3) / 4
	}
	return len(ids)
}
