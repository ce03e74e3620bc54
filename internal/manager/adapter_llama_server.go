package manager

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// llamaServerAdapter implements GeneratorRuntime by talking to a running
// llama.cpp server over its OpenAI-compatible completions endpoint. The
// server owns the weights; Load only checks that it answers.
type llamaServerAdapter struct {
	baseURL    string
	apiKey     string
	reqTimeout time.Duration
	httpClient *http.Client
}

// NewLlamaServerAdapter constructs a server-backed runtime. apiKey is sent as
// a bearer token when set.
func NewLlamaServerAdapter(baseURL, apiKey string, reqTimeout, connectTimeout time.Duration) GeneratorRuntime {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	// Timeout=0: every request carries a context deadline instead.
	return &llamaServerAdapter{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		reqTimeout: reqTimeout,
		httpClient: &http.Client{Transport: tr, Timeout: 0},
	}
}

func (a *llamaServerAdapter) Load(ctx context.Context, spec GeneratorSpec) (GeneratorSession, error) {
	if a.baseURL == "" {
		return nil, errors.New("llama server url is empty")
	}
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := probeModels(pctx, a.httpClient, a.baseURL, a.apiKey); err != nil {
		return nil, fmt.Errorf("llama server not reachable: %w", err)
	}
	return &completionSession{
		client:     a.httpClient,
		baseURL:    a.baseURL,
		apiKey:     a.apiKey,
		model:      spec.ModelPath,
		reqTimeout: a.reqTimeout,
	}, nil
}

// probeModels reports whether baseURL answers GET /v1/models with 2xx.
func probeModels(ctx context.Context, cli *http.Client, baseURL, apiKey string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/models", nil)
	if err != nil {
		return err
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	resp, err := cli.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("GET /v1/models: %s", resp.Status)
	}
	return nil
}

// completionSession streams /v1/completions from a llama-server.
type completionSession struct {
	client     *http.Client
	baseURL    string
	apiKey     string
	model      string
	reqTimeout time.Duration
}

// openAICompletionRequest represents the payload for /v1/completions.
type openAICompletionRequest struct {
	Model       string   `json:"model,omitempty"`
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature float32  `json:"temperature"`
	TopP        float32  `json:"top_p,omitempty"`
	TopK        int      `json:"top_k,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	Seed        int      `json:"seed,omitempty"`
	Stream      bool     `json:"stream"`
	// repeat_penalty is a llama.cpp extension; other servers ignore it.
	RepeatPenalty float32 `json:"repeat_penalty,omitempty"`
}

// openAIStreamChoice covers both completion (text) and chat (delta) chunks.
type openAIStreamChoice struct {
	Text  string `json:"text"`
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

type openAIStreamResponse struct {
	Object  string               `json:"object"`
	Choices []openAIStreamChoice `json:"choices"`
	Usage   *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (s *completionSession) Generate(ctx context.Context, prompt string, params GenerateParams, onToken func(string) error) (FinalResult, error) {
	if s.client == nil {
		return FinalResult{}, errors.New("llama server session not initialized")
	}
	if s.reqTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.reqTimeout)
		defer cancel()
	}
	payload := openAICompletionRequest{
		Model:         s.model,
		Prompt:        prompt,
		MaxTokens:     params.MaxTokens,
		Temperature:   params.Temperature,
		TopP:          params.TopP,
		TopK:          params.TopK,
		Stop:          params.Stop,
		Seed:          params.Seed,
		Stream:        true,
		RepeatPenalty: params.RepeatPenalty,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return FinalResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return FinalResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return FinalResult{}, ctx.Err()
		}
		return FinalResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return FinalResult{}, fmt.Errorf("llama server http error: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	final, err := readCompletionStream(ctx, resp.Body, onToken)
	if err != nil {
		return final, err
	}
	return final, nil
}

func (s *completionSession) Close() error { return nil }

// readCompletionStream consumes Server-Sent Events from /v1/completions and
// returns the accumulated content.
func readCompletionStream(ctx context.Context, body io.Reader, onToken func(string) error) (FinalResult, error) {
	r := bufio.NewReader(body)
	var (
		final FinalResult
		sb    strings.Builder
	)
	for {
		line, err := r.ReadString('\n')
		if l := strings.TrimSpace(line); l != "" && strings.HasPrefix(strings.ToLower(l), "data:") {
			data := strings.TrimSpace(l[len("data:"):])
			if data == "[DONE]" {
				break
			}
			var msg openAIStreamResponse
			if jerr := json.Unmarshal([]byte(data), &msg); jerr != nil {
				log.Debug().Str("adapter", "llama_server").Str("line", l).Msg("unknown stream line")
			} else {
				if msg.Usage != nil {
					final.Usage = Usage{
						PromptTokens:     msg.Usage.PromptTokens,
						CompletionTokens: msg.Usage.CompletionTokens,
						TotalTokens:      msg.Usage.TotalTokens,
					}
				}
				if len(msg.Choices) > 0 {
					c := msg.Choices[0]
					frag := c.Text
					if frag == "" {
						frag = c.Delta.Content
					}
					if frag != "" {
						sb.WriteString(frag)
						if onToken != nil {
							if cbErr := onToken(frag); cbErr != nil {
								final.Content = sb.String()
								return final, cbErr
							}
						}
					}
					if c.FinishReason != nil && *c.FinishReason != "" {
						final.FinishReason = *c.FinishReason
					}
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			final.Content = sb.String()
			if ctx.Err() != nil {
				return final, ctx.Err()
			}
			return final, err
		}
	}
	final.Content = sb.String()
	return final, nil
}
