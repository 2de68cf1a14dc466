// Package llmclient implements the LLM Client facade (§4.3): one
// complete(request) operation shared by the Step Loop, Memory Managers and
// MCP Adapter, wrapping the four llm.Provider implementations with
// credential resolution, MissingCredential detection, and a retry/timeout
// policy so none of those callers duplicate it.
package llmclient

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"memoria/internal/config"
	"memoria/internal/errs"
	"memoria/internal/llm"
	"memoria/internal/llm/providers"
	"memoria/internal/util"
)

// Request is one chat completion call, independent of which provider
// ultimately serves it.
type Request struct {
	Provider string // openai|anthropic|google|deepseek; empty uses the process default
	Model    string // empty uses the provider's configured default model
	Messages []llm.Message
	Tools    []llm.ToolSchema

	// UserID/AgentID are carried through only for token-usage bookkeeping,
	// never for provider credential selection (credentials are process/user
	// settings scoped, never per-call).
	UserID  string
	AgentID string
}

// Response is one completed chat turn plus the usage/stop-reason accounting
// spec.md §4.3 requires every LLM Client response to carry. UserID/AgentID
// are carried through from the originating Request so an onUsage callback
// (C12's token-usage ledger) can attribute the call without a second lookup.
type Response struct {
	Message  llm.Message
	Provider string
	Model    string
	UserID   string
	AgentID  string
}

// Client is the LLM Client facade.
type Client struct {
	cfg       config.LLMConfig
	providers map[string]llm.Provider
	onUsage   func(Response)
}

// New builds a Client wrapping every configured provider (§4.3).
func New(cfg config.LLMConfig, provs map[string]llm.Provider, onUsage func(Response)) *Client {
	return &Client{cfg: cfg, providers: provs, onUsage: onUsage}
}

// NewFromConfig is the convenience constructor cmd/server uses at startup.
func NewFromConfig(cfg config.LLMConfig, onUsage func(Response)) (*Client, error) {
	provs, err := providers.BuildAll(cfg, nil)
	if err != nil {
		return nil, err
	}
	return New(cfg, provs, onUsage), nil
}

// credentialPresent reports whether the resolved provider has an API key
// configured, the detection §4.3 requires before ever calling the provider.
func (c *Client) credentialPresent(name string) (missingVar string, ok bool) {
	switch name {
	case "openai":
		if c.cfg.OpenAI.APIKey == "" {
			return "OPENAI_API_KEY", false
		}
	case "deepseek":
		if c.cfg.DeepSeek.APIKey == "" {
			return "DEEPSEEK_API_KEY", false
		}
	case "anthropic":
		if c.cfg.Anthropic.APIKey == "" {
			return "ANTHROPIC_API_KEY", false
		}
	case "google":
		if c.cfg.Google.APIKey == "" {
			return "GOOGLE_API_KEY", false
		}
	}
	return "", true
}

// CredentialStatus reports whether provider (or the default provider, if
// empty) has its credential configured, without making any network call.
// The Streaming Dispatcher uses this for its missing_api_keys short-circuit
// (§4.8) so probing credentials never itself burns a provider request.
func (c *Client) CredentialStatus(provider string) (missingVar string, ok bool) {
	name := strings.ToLower(provider)
	if name == "" {
		name = c.cfg.DefaultProvider
	}
	if _, known := c.providers[name]; !known {
		return "", true // unknown provider isn't this check's concern; Complete will reject it
	}
	return c.credentialPresent(name)
}

// Complete runs one chat completion with retry/timeout and MissingCredential
// short-circuiting (§4.3). One attempt plus up to MaxRetries retries on a
// Transient failure, each attempt capped by RequestTimeout, with exponential
// backoff from RetryBaseDelay.
func (c *Client) Complete(ctx context.Context, req Request) (Response, error) {
	name := strings.ToLower(req.Provider)
	if name == "" {
		name = c.cfg.DefaultProvider
	}
	provider, ok := c.providers[name]
	if !ok {
		return Response{}, errs.New(errs.InvalidInput, "unknown llm provider "+name, nil)
	}
	if missingVar, present := c.credentialPresent(name); !present {
		return Response{}, errs.MissingCred(name, missingVar)
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * c.cfg.RetryBaseDelay
			select {
			case <-ctx.Done():
				return Response{}, errs.New(errs.Cancelled, "llm complete cancelled during backoff", ctx.Err())
			case <-time.After(backoff):
			}
		}

		cctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		msg, err := provider.Chat(cctx, req.Messages, req.Tools, req.Model)
		cancel()
		if err == nil {
			msg = ensureUsage(msg, req.Messages)
			resp := Response{Message: msg, Provider: name, Model: req.Model, UserID: req.UserID, AgentID: req.AgentID}
			if c.onUsage != nil {
				c.onUsage(resp)
			}
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return Response{}, errs.New(errs.Cancelled, "llm complete cancelled", ctx.Err())
		}
		if !isTransient(err) {
			return Response{}, errs.New(errs.Fatal, "llm provider call failed", err)
		}
	}
	return Response{}, errs.New(errs.Transient, "llm provider call exhausted retries", lastErr)
}

// ensureUsage fills Usage with a util.CountTokens estimate when the
// provider's own SDK response didn't surface token accounting, so callers
// can always rely on Message.Usage being non-nil.
func ensureUsage(msg llm.Message, req []llm.Message) llm.Message {
	if msg.Usage != nil {
		return msg
	}
	var promptTokens int
	for _, m := range req {
		promptTokens += util.CountTokens(m.Content)
	}
	msg.Usage = &llm.Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: util.CountTokens(msg.Content),
		TotalTokens:      promptTokens + util.CountTokens(msg.Content),
	}
	if msg.StopReason == "" {
		if len(msg.ToolCalls) > 0 {
			msg.StopReason = "tool_calls"
		} else {
			msg.StopReason = "stop"
		}
	}
	return msg
}

// isTransient classifies provider-layer errors that were not already
// wrapped in an errs.Error. Provider clients return plain errors from the
// underlying SDKs (network failures, 5xx, timeouts); those are retried.
// Explicit 4xx-shaped failures (bad request, auth, not found) are not.
func isTransient(err error) bool {
	if errs.Is(err, errs.Transient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"timeout", "connection reset", "temporarily unavailable", "503", "502", "504", "rate limit exceeded and should be retried"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
