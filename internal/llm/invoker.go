// Package llm invokes the language model endpoint with role-specific
// configuration and converts every failure mode into a user-facing message.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashvetsov/flowpilot/internal/domain"
)

// ServiceName is the credential-store key for the model endpoint.
const ServiceName = "llm"

// User-facing messages for every failure mode. The invoker never propagates
// a raw error past its boundary; callers always get one of these with zero
// tokens used.
const (
	MsgMissingCredential = "No language model API key is configured yet. " +
		"Add a personal key via POST /api/credentials (service \"llm\"), or ask " +
		"your administrator to configure a shared key, then send your message again."
	MsgTimeout = "The model took too long to respond and the request was " +
		"cancelled. Please try again; shorter messages usually help."
	MsgAuthFailure = "The configured model API key was rejected. Please check " +
		"that the key is valid and has not been revoked."
	MsgRateLimited = "The model endpoint is rate-limiting requests right now. " +
		"Wait a moment and try again."
	MsgQuotaExceeded = "The model account has run out of quota. Check the " +
		"billing status of the configured API key."
	MsgNetworkFailure = "I couldn't reach the model endpoint. Please check " +
		"connectivity and try again."
	MsgBadResponse = "The model endpoint returned an unexpected response. " +
		"Please try again."
	MsgCredentialLookupFailed = "I hit an internal problem looking up the " +
		"model API key. Please try again in a moment."
)

// CredentialResolver resolves an API credential for a service and user.
type CredentialResolver interface {
	Resolve(ctx context.Context, service, userID string) (string, error)
}

// Invoker sends role-configured chat requests to an OpenAI-compatible
// completion endpoint.
type Invoker struct {
	resolver CredentialResolver
	baseURL  string
	model    string
	timeout  time.Duration
	client   *http.Client
}

// NewInvoker creates an invoker for the given endpoint. timeout is the hard
// wall-clock limit on one model call and must stay strictly below the
// server's outer deadline.
func NewInvoker(resolver CredentialResolver, baseURL, model string, timeout time.Duration) *Invoker {
	return &Invoker{
		resolver: resolver,
		baseURL:  strings.TrimRight(baseURL, "/"),
		model:    model,
		timeout:  timeout,
		client:   &http.Client{},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Invoke sends the role's system prompt plus the context turns to the model
// and returns the response text with the tokens used. All failure modes
// resolve to a (message, 0) pair so the pipeline has one success shape to
// handle.
func (i *Invoker) Invoke(ctx context.Context, role domain.AgentRole, turns []domain.Turn, userID string) (string, int) {
	credential, err := i.resolver.Resolve(ctx, ServiceName, userID)
	if err != nil {
		slog.Error("credential lookup failed", "service", ServiceName, "user_id", userID, "error", err)
		return MsgCredentialLookupFailed, 0
	}
	if credential == "" {
		// Normal, recoverable condition: tell the caller how to configure
		// a key instead of failing.
		return MsgMissingCredential, 0
	}

	profile := ProfileFor(role)
	messages := make([]chatMessage, 0, len(turns)+1)
	messages = append(messages, chatMessage{Role: "system", Content: profile.SystemPrompt})
	for _, turn := range turns {
		msgRole := "user"
		switch turn.Role {
		case domain.TurnAssistant:
			msgRole = "assistant"
		case domain.TurnSystem:
			msgRole = "system"
		}
		messages = append(messages, chatMessage{Role: msgRole, Content: turn.Content})
	}

	body, err := json.Marshal(chatRequest{
		Model:       i.model,
		Messages:    messages,
		Temperature: profile.Temperature,
		MaxTokens:   profile.MaxTokens,
	})
	if err != nil {
		slog.Error("failed to encode model request", "error", err)
		return MsgBadResponse, 0
	}

	callCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost,
		i.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		slog.Error("failed to build model request", "error", err)
		return MsgNetworkFailure, 0
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+credential)

	start := time.Now()
	resp, err := i.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			slog.Warn("model call timed out", "role", role, "timeout", i.timeout)
			return MsgTimeout, 0
		}
		slog.Warn("model call failed", "role", role, "error", err)
		return MsgNetworkFailure, 0
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close model response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return i.classifyStatus(resp), 0
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		slog.Warn("failed to decode model response", "error", err)
		return MsgBadResponse, 0
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		slog.Warn("model response had no content", "role", role)
		return MsgBadResponse, 0
	}

	slog.Info("model call complete",
		"role", role,
		"tokens", parsed.Usage.TotalTokens,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return parsed.Choices[0].Message.Content, parsed.Usage.TotalTokens
}

// classifyStatus maps a non-200 endpoint status to one of the fixed
// human-readable messages.
func (i *Invoker) classifyStatus(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	body := strings.ToLower(string(raw))

	slog.Warn("model endpoint returned error status",
		"status", resp.StatusCode,
		"body_prefix", truncate(body, 200),
	)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return MsgAuthFailure
	case resp.StatusCode == http.StatusTooManyRequests:
		if strings.Contains(body, "quota") {
			return MsgQuotaExceeded
		}
		return MsgRateLimited
	case resp.StatusCode == http.StatusPaymentRequired || strings.Contains(body, "insufficient_quota") || strings.Contains(body, "quota"):
		return MsgQuotaExceeded
	default:
		return MsgBadResponse
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
