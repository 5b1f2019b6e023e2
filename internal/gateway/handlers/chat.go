package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"github.com/keywheel/keywheel/internal/gateway/admission"
	"github.com/keywheel/keywheel/internal/gateway/cache"
	"github.com/keywheel/keywheel/internal/gateway/providers"
	"github.com/keywheel/keywheel/internal/gateway/tokens"
	"github.com/keywheel/keywheel/internal/shared/database"
	"github.com/keywheel/keywheel/internal/shared/metrics"
	"github.com/keywheel/keywheel/internal/shared/models"
)

const (
	// autoModel is the synthetic model name that triggers candidate fallback.
	autoModel = "auto-model"

	// maxKeyAttempts bounds how many keys one request may burn through when
	// providers keep rejecting them.
	maxKeyAttempts = 3

	chatEndpoint = "/v1/chat/completions"
)

// ProviderSource yields configured providers and model-to-provider routing.
// Satisfied by *providers.Manager.
type ProviderSource interface {
	Get(name string) (providers.Provider, bool)
	LookupProvider(model string) (string, bool)
}

type ChatHandler struct {
	source   ProviderSource
	registry *admission.Registry
	selector *admission.Selector
	resolver *admission.Resolver
	cache    *cache.Cache
	db       *database.DB
	metrics  *metrics.Metrics
}

// NewChatHandler wires the completion endpoint. cache and db may be nil when
// Redis or Postgres are not configured.
func NewChatHandler(source ProviderSource, registry *admission.Registry, selector *admission.Selector, resolver *admission.Resolver, cache *cache.Cache, db *database.DB, m *metrics.Metrics) *ChatHandler {
	return &ChatHandler{
		source:   source,
		registry: registry,
		selector: selector,
		resolver: resolver,
		cache:    cache,
		db:       db,
		metrics:  m,
	}
}

// HandleChatCompletion handles POST /v1/chat/completions
func (h *ChatHandler) HandleChatCompletion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req providers.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errTypeInvalidRequest, "invalid request body")
		return
	}

	if req.Model == "" {
		writeError(w, http.StatusBadRequest, errTypeInvalidRequest, "model is required")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, errTypeInvalidRequest, "messages must not be empty")
		return
	}

	estimate := tokens.EstimateRequest(req)

	if req.Stream {
		h.handleStreamingChat(w, r, req, estimate)
		return
	}

	// Cache hits consume no quota, so look before admission.
	if h.cache != nil {
		if cached, err := h.cache.Get(ctx, req); err == nil {
			cached.LatencyMs = int(time.Since(startTime).Milliseconds())

			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache-Hit", "true")
			json.NewEncoder(w).Encode(cached)
			return
		}
	}

	originalModel := req.Model

	var (
		resp    *providers.ChatResponse
		grant   *admission.Grant
		served  string
		lastErr error
	)

	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		model, g, err := h.admit(originalModel, estimate)
		if err != nil {
			h.rejectAdmission(w, r, originalModel, time.Since(startTime), err)
			return
		}

		h.metrics.RecordAdmission(g.Provider, "granted")
		h.metrics.RecordTokensReserved(estimate)
		grant = g
		served = model

		attemptReq := req
		attemptReq.Model = model

		resp, err = h.callProvider(ctx, g, attemptReq)
		if err == nil {
			break
		}

		lastErr = err
		resp = nil
		g.Reservation.Release()

		if providers.IsQuotaError(g.Provider, err) {
			h.registry.MarkExhausted(g.Provider, g.KeyID)
			h.metrics.RecordKeyExhaustion(g.Provider, g.KeyID)
			continue
		}
		if providers.IsRetryableError(err) {
			continue
		}
		break
	}

	if resp == nil {
		writeError(w, http.StatusBadGateway, errTypeAPI, fmt.Sprintf("provider error: %v", lastErr))

		errMsg := lastErr.Error()
		h.logCompletion(ctx, models.CompletionLog{
			Model:        served,
			Provider:     grant.Provider,
			KeyID:        grant.KeyID,
			StatusCode:   http.StatusBadGateway,
			LatencyMs:    int(time.Since(startTime).Milliseconds()),
			ErrorMessage: &errMsg,
		})
		return
	}

	// Swap the estimate for the provider's real count. Without a usage
	// report the estimate stays on the books.
	if resp.Usage.TotalTokens > 0 {
		grant.Reservation.Confirm(resp.Usage.TotalTokens)
		h.metrics.RecordTokensConfirmed(resp.Usage.TotalTokens)
	}

	totalLatency := int(time.Since(startTime).Milliseconds())
	resp.LatencyMs = totalLatency

	if h.cache != nil {
		h.cache.Set(ctx, req, resp)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache-Hit", "false")
	w.Header().Set("X-Provider", grant.Provider)
	w.Header().Set("X-Key-ID", grant.KeyID)
	w.Header().Set("X-Latency-Ms", fmt.Sprintf("%d", totalLatency))

	h.logCompletion(ctx, models.CompletionLog{
		Model:            served,
		Provider:         grant.Provider,
		KeyID:            grant.KeyID,
		StatusCode:       http.StatusOK,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		LatencyMs:        totalLatency,
	})

	json.NewEncoder(w).Encode(resp)
}

// handleStreamingChat handles streaming chat completions
func (h *ChatHandler) handleStreamingChat(w http.ResponseWriter, r *http.Request, req providers.ChatRequest, estimate int) {
	ctx := r.Context()
	startTime := time.Now()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errTypeAPI, "streaming not supported")
		return
	}

	originalModel := req.Model

	var (
		stream  providers.StreamReader
		grant   *admission.Grant
		served  string
		lastErr error
	)

	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		model, g, err := h.admit(originalModel, estimate)
		if err != nil {
			h.rejectAdmission(w, r, originalModel, time.Since(startTime), err)
			return
		}

		h.metrics.RecordAdmission(g.Provider, "granted")
		h.metrics.RecordTokensReserved(estimate)
		grant = g
		served = model

		attemptReq := req
		attemptReq.Model = model

		provider, ok := h.source.Get(g.Provider)
		if !ok {
			g.Reservation.Release()
			lastErr = fmt.Errorf("provider %s not configured", g.Provider)
			break
		}

		callStart := time.Now()
		stream, err = provider.ChatCompletionStream(ctx, g.Secret, attemptReq)
		if err == nil {
			break
		}
		h.metrics.RecordProviderRequest(g.Provider, "error", time.Since(callStart))

		lastErr = err
		g.Reservation.Release()

		if providers.IsQuotaError(g.Provider, err) {
			h.registry.MarkExhausted(g.Provider, g.KeyID)
			h.metrics.RecordKeyExhaustion(g.Provider, g.KeyID)
			continue
		}
		if providers.IsRetryableError(err) {
			continue
		}
		break
	}

	if stream == nil {
		writeError(w, http.StatusBadGateway, errTypeAPI, fmt.Sprintf("streaming error: %v", lastErr))

		errMsg := lastErr.Error()
		h.logCompletion(ctx, models.CompletionLog{
			Model:        served,
			Provider:     grant.Provider,
			KeyID:        grant.KeyID,
			StatusCode:   http.StatusBadGateway,
			LatencyMs:    int(time.Since(startTime).Milliseconds()),
			ErrorMessage: &errMsg,
		})
		return
	}
	defer stream.Close()

	// SSE headers go out only once the upstream stream is open, so admission
	// failures above still carry real status codes.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Provider", grant.Provider)
	w.Header().Set("X-Key-ID", grant.KeyID)

	var usage *openai.Usage
	var streamErr error
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			payload, _ := json.Marshal(apiError{Error: apiErrorDetail{Message: err.Error(), Type: errTypeAPI}})
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			streamErr = err
			break
		}

		// The final chunk carries usage when the provider reports it.
		if chunk.Usage != nil {
			usage = chunk.Usage
		}

		data, _ := json.Marshal(chunk)
		fmt.Fprintf(w, "data: %s\n\n", string(data))
		flusher.Flush()
	}

	if streamErr == nil {
		fmt.Fprintf(w, "data: [DONE]\n\n")
		flusher.Flush()
	}

	h.metrics.RecordProviderRequest(grant.Provider, streamResult(streamErr), time.Since(startTime))

	entry := models.CompletionLog{
		Model:      served,
		Provider:   grant.Provider,
		KeyID:      grant.KeyID,
		StatusCode: http.StatusOK,
		LatencyMs:  int(time.Since(startTime).Milliseconds()),
	}
	if usage != nil && usage.TotalTokens > 0 {
		grant.Reservation.Confirm(usage.TotalTokens)
		h.metrics.RecordTokensConfirmed(usage.TotalTokens)
		entry.PromptTokens = usage.PromptTokens
		entry.CompletionTokens = usage.CompletionTokens
		entry.TotalTokens = usage.TotalTokens
	}
	if streamErr != nil {
		msg := streamErr.Error()
		entry.ErrorMessage = &msg
	}
	h.logCompletion(ctx, entry)
}

func streamResult(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// admit reserves capacity for the request, resolving auto-model to the first
// candidate with an eligible key.
func (h *ChatHandler) admit(model string, estimate int) (string, *admission.Grant, error) {
	if model == autoModel {
		return h.resolver.Resolve(estimate)
	}

	provider, ok := h.source.LookupProvider(model)
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", admission.ErrUnknownModel, model)
	}

	grant, err := h.selector.Select(provider, estimate)
	if err != nil {
		return "", nil, err
	}
	return model, grant, nil
}

func (h *ChatHandler) callProvider(ctx context.Context, g *admission.Grant, req providers.ChatRequest) (*providers.ChatResponse, error) {
	provider, ok := h.source.Get(g.Provider)
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", g.Provider)
	}

	start := time.Now()
	resp, err := provider.ChatCompletion(ctx, g.Secret, req)

	result := "success"
	if err != nil {
		result = "error"
	}
	h.metrics.RecordProviderRequest(g.Provider, result, time.Since(start))

	return resp, err
}

// rejectAdmission maps admission errors to client responses: unknown models
// are the client's mistake, exhausted keys mean retry later.
func (h *ChatHandler) rejectAdmission(w http.ResponseWriter, r *http.Request, model string, latency time.Duration, err error) {
	provider := "auto"
	if model != autoModel {
		provider, _ = h.source.LookupProvider(model)
	}

	var status int
	var reason string

	switch {
	case errors.Is(err, admission.ErrUnknownModel):
		status = http.StatusBadRequest
		reason = "unknown_model"
		writeError(w, status, errTypeInvalidRequest, fmt.Sprintf("unknown model: %s", model))
	case errors.Is(err, admission.ErrNoEligibleKey):
		status = http.StatusTooManyRequests
		reason = "no_eligible_key"
		w.Header().Set("Retry-After", "60")
		writeError(w, status, errTypeRateLimit, "all API keys are currently rate limited, please retry later")
	default:
		status = http.StatusInternalServerError
		reason = "internal"
		writeError(w, status, errTypeAPI, err.Error())
	}

	h.metrics.RecordAdmission(provider, reason)

	h.logCompletion(r.Context(), models.CompletionLog{
		Model:        model,
		Provider:     provider,
		StatusCode:   status,
		LatencyMs:    int(latency.Milliseconds()),
		RejectReason: &reason,
	})
}

// logCompletion records the attempt in Postgres off the request path.
func (h *ChatHandler) logCompletion(ctx context.Context, entry models.CompletionLog) {
	if h.db == nil {
		return
	}

	entry.ID = uuid.NewString()
	entry.RequestID = requestID(ctx)
	entry.Endpoint = chatEndpoint

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := h.db.LogCompletion(ctx, &entry); err != nil {
			log.Printf("Failed to log completion: %v", err)
		}
	}()
}
