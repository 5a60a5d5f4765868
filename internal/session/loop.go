package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/schema"
	"github.com/oklog/ulid/v2"

	"github.com/opsploit/core/internal/event"
	"github.com/opsploit/core/internal/logging"
	"github.com/opsploit/core/internal/provider"
	"github.com/opsploit/core/pkg/types"
)

const (
	// MaxSteps is the maximum number of agentic loop iterations.
	MaxSteps = 50
	// MaxRetries is the maximum number of retries for API errors.
	MaxRetries = 3
	// RetryInitialInterval is the initial interval for exponential backoff.
	RetryInitialInterval = time.Second
	// RetryMaxInterval is the maximum interval for exponential backoff.
	RetryMaxInterval = 30 * time.Second
	// RetryMaxElapsedTime is the maximum total time for retries.
	RetryMaxElapsedTime = 2 * time.Minute
	// MaxContextTokens is the threshold for triggering context compaction.
	MaxContextTokens = 150000
)

// Status is the terminal state of one runLoop invocation.
type Status string

const (
	// StatusContinue: the loop finished a turn normally; another user turn
	// may follow.
	StatusContinue Status = "continue"
	// StatusStop: a denied permission or fatal error ended the loop.
	StatusStop Status = "stop"
	// StatusCompact: context would overflow; the caller must compact
	// history and rerun.
	StatusCompact Status = "compact"
)

// newRetryBackoff creates an exponential backoff with jitter for API
// retries, bounded by MaxRetries and cancellable through ctx.
func newRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = RetryInitialInterval
	b.MaxInterval = RetryMaxInterval
	b.MaxElapsedTime = RetryMaxElapsedTime
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, MaxRetries), ctx)
}

// runLoop executes the agentic loop for one assistant message.
func (p *Processor) runLoop(
	ctx context.Context,
	sessionID string,
	state *sessionState,
	agent *Agent,
	callback ProcessCallback,
) (Status, error) {
	messages, err := p.loadMessages(ctx, sessionID)
	if err != nil {
		return StatusStop, err
	}

	if len(messages) == 0 {
		return StatusStop, fmt.Errorf("no messages in session")
	}

	lastMsg := messages[len(messages)-1]
	if lastMsg.Role != "user" {
		return StatusStop, fmt.Errorf("expected user message, got %s", lastMsg.Role)
	}

	// First turn: derive a session title from the user's prompt, off the
	// critical path.
	if len(messages) == 1 {
		if sess, err := p.findSession(ctx, sessionID); err == nil {
			if parts, err := p.loadParts(ctx, lastMsg.ID); err == nil {
				for _, part := range parts {
					if tp, ok := part.(*types.TextPart); ok && tp.Text != "" {
						go p.ensureTitle(ctx, sess, tp.Text)
						break
					}
				}
			}
		}
	}

	providerID := p.defaultProviderID
	modelID := p.defaultModelID
	if lastMsg.Model != nil {
		providerID = lastMsg.Model.ProviderID
		modelID = lastMsg.Model.ModelID
	}

	prov, err := p.providerRegistry.Get(providerID)
	if err != nil {
		return StatusStop, fmt.Errorf("provider not found: %w", err)
	}

	model, err := p.providerRegistry.GetModel(providerID, modelID)
	if err != nil {
		return StatusStop, fmt.Errorf("model not found: %w", err)
	}

	// Create the assistant message this loop owns.
	now := time.Now().UnixMilli()
	assistantMsg := &types.Message{
		ID:         generatePartID(),
		SessionID:  sessionID,
		Role:       "assistant",
		ProviderID: providerID,
		ModelID:    modelID,
		Time: types.MessageTime{
			Created: now,
		},
	}
	state.message = assistantMsg

	if err := p.storage.Put(ctx, []string{"message", sessionID, assistantMsg.ID}, assistantMsg); err != nil {
		return StatusStop, fmt.Errorf("failed to save message: %w", err)
	}

	callback(assistantMsg, nil)

	event.Publish(event.Event{
		Type: event.MessageCreated,
		Data: event.MessageCreatedData{Info: assistantMsg},
	})

	if agent == nil {
		agent = DefaultAgent()
	}

	maxSteps := agent.MaxSteps
	if maxSteps <= 0 {
		maxSteps = MaxSteps
	}

	step := 0
	attempt := 0
	retryBackoff := newRetryBackoff(ctx)

	// retry sleeps for the next backoff interval, publishing a visible
	// retry status. It returns false when the policy refuses (or ctx is
	// done) and the error must be treated as fatal.
	retry := func(cause error) bool {
		interval := retryBackoff.NextBackOff()
		if interval == backoff.Stop {
			return false
		}
		attempt++
		event.Publish(event.Event{
			Type: event.SessionRetry,
			Data: event.SessionRetryData{
				SessionID: sessionID,
				Attempt:   attempt,
				Message:   cause.Error(),
				NextRetry: time.Now().Add(interval).UnixMilli(),
			},
		})
		logging.Warn().Err(cause).Int("attempt", attempt).Dur("backoff", interval).Msg("transport error, retrying")
		select {
		case <-ctx.Done():
			return false
		case <-time.After(interval):
			return true
		}
	}

	fail := func(errType string, cause error) (Status, error) {
		assistantMsg.Error = &types.MessageError{
			Type:    errType,
			Message: cause.Error(),
		}
		p.completeMessage(ctx, sessionID, assistantMsg)
		event.Publish(event.Event{
			Type: event.SessionError,
			Data: event.SessionErrorData{SessionID: sessionID, Error: assistantMsg.Error},
		})
		return StatusStop, cause
	}

	for {
		select {
		case <-ctx.Done():
			p.abortParts(state)
			assistantMsg.Error = &types.MessageError{
				Type:    "abort",
				Message: "Processing aborted",
			}
			p.completeMessage(context.Background(), sessionID, assistantMsg)
			return StatusStop, ctx.Err()
		default:
		}

		if step >= maxSteps {
			return fail("max_steps", fmt.Errorf("max steps exceeded"))
		}

		// Context overflow ends this run with a compact status; the
		// caller compacts history and reruns. An assistant message with
		// no parts yet is discarded rather than left as an empty turn.
		if p.shouldCompact(messages) {
			state.needsCompaction = true
			if len(state.parts) == 0 {
				p.storage.Delete(ctx, []string{"message", sessionID, assistantMsg.ID})
			} else {
				p.completeMessage(ctx, sessionID, assistantMsg)
			}
			return StatusCompact, nil
		}

		req, err := p.buildCompletionRequest(ctx, sessionID, messages, assistantMsg, agent, model)
		if err != nil {
			return fail("api", fmt.Errorf("failed to build request: %w", err))
		}

		stream, err := prov.CreateCompletion(ctx, req)
		if err != nil {
			if retry(err) {
				continue
			}
			return fail("api", err)
		}

		finishReason, err := p.processStream(ctx, stream, state, callback)
		stream.Close()

		if err != nil {
			if ctx.Err() != nil {
				continue // top of loop handles the abort path
			}
			if retry(err) {
				continue
			}
			return fail("api", err)
		}

		retryBackoff.Reset()
		attempt = 0

		switch finishReason {
		case "stop", "end_turn":
			finish := "stop"
			assistantMsg.Finish = &finish
			p.completeMessage(ctx, sessionID, assistantMsg)
			return StatusContinue, nil

		case "tool_use", "tool_calls", "tool-calls":
			p.executeToolCalls(ctx, state, agent, callback)

			// A rejected permission blocks the loop unless the
			// continue-on-deny experiment is active.
			if state.blocked && !agent.ContinueLoopOnDeny {
				finish := "blocked"
				assistantMsg.Finish = &finish
				p.completeMessage(ctx, sessionID, assistantMsg)
				return StatusStop, nil
			}
			step++
			continue

		case "max_tokens", "length":
			finish := "max_tokens"
			assistantMsg.Finish = &finish
			assistantMsg.Error = &types.MessageError{
				Type:    "output_length",
				Message: "Output length limit reached",
			}
			p.completeMessage(ctx, sessionID, assistantMsg)
			return StatusContinue, nil

		case "error":
			if retry(fmt.Errorf("stream reported error")) {
				continue
			}
			return fail("api", fmt.Errorf("stream error: max retries exceeded"))

		default:
			assistantMsg.Finish = &finishReason
			p.completeMessage(ctx, sessionID, assistantMsg)
			return StatusContinue, nil
		}
	}
}

// abortParts flips every pending or running tool part to an error state,
// for the cancellation path.
func (p *Processor) abortParts(state *sessionState) {
	now := time.Now().UnixMilli()
	for _, part := range state.parts {
		toolPart, ok := part.(*types.ToolPart)
		if !ok {
			continue
		}
		if toolPart.State.Status == "pending" || toolPart.State.Status == "running" {
			toolPart.State.Status = "error"
			toolPart.State.Error = "Tool execution aborted"
			if toolPart.State.Time != nil {
				toolPart.State.Time.End = &now
			}
			p.savePart(context.Background(), state.message.ID, toolPart)
		}
	}
}

// completeMessage stamps the completion time and persists the message.
func (p *Processor) completeMessage(ctx context.Context, sessionID string, msg *types.Message) {
	now := time.Now().UnixMilli()
	msg.Time.Completed = &now
	p.saveMessage(ctx, sessionID, msg)
}

// findSession finds a session by ID across all projects.
func (p *Processor) findSession(ctx context.Context, sessionID string) (*types.Session, error) {
	projects, err := p.storage.List(ctx, []string{"session"})
	if err != nil {
		return nil, err
	}

	for _, projectID := range projects {
		var session types.Session
		if err := p.storage.Get(ctx, []string{"session", projectID, sessionID}, &session); err == nil {
			return &session, nil
		}
	}

	return nil, fmt.Errorf("session not found: %s", sessionID)
}

// loadMessages loads all messages for a session.
func (p *Processor) loadMessages(ctx context.Context, sessionID string) ([]*types.Message, error) {
	var messages []*types.Message
	err := p.storage.Scan(ctx, []string{"message", sessionID}, func(key string, data json.RawMessage) error {
		var msg types.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return err
		}
		messages = append(messages, &msg)
		return nil
	})
	return messages, err
}

// saveMessage saves an assistant message.
func (p *Processor) saveMessage(ctx context.Context, sessionID string, msg *types.Message) error {
	now := time.Now().UnixMilli()
	msg.Time.Updated = &now

	if err := p.storage.Put(ctx, []string{"message", sessionID, msg.ID}, msg); err != nil {
		return err
	}

	event.Publish(event.Event{
		Type: event.MessageUpdated,
		Data: event.MessageUpdatedData{Info: msg},
	})

	return nil
}

// savePart saves a part for a message.
func (p *Processor) savePart(ctx context.Context, messageID string, part types.Part) error {
	return p.storage.Put(ctx, []string{"part", messageID, part.PartID()}, part)
}

// shouldCompact checks if accumulated token usage is near the context limit.
func (p *Processor) shouldCompact(messages []*types.Message) bool {
	totalTokens := 0
	for _, msg := range messages {
		if msg.Tokens != nil {
			totalTokens += msg.Tokens.Input + msg.Tokens.Output
		}
	}
	return totalTokens > MaxContextTokens
}

// buildCompletionRequest builds an LLM completion request.
func (p *Processor) buildCompletionRequest(
	ctx context.Context,
	sessionID string,
	messages []*types.Message,
	currentMsg *types.Message,
	agent *Agent,
	model *types.Model,
) (*provider.CompletionRequest, error) {
	session, _ := p.findSession(ctx, sessionID)
	systemPrompt := NewSystemPrompt(session, agent, currentMsg.ProviderID, currentMsg.ModelID)

	var einoMessages []*schema.Message

	einoMessages = append(einoMessages, &schema.Message{
		Role:    schema.System,
		Content: systemPrompt.Build(),
	})

	// Re-inject the compaction summary in place of the trimmed history.
	if session != nil && session.Compaction != nil {
		einoMessages = append(einoMessages, &schema.Message{
			Role: schema.User,
			Content: fmt.Sprintf("Summary of the conversation so far (%d earlier messages):\n%s",
				session.Compaction.Count, session.Compaction.Summary),
		})
	}

	// Conversation history, skipping errored messages with nothing usable.
	for _, msg := range messages {
		if msg.Error != nil && !p.hasUsableContent(ctx, msg) {
			continue
		}

		parts, err := p.loadParts(ctx, msg.ID)
		if err != nil {
			continue
		}

		einoMsg := p.convertMessage(msg, parts)
		einoMessages = append(einoMessages, einoMsg)
	}

	tools, err := p.resolveTools(agent, model)
	if err != nil {
		return nil, err
	}

	maxTokens := model.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	req := &provider.CompletionRequest{
		Model:       model.ID,
		Messages:    einoMessages,
		Tools:       tools,
		MaxTokens:   maxTokens,
		Temperature: agent.Temperature,
		TopP:        agent.TopP,
	}

	return req, nil
}

// loadParts loads all parts for a message.
func (p *Processor) loadParts(ctx context.Context, messageID string) ([]types.Part, error) {
	var parts []types.Part
	err := p.storage.Scan(ctx, []string{"part", messageID}, func(key string, data json.RawMessage) error {
		part, err := types.UnmarshalPart(data)
		if err != nil {
			return err
		}
		parts = append(parts, part)
		return nil
	})
	return parts, err
}

// hasUsableContent checks if a message has content worth including.
func (p *Processor) hasUsableContent(ctx context.Context, msg *types.Message) bool {
	parts, err := p.loadParts(ctx, msg.ID)
	if err != nil {
		return false
	}
	return len(parts) > 0
}

// convertMessage converts a types.Message to the transport schema.
func (p *Processor) convertMessage(msg *types.Message, parts []types.Part) *schema.Message {
	role := schema.Assistant
	switch msg.Role {
	case "user":
		role = schema.User
	case "system":
		role = schema.System
	case "tool":
		role = schema.Tool
	}

	var content string
	var toolCalls []schema.ToolCall
	var toolCallID string

	for _, part := range parts {
		switch pt := part.(type) {
		case *types.TextPart:
			content += pt.Text
		case *types.ToolPart:
			if msg.Role == "assistant" {
				inputJSON, _ := json.Marshal(pt.State.Input)
				toolCalls = append(toolCalls, schema.ToolCall{
					ID: pt.CallID,
					Function: schema.FunctionCall{
						Name:      pt.Tool,
						Arguments: string(inputJSON),
					},
				})
			} else {
				toolCallID = pt.CallID
				if pt.State.Status == "error" {
					content = "Error: " + pt.State.Error
				} else {
					content = pt.State.Output
				}
			}
		}
	}

	einoMsg := &schema.Message{
		Role:      role,
		Content:   content,
		ToolCalls: toolCalls,
	}

	if toolCallID != "" {
		einoMsg.ToolCallID = toolCallID
	}

	return einoMsg
}

// resolveTools returns tools enabled for the agent.
func (p *Processor) resolveTools(agent *Agent, model *types.Model) ([]*schema.ToolInfo, error) {
	if !model.SupportsTools {
		return nil, nil
	}

	allTools := p.toolRegistry.List()

	var result []*schema.ToolInfo

	for _, t := range allTools {
		if !agent.ToolEnabled(t.ID()) {
			continue
		}

		params := parseJSONSchemaToParams(t.Parameters())
		result = append(result, &schema.ToolInfo{
			Name:        t.ID(),
			Desc:        t.Description(),
			ParamsOneOf: schema.NewParamsOneOfByParams(params),
		})
	}

	return result, nil
}

// parseJSONSchemaToParams converts JSON Schema to the transport's
// parameter descriptors.
func parseJSONSchemaToParams(schemaJSON json.RawMessage) map[string]*schema.ParameterInfo {
	var jsonSchema struct {
		Properties map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}

	if err := json.Unmarshal(schemaJSON, &jsonSchema); err != nil {
		return nil
	}

	requiredSet := make(map[string]bool)
	for _, r := range jsonSchema.Required {
		requiredSet[r] = true
	}

	params := make(map[string]*schema.ParameterInfo)
	for name, prop := range jsonSchema.Properties {
		paramType := schema.String
		switch prop.Type {
		case "integer":
			paramType = schema.Integer
		case "number":
			paramType = schema.Number
		case "boolean":
			paramType = schema.Boolean
		case "array":
			paramType = schema.Array
		case "object":
			paramType = schema.Object
		}

		params[name] = &schema.ParameterInfo{
			Type:     paramType,
			Desc:     prop.Description,
			Required: requiredSet[name],
		}
	}

	return params
}

// generatePartID generates a new ULID for parts.
func generatePartID() string {
	return ulid.Make().String()
}

// ptr returns a pointer to the given value.
func ptr[T any](v T) *T {
	return &v
}
