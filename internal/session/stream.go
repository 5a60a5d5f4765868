package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/opsploit/core/internal/event"
	"github.com/opsploit/core/internal/provider"
	"github.com/opsploit/core/pkg/types"
)

// processStream consumes one model response from the transport stream and
// materializes parts on the active assistant message. It returns the
// finish reason reported by the model ("stop", "tool-calls", ...) or
// "error" with a non-nil error.
func (p *Processor) processStream(
	ctx context.Context,
	stream *provider.CompletionStream,
	state *sessionState,
	callback ProcessCallback,
) (string, error) {
	var currentTextPart *types.TextPart
	var currentReasoningPart *types.ReasoningPart
	var finishReason string
	var accumulatedContent string

	currentToolParts := make(map[string]*types.ToolPart)
	accumulatedToolInputs := make(map[string]string)

	// One step per stream: mark the boundary before inference begins.
	stepStartPart := &types.StepStartPart{
		ID:        generatePartID(),
		SessionID: state.message.SessionID,
		MessageID: state.message.ID,
		Type:      "step-start",
	}
	state.parts = append(state.parts, stepStartPart)
	p.savePart(ctx, state.message.ID, stepStartPart)
	event.Publish(event.Event{
		Type: event.PartUpdated,
		Data: event.PartUpdatedData{Part: stepStartPart},
	})
	callback(state.message, state.parts)

	for {
		select {
		case <-ctx.Done():
			return "error", ctx.Err()
		default:
		}

		msg, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "error", err
		}

		finishReason = p.processMessageChunk(ctx, msg, state, callback,
			&currentTextPart, &currentReasoningPart, currentToolParts,
			&accumulatedContent, accumulatedToolInputs)

		if finishReason != "" {
			break
		}
	}

	// Finalize any open parts.
	if currentTextPart != nil {
		now := time.Now().UnixMilli()
		currentTextPart.Text = strings.TrimRight(currentTextPart.Text, " \t\n")
		currentTextPart.Time.End = &now
		p.savePart(ctx, state.message.ID, currentTextPart)

		// Parse structured thought/verify/action/result reasoning blocks out
		// of the finalized text and strip their ranges so the cleaned text
		// is what is ultimately persisted.
		p.processTVARBlocks(ctx, state, currentTextPart)
	}

	if currentReasoningPart != nil {
		now := time.Now().UnixMilli()
		currentReasoningPart.Time.End = &now
		p.savePart(ctx, state.message.ID, currentReasoningPart)
	}

	// Promote fully-streamed tool calls from pending to running now that
	// their input is complete.
	for id, toolPart := range currentToolParts {
		if accInput, ok := accumulatedToolInputs[id]; ok && toolPart.State.Input == nil {
			var input map[string]any
			if err := json.Unmarshal([]byte(accInput), &input); err == nil {
				toolPart.State.Input = input
			}
		}
		toolPart.State.Status = "running"
		p.savePart(ctx, state.message.ID, toolPart)
	}

	// Link each unclaimed tool call to the most recent preceding TVAR part
	// that is not yet linked, in emission order.
	p.linkTVARToToolCalls(ctx, state)

	if finishReason == "" {
		if len(currentToolParts) > 0 {
			finishReason = "tool-calls"
		} else {
			finishReason = "stop"
		}
	}
	if finishReason == "tool_use" {
		finishReason = "tool-calls"
	}

	stepFinishPart := &types.StepFinishPart{
		ID:        generatePartID(),
		SessionID: state.message.SessionID,
		MessageID: state.message.ID,
		Type:      "step-finish",
		Reason:    finishReason,
		Cost:      state.message.Cost,
		Tokens:    state.message.Tokens,
	}
	state.parts = append(state.parts, stepFinishPart)
	p.savePart(ctx, state.message.ID, stepFinishPart)
	event.Publish(event.Event{
		Type: event.PartUpdated,
		Data: event.PartUpdatedData{Part: stepFinishPart},
	})
	callback(state.message, state.parts)

	return finishReason, nil
}

// processMessageChunk folds a single streamed chunk into the in-flight
// parts. Text and reasoning accumulate per part; tool calls are tracked by
// the transport's index (falling back to call ID) since argument deltas
// arrive without ID or name.
func (p *Processor) processMessageChunk(
	ctx context.Context,
	msg *schema.Message,
	state *sessionState,
	callback ProcessCallback,
	currentTextPart **types.TextPart,
	currentReasoningPart **types.ReasoningPart,
	currentToolParts map[string]*types.ToolPart,
	accumulatedContent *string,
	accumulatedToolInputs map[string]string,
) string {
	var finishReason string

	// Text content
	if msg.Content != "" {
		if *currentTextPart == nil {
			now := time.Now().UnixMilli()
			*currentTextPart = &types.TextPart{
				ID:        generatePartID(),
				SessionID: state.message.SessionID,
				MessageID: state.message.ID,
				Type:      "text",
				Text:      msg.Content,
				Time:      types.PartTime{Start: &now},
			}
			state.parts = append(state.parts, *currentTextPart)
			*accumulatedContent = msg.Content

			event.Publish(event.Event{
				Type: event.PartUpdated,
				Data: event.PartUpdatedData{
					Part:  *currentTextPart,
					Delta: msg.Content,
				},
			})
			callback(state.message, state.parts)
		} else {
			// Some transports send accumulated content, others deltas;
			// distinguish by prefix.
			var delta string
			if strings.HasPrefix(msg.Content, *accumulatedContent) {
				delta = msg.Content[len(*accumulatedContent):]
				(*currentTextPart).Text = msg.Content
				*accumulatedContent = msg.Content
			} else {
				delta = msg.Content
				*accumulatedContent += msg.Content
				(*currentTextPart).Text = *accumulatedContent
			}

			event.Publish(event.Event{
				Type: event.PartUpdated,
				Data: event.PartUpdatedData{
					Part:  *currentTextPart,
					Delta: delta,
				},
			})
			callback(state.message, state.parts)
		}
	}

	// Reasoning content (extended thinking)
	if msg.ReasoningContent != "" {
		if *currentReasoningPart == nil {
			now := time.Now().UnixMilli()
			*currentReasoningPart = &types.ReasoningPart{
				ID:        generatePartID(),
				SessionID: state.message.SessionID,
				MessageID: state.message.ID,
				Type:      "reasoning",
				Text:      msg.ReasoningContent,
				Time:      types.PartTime{Start: &now},
			}
			state.parts = append(state.parts, *currentReasoningPart)
		} else {
			(*currentReasoningPart).Text = msg.ReasoningContent
		}
		callback(state.message, state.parts)
	}

	// Tool calls. The streaming transport announces a call with Index,
	// ID and Name, then sends argument deltas carrying only Index.
	for _, tc := range msg.ToolCalls {
		var lookupKey string
		switch {
		case tc.Index != nil:
			lookupKey = fmt.Sprintf("idx:%d", *tc.Index)
		case tc.ID != "":
			lookupKey = tc.ID
		default:
			continue
		}

		toolPart, exists := currentToolParts[lookupKey]

		if !exists && tc.ID != "" && tc.Function.Name != "" {
			now := time.Now().UnixMilli()
			toolPart = &types.ToolPart{
				ID:        generatePartID(),
				SessionID: state.message.SessionID,
				MessageID: state.message.ID,
				Type:      "tool",
				CallID:    tc.ID,
				Tool:      tc.Function.Name,
				State: types.ToolState{
					Status: "pending",
					Input:  make(map[string]any),
					Time:   &types.ToolTime{Start: now},
				},
			}
			currentToolParts[lookupKey] = toolPart
			accumulatedToolInputs[lookupKey] = ""
			state.parts = append(state.parts, toolPart)
			callback(state.message, state.parts)
		}

		if tc.Function.Arguments != "" && toolPart != nil {
			accumulatedToolInputs[lookupKey] += tc.Function.Arguments
			toolPart.State.Raw = accumulatedToolInputs[lookupKey]

			// The accumulated fragment only becomes usable once it parses.
			var input map[string]any
			if err := json.Unmarshal([]byte(accumulatedToolInputs[lookupKey]), &input); err == nil {
				toolPart.State.Input = input
			}

			event.Publish(event.Event{
				Type: event.PartUpdated,
				Data: event.PartUpdatedData{Part: toolPart},
			})
			callback(state.message, state.parts)
		}
	}

	// Response metadata: token usage and finish reason.
	if msg.ResponseMeta != nil {
		if state.message.Tokens == nil {
			state.message.Tokens = &types.TokenUsage{}
		}
		if msg.ResponseMeta.Usage != nil {
			state.message.Tokens.Input = msg.ResponseMeta.Usage.PromptTokens
			state.message.Tokens.Output = msg.ResponseMeta.Usage.CompletionTokens
		}
		if msg.ResponseMeta.FinishReason != "" {
			finishReason = msg.ResponseMeta.FinishReason
		}
	}

	return finishReason
}
