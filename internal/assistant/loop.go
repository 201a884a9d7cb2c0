package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/nugget/huddle/internal/intent"
	"github.com/nugget/huddle/internal/llm"
	"github.com/nugget/huddle/internal/prompts"
	"github.com/nugget/huddle/internal/store"
	"github.com/nugget/huddle/internal/tools"
)

// MaxSteps is the hard cap on model turns per request. A step is one
// model call plus the tool calls it asks for.
const MaxSteps = 5

const (
	msgEmptyResponse = "I wasn't able to put together an answer to that. Could you rephrase it?"
	msgAborted       = "The request was stopped before it finished."
)

// runSteps drives one attempt of the model phase. Each iteration is one
// model call followed by its tool calls in order; the loop ends when the
// model answers without tools or after MaxSteps. The step boundary is
// the only cancellation checkpoint: a started step always completes.
func (o *Orchestrator) runSteps(ctx, abortCtx context.Context, r *run, t turn) (string, error) {
	msgs := o.buildMessages(t, r.req.Content)
	exec := tools.NewExecutor(t.defs, o.invoker, r.ident, o.logger)
	specs := exec.Specs()

	r.meta.EnabledTools = enabledTools(t.defs)
	r.meta.UsedTools = UsedTools{}
	r.meta.ToolsUsed = []string{}
	r.meta.Steps = 0
	r.meta.StepLimitReached = false

	o.enter(r, StateModelStepLoop)

	var best string
	for step := 1; step <= MaxSteps; step++ {
		if abortCtx.Err() != nil {
			return "", errAborted
		}
		r.meta.Steps = step
		o.emit(r, Event{Type: EventStep, Step: step})

		o.logger.Debug("model step",
			"conversation", r.conv.ID,
			"step", step,
			"messages", len(msgs),
			"tools", len(specs),
		)
		resp, err := o.llm.Chat(ctx, o.model, msgs, specs)
		if err != nil {
			return "", fmt.Errorf("model step %d: %w", step, err)
		}
		if resp.Model != "" {
			r.meta.Model = resp.Model
		}
		r.meta.InputTokens += resp.InputTokens
		r.meta.OutputTokens += resp.OutputTokens

		reply := resp.Message
		if strings.TrimSpace(reply.Content) != "" {
			best = reply.Content
		}
		if len(reply.ToolCalls) == 0 {
			if best == "" {
				return msgEmptyResponse, nil
			}
			return best, nil
		}

		calls := withCallIDs(step, reply.ToolCalls)
		msgs = append(msgs, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   reply.Content,
			ToolCalls: calls,
		})
		for _, tc := range calls {
			result, err := o.callTool(ctx, r, exec, tc)
			if err != nil {
				return "", err
			}
			msgs = append(msgs, llm.Message{
				Role:       llm.RoleTool,
				Content:    result,
				ToolCallID: tc.ID,
			})
		}
		o.saveStream(ctx, r, store.StreamStreaming, "")
	}

	r.meta.StepLimitReached = true
	o.logger.Warn("step limit reached",
		"conversation", r.conv.ID,
		"steps", MaxSteps,
		"tools_used", r.meta.ToolsUsed,
	)
	if best != "" {
		return best, nil
	}
	return stepLimitSummary(r.meta.ToolsUsed), nil
}

// withCallIDs returns calls with every empty ID filled in, so each tool
// result can name the call it answers. Ollama never assigns IDs.
func withCallIDs(step int, calls []llm.ToolCall) []llm.ToolCall {
	out := slices.Clone(calls)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = fmt.Sprintf("call_%d_%d", step, i)
		}
	}
	return out
}

// callTool runs one tool call, records it, and tracks usage metadata.
// Dispatch errors are returned unchanged for classification.
func (o *Orchestrator) callTool(ctx context.Context, r *run, exec *tools.Executor, tc llm.ToolCall) (string, error) {
	name := tc.Function.Name
	start := time.Now()
	result, err := exec.Call(ctx, name, tc.Function.Arguments)
	elapsed := time.Since(start)

	if exec.Has(name) {
		if !slices.Contains(r.meta.ToolsUsed, name) {
			r.meta.ToolsUsed = append(r.meta.ToolsUsed, name)
		}
		if exec.IsExternal(name) {
			r.meta.UsedTools.External = true
		} else {
			r.meta.UsedTools.Internal = true
		}
	}

	args, _ := json.Marshal(tc.Function.Arguments)
	record := store.ToolCall{
		ConversationID: r.conv.ID,
		StreamID:       r.streamID,
		ToolName:       name,
		Arguments:      string(args),
		Result:         result,
		StartedAt:      start,
		Duration:       elapsed,
	}
	ev := Event{Type: EventToolCall, Step: r.meta.Steps, Tool: name}
	if err != nil {
		record.Error = err.Error()
		ev.ToolError = err.Error()
	}
	if rerr := o.store.RecordToolCall(ctx, record); rerr != nil {
		o.logger.Warn("failed to record tool call", "tool", name, "error", rerr)
	}
	o.emit(r, ev)

	o.logger.Debug("tool call finished",
		"conversation", r.conv.ID,
		"tool", name,
		"elapsed", elapsed.Round(time.Millisecond),
		"error", err,
	)
	return result, err
}

// buildMessages assembles system prompt, history and the new message.
func (o *Orchestrator) buildMessages(t turn, content string) []llm.Message {
	msgs := make([]llm.Message, 0, len(t.history)+2)
	msgs = append(msgs, llm.Message{
		Role:    llm.RoleSystem,
		Content: prompts.System(t.allowExternal, t.apps, o.now()),
	})
	for _, m := range t.history {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: content})
}

func enabledTools(defs []tools.Definition) EnabledTools {
	et := EnabledTools{External: []intent.App{}}
	for _, d := range defs {
		if !d.External() {
			et.Internal = true
			continue
		}
		if !slices.Contains(et.External, d.ExternalApp) {
			et.External = append(et.External, d.ExternalApp)
		}
	}
	return et
}

func stepLimitSummary(used []string) string {
	if len(used) == 0 {
		return fmt.Sprintf("I reached the limit of %d steps before I could finish. Please try a more specific request.", MaxSteps)
	}
	return fmt.Sprintf("I reached the limit of %d steps before I could finish. I used: %s. Please try a more specific request.",
		MaxSteps, strings.Join(used, ", "))
}
