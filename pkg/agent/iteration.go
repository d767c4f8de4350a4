package agent

import (
	"context"
	"fmt"
	"strings"

	agentcontext "github.com/entrhq/parley/pkg/agent/context"
	"github.com/entrhq/parley/pkg/agent/stage"
	"github.com/entrhq/parley/pkg/llm"
	"github.com/entrhq/parley/pkg/types"
)

// turnState is the per-turn input shared by every chunk.
type turnState struct {
	req    TurnRequest
	facts  []string
	result *TurnResult
}

// SubmitTurn processes one user message and returns the reply to its last
// chunk. Validation and crisis filtering happen before any state changes.
// A provider failure leaves the chunk that was being answered in the
// history without a reply.
func (o *Orchestrator) SubmitTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	id := req.SessionID

	if o.crisis.Match(req.Text) {
		meta, err := o.loadMeta(ctx, id)
		if err != nil {
			return nil, err
		}
		agentDebugLog.Warnf("Crisis keyword in session %s, answering with the fixed reply", id)
		return &TurnResult{Reply: o.crisis.Reply(), Stage: meta.Stage, Crisis: true}, nil
	}

	meta, err := o.loadMeta(ctx, id)
	if err != nil {
		return nil, err
	}

	o.emitEvent(ctx, types.NewTurnStartEvent(id))

	ts := &turnState{
		req:    req,
		facts:  o.recallFacts(ctx, req),
		result: &TurnResult{Stage: meta.Stage},
	}

	model := o.modelFor(o.machine.Definition(meta.Stage))
	chunks := o.tokenizer.Split(req.Text, o.chunkLimit, model)
	if n := chunks.Remaining(); n > 1 {
		agentDebugLog.Infof("Session %s: input split into %d chunks", id, n)
	}

	for {
		chunk, ok := chunks.Next()
		if !ok {
			break
		}
		ts.result.Chunks++
		if err := o.runChunk(ctx, ts, chunk); err != nil {
			o.emitEvent(ctx, types.NewErrorEvent(id, err))
			return nil, err
		}
	}

	o.emitEvent(ctx, types.NewTurnEndEvent(id, ts.result.Reply))
	return ts.result, nil
}

func validate(req TurnRequest) error {
	if strings.TrimSpace(req.SessionID) == "" {
		return &ValidationError{Field: "session_id", Reason: "must not be empty"}
	}
	if strings.TrimSpace(req.Text) == "" {
		return &ValidationError{Field: "text", Reason: "must not be empty"}
	}
	return nil
}

// loadMeta reads the session counters, placing unknown or brand-new
// sessions in the initial stage.
func (o *Orchestrator) loadMeta(ctx context.Context, id string) (types.SessionMeta, error) {
	meta, err := o.store.Meta(ctx, id)
	if err != nil {
		return meta, fmt.Errorf("load session %s: %w", id, err)
	}
	if meta == (types.SessionMeta{}) {
		meta.Stage = o.machine.Initial()
	}
	if !o.machine.Has(meta.Stage) {
		agentDebugLog.Warnf("Session %s is in unknown stage %d, resetting to %d", id, meta.Stage, o.machine.Initial())
		meta.Stage = o.machine.Initial()
		meta.TurnsInStage = 0
	}
	return meta, nil
}

func (o *Orchestrator) recallFacts(ctx context.Context, req TurnRequest) []string {
	if o.facts == nil || req.UserID == "" {
		return nil
	}
	facts, err := o.facts.Recall(ctx, req.UserID)
	if err != nil {
		agentDebugLog.Warnf("Fact recall failed for user %s, continuing without facts: %v", req.UserID, err)
		return nil
	}
	return facts
}

// runChunk answers one chunk and persists the reply and counters. A stage
// change is saved together with the reply, so a failed call leaves the
// session in the stage it started the chunk in.
func (o *Orchestrator) runChunk(ctx context.Context, ts *turnState, chunk string) error {
	id := ts.req.SessionID

	meta, err := o.loadMeta(ctx, id)
	if err != nil {
		return err
	}
	if _, err := o.store.Append(ctx, id, types.RoleUser, chunk); err != nil {
		return fmt.Errorf("append user message: %w", err)
	}

	compacted, err := o.compaction.MaybeCompact(ctx, id, o.modelFor(o.machine.Definition(meta.Stage)))
	if err != nil {
		return fmt.Errorf("compaction check: %w", err)
	}
	ts.result.Compacted = ts.result.Compacted || compacted

	var moves []*types.AgentEvent
	if target, ok := o.machine.ParseChoice(meta.Stage, chunk); ok && target != meta.Stage {
		moves = append(moves, o.transition(id, &meta, target))
	}
	meta.TurnsInStage++

	var instructions []string
	nudged := o.machine.NeedsNudge(meta)
	if nudged {
		instructions = append(instructions, o.machine.NudgeInstruction())
		o.emitEvent(ctx, types.NewStageNudgeEvent(id, false))
	}

	reply, err := o.generate(ctx, ts, meta.Stage, instructions, nil)
	if err != nil {
		return err
	}

	if nudged {
		if _, ok := o.machine.ParseTransition(reply); !ok {
			agentDebugLog.Infof("Session %s: nudged reply has no transition marker, regenerating", id)
			instructions = append(instructions, o.machine.ReinforcedNudge())
			o.emitEvent(ctx, types.NewStageNudgeEvent(id, true))
			if reply, err = o.generate(ctx, ts, meta.Stage, instructions, nil); err != nil {
				return err
			}
		}
	}

	if o.guard.ShouldRegenerate(meta, reply) {
		agentDebugLog.Infof("Session %s: reply repeats the previous one, regenerating", id)
		o.emitEvent(ctx, types.NewDuplicateRegeneratedEvent(id))
		if reply, err = o.generate(ctx, ts, meta.Stage, instructions, o.guard.Params); err != nil {
			return err
		}
		ts.result.Regenerated = true
	}

	if target, ok := o.machine.ParseTransition(reply); ok && target != meta.Stage {
		moves = append(moves, o.transition(id, &meta, target))
		if reply, err = o.generate(ctx, ts, meta.Stage, nil, nil); err != nil {
			return err
		}
	}

	if _, err := o.store.Append(ctx, id, types.RoleAssistant, reply); err != nil {
		return fmt.Errorf("append reply: %w", err)
	}
	meta.LastAssistantReply = reply
	if err := o.store.SetMeta(ctx, id, meta); err != nil {
		return fmt.Errorf("save session counters: %w", err)
	}
	for _, e := range moves {
		o.emitEvent(ctx, e)
	}

	ts.result.Reply = reply
	ts.result.Stage = meta.Stage
	return nil
}

// transition moves meta to target and returns the event to emit once the
// new stage is saved.
func (o *Orchestrator) transition(id string, meta *types.SessionMeta, target int) *types.AgentEvent {
	agentDebugLog.Infof("Session %s: stage %d -> %d", id, meta.Stage, target)
	e := types.NewStageTransitionEvent(id, meta.Stage, target)
	meta.Stage = target
	meta.TurnsInStage = 0
	return e
}

// generate renders the stage prompt, trims history to the model budget and
// calls the provider through the invoker. adjust, when set, rewrites the
// stage's generation parameters for this call.
func (o *Orchestrator) generate(ctx context.Context, ts *turnState, stageID int, instructions []string, adjust func(types.GenerationParams) types.GenerationParams) (string, error) {
	id := ts.req.SessionID
	def := o.machine.Definition(stageID)
	model := o.modelFor(def)

	systemPrompt, err := o.machine.Render(stageID, stage.PromptInput{
		Memory:       ts.req.Memory,
		UserName:     ts.req.UserName,
		Facts:        ts.facts,
		Instructions: instructions,
	})
	if err != nil {
		return "", err
	}

	history, err := o.store.History(ctx, id)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}
	window := agentcontext.Trim(o.tokenizer, systemPrompt, history, model)

	params := def.Params
	if adjust != nil {
		params = adjust(params)
	}

	o.emitEvent(ctx, types.NewAPICallStartEvent(id, model, agentcontext.WindowCost(o.tokenizer, window, model), o.tokenizer.Capacity(model)))

	attempt := 0
	var lastErr error
	var resp *llm.Response
	_, err = o.invoker.Call(ctx, func(ctx context.Context) (string, error) {
		if attempt > 0 {
			o.emitEvent(ctx, types.NewRetryEvent(id, attempt, lastErr))
		}
		attempt++
		r, err := o.provider.Generate(ctx, &llm.Request{Model: model, Messages: window, Params: params})
		if err != nil {
			lastErr = err
			return "", err
		}
		resp = r
		return r.Content, nil
	})
	o.emitEvent(ctx, types.NewAPICallEndEvent(id, model))
	if err != nil {
		return "", fmt.Errorf("generate reply for session %s: %w", id, err)
	}

	agentDebugLog.Infof("Session %s: %s used %d prompt + %d completion tokens",
		id, model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	if resp.Usage.TotalTokens > 0 {
		o.emitEvent(ctx, types.NewTokenUsageEvent(id, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens))
	}
	return resp.Content, nil
}
