// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package tools implements the Tool Executor: it turns a coalesced
// rag_search function call into a retrieval.Client.Search call, applies
// rate limiting and low-confidence escalation policy, and returns the
// tool.output payload the Upstream Session relays back, per spec.md §4.4.
package tools

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rapidaai/sonju/internal/retrieval"
	"github.com/rapidaai/sonju/internal/session"
	"github.com/rapidaai/sonju/pkg/commons"
)

// escalationMessage is returned verbatim once a session's low-confidence
// streak reaches session.LowConfidenceEscalateAt, per spec.md §4.4, §8
// scenario 4.
const escalationMessage = "관련 문서를 계속 찾지 못하고 있습니다…"

// retryMessage is the standard low-confidence prompt below the
// escalation threshold.
const retryMessage = "관련 내용을 찾지 못했습니다. 다른 표현으로 다시 질문해 주시겠어요?"

const ragSearchToolName = "rag_search"

const (
	modeProvisional = "provisional"
	modeFinal       = "final"
)

// rawArguments mirrors the rag_search tool's JSON-schema parameters,
// per protocol.go's ragSearchTool().
type rawArguments struct {
	Query     string  `json:"query"`
	Mode      string  `json:"mode"`
	TopK      int     `json:"topK"`
	Threshold float64 `json:"threshold"`
}

// Result is the JSON payload sent back to the upstream as tool.output,
// per spec.md §4.4 and §8 scenarios 3-5.
type Result struct {
	Context            string   `json:"context,omitempty"`
	Sources            []string `json:"sources,omitempty"`
	Count              int      `json:"count"`
	Mode               string   `json:"mode,omitempty"`
	LowConfidence      bool     `json:"lowConfidence,omitempty"`
	LowConfidenceCount int      `json:"lowConfidenceCount,omitempty"`
	Skipped            bool     `json:"skipped,omitempty"`
	Reason             string   `json:"reason,omitempty"`
	Error              string   `json:"error,omitempty"`
}

// Executor dispatches one session's rag_search tool calls. One Executor
// is created per session, paired with the same session.Session the
// session's Upstream Session and Broker connection share.
type Executor struct {
	domain    *session.Session
	retriever retrieval.Client
	logger    commons.Logger
}

// New builds an Executor bound to one session's shared state and a
// retrieval client.
func New(domain *session.Session, retriever retrieval.Client, logger commons.Logger) *Executor {
	return &Executor{domain: domain, retriever: retriever, logger: logger.With("session_id", domain.ID)}
}

// Dispatch implements upstream.ToolDispatcher. sessionID is accepted to
// satisfy that interface and for log correlation; the session's own
// shared state is already bound via domain.
func (e *Executor) Dispatch(ctx context.Context, sessionID, callID, name, rawArgs string) interface{} {
	if name != ragSearchToolName {
		return Result{Error: "unknown tool"}
	}

	var args rawArguments
	if strings.TrimSpace(rawArgs) != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			e.logger.Warnw("tools: accumulated rag_search arguments did not parse, treating as empty", "call_id", callID, "err", err)
			args = rawArguments{}
		}
	}
	if strings.TrimSpace(args.Query) == "" {
		return Result{Error: "empty query"}
	}

	if !e.domain.CanDispatchTool(time.Now()) {
		return Result{Skipped: true, Reason: "rate_limited"}
	}

	mode, opts := normalizeOptions(args)
	normalizedQuery := session.NormalizeQuery(args.Query)

	if cached, ok := e.domain.CacheGet(normalizedQuery); ok {
		e.logger.Infow("tools: rag_search served from cache", "call_id", callID, "query", normalizedQuery)
		e.domain.ResetLowConfidence()
		return Result{Context: cached.Context, Sources: cached.SourceIDs, Count: len(cached.SourceIDs), Mode: mode}
	}

	snippets, err := e.retriever.Search(ctx, args.Query, opts)
	if err != nil {
		e.logger.Warnw("tools: retrieval search failed", "call_id", callID, "err", err)
		return Result{Error: err.Error()}
	}

	if isLowConfidence(snippets, opts.Threshold) {
		return e.lowConfidenceResult(mode)
	}

	e.domain.ResetLowConfidence()

	formatted := retrieval.FormatForLLM(snippets)
	sourceIDs := retrieval.SourceIDs(snippets)
	e.domain.CachePut(&session.RagCacheEntry{
		NormalizedQuery: normalizedQuery,
		Context:         formatted,
		SourceIDs:       sourceIDs,
	})

	return Result{Context: formatted, Sources: sourceIDs, Count: len(snippets), Mode: mode}
}

// lowConfidenceResult increments the session's low-confidence streak and
// escalates to a human-handoff message once it reaches
// session.LowConfidenceEscalateAt, per spec.md §4.4 and §8 scenario 4.
func (e *Executor) lowConfidenceResult(mode string) Result {
	streak := e.domain.RecordLowConfidence()
	message := retryMessage
	if streak >= session.LowConfidenceEscalateAt {
		message = escalationMessage
	}
	return Result{
		Context:            message,
		Sources:            []string{},
		Count:              0,
		Mode:               mode,
		LowConfidence:       true,
		LowConfidenceCount: streak,
	}
}

// isLowConfidence reports whether the search produced nothing, or
// nothing clearing the caller's own threshold at the top rank, per
// spec.md §4.4's low-confidence definition.
func isLowConfidence(snippets []retrieval.Snippet, threshold float64) bool {
	if len(snippets) == 0 {
		return true
	}
	return snippets[0].Score < threshold
}

// normalizeOptions resolves the effective mode and clamps the
// rag_search arguments per spec.md §4.4: provisional narrows to a
// single, higher-precision hit with a short context; final allows the
// caller's own topK/threshold (defaulted to 2/0.3) with a longer context.
func normalizeOptions(args rawArguments) (string, retrieval.Options) {
	mode := args.Mode
	if mode != modeProvisional {
		mode = modeFinal
	}

	topK := args.TopK
	if topK <= 0 {
		topK = 2
	}
	threshold := args.Threshold
	if threshold <= 0 {
		threshold = 0.3
	}
	maxChars := 200

	if mode == modeProvisional {
		if topK > 1 {
			topK = 1
		}
		if threshold < 0.4 {
			threshold = 0.4
		}
		maxChars = 120
	}

	if topK > 5 {
		topK = 5
	}
	if threshold > 1 {
		threshold = 1
	}

	return mode, retrieval.Options{TopK: topK, Threshold: threshold, MaxChars: maxChars}
}
