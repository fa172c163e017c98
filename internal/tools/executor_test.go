// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rapidaai/sonju/internal/retrieval"
	"github.com/rapidaai/sonju/internal/session"
	"github.com/rapidaai/sonju/pkg/commons"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRetriever struct {
	snippets []retrieval.Snippet
	err      error
	calls    int
}

func (f *fakeRetriever) Search(_ context.Context, _ string, _ retrieval.Options) ([]retrieval.Snippet, error) {
	f.calls++
	return f.snippets, f.err
}

func newExecutor(t *testing.T, retriever retrieval.Client) (*Executor, *session.Session) {
	t.Helper()
	logger, err := commons.NewZapLogger("error")
	require.NoError(t, err)
	dom := session.New("sonj_test")
	return New(dom, retriever, logger), dom
}

func argsJSON(t *testing.T, query, mode string, topK int, threshold float64) string {
	t.Helper()
	b, err := json.Marshal(rawArguments{Query: query, Mode: mode, TopK: topK, Threshold: threshold})
	require.NoError(t, err)
	return string(b)
}

func TestDispatch_UnknownToolRejected(t *testing.T) {
	e, _ := newExecutor(t, &fakeRetriever{})
	out := e.Dispatch(context.Background(), "sonj_test", "call_1", "not_rag_search", "{}")
	res := out.(Result)
	assert.Equal(t, "unknown tool", res.Error)
}

func TestDispatch_EmptyQueryRejected(t *testing.T) {
	e, _ := newExecutor(t, &fakeRetriever{})
	args := argsJSON(t, "", "final", 2, 0.3)
	out := e.Dispatch(context.Background(), "sonj_test", "call_1", "rag_search", args)
	res := out.(Result)
	assert.Equal(t, "empty query", res.Error)
}

func TestDispatch_MalformedAccumulatedArgsTreatedAsEmpty(t *testing.T) {
	e, _ := newExecutor(t, &fakeRetriever{})
	out := e.Dispatch(context.Background(), "sonj_test", "call_1", "rag_search", `{"query":`)
	res := out.(Result)
	assert.Equal(t, "empty query", res.Error)
}

func TestDispatch_ConfidentResultResetsLowConfidenceStreak(t *testing.T) {
	retriever := &fakeRetriever{snippets: []retrieval.Snippet{
		{Content: "노인 복지 제도 안내", Score: 0.9, Metadata: retrieval.Metadata{FileID: "doc-1"}},
	}}
	e, dom := newExecutor(t, retriever)
	dom.RecordLowConfidence()
	dom.RecordLowConfidence()

	args := argsJSON(t, "노인 복지", "final", 2, 0.3)
	out := e.Dispatch(context.Background(), "sonj_test", "call_1", "rag_search", args)
	res := out.(Result)

	assert.Equal(t, 1, res.Count)
	assert.Equal(t, []string{"doc-1"}, res.Sources)
	assert.Contains(t, res.Context, "[출처: doc-1]")
	assert.False(t, res.LowConfidence)
	assert.Equal(t, 0, dom.LowConfidenceCount)
}

func TestDispatch_LowConfidenceEscalatesAtThreshold(t *testing.T) {
	retriever := &fakeRetriever{snippets: []retrieval.Snippet{
		{Content: "weak match", Score: 0.05, Metadata: retrieval.Metadata{FileID: "doc-2"}},
	}}
	e, dom := newExecutor(t, retriever)

	var last Result
	for i := 0; i < session.LowConfidenceEscalateAt; i++ {
		dom.LastToolAt = time.Time{} // bypass rate limiting between calls in this test
		args := argsJSON(t, "query", "final", 2, 0.3)
		out := e.Dispatch(context.Background(), "sonj_test", "call_n", "rag_search", args)
		last = out.(Result)
	}

	assert.True(t, last.LowConfidence)
	assert.Equal(t, session.LowConfidenceEscalateAt, last.LowConfidenceCount)
	assert.Equal(t, escalationMessage, last.Context)
	assert.Empty(t, last.Sources)
	assert.Equal(t, 0, last.Count)
}

func TestDispatch_RateLimited(t *testing.T) {
	retriever := &fakeRetriever{snippets: []retrieval.Snippet{
		{Content: "c", Score: 0.9, Metadata: retrieval.Metadata{FileID: "doc-1"}},
	}}
	e, _ := newExecutor(t, retriever)

	args := argsJSON(t, "노인 복지", "final", 2, 0.3)
	out1 := e.Dispatch(context.Background(), "sonj_test", "call_1", "rag_search", args)
	require.Equal(t, 1, out1.(Result).Count)

	out2 := e.Dispatch(context.Background(), "sonj_test", "call_2", "rag_search", args)
	res2 := out2.(Result)
	assert.True(t, res2.Skipped)
	assert.Equal(t, "rate_limited", res2.Reason)
}

func TestDispatch_CacheHitSkipsSecondSearch(t *testing.T) {
	retriever := &fakeRetriever{snippets: []retrieval.Snippet{
		{Content: "c", Score: 0.9, Metadata: retrieval.Metadata{FileID: "doc-1"}},
	}}
	e, dom := newExecutor(t, retriever)

	args := argsJSON(t, "노인 복지", "final", 2, 0.3)
	_ = e.Dispatch(context.Background(), "sonj_test", "call_1", "rag_search", args)

	dom.LastToolAt = time.Time{} // only rate limiting should have blocked a second live call
	out2 := e.Dispatch(context.Background(), "sonj_test", "call_2", "rag_search", args)

	assert.Equal(t, 1, retriever.calls)
	assert.Equal(t, 1, out2.(Result).Count)
}

func TestNormalizeOptions_ProvisionalIsNarrowerThanFinal(t *testing.T) {
	mode, provisional := normalizeOptions(rawArguments{Mode: "provisional", TopK: 5, Threshold: 0.1})
	assert.Equal(t, "provisional", mode)
	assert.Equal(t, 1, provisional.TopK)
	assert.Equal(t, 0.4, provisional.Threshold)
	assert.Equal(t, 120, provisional.MaxChars)

	mode, final := normalizeOptions(rawArguments{Mode: "final", TopK: 0, Threshold: 0})
	assert.Equal(t, "final", mode)
	assert.Equal(t, 2, final.TopK)
	assert.Equal(t, 0.3, final.Threshold)
	assert.Equal(t, 200, final.MaxChars)
}
