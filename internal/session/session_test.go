package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginAndFinishToolCall_Coalesces(t *testing.T) {
	s := New("sess1")
	s.BeginToolCall("c1", "rag_search", `{"query":"노인 `)
	s.BeginToolCall("c1", "rag_search", `복지"}`)

	pc, ok := s.FinishToolCall("c1")
	require.True(t, ok)
	assert.Equal(t, `{"query":"노인 복지"}`, pc.Args.String())

	_, ok = s.FinishToolCall("c1")
	assert.False(t, ok)
}

func TestCanDispatchTool_RateLimits(t *testing.T) {
	s := New("sess1")
	base := time.Now()

	assert.True(t, s.CanDispatchTool(base))
	assert.False(t, s.CanDispatchTool(base.Add(500*time.Millisecond)))
	assert.True(t, s.CanDispatchTool(base.Add(1300*time.Millisecond)))
}

func TestLowConfidenceEscalation(t *testing.T) {
	s := New("sess1")
	assert.Equal(t, 1, s.RecordLowConfidence())
	assert.Equal(t, 2, s.RecordLowConfidence())
	assert.Equal(t, 3, s.RecordLowConfidence())
	assert.True(t, s.LowConfidenceCount >= LowConfidenceEscalateAt)

	s.ResetLowConfidence()
	assert.Equal(t, 0, s.LowConfidenceCount)
}

func TestRagCache_TTLExpiry(t *testing.T) {
	s := New("sess1")
	s.CachePut(&RagCacheEntry{NormalizedQuery: "노인 복지", Context: "ctx"})

	entry, ok := s.CacheGet("노인 복지")
	require.True(t, ok)
	assert.Equal(t, "ctx", entry.Context)

	entry.InsertedAt = time.Now().Add(-RagCacheTTL - time.Second)
	_, ok = s.CacheGet("노인 복지")
	assert.False(t, ok)
}

func TestNormalizeQuery(t *testing.T) {
	assert.Equal(t, "노인 복지", NormalizeQuery("  노인   복지  "))
	assert.Equal(t, "hello world", NormalizeQuery("Hello   World"))
}
