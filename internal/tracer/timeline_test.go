package tracer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainplane/chainplane/internal/chain"
)

// buildSpan constructs an ended span for direct critical-path tests.
func buildSpan(id, parent, tool string, durationMs int64) Span {
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(time.Duration(durationMs) * time.Millisecond)
	return Span{
		SpanID:       id,
		ParentSpanID: parent,
		ToolName:     tool,
		StartTime:    start,
		EndTime:      &end,
		DurationMs:   durationMs,
		Status:       SpanSuccess,
	}
}

func TestCriticalPathPicksLongestBranch(t *testing.T) {
	// root(1) → A(2) → B(3)
	//                → C(10)
	spans := []Span{
		buildSpan("s-root", "", "root", 1),
		buildSpan("s-a", "s-root", "A", 2),
		buildSpan("s-b", "s-a", "B", 3),
		buildSpan("s-c", "s-a", "C", 10),
	}

	path, sum := criticalPath(spans)
	assert.Equal(t, []string{"root", "A", "C"}, path)
	assert.Equal(t, int64(13), sum)
	assert.GreaterOrEqual(t, sum, int64(12))
}

func TestCriticalPathTieKeepsFirstFound(t *testing.T) {
	spans := []Span{
		buildSpan("s-root", "", "root", 1),
		buildSpan("s-left", "s-root", "left", 5),
		buildSpan("s-right", "s-root", "right", 5),
	}

	path, _ := criticalPath(spans)
	assert.Equal(t, []string{"root", "left"}, path, "equal sums keep insertion order")
}

func TestCriticalPathAcrossForest(t *testing.T) {
	// Two roots: the second tree is longer overall.
	spans := []Span{
		buildSpan("t1", "", "first", 3),
		buildSpan("t2", "", "second", 2),
		buildSpan("t2a", "t2", "second-child", 4),
	}

	path, sum := criticalPath(spans)
	assert.Equal(t, []string{"second", "second-child"}, path)
	assert.Equal(t, int64(6), sum)
}

func TestCriticalPathOrphanParent(t *testing.T) {
	// A span whose parent was never recorded still anchors a path.
	spans := []Span{
		buildSpan("lonely", "gone", "orphan", 7),
	}

	path, sum := criticalPath(spans)
	assert.Equal(t, []string{"orphan"}, path)
	assert.Equal(t, int64(7), sum)
}

func TestTimelineEmptyChain(t *testing.T) {
	tr, _ := newTestTracer()
	tl := tr.Timeline("nothing")

	assert.Empty(t, tl.Spans)
	assert.Zero(t, tl.TotalDurationMs)
	assert.Empty(t, tl.CriticalPath)
}

func TestTimelineTotalDuration(t *testing.T) {
	tr, clock := newTestTracer()
	cc := chain.NewRootContext("c1", nil)

	root := tr.StartSpan(cc, "root", "")
	clock.advance(5 * time.Millisecond)
	inner := tr.StartSpan(cc, "inner", "")
	clock.advance(20 * time.Millisecond)
	tr.EndSpan(inner, true, "", "")
	clock.advance(5 * time.Millisecond)
	tr.EndSpan(root, true, "", "")

	tl := tr.Timeline("c1")
	require.Len(t, tl.Spans, 2)
	// Earliest start to latest end: 5 + 20 + 5.
	assert.Equal(t, int64(30), tl.TotalDurationMs)
	assert.Equal(t, []string{"root", "inner"}, tl.CriticalPath)
	// root carries the whole 30ms, inner 20ms.
	assert.Equal(t, int64(50), tl.CriticalPathDurationMs)
}

func TestTimelinePendingSpansHaveNoEnd(t *testing.T) {
	tr, _ := newTestTracer()
	cc := chain.NewRootContext("c1", nil)

	tr.StartSpan(cc, "open", "")

	tl := tr.Timeline("c1")
	require.Len(t, tl.Spans, 1)
	assert.Zero(t, tl.TotalDurationMs, "no ended span means no measurable extent")
	assert.Equal(t, []string{"open"}, tl.CriticalPath)
}
