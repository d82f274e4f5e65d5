package tracer

// Timeline is the assembled view of one chain's spans.
type Timeline struct {
	Spans           []Span   `json:"spans"`
	TotalDurationMs int64    `json:"total_duration_ms"`
	CriticalPath    []string `json:"critical_path"`
	// CriticalPathDurationMs is the summed duration of the spans on the
	// critical path.
	CriticalPathDurationMs int64 `json:"critical_path_duration_ms"`
}

// Timeline assembles the timeline for a chain. TotalDurationMs spans from
// the earliest start to the latest recorded end (0 when no span has
// ended); the critical path is the root-to-leaf path with the largest
// summed duration across the chain's span forest.
func (t *Tracer) Timeline(correlationID string) Timeline {
	spans := t.Spans(correlationID)

	tl := Timeline{Spans: spans, CriticalPath: []string{}}
	if len(spans) == 0 {
		return tl
	}

	earliest := spans[0].StartTime
	haveEnd := false
	latest := spans[0].StartTime
	for _, s := range spans {
		if s.StartTime.Before(earliest) {
			earliest = s.StartTime
		}
		if s.EndTime != nil {
			if !haveEnd || s.EndTime.After(latest) {
				latest = *s.EndTime
				haveEnd = true
			}
		}
	}
	if haveEnd {
		tl.TotalDurationMs = latest.Sub(earliest).Milliseconds()
	}

	tl.CriticalPath, tl.CriticalPathDurationMs = criticalPath(spans)
	return tl
}

// criticalPath finds the longest cumulative-duration root-to-leaf path by
// depth-first traversal from every root span. Ties keep the first path
// found, which follows insertion order.
func criticalPath(spans []Span) ([]string, int64) {
	children := make(map[string][]*Span)
	var roots []*Span
	for i := range spans {
		s := &spans[i]
		if s.ParentSpanID == "" {
			roots = append(roots, s)
		} else {
			children[s.ParentSpanID] = append(children[s.ParentSpanID], s)
		}
	}
	// Spans whose parent was never recorded (e.g. after a partial Clear)
	// still need a traversal entry point.
	seen := make(map[string]bool, len(spans))
	for i := range spans {
		seen[spans[i].SpanID] = true
	}
	for i := range spans {
		s := &spans[i]
		if s.ParentSpanID != "" && !seen[s.ParentSpanID] {
			roots = append(roots, s)
		}
	}

	var (
		bestPath []string
		bestSum  int64
	)
	var walk func(s *Span, path []string, sum int64)
	walk = func(s *Span, path []string, sum int64) {
		path = append(path, s.ToolName)
		sum += s.DurationMs
		kids := children[s.SpanID]
		if len(kids) == 0 {
			if bestPath == nil || sum > bestSum {
				bestPath = append([]string(nil), path...)
				bestSum = sum
			}
			return
		}
		for _, k := range kids {
			walk(k, path, sum)
		}
	}
	for _, root := range roots {
		walk(root, nil, 0)
	}

	if bestPath == nil {
		bestPath = []string{}
	}
	return bestPath, bestSum
}
