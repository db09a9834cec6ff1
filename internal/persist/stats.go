package persist

// Stats aggregates operations over a period.
type Stats struct {
	TotalCalls    int                  `json:"totalCalls"`
	SuccessCount  int                  `json:"successCount"`
	ErrorCount    int                  `json:"errorCount"`
	AvgDurationMs float64              `json:"avgDurationMs"`
	ByTool        map[string]ToolStats `json:"byTool"`
}

// ToolStats aggregates the operations of one tool.
type ToolStats struct {
	Calls       int     `json:"calls"`
	SuccessRate float64 `json:"successRate"`
	AvgDuration float64 `json:"avgDuration"`
}

type toolAcc struct {
	total, success int
	duration       int64
}

// StatsBuilder accumulates operations into a [Stats]. The zero value is
// ready to use.
type StatsBuilder struct {
	total, success int
	duration       int64
	tools          map[string]*toolAcc
}

// Add accounts one operation.
func (b *StatsBuilder) Add(tool string, success bool, durationMs int64) {
	if b.tools == nil {
		b.tools = make(map[string]*toolAcc)
	}
	acc := b.tools[tool]
	if acc == nil {
		acc = &toolAcc{}
		b.tools[tool] = acc
	}
	b.total++
	acc.total++
	b.duration += durationMs
	acc.duration += durationMs
	if success {
		b.success++
		acc.success++
	}
}

// Stats returns the aggregate. An empty builder yields zero counts and an
// empty, non-nil ByTool map.
func (b *StatsBuilder) Stats() Stats {
	s := Stats{ByTool: make(map[string]ToolStats, len(b.tools))}
	if b.total == 0 {
		return s
	}
	s.TotalCalls = b.total
	s.SuccessCount = b.success
	s.ErrorCount = b.total - b.success
	s.AvgDurationMs = float64(b.duration) / float64(b.total)
	for name, acc := range b.tools {
		s.ByTool[name] = ToolStats{
			Calls:       acc.total,
			SuccessRate: float64(acc.success) / float64(acc.total),
			AvgDuration: float64(acc.duration) / float64(acc.total),
		}
	}
	return s
}
