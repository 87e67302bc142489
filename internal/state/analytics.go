package state

// ComputeModelAnalytics partitions cycles by model name (a missing model
// name is attributed to "unknown") and computes per-partition summary
// statistics. A cycle with zero turns and zero cost is counted as a
// timeout.
func (s *Store) ComputeModelAnalytics() map[string]ModelAnalytics {
	s.mu.Lock()
	defer s.mu.Unlock()

	byModel := map[string][]Cycle{}
	for _, c := range s.st.Cycles {
		model := c.Model
		if model == "" {
			model = "unknown"
		}
		byModel[model] = append(byModel[model], c)
	}

	out := make(map[string]ModelAnalytics, len(byModel))
	for model, cycles := range byModel {
		a := ModelAnalytics{Model: model, Count: len(cycles)}
		var sumTurns, sumDuration int64
		var sumCost float64
		for _, c := range cycles {
			sumTurns += int64(c.Turns)
			sumCost += c.CostUSD
			sumDuration += c.DurationMs
			if c.Turns == 0 && c.CostUSD == 0 {
				a.TimeoutCount++
			}
			if c.IsError {
				a.ErrorCount++
			}
		}
		n := float64(len(cycles))
		a.MeanTurns = float64(sumTurns) / n
		a.MeanCostUSD = sumCost / n
		a.MeanDurationMs = float64(sumDuration) / n
		a.TimeoutRate = float64(a.TimeoutCount) / n
		a.ErrorRate = float64(a.ErrorCount) / n
		out[model] = a
	}
	return out
}
