package task

import (
	"encoding/json"
	"math"
	"time"
)

// ApplyStatus performs the in-place mutation behind TaskStore.SetStatus. Every
// backend calls it so the attempts, telemetry and history rules live in one
// place.
func ApplyStatus(t *TrackedTask, status Status, result map[string]any, now time.Time) {
	if status == StatusRunning || status == StatusFailed {
		t.Attempts++
	}
	t.Status = status
	entry := HistoryEntry{Status: status, Timestamp: now}
	if result != nil {
		t.Result = result
		if tel, ok := result["telemetry"].(map[string]any); ok {
			t.Telemetry = MergeTelemetry(t.Telemetry, tel)
		}
		if notes, ok := result["notes"].(string); ok {
			entry.Notes = notes
		}
	}
	t.History = append(t.History, entry)
	t.UpdatedAt = now
}

// MergeTelemetry adds numeric values of add onto base and replaces everything
// else. base is modified and returned; a nil base is allocated.
func MergeTelemetry(base, add map[string]any) map[string]any {
	if base == nil {
		base = make(map[string]any, len(add))
	}
	for k, v := range add {
		inc, ok := toFloat(v)
		if !ok {
			base[k] = v
			continue
		}
		if cur, ok := toFloat(base[k]); ok {
			base[k] = normalizeNumber(cur + inc)
			continue
		}
		base[k] = normalizeNumber(inc)
	}
	return base
}

// MergeMetadata shallow-merges patch into base.
func MergeMetadata(base, patch map[string]any) map[string]any {
	if base == nil {
		base = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		base[k] = v
	}
	return base
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// normalizeNumber keeps integral sums as int64 so token counters stay integers.
func normalizeNumber(f float64) any {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return f
}
