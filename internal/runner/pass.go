package runner

import (
	"context"
	"sort"

	"go.uber.org/zap"
)

// Pass is one unit of resumable work of a pipeline stage.
type Pass interface {
	Name() string
	RunOnce(ctx context.Context, runID string) (Summary, error)
}

// Summary counts per-item outcomes of a pass, keyed by outcome label.
type Summary map[string]int

func (s Summary) Add(outcome string) { s[outcome]++ }

func (s Summary) Total() int {
	n := 0
	for _, v := range s {
		n += v
	}
	return n
}

// Fields renders the counts as sorted zap fields.
func (s Summary) Fields() []zap.Field {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Int(k, s[k]))
	}
	return out
}
