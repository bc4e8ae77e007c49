package predictions

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"strings"

	logx "predictbot/pkg/logx"
)

// Prediction is one message of the pool. Pools never hold two predictions with the same ID.
type Prediction struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

// Pool is the ordered, immutable set of predictions loaded at startup.
type Pool struct {
	items []Prediction
}

func NewPool(items []Prediction) *Pool {
	out := make([]Prediction, len(items))
	copy(out, items)
	return &Pool{items: out}
}

func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.items)
}

func (p *Pool) Empty() bool { return p.Len() == 0 }

// All returns a copy of the pool in file order.
func (p *Pool) All() []Prediction {
	if p == nil {
		return nil
	}
	out := make([]Prediction, len(p.items))
	copy(out, p.items)
	return out
}

// Except returns the predictions whose IDs are not in used, in pool order.
func (p *Pool) Except(used map[int64]struct{}) []Prediction {
	out := make([]Prediction, 0, p.Len())
	for _, it := range p.All() {
		if _, ok := used[it.ID]; !ok {
			out = append(out, it)
		}
	}
	return out
}

type rawPrediction struct {
	ID   *int64 `json:"id"`
	Text string `json:"text"`
}

// Load reads a JSON array of {"id", "text"} records.
// A missing or malformed file yields an empty pool; the problem is logged.
func Load(path string, log logx.Logger) *Pool {
	log = log.With(logx.String("comp", "predictions"), logx.String("path", path))

	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Error("predictions file not found; pool is empty")
		return NewPool(nil)
	}
	if err != nil {
		log.Error("predictions file unreadable; pool is empty", logx.Err(err))
		return NewPool(nil)
	}

	var raw []rawPrediction
	if err := json.Unmarshal(b, &raw); err != nil {
		log.Error("predictions file malformed; pool is empty", logx.Err(err))
		return NewPool(nil)
	}

	seen := make(map[int64]struct{}, len(raw))
	items := make([]Prediction, 0, len(raw))
	skipped := 0
	for i, r := range raw {
		if r.ID == nil || strings.TrimSpace(r.Text) == "" {
			log.Warn("prediction skipped: missing id or text", logx.Int("index", i))
			skipped++
			continue
		}
		if _, dup := seen[*r.ID]; dup {
			log.Warn("prediction skipped: duplicate id", logx.Int64("id", *r.ID))
			skipped++
			continue
		}
		seen[*r.ID] = struct{}{}
		items = append(items, Prediction{ID: *r.ID, Text: r.Text})
	}

	log.Info("predictions loaded", logx.Int("count", len(items)), logx.Int("skipped", skipped))
	return &Pool{items: items}
}
