package healing

import (
	"sync"

	"github.com/Rogers-F/mutation-governor/internal/domain"
)

// DefaultHistorySize bounds the attempt history when none is configured.
const DefaultHistorySize = 1000

// History is the healer's attempt log. It is owned by one Healer.
type History struct {
	mu          sync.Mutex
	size        int
	attempts    []domain.HealingAttempt
	escalations int
}

// NewHistory creates a history keeping the last size attempts.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{size: size}
}

func (h *History) add(a domain.HealingAttempt) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.attempts = append(h.attempts, a)
	if over := len(h.attempts) - h.size; over > 0 {
		h.attempts = append(h.attempts[:0:0], h.attempts[over:]...)
	}
}

func (h *History) escalated() {
	h.mu.Lock()
	h.escalations++
	h.mu.Unlock()
}

// Recent returns up to n of the newest attempts for errType, oldest first.
// An empty errType matches every attempt.
func (h *History) Recent(errType domain.ErrorType, n int) []domain.HealingAttempt {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []domain.HealingAttempt
	for i := len(h.attempts) - 1; i >= 0 && len(out) < n; i-- {
		if errType == "" || h.attempts[i].ErrorType == errType {
			out = append(out, h.attempts[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Stats aggregates the retained history.
func (h *History) Stats() domain.HealingStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := domain.HealingStats{
		TotalAttempts: len(h.attempts),
		Escalations:   h.escalations,
		ByErrorType:   make(map[string]domain.Counter),
		ByStrategy:    make(map[string]domain.Counter),
	}
	for _, a := range h.attempts {
		et := stats.ByErrorType[string(a.ErrorType)]
		st := stats.ByStrategy[string(a.Strategy)]
		et.Total++
		st.Total++
		if a.Success {
			stats.Successful++
			et.Success++
			st.Success++
		} else {
			stats.Failed++
		}
		stats.ByErrorType[string(a.ErrorType)] = et
		stats.ByStrategy[string(a.Strategy)] = st
	}
	if stats.TotalAttempts > 0 {
		stats.SuccessRate = float64(stats.Successful) / float64(stats.TotalAttempts)
	}
	return stats
}
