package scaling

import (
	"github.com/dslb-eesm/controlplane/internal/domain"
)

// CandidateHeap is a binary min-heap over powered-off servers, ordered
// by capacity (cores, then memory) ascending — the smallest server
// that can still cover a failed node's capacity sits at the root.
// Structurally the same sift-up/sift-down shape as a scheduler's
// priority queue; here "priority" is capacity rather than task urgency,
// and there is no age-based boosting, since a replacement candidate's
// rank never needs to change while it waits.
type CandidateHeap struct {
	items []domain.ServerDescriptor
}

// NewCandidateHeap builds a heap from the given powered-off servers.
func NewCandidateHeap(servers []domain.ServerDescriptor) *CandidateHeap {
	h := &CandidateHeap{items: append([]domain.ServerDescriptor(nil), servers...)}
	for i := len(h.items)/2 - 1; i >= 0; i-- {
		h.siftDown(i)
	}
	return h
}

func less(a, b domain.ServerDescriptor) bool {
	if a.Cores != b.Cores {
		return a.Cores < b.Cores
	}
	if a.MemoryGB != b.MemoryGB {
		return a.MemoryGB < b.MemoryGB
	}
	return a.Name < b.Name
}

func (h *CandidateHeap) Len() int { return len(h.items) }

func (h *CandidateHeap) siftDown(idx int) {
	n := len(h.items)
	for {
		smallest := idx
		left, right := 2*idx+1, 2*idx+2
		if left < n && less(h.items[left], h.items[smallest]) {
			smallest = left
		}
		if right < n && less(h.items[right], h.items[smallest]) {
			smallest = right
		}
		if smallest == idx {
			return
		}
		h.items[idx], h.items[smallest] = h.items[smallest], h.items[idx]
		idx = smallest
	}
}

func (h *CandidateHeap) siftUp(idx int) {
	for idx > 0 {
		parent := (idx - 1) / 2
		if less(h.items[idx], h.items[parent]) {
			h.items[idx], h.items[parent] = h.items[parent], h.items[idx]
			idx = parent
		} else {
			return
		}
	}
}

func (h *CandidateHeap) popMin() (domain.ServerDescriptor, bool) {
	if len(h.items) == 0 {
		return domain.ServerDescriptor{}, false
	}
	top := h.items[0]
	last := len(h.items) - 1
	h.items[0] = h.items[last]
	h.items = h.items[:last]
	if len(h.items) > 0 {
		h.siftDown(0)
	}
	return top, true
}

// PickReplacement finds the best substitute for a failed server: the
// exact capacity match if one is powered off and available, otherwise
// the smallest powered-off server whose capacity is greater-or-equal.
// Servers that don't qualify are restored to the heap before
// returning so a later call can still see them.
func (h *CandidateHeap) PickReplacement(failed domain.Capacity) (domain.ServerDescriptor, bool) {
	var rejected []domain.ServerDescriptor
	var best *domain.ServerDescriptor

	for {
		cand, ok := h.popMin()
		if !ok {
			break
		}
		if cand.Cap().Equal(failed) {
			best = &cand
			break
		}
		if cand.Cap().GreaterOrEqual(failed) {
			best = &cand
			break
		}
		rejected = append(rejected, cand)
	}

	for _, r := range rejected {
		h.items = append(h.items, r)
		h.siftUp(len(h.items) - 1)
	}

	if best == nil {
		return domain.ServerDescriptor{}, false
	}
	return *best, true
}
