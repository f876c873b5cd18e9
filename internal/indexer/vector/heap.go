package vector

import "container/heap"

// topK keeps the k best hits seen so far. The root is the weakest kept hit,
// so a better candidate replaces it in O(log k).
type topK struct {
	k    int
	hits hitHeap
}

func newTopK(k int) *topK {
	t := &topK{k: k, hits: make(hitHeap, 0, k)}
	heap.Init(&t.hits)
	return t
}

func (t *topK) offer(h Hit) {
	if t.hits.Len() < t.k {
		heap.Push(&t.hits, h)
		return
	}
	if weaker(t.hits[0], h) {
		t.hits[0] = h
		heap.Fix(&t.hits, 0)
	}
}

// sorted drains the heap best-first.
func (t *topK) sorted() []Hit {
	out := make([]Hit, t.hits.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&t.hits).(Hit)
	}
	return out
}

// weaker reports whether a ranks below b: lower similarity, or equal
// similarity and a larger code.
func weaker(a, b Hit) bool {
	if a.Similarity != b.Similarity {
		return a.Similarity < b.Similarity
	}
	return a.Code > b.Code
}

type hitHeap []Hit

func (h hitHeap) Len() int { return len(h) }

func (h hitHeap) Less(i, j int) bool { return weaker(h[i], h[j]) }

func (h hitHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *hitHeap) Push(x interface{}) {
	*h = append(*h, x.(Hit))
}

func (h *hitHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
