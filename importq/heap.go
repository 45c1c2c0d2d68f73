package importq

// slotHeap orders slots most urgent first. It implements heap.Interface, the
// queue tracks each slot's index so a promotion can reseat it in place.
type slotHeap []*slot

func (h slotHeap) Len() int {
	return len(h)
}

func (h slotHeap) Less(i, j int) bool {
	return Compare(h[i].req.priority, h[j].req.priority) > 0
}

func (h slotHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *slotHeap) Push(x any) {
	s := x.(*slot)
	s.index = len(*h)
	*h = append(*h, s)
}

func (h *slotHeap) Pop() any {
	old := *h
	n := len(old)
	s := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return s
}
