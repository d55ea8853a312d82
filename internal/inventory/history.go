package inventory

// classHistory is a fixed-capacity ring of raw per-frame counts for one class.
type classHistory struct {
	id    int
	label string // last name reported by the detector for this id
	buf   []int
	start int
	n     int
}

func newClassHistory(id, capacity int) classHistory {
	return classHistory{id: id, buf: make([]int, capacity)}
}

// push appends v, evicting the oldest value once the ring is full.
func (h *classHistory) push(v int) {
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = v
		h.n++
		return
	}
	h.buf[h.start] = v
	h.start = (h.start + 1) % len(h.buf)
}

// values appends the window, oldest first, to dst.
func (h *classHistory) values(dst []int) []int {
	for i := 0; i < h.n; i++ {
		dst = append(dst, h.buf[(h.start+i)%len(h.buf)])
	}
	return dst
}

func (h *classHistory) len() int { return h.n }

// arena stores class histories contiguously, indexed by class id. Slots are
// only ever appended; Reset drops them all.
type arena struct {
	slots []classHistory
	index map[int]int
}

func newArena() arena {
	return arena{index: make(map[int]int)}
}

// get returns the history for id, or nil when the class has never been seen.
func (a *arena) get(id int) *classHistory {
	i, ok := a.index[id]
	if !ok {
		return nil
	}
	return &a.slots[i]
}

// ensure returns the history for id, allocating a slot on first sight.
func (a *arena) ensure(id, capacity int) *classHistory {
	if i, ok := a.index[id]; ok {
		return &a.slots[i]
	}
	a.index[id] = len(a.slots)
	a.slots = append(a.slots, newClassHistory(id, capacity))
	return &a.slots[len(a.slots)-1]
}

func (a *arena) reset() {
	a.slots = a.slots[:0]
	clear(a.index)
}
