package eventbus

// dedupWindow remembers the most recent N keys. Callers hold the bus lock.
type dedupWindow struct {
	size int
	ring []string
	next int
	seen map[string]struct{}
}

func newDedupWindow(size int) *dedupWindow {
	return &dedupWindow{
		size: size,
		ring: make([]string, 0, size),
		seen: make(map[string]struct{}, size),
	}
}

// observe records key and reports whether it was already in the window.
func (d *dedupWindow) observe(key string) bool {
	if _, ok := d.seen[key]; ok {
		return true
	}
	if len(d.ring) < d.size {
		d.ring = append(d.ring, key)
	} else {
		delete(d.seen, d.ring[d.next])
		d.ring[d.next] = key
		d.next = (d.next + 1) % d.size
	}
	d.seen[key] = struct{}{}
	return false
}
