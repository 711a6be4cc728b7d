package mempool

// SeenWindow is how many heights a mined transaction id is remembered for.
const SeenWindow = 200

// seenSet remembers ids of recently mined transactions, bucketed by block
// height so old heights can be dropped. Guarded by the mempool lock.
type seenSet struct {
	ids      map[string]uint64
	byHeight map[uint64]map[string]struct{}
}

func newSeenSet() *seenSet {
	return &seenSet{
		ids:      make(map[string]uint64),
		byHeight: make(map[uint64]map[string]struct{}),
	}
}

func (s *seenSet) has(id string) bool {
	_, ok := s.ids[id]
	return ok
}

func (s *seenSet) add(height uint64, ids []string) {
	for _, id := range ids {
		s.ids[id] = height
		if _, exists := s.byHeight[height]; !exists {
			s.byHeight[height] = make(map[string]struct{})
		}
		s.byHeight[height][id] = struct{}{}
	}
}

func (s *seenSet) remove(id string) {
	height, ok := s.ids[id]
	if !ok {
		return
	}
	delete(s.ids, id)
	if bucket, exists := s.byHeight[height]; exists {
		delete(bucket, id)
		if len(bucket) == 0 {
			delete(s.byHeight, height)
		}
	}
}

// cleanUp forgets ids mined more than SeenWindow heights before height.
func (s *seenSet) cleanUp(height uint64) {
	if height <= SeenWindow {
		return
	}
	cutoff := height - SeenWindow
	for h, bucket := range s.byHeight {
		if h > cutoff {
			continue
		}
		for id := range bucket {
			delete(s.ids, id)
		}
		delete(s.byHeight, h)
	}
}

func (s *seenSet) len() int {
	return len(s.ids)
}
