package windows

// A VictimFinder decides which window to reuse for a new mapping.
type VictimFinder interface {
	FindVictim(windows []*Window) *Window
}

// LRUVictimFinder prefers a window that maps nothing and otherwise picks the
// least recently used one.
type LRUVictimFinder struct{}

// NewLRUVictimFinder returns a newly constructed LRU victim finder.
func NewLRUVictimFinder() *LRUVictimFinder {
	return &LRUVictimFinder{}
}

// FindVictim returns the first uninitialised window, or else the oldest.
func (f *LRUVictimFinder) FindVictim(windows []*Window) *Window {
	for _, w := range windows {
		if !w.IsInitialised() {
			return w
		}
	}

	return FindOldest(windows)
}

// FindOldest returns the window with the smallest age. On equal ages the
// window with the lowest index wins.
func FindOldest(windows []*Window) *Window {
	var oldest *Window

	for _, w := range windows {
		if oldest == nil || w.age < oldest.age {
			oldest = w
		}
	}

	return oldest
}

// FindLargest returns the window with the largest size.
func FindLargest(windows []*Window) *Window {
	var largest *Window

	for _, w := range windows {
		if largest == nil || w.size > largest.size {
			largest = w
		}
	}

	return largest
}
