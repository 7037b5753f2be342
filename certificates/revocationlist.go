package certificates

import "sync"

// RevocationList is the set of revoked certificate serial numbers. One
// background writer updates it while verification calls read it
// concurrently; updates swap the whole set so readers never observe a
// partially merged state.
type RevocationList struct {
	mu      sync.RWMutex
	serials map[string]struct{}
}

func NewRevocationList() *RevocationList {
	return &RevocationList{serials: make(map[string]struct{})}
}

// SerialNumberRevoked reports whether serial is in the revoked set.
func (l *RevocationList) SerialNumberRevoked(serial string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.serials[serial]
	return ok
}

// Replace atomically swaps the active set for the given serials.
func (l *RevocationList) Replace(serials []string) {
	next := make(map[string]struct{}, len(serials))
	for _, s := range serials {
		next[s] = struct{}{}
	}
	l.mu.Lock()
	l.serials = next
	l.mu.Unlock()
}

// Merge adds serials to the set. The union is built aside and swapped in
// atomically.
func (l *RevocationList) Merge(serials []string) {
	if len(serials) == 0 {
		return
	}
	l.mu.Lock()
	next := make(map[string]struct{}, len(l.serials)+len(serials))
	for s := range l.serials {
		next[s] = struct{}{}
	}
	for _, s := range serials {
		next[s] = struct{}{}
	}
	l.serials = next
	l.mu.Unlock()
}

// Len reports the number of revoked serials.
func (l *RevocationList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.serials)
}
