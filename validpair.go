package ice

// ValidPair is a pair that has produced a successful response and a
// symmetric address (RFC 5245 §7.1.3.2.2). GeneratedFrom is the check-list
// pair whose binding request produced this valid pair; Valid is the actual
// (local, remote) pair that should carry media, which may differ from
// GeneratedFrom when a peer-reflexive local candidate was discovered.
type ValidPair struct {
	Valid         *Pair
	GeneratedFrom *Pair
	IsNominated   bool
}

// Equal reports whether v and o reference the same (valid, generated_from)
// pointers, the uniqueness key for the valid list (spec §3 invariant
// "Valid pairs are unique by (valid pointer, generated_from pointer)").
func (v *ValidPair) Equal(o *ValidPair) bool {
	return v.Valid == o.Valid && v.GeneratedFrom == o.GeneratedFrom
}

// ValidPairs is a priority-ordered (descending by Valid.Priority) list of
// ValidPair, per spec §3 ("the valid list is ordered by descending pair
// priority").
type ValidPairs []*ValidPair

func (v ValidPairs) Len() int           { return len(v) }
func (v ValidPairs) Less(i, j int) bool { return v[i].Valid.Priority > v[j].Valid.Priority }
func (v ValidPairs) Swap(i, j int)      { v[i], v[j] = v[j], v[i] }

// insert adds vp into the list at its priority-ordered position unless an
// equal entry already exists, returning the updated list.
func (v ValidPairs) insert(vp *ValidPair) ValidPairs {
	for _, existing := range v {
		if existing.Equal(vp) {
			return v
		}
	}
	idx := len(v)
	for i, existing := range v {
		if vp.Valid.Priority > existing.Valid.Priority {
			idx = i
			break
		}
	}
	v = append(v, nil)
	copy(v[idx+1:], v[idx:])
	v[idx] = vp
	return v
}

// nominatedByComponent returns the nominated valid pair for component, or
// nil.
func (v ValidPairs) nominatedByComponent(component ComponentID) *ValidPair {
	for _, vp := range v {
		if vp.Valid.ComponentID() == component && vp.IsNominated {
			return vp
		}
	}
	return nil
}
