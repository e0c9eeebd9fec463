package ingest

// AttributeSetStore is a keyed store of attribute sets owned by one IngestState.
//
// Keys are opaque caller-supplied strings, unique within the store. Every read returns
// an independent copy. Update on an absent key inserts the set; Remove on an absent key
// is a no-op.
//
// The store is not safe for concurrent mutation: callers serialize access per deposit.
type AttributeSetStore struct {
	sets  map[string]AttributeSet
	order []string
}

// NewAttributeSetStore creates an empty store.
func NewAttributeSetStore() *AttributeSetStore {
	return &AttributeSetStore{
		sets: make(map[string]AttributeSet),
	}
}

// Add stores a copy of set under key. It fails with a duplicate key error if key is
// already present, leaving the store unchanged.
func (s *AttributeSetStore) Add(key string, set AttributeSet) error {
	if key == "" {
		return NewValidationError("attribute set key is required").WithOperation("attributes.add")
	}
	if _, exists := s.sets[key]; exists {
		return NewDuplicateKeyError(key).WithOperation("attributes.add")
	}
	s.sets[key] = set.Clone()
	s.order = append(s.order, key)
	return nil
}

// Update stores a copy of set under key, inserting it if key is absent.
func (s *AttributeSetStore) Update(key string, set AttributeSet) error {
	if key == "" {
		return NewValidationError("attribute set key is required").WithOperation("attributes.update")
	}
	if _, exists := s.sets[key]; !exists {
		s.order = append(s.order, key)
	}
	s.sets[key] = set.Clone()
	return nil
}

// Remove deletes the set stored under key. Removing an absent key does nothing.
func (s *AttributeSetStore) Remove(key string) {
	if _, exists := s.sets[key]; !exists {
		return
	}
	delete(s.sets, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Get returns a copy of the set stored under key.
func (s *AttributeSetStore) Get(key string) (AttributeSet, bool) {
	set, ok := s.sets[key]
	if !ok {
		return AttributeSet{}, false
	}
	return set.Clone(), true
}

// Contains reports whether key is present.
func (s *AttributeSetStore) Contains(key string) bool {
	_, ok := s.sets[key]
	return ok
}

// Keys returns all stored keys in insertion order.
func (s *AttributeSetStore) Keys() []string {
	keys := make([]string, len(s.order))
	copy(keys, s.order)
	return keys
}

// Len returns the number of stored sets.
func (s *AttributeSetStore) Len() int {
	return len(s.sets)
}

// MatchByAttribute returns every set containing at least one attribute matching expr.
// The result is never nil.
func (s *AttributeSetStore) MatchByAttribute(expr AttributeMatch) []AttributeSet {
	return s.MatchByPredicate(func(_ string, a Attribute) bool {
		return expr.Matches(a)
	})
}

// MatchByNameAndAttribute is MatchByAttribute restricted to sets named setName.
func (s *AttributeSetStore) MatchByNameAndAttribute(setName string, expr AttributeMatch) []AttributeSet {
	return s.MatchByPredicate(func(name string, a Attribute) bool {
		return name == setName && expr.Matches(a)
	})
}

// MatchByPredicate returns every set for which fn holds on at least one attribute.
func (s *AttributeSetStore) MatchByPredicate(fn AttributePredicate) []AttributeSet {
	matched := make([]AttributeSet, 0)
	for _, key := range s.order {
		set := s.sets[key]
		for _, a := range set.Attributes {
			if fn(set.Name, a) {
				matched = append(matched, set.Clone())
				break
			}
		}
	}
	return matched
}

// MatchKeys is MatchByPredicate returning the matching keys instead of the sets.
func (s *AttributeSetStore) MatchKeys(fn AttributePredicate) []string {
	keys := make([]string, 0)
	for _, key := range s.order {
		set := s.sets[key]
		for _, a := range set.Attributes {
			if fn(set.Name, a) {
				keys = append(keys, key)
				break
			}
		}
	}
	return keys
}
