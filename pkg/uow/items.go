package uow

import "github.com/nimburion/repokit/pkg/schema"

// Well-known items bag keys. A new cross-cutting policy reserves its own key.
const (
	// ItemHardDeletedEntities holds the *HardDeleteSet of entities that must
	// bypass soft-delete rewriting.
	ItemHardDeletedEntities = "HardDeletedEntities"
)

// Items is the per-transaction key/value bag.
type Items map[string]any

// Get returns the value stored under key.
func (i Items) Get(key string) (any, bool) {
	v, ok := i[key]
	return v, ok
}

// Set stores value under key.
func (i Items) Set(key string, value any) {
	i[key] = value
}

// GetOrAdd returns the value under key, storing create() first when absent.
func (i Items) GetOrAdd(key string, create func() any) any {
	if v, ok := i[key]; ok {
		return v
	}
	v := create()
	i[key] = v
	return v
}

// Identity names one entity across instances: its type tag plus its key.
// Entities without a key are identified by their pointer.
type Identity struct {
	Type string
	Key  any
}

// IdentityOf returns the identity of entity under model.
func IdentityOf(model *schema.Model, entity any) Identity {
	if key, ok := model.KeyOf(entity); ok {
		return Identity{Type: model.Name(), Key: key}
	}
	return Identity{Type: model.Name(), Key: entity}
}

// HardDeleteSet records entities whose removal must not be rewritten into a
// soft delete. Membership is by Identity, so a re-fetched instance of the
// same row is recognized.
type HardDeleteSet struct {
	members map[Identity]struct{}
}

// NewHardDeleteSet returns an empty set.
func NewHardDeleteSet() *HardDeleteSet {
	return &HardDeleteSet{members: make(map[Identity]struct{})}
}

// Add records the entity.
func (s *HardDeleteSet) Add(model *schema.Model, entity any) {
	s.members[IdentityOf(model, entity)] = struct{}{}
}

// Contains reports whether the entity was recorded.
func (s *HardDeleteSet) Contains(model *schema.Model, entity any) bool {
	if s == nil {
		return false
	}
	_, ok := s.members[IdentityOf(model, entity)]
	return ok
}

// Len returns the number of recorded entities.
func (s *HardDeleteSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.members)
}
