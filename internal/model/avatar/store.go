package avatar

// Store exposes avatar retrieval for handlers and the orchestrator.
type Store interface {
	List() []Avatar
	FindByID(id string) (Avatar, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Avatar
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied avatars.
func NewMemoryStore(items []Avatar) *MemoryStore {
	return &MemoryStore{items: append([]Avatar(nil), items...)}
}

// List returns all known avatars.
func (s *MemoryStore) List() []Avatar {
	return append([]Avatar(nil), s.items...)
}

// FindByID looks up an avatar by identifier.
func (s *MemoryStore) FindByID(id string) (Avatar, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Avatar{}, false
}
