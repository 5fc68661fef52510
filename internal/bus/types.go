package bus

import (
	"sort"
	"sync"

	"habitat/pkg/models"
)

// TypeSet is the set of message kinds a sink wants delivered. Every mutator
// validates its arguments before touching the set.
type TypeSet struct {
	mu    sync.RWMutex
	kinds map[models.Kind]struct{}
}

func NewTypeSet() *TypeSet {
	return &TypeSet{kinds: make(map[models.Kind]struct{})}
}

func (t *TypeSet) AddType(kind models.Kind) error {
	return t.AddTypes(kind)
}

func (t *TypeSet) AddTypes(kinds ...models.Kind) error {
	if err := validateKinds(kinds); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, k := range kinds {
		t.kinds[k] = struct{}{}
	}
	return nil
}

// RemoveType ignores kinds that are not in the set.
func (t *TypeSet) RemoveType(kind models.Kind) error {
	return t.RemoveTypes(kind)
}

func (t *TypeSet) RemoveTypes(kinds ...models.Kind) error {
	if err := validateKinds(kinds); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, k := range kinds {
		delete(t.kinds, k)
	}
	return nil
}

func (t *TypeSet) SetTypes(kinds ...models.Kind) error {
	if err := validateKinds(kinds); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.kinds = make(map[models.Kind]struct{}, len(kinds))
	for _, k := range kinds {
		t.kinds[k] = struct{}{}
	}
	return nil
}

func (t *TypeSet) ClearTypes() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.kinds = make(map[models.Kind]struct{})
}

func (t *TypeSet) Accepts(kind models.Kind) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.kinds[kind]
	return ok
}

func (t *TypeSet) Types() []models.Kind {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]models.Kind, 0, len(t.kinds))
	for k := range t.kinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func validateKinds(kinds []models.Kind) error {
	for _, k := range kinds {
		if err := models.ValidateKind(k); err != nil {
			return err
		}
	}
	return nil
}
