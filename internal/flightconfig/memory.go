package flightconfig

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"habitat/pkg/errors"
)

// MemoryStore keeps documents in process. It backs tests and deployments
// that load their flights from a file.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*Document
}

func NewMemoryStore(docs ...Document) *MemoryStore {
	s := &MemoryStore{docs: make(map[string]*Document)}
	for _, d := range docs {
		s.Put(d)
	}
	return s
}

func (s *MemoryStore) Put(doc Document) {
	doc.Normalize()

	s.mu.Lock()
	s.docs[doc.ID] = &doc
	s.mu.Unlock()
}

func (s *MemoryStore) Delete(id string) {
	s.mu.Lock()
	delete(s.docs, id)
	s.mu.Unlock()
}

func (s *MemoryStore) Lookup(_ context.Context, callsign string, at time.Time) (*Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]*Document, 0, len(s.docs))
	for _, d := range s.docs {
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].ID < docs[j].ID
	})

	var best *Document
	for _, d := range docs {
		if _, _, ok := d.Payload(callsign); !ok || !d.activeAt(at) {
			continue
		}
		if best == nil || d.End.Before(best.End) {
			best = d
		}
	}

	if best == nil {
		for _, d := range docs {
			if d.Type != TypeSandbox {
				continue
			}
			if _, _, ok := d.Payload(callsign); ok {
				best = d
				break
			}
		}
	}

	if best == nil {
		return nil, errors.ErrNotFound.WithDetail("message", fmt.Sprintf("no configuration for callsign %q", callsign))
	}

	match, _ := newMatch(best, callsign)
	return match, nil
}
