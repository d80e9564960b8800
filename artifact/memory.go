package artifact

import (
	"context"
	"sync"

	"github.com/YuminosukeSato/pvtrain/pkg/errors"
)

// MemoryStore keeps artifacts in process memory.
type MemoryStore struct {
	m sync.Map
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Put(_ context.Context, key Key, a *Artifact) error {
	if err := a.Validate(); err != nil {
		return err
	}
	s.m.Store(key.String(), a)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key Key) (*Artifact, error) {
	v, ok := s.m.Load(key.String())
	if !ok {
		return nil, errors.NewArtifactMissingError(key.String())
	}
	return v.(*Artifact), nil
}

// Len counts stored artifacts.
func (s *MemoryStore) Len() int {
	n := 0
	s.m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
