package identity

import (
	"sync"
)

// ReaderWriterSet stores per-owner grants: each grantee UUID maps to the
// level it holds on the owner. The owner has implicit rwg, and the
// kernel holds implicit rwg everywhere.
type ReaderWriterSet struct {
	mu       sync.RWMutex
	grants   map[string]map[string]Level // ownerUUID -> granteeUUID -> level
	registry *Registry
}

// NewReaderWriterSet creates an empty permission store backed by the
// given registry (used to recognize the kernel).
func NewReaderWriterSet(registry *Registry) *ReaderWriterSet {
	return &ReaderWriterSet{
		grants:   make(map[string]map[string]Level),
		registry: registry,
	}
}

// levelOf returns the effective level caller holds on owner.
func (s *ReaderWriterSet) levelOf(owner, caller PKR) Level {
	if caller.UUID != "" && caller.UUID == owner.UUID {
		return LevelReadWriteGrant
	}
	if s.registry != nil && s.registry.IsKernel(caller) {
		return LevelReadWriteGrant
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	byGrantee, exists := s.grants[owner.UUID]
	if !exists {
		return LevelNone
	}
	return byGrantee[caller.UUID]
}

// Level returns caller's effective level on owner.
func (s *ReaderWriterSet) Level(owner, caller PKR) Level {
	return s.levelOf(owner, caller)
}

// CanRead reports whether caller may read owner.
func (s *ReaderWriterSet) CanRead(owner, caller PKR) bool {
	return s.levelOf(owner, caller).Covers(LevelRead)
}

// CanWrite reports whether caller may write owner.
func (s *ReaderWriterSet) CanWrite(owner, caller PKR) bool {
	return s.levelOf(owner, caller).Covers(LevelReadWrite)
}

// CanGrant reports whether caller may grant on owner.
func (s *ReaderWriterSet) CanGrant(owner, caller PKR) bool {
	return s.levelOf(owner, caller).Covers(LevelReadWriteGrant)
}

// Grant records level for grantee on owner. The mutator must itself
// hold grant on owner (the owner and the kernel always do).
func (s *ReaderWriterSet) Grant(mutator, owner, grantee PKR, level Level) error {
	if !s.CanGrant(owner, mutator) {
		return PermissionDenied("grant access required")
	}
	if level <= LevelNone || level > LevelReadWriteGrant {
		return PermissionDenied("invalid level")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	byGrantee, exists := s.grants[owner.UUID]
	if !exists {
		byGrantee = make(map[string]Level)
		s.grants[owner.UUID] = byGrantee
	}
	byGrantee[grantee.UUID] = level
	return nil
}

// Revoke removes grantee's level on owner. Revoking an absent grant is
// a no-op.
func (s *ReaderWriterSet) Revoke(mutator, owner, grantee PKR) error {
	if !s.CanGrant(owner, mutator) {
		return PermissionDenied("grant access required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if byGrantee, exists := s.grants[owner.UUID]; exists {
		delete(byGrantee, grantee.UUID)
		if len(byGrantee) == 0 {
			delete(s.grants, owner.UUID)
		}
	}
	return nil
}

// Grants returns a copy of the grant table for owner.
func (s *ReaderWriterSet) Grants(owner PKR) map[string]Level {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Level, len(s.grants[owner.UUID]))
	for grantee, level := range s.grants[owner.UUID] {
		out[grantee] = level
	}
	return out
}
