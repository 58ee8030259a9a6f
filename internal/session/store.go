// Package session holds per-(user, chat) ephemeral interaction state.
//
// State lives in memory for the process lifetime; a restart loses in-flight
// selection state, which is accepted. All mutation of one key's state happens
// on that key's router worker, so State methods need no locking of their own;
// the Store only guards the key map.
package session

import (
	"sync"
	"time"

	"tunebot/internal/resolver"
	"tunebot/internal/transport"
)

// Key identifies one independent interaction stream.
type Key struct {
	UserID int64
	ChatID int64
}

// Prompt is one issued denial prompt, tracked so it can be retracted later.
type Prompt struct {
	Ref transport.MessageRef
	At  time.Time
}

// State is the mutable per-session record.
type State struct {
	// pendingCandidates is the current selectable result set; generation
	// fences selections against superseded searches.
	pendingCandidates []resolver.Candidate
	generation        uint64

	// selectPrompt is the message currently showing the candidate list,
	// retracted when a new search supersedes it.
	selectPrompt *transport.MessageRef

	denialPrompts []Prompt
}

// Generation returns the fence value for the current candidate list.
func (s *State) Generation() uint64 { return s.generation }

// BeginSearch invalidates any previous candidate list and returns the message
// ref of a stale selection prompt to retract, if one was showing.
func (s *State) BeginSearch() *transport.MessageRef {
	s.generation++
	s.pendingCandidates = nil
	stale := s.selectPrompt
	s.selectPrompt = nil
	return stale
}

// SetCandidates stores the new result set and the prompt showing it,
// returning the generation that fences selections against it.
func (s *State) SetCandidates(cands []resolver.Candidate, prompt transport.MessageRef) uint64 {
	s.pendingCandidates = append([]resolver.Candidate(nil), cands...)
	s.selectPrompt = &prompt
	return s.generation
}

// TakeCandidate consumes the candidate at idx if gen matches the current
// candidate list. On success the whole list is cleared (consumed).
func (s *State) TakeCandidate(gen uint64, idx int) (resolver.Candidate, bool) {
	if gen != s.generation || idx < 0 || idx >= len(s.pendingCandidates) {
		return resolver.Candidate{}, false
	}
	c := s.pendingCandidates[idx]
	s.pendingCandidates = nil
	s.selectPrompt = nil
	return c, true
}

// PendingCount reports how many candidates are currently selectable.
func (s *State) PendingCount() int { return len(s.pendingCandidates) }

// AddDenialPrompt tracks a newly issued denial prompt. Prompts beyond cap,
// and prompts older than ttl (when ttl > 0), are returned for retraction.
func (s *State) AddDenialPrompt(ref transport.MessageRef, ttl time.Duration, cap int) []transport.MessageRef {
	s.denialPrompts = append(s.denialPrompts, Prompt{Ref: ref, At: time.Now()})

	var evict []transport.MessageRef
	if ttl > 0 {
		cutoff := time.Now().Add(-ttl)
		kept := s.denialPrompts[:0]
		for _, p := range s.denialPrompts {
			if p.At.Before(cutoff) {
				evict = append(evict, p.Ref)
				continue
			}
			kept = append(kept, p)
		}
		s.denialPrompts = kept
	}
	if cap > 0 {
		for len(s.denialPrompts) > cap {
			evict = append(evict, s.denialPrompts[0].Ref)
			s.denialPrompts = s.denialPrompts[1:]
		}
	}
	return evict
}

// ClearDenialPrompts drains all tracked denial prompts for retraction in one
// pass, once access is finally granted.
func (s *State) ClearDenialPrompts() []transport.MessageRef {
	refs := make([]transport.MessageRef, 0, len(s.denialPrompts))
	for _, p := range s.denialPrompts {
		refs = append(refs, p.Ref)
	}
	s.denialPrompts = nil
	return refs
}

// DenialPromptCount reports tracked denial prompts (tests/ops).
func (s *State) DenialPromptCount() int { return len(s.denialPrompts) }

// Store is the concurrency-safe keyed session map.
type Store struct {
	mu sync.Mutex
	m  map[Key]*State
}

func NewStore() *Store {
	return &Store{m: map[Key]*State{}}
}

// Get returns the session state for key, creating it lazily.
func (st *Store) Get(key Key) *State {
	st.mu.Lock()
	defer st.mu.Unlock()
	s := st.m[key]
	if s == nil {
		s = &State{}
		st.m[key] = s
	}
	return s
}

// Len reports live sessions (ops visibility).
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.m)
}
