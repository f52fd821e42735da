package data

import (
	"context"
	"sort"
	"sync"
)

// MockRepository is an in-memory Repository for tests and offline mode
type MockRepository struct {
	validators  map[string]*Validator
	submissions map[string]*WorkSubmission
	challenges  map[string]*Challenge
	blocks      map[uint64]*Block
	events      map[string]*Event
	eventOrder  []string
	mu          sync.RWMutex
}

// Ensure MockRepository implements the Repository interface
var _ Repository = (*MockRepository)(nil)

// NewMockRepository creates an empty in-memory repository
func NewMockRepository() *MockRepository {
	return &MockRepository{
		validators:  make(map[string]*Validator),
		submissions: make(map[string]*WorkSubmission),
		challenges:  make(map[string]*Challenge),
		blocks:      make(map[uint64]*Block),
		events:      make(map[string]*Event),
	}
}

// Validator operations

func (m *MockRepository) SaveValidator(ctx context.Context, v *Validator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validators[v.ID] = v
	return nil
}

func (m *MockRepository) GetValidator(ctx context.Context, id string) (*Validator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.validators[id]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (m *MockRepository) ListValidators(ctx context.Context, filter ValidatorFilter) ([]*Validator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Validator
	for _, v := range m.validators {
		if filter.Active != nil && v.Active != *filter.Active {
			continue
		}
		if filter.MinStake != nil && v.Stake < *filter.MinStake {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Work submission operations

func (m *MockRepository) SaveSubmission(ctx context.Context, s *WorkSubmission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submissions[s.ID] = s
	return nil
}

func (m *MockRepository) GetSubmission(ctx context.Context, id string) (*WorkSubmission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.submissions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Challenge operations

func (m *MockRepository) SaveChallenge(ctx context.Context, c *Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.challenges[c.ID] = c
	return nil
}

func (m *MockRepository) GetChallenge(ctx context.Context, id string) (*Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.challenges[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

// Block operations

func (m *MockRepository) SaveBlock(ctx context.Context, b *Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.blocks[b.Height]; !exists {
		m.blocks[b.Height] = b
	}
	return nil
}

func (m *MockRepository) GetBlock(ctx context.Context, height uint64) (*Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blocks[height]
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

func (m *MockRepository) LatestBlock(ctx context.Context) (*Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *Block
	for _, b := range m.blocks {
		if latest == nil || b.Height > latest.Height {
			latest = b
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

// Event operations

func (m *MockRepository) SaveEvent(ctx context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Idempotent by event id
	if _, exists := m.events[e.ID]; exists {
		return nil
	}
	m.events[e.ID] = e
	m.eventOrder = append(m.eventOrder, e.ID)
	return nil
}

func (m *MockRepository) ListEvents(ctx context.Context, filter EventFilter) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Event
	for i := len(m.eventOrder) - 1; i >= 0; i-- {
		e := m.events[m.eventOrder[i]]
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if filter.ValidatorID != "" && e.ValidatorID != filter.ValidatorID {
			continue
		}
		if filter.Since != nil && e.Time.Before(*filter.Since) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}
