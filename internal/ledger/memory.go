package ledger

import "sync"

// memoryRepository keeps ledger state in memory. Used when the ledger
// database is disabled, and by tests.
type memoryRepository struct {
	mu     sync.Mutex
	day    Day
	hasDay bool
	cycles []CycleRecord
}

// NewMemoryRepository creates a non-durable repository.
func NewMemoryRepository() Repository {
	return &memoryRepository{}
}

func (r *memoryRepository) LoadCurrent() (Day, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.day, r.hasDay, nil
}

func (r *memoryRepository) SaveDay(day Day) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.day = day
	r.hasDay = true

	return nil
}

func (r *memoryRepository) DeleteDaysAfter(date string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.hasDay && r.day.Date > date {
		r.day = Day{}
		r.hasDay = false
	}

	return nil
}

func (r *memoryRepository) RecordCycle(cycle CycleRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cycles = append(r.cycles, cycle)

	return nil
}

func (r *memoryRepository) Close() error {
	return nil
}
