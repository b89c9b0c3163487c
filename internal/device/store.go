package device

import (
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Store.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// AttributeRecord is the gateway's last known value of one device attribute.
//
// The store is an optimistic mirror: a confirmed record means the value was
// acknowledged by the local transport or instructed by a platform RPC, not
// that the platform is known to hold it.
type AttributeRecord struct {
	Name      string    `json:"name"`
	Value     any       `json:"value"`
	Confirmed bool      `json:"confirmed"`
	UpdatedAt time.Time `json:"updated_at"`

	// LastConfirmed is when the value was last confirmed; zero if never.
	LastConfirmed time.Time `json:"last_confirmed"`

	// Revision increases with every write to the store. Revert and Confirm
	// use it to detect a newer write.
	Revision uint64 `json:"revision"`

	// Deleted marks a change notification for a record that was removed.
	// Stored records never carry it.
	Deleted bool `json:"deleted,omitempty"`
}

// Store holds the attribute mirror for one device.
//
// Every mutation is atomic relative to concurrent readers. Records are
// returned by value; callers can safely modify them.
//
// All public methods are thread-safe.
type Store struct {
	mu       sync.RWMutex
	records  map[string]AttributeRecord
	revision uint64

	onChange func(AttributeRecord)
	logger   Logger
	now      func() time.Time
}

// NewStore creates an empty attribute store.
func NewStore() *Store {
	return &Store{
		records: make(map[string]AttributeRecord),
		logger:  noopLogger{},
		now:     time.Now,
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.mu.Lock()
	s.logger = logger
	s.mu.Unlock()
}

// SetOnChange registers fn to receive every record written to the store.
// A removal is reported as a record with Deleted set and a nil Value.
// fn is called after the lock is released, on the writer's goroutine.
func (s *Store) SetOnChange(fn func(AttributeRecord)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Set upserts an attribute value.
//
// confirmed should be true only for values acknowledged by a local command
// or instructed by a platform RPC.
func (s *Store) Set(name string, value any, confirmed bool) AttributeRecord {
	s.mu.Lock()
	rec := s.writeLocked(name, value, confirmed)
	fn := s.onChange
	s.mu.Unlock()

	s.notify(fn, rec)
	return rec
}

// Get returns the current record for name.
// Returns ErrAttributeNotFound if the attribute has never been set.
func (s *Store) Get(name string) (AttributeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[name]
	if !ok {
		return AttributeRecord{}, ErrAttributeNotFound
	}
	return rec, nil
}

// List returns every record, sorted by name.
func (s *Store) List() []AttributeRecord {
	s.mu.RLock()
	records := make([]AttributeRecord, 0, len(s.records))
	for _, rec := range s.records {
		records = append(records, rec)
	}
	s.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].Name < records[j].Name
	})
	return records
}

// Len returns the number of attributes held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Swap speculatively writes an unconfirmed value and returns the new record
// together with the one it replaced.
//
// The caller must follow up with Confirm or Revert using the returned
// records.
func (s *Store) Swap(name string, value any) (next, prev AttributeRecord, hadPrev bool) {
	s.mu.Lock()
	prev, hadPrev = s.records[name]
	next = s.writeLocked(name, value, false)
	fn := s.onChange
	s.mu.Unlock()

	s.notify(fn, next)
	return next, prev, hadPrev
}

// Confirm marks a speculative write as confirmed.
//
// It reports false, changing nothing, when a newer write has replaced next.
func (s *Store) Confirm(next AttributeRecord) (AttributeRecord, bool) {
	s.mu.Lock()
	current, ok := s.records[next.Name]
	if !ok || current.Revision != next.Revision {
		s.mu.Unlock()
		return current, false
	}
	rec := s.writeLocked(next.Name, current.Value, true)
	fn := s.onChange
	s.mu.Unlock()

	s.notify(fn, rec)
	return rec, true
}

// Revert undoes a speculative write.
//
// The previous record is restored, or the attribute removed when hadPrev is
// false. It reports false, changing nothing, when a newer write has replaced
// next.
func (s *Store) Revert(next, prev AttributeRecord, hadPrev bool) bool {
	s.mu.Lock()
	current, ok := s.records[next.Name]
	if !ok || current.Revision != next.Revision {
		log := s.logger
		s.mu.Unlock()
		log.Debug("revert skipped, attribute rewritten",
			"attribute", next.Name,
			"revision", next.Revision,
		)
		return false
	}

	if !hadPrev {
		delete(s.records, next.Name)
		s.revision++
		removed := AttributeRecord{
			Name:      next.Name,
			UpdatedAt: s.now(),
			Revision:  s.revision,
			Deleted:   true,
		}
		fn := s.onChange
		s.mu.Unlock()

		s.notify(fn, removed)
		return true
	}

	s.revision++
	prev.Revision = s.revision
	s.records[next.Name] = prev
	fn := s.onChange
	s.mu.Unlock()

	s.notify(fn, prev)
	return true
}

// writeLocked stores a new revision of name. s.mu must be held.
func (s *Store) writeLocked(name string, value any, confirmed bool) AttributeRecord {
	now := s.now()
	s.revision++

	rec := AttributeRecord{
		Name:      name,
		Value:     value,
		Confirmed: confirmed,
		UpdatedAt: now,
		Revision:  s.revision,
	}
	if old, ok := s.records[name]; ok {
		rec.LastConfirmed = old.LastConfirmed
	}
	if confirmed {
		rec.LastConfirmed = now
	}

	s.records[name] = rec
	return rec
}

func (s *Store) notify(fn func(AttributeRecord), rec AttributeRecord) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.mu.RLock()
			log := s.logger
			s.mu.RUnlock()
			log.Error("attribute change observer panic recovered", "attribute", rec.Name, "panic", r)
		}
	}()
	fn(rec)
}
