// internal/device/registry.go
package device

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"serial-device/internal/discovery"
	"serial-device/internal/protocol"
)

// Record is one identified device.
type Record struct {
	Name    string
	Port    discovery.PortInfo
	Channel *protocol.Channel
}

// Registry maps device names to records. It is rebuilt wholesale by each
// scan; at most one record exists per name.
type Registry struct {
	records map[string]*Record
	handles map[uuid.UUID]*Record
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		records: make(map[string]*Record),
		handles: make(map[uuid.UUID]*Record),
		logger:  logger,
	}
}

// Reset empties the registry and returns the records it held.
func (r *Registry) Reset() []*Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		previous = append(previous, rec)
	}

	r.records = make(map[string]*Record)
	r.handles = make(map[uuid.UUID]*Record)
	return previous
}

// Add inserts rec unless its name is already registered. It reports
// whether rec was inserted.
func (r *Registry) Add(rec *Record) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.records[rec.Name]; ok {
		r.logger.Warn("Duplicate device name ignored",
			zap.String("device", rec.Name),
			zap.String("port", rec.Port.Name),
			zap.String("registered_port", existing.Port.Name),
		)
		return false
	}

	r.records[rec.Name] = rec
	r.handles[rec.Channel.ID()] = rec
	r.logger.Info("Device registered",
		zap.String("device", rec.Name),
		zap.String("port", rec.Port.Name),
	)
	return true
}

// Lookup finds a record by device name
func (r *Registry) Lookup(name string) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[name]
	return rec, ok
}

// LookupHandle finds a record by channel ID
func (r *Registry) LookupHandle(id uuid.UUID) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.handles[id]
	return rec, ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.records))
	for name := range r.records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Records returns all records sorted by name.
func (r *Registry) Records() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records
}

// Len returns the number of registered devices
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
