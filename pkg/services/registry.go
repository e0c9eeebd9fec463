package services

import (
	"sort"
	"sync"

	"github.com/dataconservancy/dcs-ingest/pkg/ingest"
)

// Built-in service ids.
const (
	ChecksumServiceID         = "checksum"
	CharacterizationServiceID = "characterization"
	BusinessObjectServiceID   = "businessobject"
)

// Registry maps service ids to services.
type Registry struct {
	mu       sync.RWMutex
	services map[string]ingest.Service
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{services: make(map[string]ingest.Service)}
}

// Register adds services. A duplicate id fails without registering anything.
func (r *Registry) Register(svcs ...ingest.Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(svcs))
	for _, svc := range svcs {
		if svc == nil || svc.ID() == "" {
			return ingest.NewValidationError("service id is required").WithOperation("registry.register")
		}
		if _, exists := r.services[svc.ID()]; exists || seen[svc.ID()] {
			return ingest.NewDuplicateKeyError(svc.ID()).WithOperation("registry.register")
		}
		seen[svc.ID()] = true
	}
	for _, svc := range svcs {
		r.services[svc.ID()] = svc
	}
	return nil
}

// Get returns the service registered under id.
func (r *Registry) Get(id string) (ingest.Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[id]
	return svc, ok
}

// Resolve returns the services for ids, in order.
func (r *Registry) Resolve(ids ...string) ([]ingest.Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ingest.Service, 0, len(ids))
	for _, id := range ids {
		svc, ok := r.services[id]
		if !ok {
			return nil, ingest.NewNotFoundError(id).WithOperation("registry.resolve")
		}
		out = append(out, svc)
	}
	return out, nil
}

// IDs returns the registered ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.services))
	for id := range r.services {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NewBuiltinRegistry returns a registry holding the checksum, characterization and
// business-object services. Business ids are drawn from alloc.
func NewBuiltinRegistry(alloc ingest.IdAllocator) *Registry {
	r := NewRegistry()
	// Built-in ids are distinct, so registration cannot fail.
	_ = r.Register(
		ChecksumService{},
		NewCharacterizationService(),
		NewBusinessObjectService(alloc),
	)
	return r
}
