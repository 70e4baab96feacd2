package controlplane

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/taskmesh/taskmesh/internal/kvstore"
	"github.com/taskmesh/taskmesh/internal/serviceindex"
	"github.com/taskmesh/taskmesh/internal/services"
)

const servicesCollection = "services"

// DefaultRetrievalThreshold is the registry size above which candidate
// selection switches from "hand the orchestrator everything" to vector
// retrieval (spec.md §4.4).
const DefaultRetrievalThreshold = 5

// DefaultTopK is the number of services retrieved per query once the
// registry is above the retrieval threshold.
const DefaultTopK = 5

// registry is the service-registry half of the control plane: durable
// storage via kvstore.Store, with an in-memory cache used directly while
// the registry is small and a serviceindex.Index used once it grows past
// threshold. Migration between the two representations happens under a
// single write lock so a reader never observes a registry that is neither
// fully cached nor fully indexed.
type registry struct {
	mu        sync.RWMutex
	store     kvstore.Store
	cache     map[string]services.ServiceDefinition
	index     *serviceindex.Index
	indexed   bool
	threshold int
	topK      int
}

func newRegistry(store kvstore.Store, threshold, topK int) *registry {
	if threshold <= 0 {
		threshold = DefaultRetrievalThreshold
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &registry{
		store:     store,
		cache:     make(map[string]services.ServiceDefinition),
		index:     serviceindex.New(),
		threshold: threshold,
		topK:      topK,
	}
}

// load seeds the registry from the store, used when restarting against a
// durable kvstore.Store.
func (r *registry) load() error {
	raw, err := r.store.GetAll(servicesCollection)
	if err != nil {
		return fmt.Errorf("load services: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range raw {
		var def services.ServiceDefinition
		if err := json.Unmarshal(v, &def); err != nil {
			return fmt.Errorf("decode service definition: %w", err)
		}
		r.insertLocked(def)
	}
	r.migrateLocked()
	return nil
}

// Register persists def and makes it visible to candidate lookups.
// Registration is idempotent: registering the same service_name twice
// simply overwrites the prior definition.
func (r *registry) Register(def services.ServiceDefinition) error {
	raw, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("encode service definition: %w", err)
	}
	if err := r.store.Put(servicesCollection, def.ServiceName, raw); err != nil {
		return fmt.Errorf("persist service definition: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.insertLocked(def)
	r.migrateLocked()
	return nil
}

// Deregister removes a service. Deregistering an absent service is not an
// error.
func (r *registry) Deregister(serviceName string) error {
	if err := r.store.Delete(servicesCollection, serviceName); err != nil {
		return fmt.Errorf("delete service definition: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, serviceName)
	r.index.Delete(serviceName)
	return nil
}

// List returns every registered service, regardless of current
// representation.
func (r *registry) List() []services.ServiceDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.indexed {
		return r.index.Retrieve("", r.index.Len())
	}
	out := make([]services.ServiceDefinition, 0, len(r.cache))
	for _, def := range r.cache {
		out = append(out, def)
	}
	return out
}

// Candidates returns the services the orchestrator should consider for a
// task whose input is query: every service while the registry is at or
// below threshold, or the top-k by similarity once above it.
func (r *registry) Candidates(query string) []services.ServiceDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.indexed {
		return r.index.Retrieve(query, r.topK)
	}
	out := make([]services.ServiceDefinition, 0, len(r.cache))
	for _, def := range r.cache {
		out = append(out, def)
	}
	return out
}

// insertLocked adds def to whichever representation is currently active.
// Caller holds r.mu.
func (r *registry) insertLocked(def services.ServiceDefinition) {
	if r.indexed {
		r.index.Add(def)
		return
	}
	r.cache[def.ServiceName] = def
}

// migrateLocked moves every cached definition into the index the moment
// the registry crosses threshold, atomically with respect to readers since
// it runs under the write lock. Once indexed, the registry never reverts
// to the cache even if services are later deregistered below threshold:
// the original's retrieval mode is a one-way ratchet, not a fluctuating
// one, so that in-flight retrievals never race a mode flip back and forth.
func (r *registry) migrateLocked() {
	if r.indexed || len(r.cache) <= r.threshold {
		return
	}
	for name, def := range r.cache {
		r.index.Add(def)
		delete(r.cache, name)
	}
	r.indexed = true
}
