package runtime

import (
	"sync"

	"github.com/wardenlabs/warden/pkg/agent"
)

// registry tracks the agents the runtime has spawned. The supervisor
// owns process state; the registry owns identity and type.
type registry struct {
	mu      sync.RWMutex
	records map[agent.ID]*AgentRecord
}

func newRegistry() *registry {
	return &registry{records: make(map[agent.ID]*AgentRecord)}
}

func (r *registry) add(rec *AgentRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.ID] = rec
}

func (r *registry) get(id agent.ID) (*AgentRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	return rec, ok
}

func (r *registry) remove(id agent.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, id)
}

func (r *registry) bumpRestarts(id agent.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		rec.Restarts++
	}
}

// byType returns the ids of agents of the given type, in no particular
// order.
func (r *registry) byType(t agent.Type) []agent.ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []agent.ID
	for id, rec := range r.records {
		if rec.Type == t {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *registry) ids() []agent.ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]agent.ID, 0, len(r.records))
	for id := range r.records {
		ids = append(ids, id)
	}
	return ids
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
