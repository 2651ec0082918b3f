package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// StaticRegistry keeps registrations in memory. It suits a single process
// that launches its conductors itself and knows their ports. TTLs are ignored.
type StaticRegistry struct {
	mu       sync.Mutex
	entries  map[string]map[string]ConductorInstance // name → endpoint → instance
	watchers map[string][]chan []ConductorInstance
}

func NewStaticRegistry(instances ...ConductorInstance) *StaticRegistry {
	r := &StaticRegistry{
		entries:  make(map[string]map[string]ConductorInstance),
		watchers: make(map[string][]chan []ConductorInstance),
	}
	for _, inst := range instances {
		r.put(inst)
	}
	return r
}

func (r *StaticRegistry) put(instance ConductorInstance) {
	byEndpoint, ok := r.entries[instance.Name]
	if !ok {
		byEndpoint = make(map[string]ConductorInstance)
		r.entries[instance.Name] = byEndpoint
	}
	byEndpoint[instance.Endpoint()] = instance
}

func (r *StaticRegistry) Register(_ context.Context, instance ConductorInstance, _ int64) error {
	if instance.Name == "" {
		return fmt.Errorf("register conductor: empty name")
	}
	r.mu.Lock()
	r.put(instance)
	r.notifyLocked(instance.Name)
	r.mu.Unlock()
	return nil
}

func (r *StaticRegistry) Deregister(_ context.Context, name string, endpoint string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if byEndpoint, ok := r.entries[name]; ok {
		delete(byEndpoint, endpoint)
		if len(byEndpoint) == 0 {
			delete(r.entries, name)
		}
	}
	r.notifyLocked(name)
	return nil
}

// Discover returns the instances registered under name, ordered by endpoint.
func (r *StaticRegistry) Discover(_ context.Context, name string) ([]ConductorInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked(name), nil
}

// Watch emits the full instance list after every change to name until ctx ends.
// A slow reader only sees the latest list.
func (r *StaticRegistry) Watch(ctx context.Context, name string) <-chan []ConductorInstance {
	ch := make(chan []ConductorInstance, 1)

	r.mu.Lock()
	r.watchers[name] = append(r.watchers[name], ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		watchers := r.watchers[name]
		for i, w := range watchers {
			if w == ch {
				r.watchers[name] = append(watchers[:i], watchers[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

func (r *StaticRegistry) listLocked(name string) []ConductorInstance {
	instances := make([]ConductorInstance, 0, len(r.entries[name]))
	for _, inst := range r.entries[name] {
		instances = append(instances, inst)
	}
	sort.Slice(instances, func(i, j int) bool {
		return instances[i].Endpoint() < instances[j].Endpoint()
	})
	return instances
}

func (r *StaticRegistry) notifyLocked(name string) {
	for _, ch := range r.watchers[name] {
		list := r.listLocked(name)
		select {
		case <-ch: // Drop the stale list
		default:
		}
		ch <- list
	}
}
