package dynload

import (
	"weak"

	"golang.org/x/sync/singleflight"
)

// Registry caches loaded modules by name behind weak pointers: a module
// stays reachable through the registry only as long as something else also
// holds a strong reference to it. GetModule resolves the weak pointer; once
// the strong referent is gone, the stale slot is dropped and the configured
// ModuleResolver is consulted as if the name had never been cached.
//
// Registry does not synchronize SetModule/RemoveModule/SetModuleResolver
// against concurrent GetModule calls — callers must serialize writes
// themselves, mirroring the original's unsynchronized map. GetModule's
// resolver-miss path does use golang.org/x/sync/singleflight internally to
// collapse concurrent misses for the same name into a single resolver
// call; this is an optimization only and does not relax that contract.
type Registry struct {
	modules  map[string]weak.Pointer[Module]
	resolver ModuleResolver
	group    singleflight.Group
}

// NewRegistry returns an empty registry with the no-op resolver installed.
func NewRegistry() *Registry {
	return &Registry{
		modules:  make(map[string]weak.Pointer[Module]),
		resolver: noopResolver{},
	}
}

// SetModuleResolver installs the resolver consulted on a cache miss. A nil
// resolver restores the internal no-op resolver, under which every miss
// reports "not found".
func (r *Registry) SetModuleResolver(resolver ModuleResolver) {
	if resolver == nil {
		resolver = noopResolver{}
	}
	r.resolver = resolver
}

// SetModule stores m under name as a weak reference. This does not extend
// m's lifetime — the caller's own strong reference is what keeps it alive;
// Registry only remembers where to find it while it is alive.
func (r *Registry) SetModule(name string, m *Module) {
	r.modules[name] = weak.Make(m)
}

// RemoveModule deletes name's slot outright, whether or not its weak
// pointer is still live.
func (r *Registry) RemoveModule(name string) {
	delete(r.modules, name)
}

// GetModule resolves name against the cache, then the configured resolver
// on a miss. It implements ModuleResolver itself, so a Registry can serve
// as the upstream resolver another Registry (or a Module under
// construction) delegates DT_NEEDED lookups to.
func (r *Registry) GetModule(name string) (Capability, error) {
	if wp, ok := r.modules[name]; ok {
		if m := wp.Value(); m != nil {
			return m, nil
		}
		delete(r.modules, name)
	}

	v, err, _ := r.group.Do(name, func() (any, error) {
		return r.resolver.GetModule(name)
	})
	if err != nil {
		return nil, err
	}
	found, _ := v.(Capability)
	if found == nil {
		return nil, nil
	}
	if m, ok := found.(*Module); ok {
		r.modules[name] = weak.Make(m)
	}
	return found, nil
}
