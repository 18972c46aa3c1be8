package agent

import (
	"fmt"
	"sync"
)

// Registry owns the name -> agent table. Lookups perform explicit existence
// checks; nothing is created implicitly. Registration rejects direct
// delegation cycles (A delegates to B while B delegates to A). Longer cycles
// (A -> B -> C -> A) are not detected; the team's delegation budget bounds
// runaway loops at execution time instead.
type Registry struct {
	mu      sync.RWMutex
	agents  map[string]*Agent
	hasTool func(name string) bool
}

// RegistryOptions configures agent registry construction.
type RegistryOptions struct {
	// HasTool reports whether a tool name is registered with the tool kit.
	// When set, AddToolAccess rejects unknown names; when nil, any name is
	// accepted and unknown tools surface later as toolNotFound call errors.
	HasTool func(name string) bool
}

// NewRegistry creates an empty agent registry.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Registry{agents: map[string]*Agent{}, hasTool: opts.HasTool}
}

// Register validates and adds an agent. Fails on duplicate names, invalid
// configuration, or a direct delegation cycle with an existing agent.
func (r *Registry) Register(a *Agent) error {
	if err := a.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[a.Name]; exists {
		return fmt.Errorf("agent %q is already registered", a.Name)
	}
	for _, target := range a.CanDelegateTo {
		if other, ok := r.agents[target]; ok && other.CanDelegate(a.Name) {
			return fmt.Errorf("circular delegation between %q and %q", a.Name, target)
		}
	}
	r.agents[a.Name] = a
	return nil
}

// Get returns a registered agent by name.
func (r *Registry) Get(name string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	return a, ok
}

// Has reports whether an agent name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names lists registered agent names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	return names
}

// AddDelegate links a delegate to an existing agent. When delegate is a full
// definition it is auto-registered if absent; linking rejects self reference
// and direct cycles at the moment of linking.
func (r *Registry) AddDelegate(agentName string, delegate *Agent) error {
	if err := r.ensureRegistered(delegate); err != nil {
		return err
	}
	return r.link(agentName, delegate.Name, linkDelegate)
}

// AddDelegateByName links an already-registered delegate by name.
func (r *Registry) AddDelegateByName(agentName, delegateName string) error {
	if !r.Has(delegateName) {
		return fmt.Errorf("agent %q is not registered", delegateName)
	}
	return r.link(agentName, delegateName, linkDelegate)
}

// AddTransferTarget links a transfer target to an existing agent,
// auto-registering the target when given as a full definition.
func (r *Registry) AddTransferTarget(agentName string, target *Agent) error {
	if err := r.ensureRegistered(target); err != nil {
		return err
	}
	return r.link(agentName, target.Name, linkTransfer)
}

// AddTransferTargetByName links an already-registered transfer target by name.
func (r *Registry) AddTransferTargetByName(agentName, targetName string) error {
	if !r.Has(targetName) {
		return fmt.Errorf("agent %q is not registered", targetName)
	}
	return r.link(agentName, targetName, linkTransfer)
}

type linkKind int

const (
	linkDelegate linkKind = iota
	linkTransfer
)

func (r *Registry) ensureRegistered(a *Agent) error {
	if a == nil {
		return fmt.Errorf("agent must not be nil")
	}
	if r.Has(a.Name) {
		return nil
	}
	return r.Register(a)
}

func (r *Registry) link(from, to string, kind linkKind) error {
	if from == to {
		return fmt.Errorf("agent %q cannot target itself", from)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	src, ok := r.agents[from]
	if !ok {
		return fmt.Errorf("agent %q is not registered", from)
	}
	dst, ok := r.agents[to]
	if !ok {
		return fmt.Errorf("agent %q is not registered", to)
	}

	switch kind {
	case linkDelegate:
		if dst.CanDelegate(from) {
			return fmt.Errorf("circular delegation between %q and %q", from, to)
		}
		if !src.CanDelegate(to) {
			src.CanDelegateTo = append(src.CanDelegateTo, to)
		}
	case linkTransfer:
		if !src.CanTransfer(to) {
			src.CanTransferTo = append(src.CanTransferTo, to)
		}
	}
	return nil
}

// AddToolAccess grants an agent access to additional tool names. Every name
// is validated against the registry's tool check before anything is granted;
// an unknown name fails the whole grant.
func (r *Registry) AddToolAccess(agentName string, toolNames ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[agentName]
	if !ok {
		return fmt.Errorf("agent %q is not registered", agentName)
	}
	if r.hasTool != nil {
		for _, name := range toolNames {
			if !r.hasTool(name) {
				return fmt.Errorf("tool %q is not registered", name)
			}
		}
	}
	for _, name := range toolNames {
		if !contains(a.AllowedTools, name) {
			a.AllowedTools = append(a.AllowedTools, name)
		}
	}
	return nil
}

// ResolveSystemMessage renders the agent's system message with delegate
// descriptions resolved against this registry.
func (r *Registry) ResolveSystemMessage(a *Agent) (string, error) {
	return a.RenderSystemMessage(func(name string) (*Agent, bool) {
		return r.Get(name)
	})
}
