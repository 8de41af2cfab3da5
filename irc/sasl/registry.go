// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package sasl

import (
	"sort"
	"strings"
)

// Result is the outcome of a mechanism step.
type Result uint

const (
	// More means the exchange continues; the challenge (possibly empty)
	// is relayed to the client.
	More Result = iota
	// Done means the client proved its identity. The mechanism must have
	// called SetAuthcid before returning it.
	Done
	// Fail means the client was rejected.
	Fail
)

func (r Result) String() string {
	switch r {
	case More:
		return "more"
	case Done:
		return "done"
	case Fail:
		return "fail"
	default:
		return "unknown"
	}
}

// Mechanism is a pluggable SASL mechanism.
type Mechanism interface {
	// Name is the registered mechanism name, in upper case.
	Name() string
	// Start is called once, when the client selects the mechanism.
	Start(s *Session) (result Result, challenge []byte)
	// Step is called with each complete, decoded client response.
	Step(s *Session, input []byte) (result Result, challenge []byte)
	// Finish releases the session's MechState. It is called exactly once
	// for every session the mechanism was bound to.
	Finish(s *Session)
}

// registry maps upper-cased mechanism names to mechanisms. It is only
// accessed with the Manager's mutex held.
type registry struct {
	mechanisms map[string]Mechanism
	list       string
}

func newRegistry() registry {
	return registry{mechanisms: make(map[string]Mechanism)}
}

func (r *registry) add(mech Mechanism) error {
	name := strings.ToUpper(mech.Name())
	if _, exists := r.mechanisms[name]; exists {
		return ErrDuplicateMechanism
	}
	r.mechanisms[name] = mech
	r.rebuildList()
	return nil
}

func (r *registry) remove(name string) (mech Mechanism, found bool) {
	name = strings.ToUpper(name)
	mech, found = r.mechanisms[name]
	if found {
		delete(r.mechanisms, name)
		r.rebuildList()
	}
	return
}

func (r *registry) find(name string) (mech Mechanism) {
	return r.mechanisms[strings.ToUpper(name)]
}

func (r *registry) rebuildList() {
	names := make([]string, 0, len(r.mechanisms))
	for name := range r.mechanisms {
		names = append(names, name)
	}
	sort.Strings(names)
	r.list = strings.Join(names, ",")
}
