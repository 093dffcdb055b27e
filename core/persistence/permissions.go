package persistence

// Capability names one of the three permissions a user can hold on a collection.
type Capability string

// Capabilities checked by the permission gate.
const (
	CapabilityRead   Capability = "read"
	CapabilityWrite  Capability = "write"
	CapabilityDelete Capability = "delete"
)

// Permission lists what a user may do on a collection.
type Permission struct {
	Read   bool `json:"read" yaml:"read"`
	Write  bool `json:"write" yaml:"write"`
	Delete bool `json:"delete" yaml:"delete"`
}

// Allows reports whether the permission grants capability.
func (p Permission) Allows(capability Capability) bool {
	switch capability {
	case CapabilityRead:
		return p.Read
	case CapabilityWrite:
		return p.Write
	case CapabilityDelete:
		return p.Delete
	}
	return false
}

// SystemUserID is the user recorded on items written by the system actor.
const SystemUserID = "system"

// Actor identifies who performs an operation. The zero value is anonymous and is
// always rejected.
type Actor struct {
	id     string
	system bool
}

// SystemActor returns the trusted actor that bypasses permission checks.
func SystemActor() Actor {
	return Actor{id: SystemUserID, system: true}
}

// UserActor returns an actor checked against the collection permission map.
func UserActor(id string) Actor {
	return Actor{id: id}
}

// ID returns the user id recorded in item metadata.
func (a Actor) ID() string {
	return a.id
}

// IsSystem reports whether a is the system actor.
func (a Actor) IsSystem() bool {
	return a.system
}

// IsZero reports whether a is the anonymous zero value.
func (a Actor) IsZero() bool {
	return !a.system && a.id == ""
}

func (a Actor) String() string {
	if a.IsZero() {
		return "anonymous"
	}
	return a.id
}

// authorize checks actor against the permission map of a collection.
func authorize(collection string, permissions map[string]Permission, actor Actor, capability Capability) error {
	if actor.IsSystem() {
		return nil
	}
	if actor.IsZero() {
		return permissionError(collection, actor, capability)
	}
	perm, ok := permissions[actor.ID()]
	if !ok || !perm.Allows(capability) {
		return permissionError(collection, actor, capability)
	}
	return nil
}
