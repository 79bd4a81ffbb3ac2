package registry

import (
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// Handle is an opaque identifier of one live subscriber connection.
type Handle string

// NewHandle returns a fresh random handle.
func NewHandle() Handle {
	return Handle(uuid.NewString())
}

var (
	// ErrEmptyGroup is returned when a blank group name is given.
	ErrEmptyGroup = errors.New("group name must not be empty")
	// ErrEmptyHandle is returned when a blank handle is given.
	ErrEmptyHandle = errors.New("handle must not be empty")
)

// Error describes a rejected registry operation.
type Error struct {
	Op     string
	Group  string
	Handle Handle
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("registry %s (group %q, handle %q): %v", e.Op, e.Group, e.Handle, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// group is the member set of a single group name.
type group struct {
	// mu guards members; it is scoped to one group only.
	mu      sync.RWMutex
	members map[Handle]struct{}
}

// Registry is a concurrent many-to-many relation between handles and groups.
//
// Lock order is: handle entry, then group entry, then group mutex. Readers of a
// group only take that group's read lock.
type Registry struct {
	// groups maps a group name to its member set.
	groups *xsync.MapOf[string, *group]
	// handles maps a handle to an immutable set of its groups.
	handles *xsync.MapOf[Handle, map[string]struct{}]
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		groups:  xsync.NewMapOf[string, *group](),
		handles: xsync.NewMapOf[Handle, map[string]struct{}](),
	}
}

// Join adds handle to group, creating the group if needed. Joining twice is a no-op.
func (r *Registry) Join(name string, handle Handle) error {
	if err := checkArgs("join", name, handle); err != nil {
		return err
	}

	r.handles.Compute(handle, func(joined map[string]struct{}, _ bool) (map[string]struct{}, bool) {
		if _, ok := joined[name]; ok {
			return joined, false
		}

		r.groups.Compute(name, func(g *group, loaded bool) (*group, bool) {
			if !loaded {
				g = &group{members: make(map[Handle]struct{})}
			}

			g.mu.Lock()
			g.members[handle] = struct{}{}
			g.mu.Unlock()

			return g, false
		})

		next := make(map[string]struct{}, len(joined)+1)
		maps.Copy(next, joined)
		next[name] = struct{}{}

		return next, false
	})

	return nil
}

// Leave removes handle from group. Removing a non-member is a no-op.
func (r *Registry) Leave(name string, handle Handle) error {
	if err := checkArgs("leave", name, handle); err != nil {
		return err
	}

	r.handles.Compute(handle, func(joined map[string]struct{}, loaded bool) (map[string]struct{}, bool) {
		if !loaded {
			return nil, true
		}

		if _, ok := joined[name]; !ok {
			return joined, false
		}

		r.removeMember(name, handle)

		next := make(map[string]struct{}, len(joined))
		for g := range joined {
			if g != name {
				next[g] = struct{}{}
			}
		}

		return next, len(next) == 0
	})

	return nil
}

// DropHandle removes handle from every group it belongs to.
// Unknown handles are treated as already absent.
func (r *Registry) DropHandle(handle Handle) {
	r.handles.Compute(handle, func(joined map[string]struct{}, _ bool) (map[string]struct{}, bool) {
		for name := range joined {
			r.removeMember(name, handle)
		}

		return nil, true
	})
}

// MembersOf returns a snapshot of the members of group.
// Later joins and leaves are not visible in the returned slice.
func (r *Registry) MembersOf(name string) []Handle {
	g, ok := r.groups.Load(name)
	if !ok {
		return nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	members := make([]Handle, 0, len(g.members))
	for handle := range g.members {
		members = append(members, handle)
	}

	return members
}

// GroupsOf returns the groups handle currently belongs to.
func (r *Registry) GroupsOf(handle Handle) []string {
	joined, ok := r.handles.Load(handle)
	if !ok {
		return nil
	}

	groups := make([]string, 0, len(joined))
	for name := range joined {
		groups = append(groups, name)
	}

	return groups
}

// IsMember reports whether handle currently belongs to group.
func (r *Registry) IsMember(name string, handle Handle) bool {
	joined, ok := r.handles.Load(handle)
	if !ok {
		return false
	}

	_, ok = joined[name]

	return ok
}

// GroupCount returns the number of non-empty groups.
func (r *Registry) GroupCount() int {
	return r.groups.Size()
}

// HandleCount returns the number of handles with at least one membership.
func (r *Registry) HandleCount() int {
	return r.handles.Size()
}

// removeMember deletes handle from group and drops the group once empty.
func (r *Registry) removeMember(name string, handle Handle) {
	r.groups.Compute(name, func(g *group, loaded bool) (*group, bool) {
		if !loaded {
			return nil, true
		}

		g.mu.Lock()
		delete(g.members, handle)
		empty := len(g.members) == 0
		g.mu.Unlock()

		return g, empty
	})
}

func checkArgs(op, name string, handle Handle) error {
	switch {
	case name == "":
		return &Error{Op: op, Group: name, Handle: handle, Err: ErrEmptyGroup}
	case handle == "":
		return &Error{Op: op, Group: name, Handle: handle, Err: ErrEmptyHandle}
	default:
		return nil
	}
}
