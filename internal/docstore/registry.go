package docstore

import (
	"fmt"
	"sort"

	"github.com/roach88/archivist/internal/authz"
	"github.com/roach88/archivist/internal/document"
	"github.com/roach88/archivist/internal/errs"
	"github.com/roach88/archivist/internal/index"
	"github.com/roach88/archivist/internal/workflow"
)

// CollectionDescriptor declares everything the engine needs to know about
// one collection: its index fields, attached workflow tracks and policies.
type CollectionDescriptor struct {
	Name      string
	Indexes   []index.Field
	Tracks    []document.Track
	SameState map[document.Track]workflow.SameStatePolicy
	Deletion  workflow.DeletionPolicy
}

// Index returns the declared index on field.
func (d *CollectionDescriptor) Index(field string) (index.Field, bool) {
	for _, f := range d.Indexes {
		if f.Name == field {
			return f, true
		}
	}
	return index.Field{}, false
}

// HasTrack reports whether t is attached to the collection.
func (d *CollectionDescriptor) HasTrack(t document.Track) bool {
	for _, have := range d.Tracks {
		if have == t {
			return true
		}
	}
	return false
}

// Registry is the immutable set of collection descriptors, roles and
// permissions. It is built once at startup and passed to every component.
type Registry struct {
	collections map[string]*CollectionDescriptor
	names       []string
	policy      *authz.Policy
}

// NewRegistry validates descriptors and loads roles and permissions into
// an authorization policy.
func NewRegistry(collections []CollectionDescriptor, roles []authz.Role, perms []authz.Permission) (*Registry, error) {
	r := &Registry{collections: make(map[string]*CollectionDescriptor, len(collections))}

	for i := range collections {
		d := collections[i]
		if err := validateDescriptor(&d); err != nil {
			return nil, err
		}
		if _, dup := r.collections[d.Name]; dup {
			return nil, fmt.Errorf("registry: duplicate collection %q", d.Name)
		}
		if d.Deletion == "" {
			d.Deletion = workflow.AnyAuthorized
		}
		r.collections[d.Name] = &d
		r.names = append(r.names, d.Name)
	}
	sort.Strings(r.names)

	for _, p := range perms {
		if p.Collection == "*" {
			continue
		}
		if _, ok := r.collections[p.Collection]; !ok {
			return nil, fmt.Errorf("registry: permission references unknown collection %q", p.Collection)
		}
	}

	policy, err := authz.NewPolicy(roles, perms)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	r.policy = policy
	return r, nil
}

func validateDescriptor(d *CollectionDescriptor) error {
	if d.Name == "" {
		return fmt.Errorf("registry: collection name is required")
	}
	if index.IsIndexCollection(d.Name) {
		return fmt.Errorf("registry: collection %q uses the reserved %q prefix", d.Name, index.CollectionPrefix)
	}
	seen := map[string]bool{}
	for _, f := range d.Indexes {
		if f.Name == "" {
			return fmt.Errorf("registry: %s: index field name is required", d.Name)
		}
		if f.Kind != index.Unique && f.Kind != index.Lookup {
			return fmt.Errorf("registry: %s.%s: unknown index kind %q", d.Name, f.Name, f.Kind)
		}
		if seen[f.Name] {
			return fmt.Errorf("registry: %s.%s: declared twice", d.Name, f.Name)
		}
		seen[f.Name] = true
	}
	for _, t := range d.Tracks {
		if _, ok := document.ParseTrack(string(t)); !ok {
			return fmt.Errorf("registry: %s: unknown track %q", d.Name, t)
		}
	}
	for t := range d.SameState {
		if !d.HasTrack(t) {
			return fmt.Errorf("registry: %s: same-state policy for unattached track %q", d.Name, t)
		}
	}
	return nil
}

// Collection returns the descriptor for name.
func (r *Registry) Collection(name string) (*CollectionDescriptor, bool) {
	d, ok := r.collections[name]
	return d, ok
}

// Names returns every collection name in sorted order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Policy returns the authorization policy.
func (r *Registry) Policy() *authz.Policy {
	return r.policy
}

// SameStatePolicy implements workflow.PolicyResolver.
func (r *Registry) SameStatePolicy(collection string, track document.Track) (workflow.SameStatePolicy, bool) {
	d, ok := r.collections[collection]
	if !ok {
		return "", false
	}
	p, ok := d.SameState[track]
	return p, ok
}

func (r *Registry) descriptor(collection string) (*CollectionDescriptor, error) {
	d, ok := r.collections[collection]
	if !ok {
		return nil, &errs.Error{
			Code:       errs.CodeValidationFailed,
			Message:    "unknown collection",
			Collection: collection,
		}
	}
	return d, nil
}
