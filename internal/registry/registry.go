// Package registry compiles the CUE declaration of collections, roles and
// permissions into an immutable *docstore.Registry.
//
// A declaration has three top-level fields:
//
//	collection: users: {
//		indexes: {accountName: "unique", email: "lookup"}
//		tracks: ["approval", "suspension", "archival", "deletion"]
//		sameState: approval: "ignore"
//		deletion: "creatorOnly"
//	}
//	role: "r-owner": {name: "Owner", type: "owner"}
//	permission: [{roleType: "owner", collection: "*", actions: ["*"]}]
//
// Every declaration is unified with an embedded schema before compiling, so
// misspelled fields and unknown enum values fail with a source position.
package registry

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/archivist/internal/authz"
	"github.com/roach88/archivist/internal/docstore"
	"github.com/roach88/archivist/internal/document"
	"github.com/roach88/archivist/internal/index"
	"github.com/roach88/archivist/internal/workflow"
)

//go:embed schema.cue
var schemaCUE string

//go:embed default.cue
var defaultCUE []byte

// CompileError is a registry declaration error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Default compiles the embedded archive registry.
func Default() (*docstore.Registry, error) {
	return CompileBytes("default.cue", defaultCUE)
}

// DefaultSource returns the embedded declaration, for `archivist init`.
func DefaultSource() []byte {
	return append([]byte(nil), defaultCUE...)
}

// Load compiles the declaration at path: a single .cue file or a directory
// of them. An empty path selects the embedded default.
func Load(path string) (*docstore.Registry, error) {
	if path == "" {
		return Default()
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	if !info.IsDir() {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("registry: %w", err)
		}
		return CompileBytes(path, src)
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: path})
	if len(instances) == 0 {
		return nil, fmt.Errorf("registry: no CUE instances in %s", path)
	}
	if err := instances[0].Err; err != nil {
		return nil, fmt.Errorf("registry: loading %s: %w", path, err)
	}
	v := ctx.BuildInstance(instances[0])
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return Compile(v)
}

// CompileBytes compiles CUE source; filename is used in error positions.
func CompileBytes(filename string, src []byte) (*docstore.Registry, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return Compile(v)
}

// Compile validates v against the registry schema and builds the registry.
func Compile(v cue.Value) (*docstore.Registry, error) {
	schema := v.Context().CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("registry schema: %w", err)
	}
	v = schema.Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	collections, err := parseCollections(v)
	if err != nil {
		return nil, err
	}
	roles, err := parseRoles(v)
	if err != nil {
		return nil, err
	}
	perms, err := parsePermissions(v)
	if err != nil {
		return nil, err
	}

	reg, err := docstore.NewRegistry(collections, roles, perms)
	if err != nil {
		return nil, &CompileError{Field: "registry", Message: err.Error(), Pos: v.Pos()}
	}
	return reg, nil
}

func parseCollections(v cue.Value) ([]docstore.CollectionDescriptor, error) {
	collVal := v.LookupPath(cue.ParsePath("collection"))
	if !collVal.Exists() {
		return nil, &CompileError{Field: "collection", Message: "at least one collection is required", Pos: v.Pos()}
	}
	iter, err := collVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []docstore.CollectionDescriptor
	for iter.Next() {
		name := label(iter)
		d, err := parseCollection(name, iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, &CompileError{Field: "collection", Message: "at least one collection is required", Pos: collVal.Pos()}
	}
	return out, nil
}

func parseCollection(name string, v cue.Value) (docstore.CollectionDescriptor, error) {
	d := docstore.CollectionDescriptor{Name: name}
	if index.IsIndexCollection(name) {
		return d, &CompileError{
			Field:   "collection." + name,
			Message: fmt.Sprintf("names starting with %q are reserved", index.CollectionPrefix),
			Pos:     v.Pos(),
		}
	}

	if idxVal := v.LookupPath(cue.ParsePath("indexes")); idxVal.Exists() {
		iter, err := idxVal.Fields()
		if err != nil {
			return d, formatCUEError(err)
		}
		for iter.Next() {
			kind, err := iter.Value().String()
			if err != nil {
				return d, formatCUEError(err)
			}
			d.Indexes = append(d.Indexes, index.Field{Name: label(iter), Kind: index.Kind(kind)})
		}
	}

	if tracksVal := v.LookupPath(cue.ParsePath("tracks")); tracksVal.Exists() {
		iter, err := tracksVal.List()
		if err != nil {
			return d, formatCUEError(err)
		}
		for iter.Next() {
			s, err := iter.Value().String()
			if err != nil {
				return d, formatCUEError(err)
			}
			t, ok := document.ParseTrack(s)
			if !ok {
				return d, &CompileError{Field: "collection." + name + ".tracks", Message: fmt.Sprintf("unknown track %q", s), Pos: iter.Value().Pos()}
			}
			if d.HasTrack(t) {
				return d, &CompileError{Field: "collection." + name + ".tracks", Message: fmt.Sprintf("track %q attached twice", s), Pos: iter.Value().Pos()}
			}
			d.Tracks = append(d.Tracks, t)
		}
	}

	if ssVal := v.LookupPath(cue.ParsePath("sameState")); ssVal.Exists() {
		iter, err := ssVal.Fields()
		if err != nil {
			return d, formatCUEError(err)
		}
		d.SameState = map[document.Track]workflow.SameStatePolicy{}
		for iter.Next() {
			t, _ := document.ParseTrack(label(iter))
			if !d.HasTrack(t) {
				return d, &CompileError{
					Field:   "collection." + name + ".sameState",
					Message: fmt.Sprintf("track %q is not attached", label(iter)),
					Pos:     iter.Value().Pos(),
				}
			}
			s, err := iter.Value().String()
			if err != nil {
				return d, formatCUEError(err)
			}
			p, err := workflow.ParseSameStatePolicy(s)
			if err != nil {
				return d, &CompileError{Field: "collection." + name + ".sameState", Message: err.Error(), Pos: iter.Value().Pos()}
			}
			d.SameState[t] = p
		}
	}

	if delVal := v.LookupPath(cue.ParsePath("deletion")); delVal.Exists() && delVal.IsConcrete() {
		s, err := delVal.String()
		if err != nil {
			return d, formatCUEError(err)
		}
		p, err := workflow.ParseDeletionPolicy(s)
		if err != nil {
			return d, &CompileError{Field: "collection." + name + ".deletion", Message: err.Error(), Pos: delVal.Pos()}
		}
		if !d.HasTrack(document.TrackDeletion) && p != workflow.AnyAuthorized {
			return d, &CompileError{
				Field:   "collection." + name + ".deletion",
				Message: "deletion policy requires the deletion track",
				Pos:     delVal.Pos(),
			}
		}
		d.Deletion = p
	}
	return d, nil
}

func parseRoles(v cue.Value) ([]authz.Role, error) {
	roleVal := v.LookupPath(cue.ParsePath("role"))
	if !roleVal.Exists() {
		return nil, nil
	}
	iter, err := roleVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var roles []authz.Role
	for iter.Next() {
		id := label(iter)
		name, err := iter.Value().LookupPath(cue.ParsePath("name")).String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		typ, err := iter.Value().LookupPath(cue.ParsePath("type")).String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		rt, ok := authz.ParseRoleType(typ)
		if !ok {
			return nil, &CompileError{Field: "role." + id + ".type", Message: fmt.Sprintf("unknown role type %q", typ), Pos: iter.Value().Pos()}
		}
		roles = append(roles, authz.Role{ID: id, Name: name, Type: rt})
	}
	return roles, nil
}

func parsePermissions(v cue.Value) ([]authz.Permission, error) {
	permVal := v.LookupPath(cue.ParsePath("permission"))
	if !permVal.Exists() {
		return nil, nil
	}
	iter, err := permVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var perms []authz.Permission
	for iter.Next() {
		pv := iter.Value()
		typ, err := pv.LookupPath(cue.ParsePath("roleType")).String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		rt, ok := authz.ParseRoleType(typ)
		if !ok {
			return nil, &CompileError{Field: "permission.roleType", Message: fmt.Sprintf("unknown role type %q", typ), Pos: pv.Pos()}
		}
		coll, err := pv.LookupPath(cue.ParsePath("collection")).String()
		if err != nil {
			return nil, formatCUEError(err)
		}

		actions, err := pv.LookupPath(cue.ParsePath("actions")).List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for actions.Next() {
			act, err := actions.Value().String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			if !knownAction(act) {
				return nil, &CompileError{Field: "permission.actions", Message: fmt.Sprintf("unknown action %q", act), Pos: actions.Value().Pos()}
			}
			perms = append(perms, authz.Permission{RoleType: rt, Collection: coll, Action: act})
		}
	}
	return perms, nil
}

func knownAction(a string) bool {
	if a == "*" {
		return true
	}
	for _, known := range authz.Actions {
		if a == known {
			return true
		}
	}
	return false
}

// label returns a field label without CUE quoting.
func label(iter *cue.Iterator) string {
	sel := iter.Selector()
	if sel.LabelType() == cue.StringLabel {
		return sel.Unquoted()
	}
	return sel.String()
}

// formatCUEError keeps the first positioned error of a CUE error list.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	list := cueerrors.Errors(err)
	if len(list) == 0 {
		return err
	}
	first := list[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   pathOf(first),
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}

func pathOf(err cueerrors.Error) string {
	if p := err.Path(); len(p) > 0 {
		return strings.Join(p, ".")
	}
	return "cue"
}
