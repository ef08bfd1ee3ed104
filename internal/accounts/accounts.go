// Package accounts manages users, access requests and the one-time
// installation record on top of the document store.
//
// A user's authorization state is derived from their own document: the
// roleId field names their role and the approval track decides whether
// they may act at all. Sign-up creates a pending guest; an authorized
// caller approves the account, and access requests raise its role.
package accounts

import (
	"context"

	"github.com/roach88/archivist/internal/authz"
	"github.com/roach88/archivist/internal/docstore"
	"github.com/roach88/archivist/internal/document"
	"github.com/roach88/archivist/internal/errs"
	"github.com/roach88/archivist/internal/workflow"
)

// Collections used by the service. All three must be registered.
const (
	UsersCollection        = "users"
	RequestsCollection     = "accessRequests"
	InstallationCollection = "installation"

	// InstallationID is the id of the singleton installation document.
	InstallationID = "default"
)

// User is the typed content of a users document.
type User struct {
	AccountName string `json:"accountName"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	RoleID      string `json:"roleId"`
}

// AccessRequest asks for a user to be granted a role.
type AccessRequest struct {
	UserID  string `json:"userId"`
	RoleID  string `json:"roleId"`
	Message string `json:"message,omitempty"`
}

// Installation records who bootstrapped the archive.
type Installation struct {
	OwnerID string `json:"ownerId"`
}

// Service implements the account workflows.
type Service struct {
	store    *docstore.Store
	policy   *authz.Policy
	users    *docstore.Collection[User]
	requests *docstore.Collection[AccessRequest]
	install  *docstore.Collection[Installation]
}

// New binds the service to s. The registry must declare the users,
// accessRequests and installation collections.
func New(s *docstore.Store) (*Service, error) {
	users, err := docstore.NewCollection[User](s, UsersCollection)
	if err != nil {
		return nil, err
	}
	requests, err := docstore.NewCollection[AccessRequest](s, RequestsCollection)
	if err != nil {
		return nil, err
	}
	install, err := docstore.NewCollection[Installation](s, InstallationCollection)
	if err != nil {
		return nil, err
	}
	return &Service{
		store:    s,
		policy:   s.Registry().Policy(),
		users:    users,
		requests: requests,
		install:  install,
	}, nil
}

// Installed reports whether Bootstrap has committed.
func (s *Service) Installed(ctx context.Context) (bool, error) {
	_, ok, err := s.install.Get(ctx, InstallationID)
	return ok, err
}

// Bootstrap queues the first owner account, already approved, together
// with the installation record. It fails with ALREADY_EXISTS once an
// installation has been committed.
func (s *Service) Bootstrap(ctx context.Context, b docstore.Batch, ownerID string, u User) (*docstore.Typed[User], error) {
	installed, err := s.Installed(ctx)
	if err != nil {
		return nil, err
	}
	if installed {
		return nil, &errs.Error{
			Code:       errs.CodeAlreadyExists,
			Message:    "archive is already installed",
			Collection: InstallationCollection,
			DocumentID: InstallationID,
		}
	}
	roleID, err := s.roleOfType(authz.Owner)
	if err != nil {
		return nil, err
	}
	u.RoleID = roleID

	sys := authz.System(roleID)
	owner, err := s.users.Create(ctx, b, sys, ownerID, u)
	if err != nil {
		return nil, err
	}
	approved, _, err := s.store.Approve(b, sys, owner.Doc, document.Approved)
	if err != nil {
		return nil, err
	}
	if _, err := s.install.Create(ctx, b, sys, InstallationID, Installation{OwnerID: owner.Doc.ID}); err != nil {
		return nil, err
	}
	return &docstore.Typed[User]{Value: owner.Value, Doc: approved}, nil
}

// SignUp queues a pending guest account with id userID. The prospective
// user acts as their own creator, which is what lets them delete the
// account later under a creator-only deletion policy.
func (s *Service) SignUp(ctx context.Context, b docstore.Batch, userID string, u User) (*docstore.Typed[User], error) {
	if userID == "" {
		return nil, errs.Validation("sign-up requires a user id")
	}
	guest, err := s.roleOfType(authz.Guest)
	if err != nil {
		return nil, err
	}
	u.RoleID = guest
	self := authz.State{UserID: userID, RoleID: guest, RoleType: authz.Guest, Approval: document.Approved}
	return s.users.Create(ctx, b, self, userID, u)
}

// AuthState derives the authorization state of userID from their
// document. Suspended and deleted accounts carry no approval.
func (s *Service) AuthState(ctx context.Context, userID string) (authz.State, error) {
	u, err := s.users.MustGet(ctx, userID)
	if err != nil {
		return authz.State{}, err
	}
	st := authz.State{UserID: userID, RoleID: u.Value.RoleID}
	if role, ok := s.policy.Role(u.Value.RoleID); ok {
		st.RoleType = role.Type
	}
	d := u.Doc
	switch {
	case d.Suspension != nil && d.Suspension.IsSuspended:
	case d.Deletion != nil && d.Deletion.IsDeleted:
	case d.Approval != nil:
		st.Approval = d.Approval.State
	}
	return st, nil
}

// FindByAccountName resolves the unique accountName index.
func (s *Service) FindByAccountName(ctx context.Context, name string) (*docstore.Typed[User], bool, error) {
	return s.users.GetByIndex(ctx, "accountName", name)
}

// FindByEmail lists every user sharing email, in creation order.
func (s *Service) FindByEmail(ctx context.Context, email string) ([]*docstore.Typed[User], error) {
	docs, err := s.store.ListByIndex(ctx, UsersCollection, "email", email)
	if err != nil {
		return nil, err
	}
	out := make([]*docstore.Typed[User], 0, len(docs))
	for _, d := range docs {
		v, err := s.users.Decode(d)
		if err != nil {
			return nil, err
		}
		out = append(out, &docstore.Typed[User]{Value: v, Doc: d})
	}
	return out, nil
}

// DecideUser sets a user's approval state.
func (s *Service) DecideUser(ctx context.Context, b docstore.Batch, auth authz.State, userID string, target document.ApprovalState) (*document.Document, workflow.Outcome, error) {
	u, err := s.users.MustGet(ctx, userID)
	if err != nil {
		return nil, workflow.Rejected, err
	}
	return s.store.Approve(b, auth, u.Doc, target)
}

// RequestAccess queues a request by the caller for roleID.
func (s *Service) RequestAccess(ctx context.Context, b docstore.Batch, auth authz.State, roleID, message string) (*docstore.Typed[AccessRequest], error) {
	if _, ok := s.policy.Role(roleID); !ok {
		return nil, errs.Validation("unknown role %q", roleID)
	}
	return s.requests.Create(ctx, b, auth, "", AccessRequest{
		UserID:  auth.UserID,
		RoleID:  roleID,
		Message: message,
	})
}

// PendingRequests lists undecided access requests, oldest first.
func (s *Service) PendingRequests(ctx context.Context, page docstore.Page) ([]*docstore.Typed[AccessRequest], error) {
	docs, err := s.store.GetAllForState(ctx, RequestsCollection, document.TrackApproval, document.Pending, page)
	if err != nil {
		return nil, err
	}
	out := make([]*docstore.Typed[AccessRequest], 0, len(docs))
	for _, d := range docs {
		v, err := s.requests.Decode(d)
		if err != nil {
			return nil, err
		}
		out = append(out, &docstore.Typed[AccessRequest]{Value: v, Doc: d})
	}
	return out, nil
}

// DecideRequest approves or denies a request. An approval that changes
// the request's state also moves the requesting user to the requested
// role, in the same batch.
func (s *Service) DecideRequest(ctx context.Context, b docstore.Batch, auth authz.State, requestID string, approve bool) (*docstore.Typed[AccessRequest], error) {
	req, err := s.requests.MustGet(ctx, requestID)
	if err != nil {
		return nil, err
	}
	target := document.Denied
	if approve {
		target = document.Approved
	}
	decided, outcome, err := s.store.Approve(b, auth, req.Doc, target)
	if err != nil {
		return nil, err
	}
	if approve && outcome == workflow.Applied {
		u, err := s.users.MustGet(ctx, req.Value.UserID)
		if err != nil {
			return nil, err
		}
		next := u.Value
		next.RoleID = req.Value.RoleID
		if _, err := s.users.Replace(ctx, b, auth, u.Doc, next); err != nil {
			return nil, err
		}
	}
	return &docstore.Typed[AccessRequest]{Value: req.Value, Doc: decided}, nil
}

// DeleteAccount flags userID as deleted.
func (s *Service) DeleteAccount(ctx context.Context, b docstore.Batch, auth authz.State, userID string) (*document.Document, error) {
	u, err := s.users.MustGet(ctx, userID)
	if err != nil {
		return nil, err
	}
	d, _, err := s.store.Delete(b, auth, u.Doc, true)
	return d, err
}

func (s *Service) roleOfType(t authz.RoleType) (string, error) {
	for _, r := range s.policy.Roles() {
		if r.Type == t {
			return r.ID, nil
		}
	}
	return "", errs.Validation("no %s role is registered", t)
}
