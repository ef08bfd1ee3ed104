package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/archivist/internal/activitylog"
	"github.com/roach88/archivist/internal/config"
	"github.com/roach88/archivist/internal/document"
)

// archive is a throwaway archive driven through Run.
type archive struct {
	t      *testing.T
	dir    string
	config string
}

func newArchive(t *testing.T) *archive {
	t.Helper()
	t.Setenv(config.EnvDBPath, "")
	t.Setenv(config.EnvLogLevel, "")

	dir := t.TempDir()
	cfg := filepath.Join(dir, "archivist.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("database:\n  path: archive.db\nlogging:\n  level: WARN\n"), 0o644))
	return &archive{t: t, dir: dir, config: cfg}
}

// run executes the CLI and returns exit code, stdout and stderr.
func (a *archive) run(args ...string) (int, string, string) {
	a.t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"--config", a.config}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// runJSON executes the CLI in JSON mode and decodes the response.
func (a *archive) runJSON(args ...string) (int, jsonResponse) {
	a.t.Helper()
	code, stdout, stderr := a.run(append([]string{"--format", "json"}, args...)...)
	var resp jsonResponse
	require.NoError(a.t, json.Unmarshal([]byte(stdout), &resp), "stdout=%q stderr=%q", stdout, stderr)
	return code, resp
}

// mustJSON runs a command that must succeed and decodes its data into v.
func (a *archive) mustJSON(v any, args ...string) {
	a.t.Helper()
	code, resp := a.runJSON(args...)
	require.Equal(a.t, ExitSuccess, code, "args=%v error=%+v", args, resp.Error)
	if v != nil {
		require.NoError(a.t, json.Unmarshal(resp.Data, v))
	}
}

func (a *archive) init() {
	a.t.Helper()
	a.mustJSON(nil, "init", "--owner", "u-1", "--account-name", "alice", "--email", "alice@example.com")
}

type jsonResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *CLIError       `json:"error"`
}

func TestInit_CreatesApprovedOwner(t *testing.T) {
	a := newArchive(t)

	var result InitResult
	a.mustJSON(&result, "init", "--owner", "u-1", "--account-name", "alice")
	assert.Equal(t, "u-1", result.OwnerID)
	assert.Equal(t, "r-owner", result.RoleID)

	var owner document.Document
	a.mustJSON(&owner, "doc", "get", "users", "u-1")
	require.NotNil(t, owner.Approval)
	assert.Equal(t, document.Approved, owner.Approval.State)
	assert.Equal(t, "alice", owner.Fields["accountName"])

	code, resp := a.runJSON("init", "--owner", "u-9", "--account-name", "mallory")
	assert.Equal(t, ExitFailure, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "ALREADY_EXISTS", resp.Error.Code)
}

func TestInit_WriteRegistry(t *testing.T) {
	a := newArchive(t)
	path := filepath.Join(a.dir, "registry.cue")

	a.mustJSON(nil, "init", "--owner", "u-1", "--account-name", "alice", "--write-registry", path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "creatorOnly")

	code, resp := a.runJSON("init", "--owner", "u-1", "--account-name", "alice", "--write-registry", path)
	assert.Equal(t, ExitCommandError, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeIO, resp.Error.Code)
}

func TestCollections_Golden(t *testing.T) {
	a := newArchive(t)
	a.init()

	code, stdout, stderr := a.run("--format", "json", "collections")
	require.Equal(t, ExitSuccess, code, stderr)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "collections", []byte(stdout))
}

func TestDoc_Lifecycle(t *testing.T) {
	a := newArchive(t)
	a.init()

	var created document.Document
	a.mustJSON(&created, "--actor", "u-1", "doc", "create", "contacts",
		"--id", "c-1", "--fields", `{"name":"Ada","email":"Ada@Example.com","visits":1}`)
	assert.Equal(t, "c-1", created.ID)
	assert.Equal(t, "u-1", created.UserIDOfCreator)
	assert.Equal(t, 1, created.Versions())

	var updated document.Document
	a.mustJSON(&updated, "--actor", "u-1", "doc", "update", "contacts", "c-1",
		"--set", `{"name":"Ada L."}`, "--inc", "visits=2")
	assert.Equal(t, "Ada L.", updated.Fields["name"])
	assert.EqualValues(t, 3, updated.Fields["visits"])
	assert.True(t, updated.HasBeenUpdated)
	assert.Equal(t, 2, updated.Versions())

	var history []document.Record
	a.mustJSON(&history, "doc", "history", "contacts", "c-1")
	require.Len(t, history, 2)
	assert.Equal(t, "Ada", history[0].Fields["name"])
	assert.Equal(t, "Ada L.", history[1].Fields["name"])

	// Lookup indexes match case-insensitively.
	var found []*document.Document
	a.mustJSON(&found, "doc", "find", "contacts", "email", "ada@example.com")
	require.Len(t, found, 1)
	assert.Equal(t, "c-1", found[0].ID)

	var live []*document.Document
	a.mustJSON(&live, "doc", "list", "contacts", "--state", "archival=false")
	require.Len(t, live, 1)

	var tr TransitionResult
	a.mustJSON(&tr, "--actor", "u-1", "state", "archive", "contacts", "c-1")
	assert.Equal(t, "applied", string(tr.Outcome))
	require.NotNil(t, tr.Document.Archival)
	assert.True(t, tr.Document.Archival.IsArchived)

	var archived []*document.Document
	a.mustJSON(&archived, "doc", "list", "contacts", "--state", "archival=true")
	require.Len(t, archived, 1)
	a.mustJSON(&live, "doc", "list", "contacts", "--state", "archival=false")
	assert.Empty(t, live)

	a.mustJSON(nil, "--actor", "u-1", "doc", "purge", "contacts", "c-1")
	code, resp := a.runJSON("doc", "get", "contacts", "c-1")
	assert.Equal(t, ExitFailure, code)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
	a.mustJSON(&found, "doc", "find", "contacts", "email", "ada@example.com")
	assert.Empty(t, found)
}

func TestDoc_UniqueIndexRejectsDuplicate(t *testing.T) {
	a := newArchive(t)
	a.init()

	code, resp := a.runJSON("account", "signup", "u-2", "--account-name", "ALICE")
	assert.Equal(t, ExitFailure, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "ALREADY_EXISTS", resp.Error.Code)
}

func TestDoc_UsageErrors(t *testing.T) {
	a := newArchive(t)
	a.init()

	tests := []struct {
		name string
		args []string
	}{
		{"missing actor", []string{"doc", "create", "contacts"}},
		{"bad fields", []string{"--actor", "u-1", "doc", "create", "contacts", "--fields", "[1,2]"}},
		{"empty update", []string{"--actor", "u-1", "doc", "update", "contacts", "c-1"}},
		{"bad state filter", []string{"doc", "list", "contacts", "--state", "archival=maybe"}},
		{"unknown track", []string{"doc", "list", "contacts", "--state", "frozen=true"}},
		{"wrong arg count", []string{"doc", "get", "contacts"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, _ := a.run(tt.args...)
			assert.Equal(t, ExitCommandError, code)
		})
	}
}

func TestState_UnauthorizedGuest(t *testing.T) {
	a := newArchive(t)
	a.init()
	a.mustJSON(nil, "account", "signup", "u-2", "--account-name", "bob")

	// Pending accounts are rejected before the role check.
	code, resp := a.runJSON("--actor", "u-2", "doc", "create", "contacts", "--fields", `{"name":"x"}`)
	assert.Equal(t, ExitFailure, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "UNAUTHORIZED", resp.Error.Code)

	a.mustJSON(nil, "--actor", "u-1", "account", "approve", "u-2")

	// Approved guests still may not touch contacts.
	code, resp = a.runJSON("--actor", "u-2", "doc", "create", "contacts", "--fields", `{"name":"x"}`)
	assert.Equal(t, ExitFailure, code)
	assert.Equal(t, "UNAUTHORIZED", resp.Error.Code)
}

func TestState_SameStateIsNoop(t *testing.T) {
	a := newArchive(t)
	a.init()

	var tr TransitionResult
	a.mustJSON(&tr, "--actor", "u-1", "state", "approve", "users", "u-1")
	assert.Equal(t, "noop", string(tr.Outcome))

	a.mustJSON(&tr, "--actor", "u-1", "state", "suspend", "users", "u-1", "--reason", "audit")
	assert.Equal(t, "applied", string(tr.Outcome))
	require.NotNil(t, tr.Document.Suspension)
	assert.Equal(t, "audit", tr.Document.Suspension.ReasonForSuspensionStart)

	// A suspended actor carries no approval, so cannot lift their own
	// suspension.
	code, resp := a.runJSON("--actor", "u-1", "state", "unsuspend", "users", "u-1")
	assert.Equal(t, ExitFailure, code)
	assert.Equal(t, "UNAUTHORIZED", resp.Error.Code)
}

func TestAccount_AccessRequestGrantsRole(t *testing.T) {
	a := newArchive(t)
	a.init()
	a.mustJSON(nil, "account", "signup", "u-2", "--account-name", "bob")
	a.mustJSON(nil, "--actor", "u-1", "account", "approve", "u-2")

	var req document.Document
	a.mustJSON(&req, "--actor", "u-2", "account", "request", "r-editor", "--message", "please")
	assert.Equal(t, document.Pending, req.Approval.State)

	var pending []*document.Document
	a.mustJSON(&pending, "account", "requests")
	require.Len(t, pending, 1)
	assert.Equal(t, req.ID, pending[0].ID)

	var decided document.Document
	a.mustJSON(&decided, "--actor", "u-1", "account", "decide", req.ID)
	assert.Equal(t, document.Approved, decided.Approval.State)

	var user document.Document
	a.mustJSON(&user, "doc", "get", "users", "u-2")
	assert.Equal(t, "r-editor", user.Fields["roleId"])

	// Editors may create contacts.
	a.mustJSON(nil, "--actor", "u-2", "doc", "create", "contacts", "--fields", `{"name":"x"}`)

	a.mustJSON(&pending, "account", "requests")
	assert.Empty(t, pending)
}

func TestAccount_SelfDelete(t *testing.T) {
	a := newArchive(t)
	a.init()
	a.mustJSON(nil, "account", "signup", "u-2", "--account-name", "bob")
	a.mustJSON(nil, "--actor", "u-1", "account", "approve", "u-2")

	// Deletion of users is restricted to the account's creator.
	code, resp := a.runJSON("--actor", "u-1", "account", "delete", "u-2")
	assert.Equal(t, ExitFailure, code)
	assert.Equal(t, "UNAUTHORIZED", resp.Error.Code)

	var d document.Document
	a.mustJSON(&d, "--actor", "u-2", "account", "delete", "u-2")
	require.NotNil(t, d.Deletion)
	assert.True(t, d.Deletion.IsDeleted)
}

func TestLog_RecordsCommandsAndGroups(t *testing.T) {
	a := newArchive(t)
	a.init()
	a.mustJSON(nil, "--actor", "u-1", "doc", "create", "contacts", "--id", "c-1", "--fields", `{"name":"Ada"}`)

	var root activitylog.Item
	a.mustJSON(&root, "--actor", "u-1", "log", "record", "--type", "http.request", "--resource", "https://archive.example/")
	assert.Equal(t, root.ID, root.RootLogItemID)
	assert.Equal(t, "https://archive.example/index.html", root.ResourceCanonical)

	var child activitylog.Item
	a.mustJSON(&child, "--actor", "u-1", "log", "record", "--type", "db.write", "--root", root.ID)
	assert.Equal(t, root.ID, child.RootLogItemID)

	var page activitylog.Page
	a.mustJSON(&page, "log", "list", "--group-root")
	assert.Equal(t, 4, page.Total) // init, create, request, write
	require.Len(t, page.Entries, 3)
	last := page.Entries[2]
	assert.Equal(t, root.ID, last.ID)
	require.Len(t, last.SubItems, 1)
	assert.Equal(t, child.ID, last.SubItems[0].ID)

	var creates activitylog.Page
	a.mustJSON(&creates, "log", "list", "--type", "document.create")
	require.Len(t, creates.Entries, 1)
	assert.Equal(t, "contacts/c-1", creates.Entries[0].Resource)
	assert.Equal(t, activitylog.StateSucceeded, creates.Entries[0].ExecutionState)

	code, stdout, _ := a.run("log", "list", "--group-root")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "└─")
	assert.Contains(t, stdout, "(4 of 4 items)")
}

func TestLog_FailedCommandIsRecorded(t *testing.T) {
	a := newArchive(t)
	a.init()

	code, _, _ := a.run("--actor", "u-1", "doc", "create", "nope", "--fields", `{}`)
	require.Equal(t, ExitFailure, code)

	var page activitylog.Page
	a.mustJSON(&page, "log", "list", "--type", "document.create")
	require.Len(t, page.Entries, 1)
	assert.Equal(t, activitylog.StateFailed, page.Entries[0].ExecutionState)
}

func TestExportImport_RoundTrip(t *testing.T) {
	for _, enc := range []string{"jsonl", "bson"} {
		t.Run(enc, func(t *testing.T) {
			src := newArchive(t)
			src.init()
			src.mustJSON(nil, "--actor", "u-1", "doc", "create", "contacts",
				"--id", "c-1", "--fields", `{"name":"Ada","email":"ada@example.com","tags":["a","b"]}`)

			dump := filepath.Join(t.TempDir(), "dump."+enc)
			var exported TransferResult
			src.mustJSON(&exported, "export", "--encoding", enc, "--out", dump)
			assert.Positive(t, exported.Documents)
			assert.Contains(t, exported.Collections, "contacts")

			dst := newArchive(t)
			dst.init()

			var imported TransferResult
			dst.mustJSON(&imported, "--actor", "u-1", "import", dump, "--encoding", enc)
			assert.Equal(t, exported.Documents, imported.Documents)

			var got document.Document
			dst.mustJSON(&got, "doc", "get", "contacts", "c-1")
			assert.Equal(t, "Ada", got.Fields["name"])
			assert.Equal(t, []any{"a", "b"}, got.Fields["tags"])

			// Index entries travel with the dump.
			var found []*document.Document
			dst.mustJSON(&found, "doc", "find", "contacts", "email", "ada@example.com")
			require.Len(t, found, 1)
		})
	}
}

func TestImport_RequiresAuthorizer(t *testing.T) {
	a := newArchive(t)
	a.init()
	a.mustJSON(nil, "account", "signup", "u-2", "--account-name", "bob")
	a.mustJSON(nil, "--actor", "u-1", "account", "approve", "u-2")

	dump := filepath.Join(a.dir, "empty.jsonl")
	require.NoError(t, os.WriteFile(dump, nil, 0o644))

	code, resp := a.runJSON("--actor", "u-2", "import", dump)
	assert.Equal(t, ExitFailure, code)
	assert.Equal(t, "UNAUTHORIZED", resp.Error.Code)
}

func TestRun_ConfigErrors(t *testing.T) {
	t.Setenv(config.EnvDBPath, "")
	t.Setenv(config.EnvLogLevel, "")

	var stdout, stderr bytes.Buffer
	code := Run([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "collections"}, &stdout, &stderr)
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr.String(), "Error [E002]")

	dir := t.TempDir()
	cfg := filepath.Join(dir, "archivist.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("registry:\n  path: nope.cue\n"), 0o644))
	stdout.Reset()
	code = Run([]string{"--config", cfg, "--format", "json", "collections"}, &stdout, &stderr)
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stdout.String(), `"status": "error"`)
}
