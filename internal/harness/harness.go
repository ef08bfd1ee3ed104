package harness

import (
	"context"
	"fmt"
	"maps"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/archivist/internal/accounts"
	"github.com/roach88/archivist/internal/docstore"
	"github.com/roach88/archivist/internal/document"
	"github.com/roach88/archivist/internal/errs"
	"github.com/roach88/archivist/internal/mutation"
	"github.com/roach88/archivist/internal/registry"
	"github.com/roach88/archivist/internal/store"
	"github.com/roach88/archivist/internal/testutil"
	"github.com/roach88/archivist/internal/workflow"
)

// ClockStep is how far the harness clock advances per reading.
const ClockStep = time.Second

// archive is the per-run environment.
type archive struct {
	store    *store.Store
	docs     *docstore.Store
	accounts *accounts.Service
}

// Option configures a run.
type Option func(*runConfig)

type runConfig struct {
	logger *zap.SugaredLogger
}

// WithLogger routes store and docstore logs to l.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *runConfig) { c.logger = l }
}

// Run executes a scenario against a fresh in-memory archive.
//
// Setup steps must succeed; a setup failure aborts the run with an error.
// Flow step failures and assertion failures are collected in the Result
// instead, so one run reports every broken expectation.
func Run(ctx context.Context, s *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{logger: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(&cfg)
	}

	reg, err := loadRegistry(s.Registry)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(":memory:", store.WithLogger(cfg.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	docs := docstore.New(st, reg,
		docstore.WithClock(testutil.NewStepClock(testutil.Epoch, ClockStep)),
		docstore.WithIDGenerator(testutil.NewSequenceIDs("doc")),
		docstore.WithLogger(cfg.logger),
	)
	svc, err := accounts.New(docs)
	if err != nil {
		return nil, fmt.Errorf("registry cannot host accounts: %w", err)
	}
	env := &archive{store: st, docs: docs, accounts: svc}

	result := NewResult()
	for i, step := range s.Setup {
		ev, _, err := env.execute(ctx, step)
		result.AddTrace(ev)
		if err != nil {
			return nil, fmt.Errorf("setup[%d] %s failed: %w", i, step.Action, err)
		}
	}

	for i, step := range s.Flow {
		ev, doc, err := env.execute(ctx, step)
		result.AddTrace(ev)
		for _, msg := range checkExpect(step.Expect, ev, doc, err) {
			result.AddError(fmt.Sprintf("flow[%d] %s: %s", i, step.Action, msg))
		}
	}

	for _, aerr := range EvaluateAssertions(ctx, env.docs, result.Trace, s.Assertions) {
		result.AddError(aerr.Error())
	}
	return result, nil
}

func loadRegistry(path string) (*docstore.Registry, error) {
	if path == "" {
		return registry.Default()
	}
	return registry.Load(path)
}

// execute runs one step in its own batch. The batch commits only when the
// step succeeds.
func (a *archive) execute(ctx context.Context, st Step) (TraceEvent, *document.Document, error) {
	ev := TraceEvent{Action: st.Action, Actor: st.Actor, Collection: st.Collection, ID: st.ID}

	b := a.store.NewBatch()
	doc, outcome, err := a.apply(ctx, b, st)
	if err == nil {
		err = b.Commit(ctx)
	} else {
		b.Discard()
	}

	if err != nil {
		ev.Error = string(errs.CodeOf(err))
		if ev.Error == "" {
			ev.Error = err.Error()
		}
		return ev, nil, err
	}
	ev.Outcome = string(outcome)
	if doc != nil {
		ev.ID = doc.ID
		ev.Collection = doc.Collection
		ev.Versions = doc.Versions()
	}
	return ev, doc, nil
}

func (a *archive) apply(ctx context.Context, b *store.Batch, st Step) (*document.Document, workflow.Outcome, error) {
	switch st.Action {
	case ActionBootstrap:
		u, err := a.accounts.Bootstrap(ctx, b, st.ID, userOf(st.Fields))
		if err != nil {
			return nil, "", err
		}
		return u.Doc, workflow.Applied, nil
	case ActionSignUp:
		u, err := a.accounts.SignUp(ctx, b, st.ID, userOf(st.Fields))
		if err != nil {
			return nil, "", err
		}
		return u.Doc, workflow.Applied, nil
	}

	auth, err := a.accounts.AuthState(ctx, st.Actor)
	if err != nil {
		return nil, "", err
	}

	if st.Action == ActionCreate {
		fields := maps.Clone(st.Fields)
		if fields == nil {
			fields = document.Fields{}
		}
		d, err := a.docs.Create(ctx, b, auth, st.Collection, docstore.Seed{ID: st.ID, Fields: fields})
		if err != nil {
			return nil, "", err
		}
		return d, workflow.Applied, nil
	}

	doc, err := a.docs.GetByIDWithAssert(ctx, st.Collection, st.ID)
	if err != nil {
		return nil, "", err
	}

	switch st.Action {
	case ActionUpdate:
		updates := mutation.Updates{}
		for path, v := range st.Set {
			updates[path] = mutation.Set(v)
		}
		for _, path := range st.Unset {
			updates[path] = mutation.Delete()
		}
		d, err := a.docs.Update(ctx, b, auth, doc, updates)
		if err != nil {
			return nil, "", err
		}
		return d, workflow.Applied, nil
	case ActionApprove:
		return a.docs.Approve(b, auth, doc, document.Approved)
	case ActionDeny:
		return a.docs.Approve(b, auth, doc, document.Denied)
	case ActionView:
		return a.docs.MarkViewed(b, auth, doc)
	case ActionSuspend:
		return a.docs.Suspend(b, auth, doc, workflow.Suspend, st.Reason)
	case ActionUnsuspend:
		return a.docs.Suspend(b, auth, doc, workflow.Unsuspend, st.Reason)
	case ActionArchive:
		return a.docs.Archive(b, auth, doc, true)
	case ActionUnarchive:
		return a.docs.Archive(b, auth, doc, false)
	case ActionDelete:
		return a.docs.Delete(b, auth, doc, true)
	case ActionUndelete:
		return a.docs.Delete(b, auth, doc, false)
	case ActionPurge:
		if err := a.docs.Purge(ctx, b, auth, doc); err != nil {
			return nil, "", err
		}
		return nil, workflow.Applied, nil
	}
	return nil, "", errs.Validation("unknown action %q", st.Action)
}

// checkExpect compares a flow step's result with its expect clause. A step
// without one must succeed.
func checkExpect(exp *ExpectClause, ev TraceEvent, doc *document.Document, err error) []string {
	if exp == nil || exp.Error == "" {
		if err != nil {
			return []string{fmt.Sprintf("unexpected error: %v", err)}
		}
	}
	if exp == nil {
		return nil
	}

	var problems []string
	if exp.Error != "" {
		if err == nil {
			return []string{fmt.Sprintf("expected error %s, step succeeded", exp.Error)}
		}
		if ev.Error != exp.Error {
			problems = append(problems, fmt.Sprintf("expected error %s, got %s", exp.Error, ev.Error))
		}
		return problems
	}

	if exp.Outcome != "" && ev.Outcome != exp.Outcome {
		problems = append(problems, fmt.Sprintf("expected outcome %s, got %s", exp.Outcome, ev.Outcome))
	}
	if len(exp.Fields) > 0 {
		if doc == nil {
			return append(problems, "expected fields but step produced no document")
		}
		problems = append(problems, matchPaths(doc, exp.Fields)...)
	}
	return problems
}

func userOf(fields map[string]any) accounts.User {
	str := func(k string) string {
		s, _ := fields[k].(string)
		return s
	}
	return accounts.User{
		AccountName: str("accountName"),
		Email:       str("email"),
		DisplayName: str("displayName"),
	}
}
