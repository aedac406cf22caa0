package labflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func scriptFixture(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "flow.py")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOpenRejectsMixedConstruction(t *testing.T) {
	ctx := context.Background()
	_, err := Open(ctx, newMemStore(), newMemRepo(), WithID("some-id"), WithUser("alice"))
	var bad *BadConstructorUsage
	if err == nil {
		t.Fatal("expected BadConstructorUsage")
	}
	if !errorsAs(err, &bad) {
		t.Fatalf("expected *BadConstructorUsage, got %T: %v", err, err)
	}
}

func TestOpenRequiresModuleForNewWorkflow(t *testing.T) {
	ctx := context.Background()
	_, err := Open(ctx, newMemStore(), newMemRepo(), WithUser("alice"))
	var bad *IllegalWorkflowConstruction
	if !errorsAs(err, &bad) {
		t.Fatalf("expected *IllegalWorkflowConstruction, got %T: %v", err, err)
	}
}

func TestStraightLineTwoSteps(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	repo := newMemRepo()
	script := scriptFixture(t, "step one then two\n")

	wf, err := Open(ctx, store, repo, WithModule("workflows/demo", "Straight"), WithUser("alice"), WithScript(script))
	if err != nil {
		t.Fatal(err)
	}

	var trace []string
	table := StepTable{}
	table["start"] = func(ctx context.Context, sc *StepContext) error {
		trace = append(trace, "start")
		return sc.Next(ctx, "middle")
	}
	table["middle"] = func(ctx context.Context, sc *StepContext) error {
		trace = append(trace, "middle")
		return sc.Next(ctx, ExitSentinel)
	}

	if err := wf.Invoke(ctx, table, "start"); err != nil {
		t.Fatal(err)
	}
	if err := wf.Invoke(ctx, table, "middle"); err != nil {
		t.Fatal(err)
	}

	if len(trace) != 2 || trace[0] != "start" || trace[1] != "middle" {
		t.Fatalf("unexpected trace: %v", trace)
	}

	start, ok, err := wf.GetStep(ctx, "start")
	if err != nil || !ok {
		t.Fatalf("missing start step: %v %v", ok, err)
	}
	if start.NextCall != "middle" {
		t.Errorf("start.NextCall = %q, want %q", start.NextCall, "middle")
	}

	middle, ok, err := wf.GetStep(ctx, "middle")
	if err != nil || !ok {
		t.Fatalf("missing middle step: %v %v", ok, err)
	}
	if middle.NextCall != ExitSentinel {
		t.Errorf("middle.NextCall = %q, want %q", middle.NextCall, ExitSentinel)
	}

	if !wf.Committed() {
		t.Error("workflow should be committed after first invocation")
	}
}

func TestReentryGuardRejectsDoubleInvoke(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	repo := newMemRepo()
	wf, err := Open(ctx, store, repo, WithModule("workflows/demo", "Guard"), WithUser("alice"))
	if err != nil {
		t.Fatal(err)
	}

	table := StepTable{
		"start": func(ctx context.Context, sc *StepContext) error {
			return sc.Next(ctx, ExitSentinel)
		},
	}
	if err := wf.Invoke(ctx, table, "start"); err != nil {
		t.Fatal(err)
	}

	err = wf.Invoke(ctx, table, "start")
	var already *StepAlreadyInitialized
	if !errorsAs(err, &already) {
		t.Fatalf("expected *StepAlreadyInitialized, got %T: %v", err, err)
	}
}

func TestInvokeRejectsPositionalArgs(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	repo := newMemRepo()
	wf, err := Open(ctx, store, repo, WithModule("workflows/demo", "Args"), WithUser("alice"))
	if err != nil {
		t.Fatal(err)
	}
	table := StepTable{"start": func(ctx context.Context, sc *StepContext) error { return nil }}

	err = wf.Invoke(ctx, table, "start", "unexpected")
	var invalid *InvalidStepCall
	if !errorsAs(err, &invalid) {
		t.Fatalf("expected *InvalidStepCall, got %T: %v", err, err)
	}
}

func TestInvokeUnknownStepName(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	repo := newMemRepo()
	wf, err := Open(ctx, store, repo, WithModule("workflows/demo", "Unknown"), WithUser("alice"))
	if err != nil {
		t.Fatal(err)
	}
	err = wf.Invoke(ctx, StepTable{}, "nope")
	var notAStep *NotAStep
	if !errorsAs(err, &notAStep) {
		t.Fatalf("expected *NotAStep, got %T: %v", err, err)
	}
}

func TestNextRejectsUnknownTarget(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	repo := newMemRepo()
	wf, err := Open(ctx, store, repo, WithModule("workflows/demo", "BadNext"), WithUser("alice"))
	if err != nil {
		t.Fatal(err)
	}

	var nextErr error
	table := StepTable{
		"start": func(ctx context.Context, sc *StepContext) error {
			nextErr = sc.Next(ctx, "ghost")
			return nextErr
		},
	}
	if err := wf.Invoke(ctx, table, "start"); err != nil {
		t.Fatal(err)
	}
	var notAStep *NotAStep
	if !errorsAs(nextErr, &notAStep) {
		t.Fatalf("expected *NotAStep, got %T: %v", nextErr, nextErr)
	}
}

func TestStepFailureRecordsErrorAndReport(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	repo := newMemRepo()
	wf, err := Open(ctx, store, repo, WithModule("workflows/demo", "Failing"), WithUser("alice"))
	if err != nil {
		t.Fatal(err)
	}

	table := StepTable{
		"start": func(ctx context.Context, sc *StepContext) error {
			return errBoom
		},
	}
	if err := wf.Invoke(ctx, table, "start"); err != nil {
		t.Fatalf("Invoke must not propagate step errors, got %v", err)
	}

	step, ok, err := wf.GetStep(ctx, "start")
	if err != nil || !ok {
		t.Fatalf("missing step: %v %v", ok, err)
	}
	if step.Status != StateError {
		t.Errorf("step.Status = %v, want %v", step.Status, StateError)
	}

	report, err := wf.Report(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report == "" {
		t.Error("expected a non-empty report after a step failure")
	}
}

func TestStepPanicRecordsError(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	repo := newMemRepo()
	wf, err := Open(ctx, store, repo, WithModule("workflows/demo", "Panicking"), WithUser("alice"))
	if err != nil {
		t.Fatal(err)
	}

	table := StepTable{
		"start": func(ctx context.Context, sc *StepContext) error {
			panic("boom")
		},
	}
	if err := wf.Invoke(ctx, table, "start"); err != nil {
		t.Fatalf("Invoke must not propagate a panic, got %v", err)
	}
	step, ok, err := wf.GetStep(ctx, "start")
	if err != nil || !ok {
		t.Fatalf("missing step: %v %v", ok, err)
	}
	if step.Status != StateError {
		t.Errorf("step.Status = %v, want %v", step.Status, StateError)
	}
}

func TestFingerprintMismatchBlocksNext(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	repo := newMemRepo()
	script := scriptFixture(t, "original\n")

	wf, err := Open(ctx, store, repo, WithModule("workflows/demo", "Tamper"), WithUser("alice"), WithScript(script))
	if err != nil {
		t.Fatal(err)
	}

	var nextErr error
	table := StepTable{
		"start": func(ctx context.Context, sc *StepContext) error {
			if err := os.WriteFile(script, []byte("tampered\n"), 0o644); err != nil {
				return err
			}
			nextErr = sc.Next(ctx, ExitSentinel)
			return nextErr
		},
	}
	if err := wf.Invoke(ctx, table, "start"); err != nil {
		t.Fatal(err)
	}

	var integrity *IntegrityViolation
	if !errorsAs(nextErr, &integrity) {
		t.Fatalf("expected *IntegrityViolation, got %T: %v", nextErr, nextErr)
	}
}

func TestReviveReseatsFingerprintAndResetsErrorSteps(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	repo := newMemRepo()
	script := scriptFixture(t, "v1\n")

	wf, err := Open(ctx, store, repo, WithModule("workflows/demo", "Revivable"), WithUser("alice"), WithScript(script))
	if err != nil {
		t.Fatal(err)
	}
	table := StepTable{
		"start": func(ctx context.Context, sc *StepContext) error { return errBoom },
	}
	if err := wf.Invoke(ctx, table, "start"); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(script, []byte("v2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := wf.Revive(ctx); err != nil {
		t.Fatal(err)
	}

	step, ok, err := wf.GetStep(ctx, "start")
	if err != nil || !ok {
		t.Fatalf("missing step: %v %v", ok, err)
	}
	if step.Status != StateInitialized {
		t.Errorf("step.Status = %v, want %v", step.Status, StateInitialized)
	}

	newSum, err := Fingerprint(script)
	if err != nil {
		t.Fatal(err)
	}
	if wf.Record().ScriptMD5 != newSum {
		t.Error("revive should reseal the fingerprint to the new contents")
	}
}

func TestAttachAndKillCascade(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	repo := newMemRepo()
	calcSrc := newFakeCalcSource()
	calc := calcSrc.new("calc-1")

	wf, err := Open(ctx, store, repo, WithModule("workflows/demo", "Attacher"), WithUser("alice"))
	if err != nil {
		t.Fatal(err)
	}
	wf.WithCalculationSource(calcSrc)

	table := StepTable{
		"start": func(ctx context.Context, sc *StepContext) error {
			sc.AttachCalculation("calc-1")
			return sc.Next(ctx, ExitSentinel)
		},
	}
	if err := wf.Invoke(ctx, table, "start"); err != nil {
		t.Fatal(err)
	}

	step, ok, err := wf.GetStep(ctx, "start")
	if err != nil || !ok {
		t.Fatalf("missing step: %v %v", ok, err)
	}
	calcs, err := store.StepCalculations(ctx, step.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(calcs) != 1 || calcs[0] != "calc-1" {
		t.Fatalf("unexpected attached calculations: %v", calcs)
	}

	if err := wf.Kill(ctx); err != nil {
		t.Fatal(err)
	}
	terminal, err := calc.IsTerminal(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !terminal {
		t.Error("expected attached calculation to be forced terminal by Kill")
	}
	if wf.Record().Status != StateFinished {
		t.Errorf("workflow.Status = %v, want %v", wf.Record().Status, StateFinished)
	}
}

func TestSubworkflowReportForwardsToRoot(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	repo := newMemRepo()

	parent, err := Open(ctx, store, repo, WithModule("workflows/demo", "Parent"), WithUser("alice"))
	if err != nil {
		t.Fatal(err)
	}
	if err := parent.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	parentStep, err := parent.GetOrCreateStep(ctx, "spawn")
	if err != nil {
		t.Fatal(err)
	}

	childID := NewID()
	child := WorkflowRecord{
		ID:           childID,
		User:         "alice",
		Module:       "workflows/demo",
		ModuleClass:  "Child",
		Status:       StateCreated,
		ParentStepID: &parentStep.ID,
	}
	if err := store.CreateWorkflow(ctx, child); err != nil {
		t.Fatal(err)
	}
	childWF, err := Open(ctx, store, repo, WithID(childID))
	if err != nil {
		t.Fatal(err)
	}

	if err := childWF.AppendReport(ctx, "child did work"); err != nil {
		t.Fatal(err)
	}

	parentReport, err := parent.Report(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if parentReport != "child did work" {
		t.Errorf("parent report = %q, want forwarded child report", parentReport)
	}
}

func TestSleepPausesStepWithoutAdvancing(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	repo := newMemRepo()
	wf, err := Open(ctx, store, repo, WithModule("workflows/demo", "Sleeper"), WithUser("alice"))
	if err != nil {
		t.Fatal(err)
	}

	table := StepTable{
		"start": func(ctx context.Context, sc *StepContext) error {
			return sc.Sleep(ctx)
		},
	}
	if err := wf.Invoke(ctx, table, "start"); err != nil {
		t.Fatal(err)
	}

	step, ok, err := wf.GetStep(ctx, "start")
	if err != nil || !ok {
		t.Fatalf("missing step: %v %v", ok, err)
	}
	if step.Status != StateSleep {
		t.Errorf("step.Status = %v, want %v", step.Status, StateSleep)
	}
	if step.NextCall != DefaultNext {
		t.Errorf("sleeping step should not have advanced next_call, got %q", step.NextCall)
	}
}

func TestRegistryRejectsDisallowedNamespace(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register("not-workflows/demo", "Bad", func(core *Workflow) StepSource { return nil })
	var disallowed *DisallowedWorkflowLocation
	if !errorsAs(err, &disallowed) {
		t.Fatalf("expected *DisallowedWorkflowLocation, got %T: %v", err, err)
	}
}

func TestRegistryResumeRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	repo := newMemRepo()

	wf, err := Open(ctx, store, repo, WithModule("workflows/demo", "Resumable"), WithUser("alice"))
	if err != nil {
		t.Fatal(err)
	}
	if err := wf.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	reg := NewRegistry()
	if err := reg.Register("workflows/demo", "Resumable", func(core *Workflow) StepSource {
		return stubStepSource{core: core}
	}); err != nil {
		t.Fatal(err)
	}

	src, core, err := reg.Resume(ctx, store, repo, nil, nil, wf.ID())
	if err != nil {
		t.Fatal(err)
	}
	if core.ID() != wf.ID() {
		t.Errorf("resumed core ID = %q, want %q", core.ID(), wf.ID())
	}
	if _, ok := src.Steps()["start"]; !ok {
		t.Error("expected resumed StepSource to expose its step table")
	}
}

type stubStepSource struct{ core *Workflow }

func (s stubStepSource) Steps() StepTable {
	return StepTable{"start": func(ctx context.Context, sc *StepContext) error { return sc.Next(ctx, ExitSentinel) }}
}

var errBoom = simpleErr("boom")

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func errorsAs(err error, target any) bool {
	return errors.As(err, target)
}
