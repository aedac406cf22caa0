package labflow

import "testing"

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"IntegrityViolation", &IntegrityViolation{WorkflowID: "w1", ScriptPath: "/a.py"}, "workflow w1: script /a.py no longer matches its persisted fingerprint"},
		{"BadConstructorUsage", &BadConstructorUsage{Reason: "id and params both set"}, "bad constructor usage: id and params both set"},
		{"IllegalWorkflowConstruction", &IllegalWorkflowConstruction{Reason: "bypassed Open"}, "illegal workflow construction: bypassed Open"},
		{"DisallowedWorkflowLocation", &DisallowedWorkflowLocation{Module: "evil/pkg"}, `disallowed workflow location: "evil/pkg" is outside the user-workflows namespace`},
		{"StepAlreadyInitialized", &StepAlreadyInitialized{WorkflowID: "w1", Step: "start"}, `workflow w1: step "start" already initialized`},
		{"InvalidStepCall", &InvalidStepCall{Step: "start"}, `invalid step call: step "start" takes no arguments`},
		{"NotAStep", &NotAStep{Name: "foo"}, `"foo" is not a step`},
		{"ReservedNameMisuse", &ReservedNameMisuse{Name: ExitSentinel}, `"__exit__" is a reserved name and cannot be used as a step name`},
		{"UnknownCaller", &UnknownCaller{WorkflowID: "w1", Step: "ghost"}, `workflow w1: caller step "ghost" is unknown to the step registry`},
		{"NullNext", &NullNext{}, "next: next step must not be nil"},
		{"ImmutableAfterCommit", &ImmutableAfterCommit{Op: "add_path"}, "repository: add_path is not allowed after commit"},
		{"NotExistent", &NotExistent{Kind: "workflow", ID: "w1"}, "workflow w1 does not exist"},
		{"InternalInconsistency", &InternalInconsistency{Reason: "missing temp folder"}, "internal inconsistency: missing temp folder"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorsImplementErrorInterface(t *testing.T) {
	errs := []error{
		&IntegrityViolation{}, &BadConstructorUsage{}, &IllegalWorkflowConstruction{},
		&DisallowedWorkflowLocation{}, &StepAlreadyInitialized{}, &InvalidStepCall{},
		&NotAStep{}, &ReservedNameMisuse{}, &UnknownCaller{}, &NullNext{},
		&ImmutableAfterCommit{}, &NotExistent{}, &InternalInconsistency{},
	}
	for _, e := range errs {
		if e.Error() == "" {
			t.Errorf("%T: Error() unexpectedly empty", e)
		}
	}
}
