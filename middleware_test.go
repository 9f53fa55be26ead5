package alloy

import (
	"context"
	"strings"
	"testing"
)

func TestRunHooksOrderAndMutation(t *testing.T) {
	var order []string
	first := MiddlewareFunc(func(_ context.Context, _ Hook, st *State) Decision {
		order = append(order, "first")
		st.Context["mark"] = "from-first"
		return Continue()
	})
	second := MiddlewareFunc(func(_ context.Context, _ Hook, st *State) Decision {
		order = append(order, "second")
		if st.Context["mark"] != "from-first" {
			t.Error("second middleware did not see first's mutation")
		}
		return Continue()
	})

	st := &State{Context: map[string]any{}}
	d := runHooks(context.Background(), []Middleware{first, second}, HookSessionStart, st)
	if d.Halted || d.Blocked {
		t.Fatalf("unexpected decision %+v", d)
	}
	if strings.Join(order, ",") != "first,second" {
		t.Errorf("order = %v", order)
	}
}

func TestRunHooksHaltShortCircuits(t *testing.T) {
	called := false
	halter := MiddlewareFunc(func(_ context.Context, _ Hook, _ *State) Decision {
		return Halt("policy")
	})
	after := MiddlewareFunc(func(_ context.Context, _ Hook, _ *State) Decision {
		called = true
		return Continue()
	})

	d := runHooks(context.Background(), []Middleware{halter, after}, HookBeforeCompletion, &State{})
	if !d.Halted || d.Reason != "policy" {
		t.Fatalf("decision = %+v", d)
	}
	if called {
		t.Error("middleware after a halt must not run")
	}
}

func TestRunHooksBlockOnlyAtBeforeToolCall(t *testing.T) {
	blocker := MiddlewareFunc(func(_ context.Context, _ Hook, _ *State) Decision {
		return Block("no")
	})

	d := runHooks(context.Background(), []Middleware{blocker}, HookBeforeToolCall, &State{})
	if !d.Blocked || d.Reason != "no" {
		t.Fatalf("decision = %+v", d)
	}

	defer func() {
		if recover() == nil {
			t.Error("Block outside before_tool_call must panic")
		}
	}()
	runHooks(context.Background(), []Middleware{blocker}, HookAfterCompletion, &State{})
}
