package model

import (
	"errors"
	"testing"
)

func TestCanTransitionOnlyAllowsStateMachineEdges(t *testing.T) {
	states := []AnswerState{StateUnanswered, StateNeedsApproval, StateApproved, StateRejected, StateFailed}
	allowed := map[[2]AnswerState]bool{
		{StateUnanswered, StateNeedsApproval}: true,
		{StateUnanswered, StateApproved}:      true,
		{StateUnanswered, StateRejected}:      true,
		{StateUnanswered, StateFailed}:        true,
		{StateNeedsApproval, StateApproved}:   true,
		{StateNeedsApproval, StateRejected}:   true,
	}

	for _, from := range states {
		for _, to := range states {
			want := allowed[[2]AnswerState{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTerminalStates(t *testing.T) {
	cases := map[AnswerState]bool{
		StateUnanswered:    false,
		StateNeedsApproval: false,
		StateApproved:      true,
		StateRejected:      true,
		StateFailed:        true,
	}
	for state, want := range cases {
		if state.Terminal() != want {
			t.Fatalf("%s.Terminal() = %v, want %v", state, state.Terminal(), want)
		}
	}
}

func TestTransitionValidateWrapsSentinel(t *testing.T) {
	err := Transition{From: StateApproved, To: StateRejected}.Validate()
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
	if err := (Transition{From: StateNeedsApproval, To: StateApproved}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMessageDispatchable(t *testing.T) {
	msg := &Message{MessageID: "m1", SenderID: "u1", AnswerState: StateApproved, AnswerText: StringPtr("hi")}
	if !msg.Dispatchable() {
		t.Fatal("approved message with answer should be dispatchable")
	}
	msg.Dispatched = true
	if msg.Dispatchable() {
		t.Fatal("dispatched message must not be dispatchable again")
	}

	waiting := &Message{MessageID: "m2", SenderID: "u1", AnswerState: StateNeedsApproval, AnswerText: StringPtr("proposed")}
	if waiting.Dispatchable() {
		t.Fatal("needs_approval message must not be dispatchable")
	}

	noSender := &Message{MessageID: "m3", AnswerState: StateFailed, AnswerText: StringPtr("fallback")}
	if noSender.Dispatchable() {
		t.Fatal("message without sender cannot be dispatched")
	}
}

func TestKnowledgeEntryDocumentIDIsStable(t *testing.T) {
	a := KnowledgeEntry{Question: "hello hi hey howdy", Answer: "x"}
	b := KnowledgeEntry{Question: "hello hi hey howdy", Answer: "y"}
	if a.DocumentID() != b.DocumentID() {
		t.Fatal("document id must depend on question only")
	}
	if len(a.DocumentID()) != 32 {
		t.Fatalf("expected md5 hex id, got %q", a.DocumentID())
	}
}
