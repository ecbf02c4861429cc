package model

import "testing"

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusDiscovered, StatusScored, true},
		{StatusScored, StatusNotified, true},
		{StatusNotified, StatusApplied, true},
		{StatusApplied, StatusWon, true},
		{StatusApplied, StatusRejected, true},
		{StatusNotified, StatusScored, false},
		{StatusWon, StatusDiscovered, false},
		{StatusScored, StatusScored, true},
		{Status("bogus"), StatusScored, false},
		{StatusScored, Status("bogus"), false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.ok {
			t.Errorf("%s -> %s = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusDiscovered, StatusScored, StatusNotified, StatusApplied, StatusWon, StatusRejected} {
		if !s.Valid() {
			t.Errorf("%s reported invalid", s)
		}
	}
	if Status("nope").Valid() {
		t.Error("unknown status reported valid")
	}
}

func TestNaturalKey(t *testing.T) {
	if got := NaturalKey("remotive", "123"); got != "remotive_123" {
		t.Errorf("NaturalKey = %q", got)
	}
}

func TestValidate(t *testing.T) {
	o := Opportunity{NaturalKey: "remotive_1", Platform: "remotive", Title: "Dev"}
	if err := o.Validate(); err != nil {
		t.Fatalf("valid record rejected: %v", err)
	}
	if o.BudgetType != BudgetUnknown {
		t.Errorf("empty budget type not defaulted: %q", o.BudgetType)
	}

	missing := Opportunity{Platform: "remotive", Title: "Dev"}
	if err := missing.Validate(); err == nil {
		t.Error("missing natural key accepted")
	}

	bad := Opportunity{NaturalKey: "x_1", Platform: "x", Title: "Dev"}
	score := 150
	bad.Score = &score
	bad.ScoreReason = "r"
	if err := bad.Validate(); err == nil {
		t.Error("out-of-range score accepted")
	}

	noReason := Opportunity{NaturalKey: "x_1", Platform: "x", Title: "Dev"}
	ok := 80
	noReason.Score = &ok
	if err := noReason.Validate(); err == nil {
		t.Error("scored record without reason accepted")
	}
}
