package models

import "testing"

func TestStatusTransitions(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusNew, StatusEnhancing},
		{StatusEnhancing, StatusEnhanced},
		{StatusEnhancing, StatusEnhancementFailed},
		{StatusEnhancementFailed, StatusEnhancing},
	}
	for _, tc := range allowed {
		if !tc.from.CanTransitionTo(tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	forbidden := []struct{ from, to Status }{
		{StatusNew, StatusEnhanced},
		{StatusNew, StatusEnhancementFailed},
		{StatusEnhanced, StatusEnhancing},
		{StatusEnhanced, StatusNew},
		{StatusEnhancing, StatusNew},
		{StatusEnhancementFailed, StatusEnhanced},
	}
	for _, tc := range forbidden {
		if tc.from.CanTransitionTo(tc.to) {
			t.Errorf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
	}
}

func TestCompetitionLevelValid(t *testing.T) {
	for _, lvl := range []CompetitionLevel{CompetitionUnset, CompetitionLow, CompetitionMedium, CompetitionHigh} {
		if !lvl.Valid() {
			t.Errorf("%q should be valid", lvl)
		}
	}
	if CompetitionLevel("extreme").Valid() {
		t.Error("unexpected level should be invalid")
	}
}
