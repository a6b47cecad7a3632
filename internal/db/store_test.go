package db

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEnhancementPatchShape(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	patch := enhancementPatch(map[string]interface{}{
		"research": map[string]interface{}{"summary": "niche is viable"},
	}, 0.7, at)

	raw, err := json.Marshal(patch)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if decoded["ai_confidence_score"] != 0.7 {
		t.Errorf("confidence = %v", decoded["ai_confidence_score"])
	}
	if decoded["enhancement_timestamp"] != "2026-03-01T12:30:00Z" {
		t.Errorf("timestamp = %v", decoded["enhancement_timestamp"])
	}
	analysis, ok := decoded["ai_analysis"].(map[string]interface{})
	if !ok {
		t.Fatalf("ai_analysis missing: %v", decoded)
	}
	if _, ok := analysis["research"]; !ok {
		t.Error("research result missing from analysis")
	}
}

func TestScanOpportunityDecodesMetadata(t *testing.T) {
	// Simulate a row scan; scanOpportunity must produce a non-nil metadata map
	// even when the column is empty.
	scan := func(dest ...interface{}) error {
		if raw, ok := dest[8].(*[]byte); ok {
			*raw = nil
		}
		return nil
	}

	o, err := scanOpportunity(scan)
	if err != nil {
		t.Fatalf("scanOpportunity failed: %v", err)
	}
	if o.Metadata == nil {
		t.Fatal("metadata map should never be nil")
	}
}
