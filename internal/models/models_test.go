package models

import "testing"

func TestSegmentTransitionAllowed(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{SegmentQueued, SegmentRetrieving, true},
		{SegmentQueued, SegmentFailed, true},
		{SegmentQueued, SegmentReady, false},
		{SegmentRetrieving, SegmentGenerating, true},
		{SegmentGenerating, SegmentRendering, true},
		{SegmentRendering, SegmentNormalizing, true},
		{SegmentNormalizing, SegmentReady, true},
		{SegmentReady, SegmentAiring, true},
		{SegmentReady, SegmentFailed, false},
		{SegmentAiring, SegmentAired, true},
		{SegmentAired, SegmentArchived, true},
		{SegmentArchived, SegmentQueued, false},
		{SegmentFailed, SegmentQueued, true},
		{SegmentFailed, SegmentRetrieving, false},
		{"nonexistent", SegmentQueued, false},
	}
	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			got := SegmentTransitionAllowed(tt.from, tt.to)
			if got != tt.want {
				t.Errorf("SegmentTransitionAllowed(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}
