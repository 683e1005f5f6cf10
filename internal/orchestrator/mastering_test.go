package orchestrator

import (
	"testing"

	"github.com/aurorafeed/broadcast-core/internal/normalize"
)

func TestValueOrZero(t *testing.T) {
	if got := valueOrZero(nil); got != 0 {
		t.Errorf("valueOrZero(nil) = %v, want 0", got)
	}
	v := 42.5
	if got := valueOrZero(&v); got != 42.5 {
		t.Errorf("valueOrZero(&42.5) = %v, want 42.5", got)
	}
}

func TestMasteringTargets_SpeechVsMusic(t *testing.T) {
	if speechTargetLUFS == musicTargetLUFS {
		t.Fatal("speech and music targets must differ")
	}
	if speechTargetLUFS >= 0 || musicTargetLUFS >= 0 {
		t.Errorf("LUFS targets must be negative, got speech=%v music=%v", speechTargetLUFS, musicTargetLUFS)
	}
	if peakCeilingDBTP >= 0 {
		t.Errorf("peak ceiling must be negative dBTP, got %v", peakCeilingDBTP)
	}
	if lufsTolerance <= 0 {
		t.Errorf("lufs tolerance must be positive, got %v", lufsTolerance)
	}
}

func TestNewMasteringOrchestrator_DefaultsWorkDir(t *testing.T) {
	o := NewMasteringOrchestrator(nil, nil, nil, normalize.Options{}, "")
	if o.workDir == "" {
		t.Error("expected a non-empty default workDir")
	}
}
