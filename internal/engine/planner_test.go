package engine

import (
	"testing"
	"time"
)

func TestComputeSchedule_CumulativeDelays(t *testing.T) {
	enrolled := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	steps := []SequenceStep{
		{StepIndex: 0, DelayAmount: 0, DelayUnit: "minute"},
		{StepIndex: 1, DelayAmount: 30, DelayUnit: "minute"},
		{StepIndex: 2, DelayAmount: 1, DelayUnit: "day"},
	}

	planned, err := ComputeSchedule(enrolled, steps)
	if err != nil {
		t.Fatalf("ComputeSchedule: %v", err)
	}
	if len(planned) != 3 {
		t.Fatalf("got %d planned steps, want 3", len(planned))
	}

	want := []time.Time{
		enrolled,
		enrolled.Add(30 * time.Minute),
		enrolled.Add(30*time.Minute + 24*time.Hour),
	}
	for i, ps := range planned {
		if !ps.DueAt.Equal(want[i]) {
			t.Errorf("step %d due at %v, want %v", i, ps.DueAt, want[i])
		}
	}
}

func TestComputeSchedule_UnitsConvert(t *testing.T) {
	enrolled := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	steps := []SequenceStep{
		{StepIndex: 0, DelayAmount: 2, DelayUnit: "hour"},
		{StepIndex: 1, DelayAmount: 3, DelayUnit: "day"},
	}

	planned, err := ComputeSchedule(enrolled, steps)
	if err != nil {
		t.Fatalf("ComputeSchedule: %v", err)
	}
	if got, want := planned[0].DueAt, enrolled.Add(2*time.Hour); !got.Equal(want) {
		t.Errorf("step 0 due at %v, want %v", got, want)
	}
	if got, want := planned[1].DueAt, enrolled.Add(2*time.Hour+72*time.Hour); !got.Equal(want) {
		t.Errorf("step 1 due at %v, want %v", got, want)
	}
}

func TestComputeSchedule_EmptySequence(t *testing.T) {
	_, err := ComputeSchedule(time.Now(), nil)
	if !IsValidation(err) {
		t.Errorf("expected validation error for empty sequence, got %v", err)
	}
}

func TestComputeSchedule_NegativeDelay(t *testing.T) {
	steps := []SequenceStep{{StepIndex: 0, DelayAmount: -5, DelayUnit: "minute"}}
	_, err := ComputeSchedule(time.Now(), steps)
	if !IsValidation(err) {
		t.Errorf("expected validation error for negative delay, got %v", err)
	}
}

func TestComputeSchedule_UnknownUnit(t *testing.T) {
	steps := []SequenceStep{{StepIndex: 0, DelayAmount: 1, DelayUnit: "fortnight"}}
	_, err := ComputeSchedule(time.Now(), steps)
	if !IsValidation(err) {
		t.Errorf("expected validation error for unknown unit, got %v", err)
	}
}

func TestStepDelay(t *testing.T) {
	tests := []struct {
		amount  int
		unit    string
		want    time.Duration
		wantErr bool
	}{
		{0, "minute", 0, false},
		{45, "minute", 45 * time.Minute, false},
		{6, "hour", 6 * time.Hour, false},
		{2, "day", 48 * time.Hour, false},
		{-1, "hour", 0, true},
		{1, "week", 0, true},
		{1, "", 0, true},
	}

	for _, tt := range tests {
		d, err := SequenceStep{DelayAmount: tt.amount, DelayUnit: tt.unit}.Delay()
		if (err != nil) != tt.wantErr {
			t.Errorf("Delay(%d %q) error = %v, wantErr %v", tt.amount, tt.unit, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && d != tt.want {
			t.Errorf("Delay(%d %q) = %v, want %v", tt.amount, tt.unit, d, tt.want)
		}
	}
}
