package models

import "time"

// Outcome is the result of one fail-soft pipeline stage: either the real
// upstream value or a fallback value together with the error that caused it.
type Outcome[T any] struct {
	Value  T
	Source Source
	Err    error
}

func Ok[T any](v T) Outcome[T] {
	return Outcome[T]{Value: v, Source: SourceReal}
}

func Degraded[T any](v T, err error) Outcome[T] {
	return Outcome[T]{Value: v, Source: SourceMock, Err: err}
}

func (o Outcome[T]) IsDegraded() bool {
	return o.Source == SourceMock
}

// Timing builds the timeline entry for the stage that produced o.
func (o Outcome[T]) Timing(start, end time.Time) *StageTiming {
	t := &StageTiming{StartTime: start, EndTime: end, Source: o.Source}
	if o.Err != nil {
		t.Error = o.Err.Error()
	}
	return t
}
