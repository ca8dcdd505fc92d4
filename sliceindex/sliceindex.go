// Package sliceindex implements the §4.J index/slice algebra: composing
// a parent slice with a child slice or integer index into a single
// slice over the original axis, with Python's slice.indices()
// start/stop/step normalization and clamping.
package sliceindex

import "fmt"

// Slice is a half-open, possibly-unbounded range with a step, using nil
// to mean "unset" the way Python's slice(start, stop, step) does.
// Negative Start/Stop are interpreted relative to the axis length, same
// as Python.
type Slice struct {
	Start *int64
	Stop  *int64
	Step  int64 // 0 is treated as the default, 1
}

// Int returns the length-1 virtual slice an integer index collapses to
// (spec §4.J "Integer indexing collapses to a length-1 virtual slice").
func Int(i int64) Slice {
	start := i
	stop := i + 1
	if i == -1 {
		// stop=i+1=0 would select nothing: start normalizes to n-1
		// while a stop of 0 stays 0. Represent "last element" with a nil
		// stop, which Resolve treats as "through the end" for a positive
		// step.
		return Slice{Start: &start, Step: 1}
	}
	return Slice{Start: &start, Stop: &stop, Step: 1}
}

// Resolved is a slice with every field made concrete against a known
// axis length n: the selected indices are exactly
// Start, Start+Step, Start+2*Step, ... for Count terms.
type Resolved struct {
	Start, Step, Count int64
}

// Indices materializes the concrete sample indices r selects.
func (r Resolved) Indices() []int64 {
	out := make([]int64, r.Count)
	for i := range out {
		out[i] = r.Start + int64(i)*r.Step
	}
	return out
}

func step(s Slice) int64 {
	if s.Step == 0 {
		return 1
	}
	return s.Step
}

// Resolve normalizes s against an axis of length n into concrete
// (start, step, count) bounds, following CPython's slice.indices()
// algorithm (spec §4.J "preserving start/stop/step semantics and
// clamping to length").
func Resolve(s Slice, n int64) (Resolved, error) {
	st := step(s)
	if st == 0 {
		return Resolved{}, fmt.Errorf("sliceindex: step must not be zero")
	}

	var lower, upper int64
	if st > 0 {
		lower, upper = 0, n
	} else {
		lower, upper = -1, n-1
	}

	var start int64
	if s.Start == nil {
		if st < 0 {
			start = upper
		} else {
			start = lower
		}
	} else {
		start = *s.Start
		if start < 0 {
			start += n
			if start < lower {
				start = lower
			}
		} else if start > upper {
			start = upper
		}
	}

	var stop int64
	if s.Stop == nil {
		if st < 0 {
			stop = lower
		} else {
			stop = upper
		}
	} else {
		stop = *s.Stop
		if stop < 0 {
			stop += n
			if stop < lower {
				stop = lower
			}
		} else if stop > upper {
			stop = upper
		}
	}

	var count int64
	if st > 0 {
		if stop > start {
			count = (stop - start + st - 1) / st
		}
	} else {
		if start > stop {
			count = (start - stop + (-st) - 1) / (-st)
		}
	}

	return Resolved{Start: start, Step: st, Count: count}, nil
}

// Merge composes a parent slice s1 (resolved against axis length n)
// with a child slice/integer s2 (resolved positionally against s1's
// result) into one Resolved slice over the original axis (spec §4.J:
// "resolve(merge(s1,s2), n) == resolve(s2, resolve(s1, n))").
func Merge(s1, s2 Slice, n int64) (Resolved, error) {
	r1, err := Resolve(s1, n)
	if err != nil {
		return Resolved{}, err
	}
	r2, err := Resolve(s2, r1.Count)
	if err != nil {
		return Resolved{}, err
	}
	return Resolved{
		Start: r1.Start + r2.Start*r1.Step,
		Step:  r1.Step * r2.Step,
		Count: r2.Count,
	}, nil
}
