// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nettrace

import (
	"fmt"
	"sort"
)

// stackResolver holds two disjoint maps: stackIndex -> ordered
// instruction addresses, and address -> MethodDescription (as sorted,
// non-overlapping ranges), the same shape as resolving a symbol table
// entry from a section-relative address, generalized to JIT method
// ranges recovered from rundown events.
type stackResolver struct {
	stacks  map[int64][]uint64
	ranges  []methodRange
	sorted  bool
}

type methodRange struct {
	start, end uint64
	desc       MethodDescription
}

func newStackResolver() *stackResolver {
	return &stackResolver{stacks: make(map[int64][]uint64)}
}

// setStack registers the address list backing a (globally uniquified)
// stack index.
func (s *stackResolver) setStack(stackIndex int64, addrs []uint64) {
	s.stacks[stackIndex] = addrs
}

// insertMethod registers a symbol range from a rundown event, keyed by
// (start, start+size).
func (s *stackResolver) insertMethod(start, size uint64, desc MethodDescription) {
	s.ranges = append(s.ranges, methodRange{start: start, end: start + size, desc: desc})
	s.sorted = false
}

func (s *stackResolver) ensureSorted() {
	if s.sorted {
		return
	}
	sort.Slice(s.ranges, func(i, j int) bool { return s.ranges[i].start < s.ranges[j].start })
	s.sorted = true
}

// lookup returns the method description whose [start, end) range
// contains addr, or a synthetic description carrying the raw hex address
// when no range matches.
func (s *stackResolver) lookup(addr uint64) MethodDescription {
	s.ensureSorted()
	i := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].end > addr })
	if i < len(s.ranges) && s.ranges[i].start <= addr && addr < s.ranges[i].end {
		return s.ranges[i].desc
	}
	return MethodDescription{Name: fmt.Sprintf("0x%x", addr), Namespace: "<unknown>"}
}

// resolveStack turns a stack index into its list of symbolized frames.
// stackIndex == 0 conventionally means "no stack was captured" and
// resolves to nil, matching EventPipe's own no-stack sentinel.
func (s *stackResolver) resolveStack(stackIndex int64) []StackFrame {
	if stackIndex == 0 {
		return nil
	}
	addrs, ok := s.stacks[stackIndex]
	if !ok {
		return nil
	}
	frames := make([]StackFrame, len(addrs))
	for i, a := range addrs {
		frames[i] = StackFrame{Address: a, Method: s.lookup(a)}
	}
	return frames
}
