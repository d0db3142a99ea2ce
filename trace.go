// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nettrace

import "sort"

// assembleTrace performs the final assembly pass: stable sort by
// timestamp (ties retain stream order), then resolve every event's
// stack.
func assembleTrace(d *decoder) (*Trace, error) {
	sort.SliceStable(d.events, func(i, j int) bool {
		return d.events[i].TimeStampNs < d.events[j].TimeStampNs
	})

	for _, ev := range d.events {
		ev.Stack = d.resolver.resolveStack(ev.StackIndex)
	}

	return &Trace{
		Metadata:      d.traceMetadata,
		EventMetadata: d.eventMetadata,
		Events:        d.events,
	}, nil
}
