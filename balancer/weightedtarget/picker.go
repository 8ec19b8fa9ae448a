/*
 *
 * Copyright 2020 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package weightedtarget

import (
	"math/rand"
	"sort"

	"github.com/corelb/lbtree/balancer"
)

// weightedPicker holds a prefix-sum table over a set of children's weights
// and picks among them by binary search on a per-call random key, the
// stateless WRR scheme the specification requires (§4.6): O(log n) per
// pick, no scheduler state to rebuild between ticks.
type weightedPicker struct {
	pickers []weightedChildPicker
	total   uint32
}

type weightedChildPicker struct {
	cumulativeWeight uint32
	picker           balancer.Picker
}

func newWeightedPicker(children map[string]childPickerEntry) *weightedPicker {
	names := make([]string, 0, len(children))
	for name := range children {
		names = append(names, name)
	}
	sort.Strings(names)

	wp := &weightedPicker{pickers: make([]weightedChildPicker, 0, len(names))}
	var sum uint32
	for _, name := range names {
		c := children[name]
		sum += c.weight
		wp.pickers = append(wp.pickers, weightedChildPicker{cumulativeWeight: sum, picker: c.picker})
	}
	wp.total = sum
	return wp
}

type childPickerEntry struct {
	weight uint32
	picker balancer.Picker
}

func (p *weightedPicker) Pick(info balancer.PickInfo) (balancer.PickResult, error) {
	if len(p.pickers) == 0 || p.total == 0 {
		return balancer.PickResult{}, balancer.ErrNoSubConnAvailable
	}
	key := uint32(rand.Int63n(int64(p.total)))
	// Binary search for the first index whose cumulative weight exceeds
	// key, so a key equal to a prefix sum lands on the next child. Index 0
	// is the fallback if no entry satisfies that, which cannot happen
	// while key < total.
	index := sort.Search(len(p.pickers), func(i int) bool {
		return p.pickers[i].cumulativeWeight > key
	})
	if index == len(p.pickers) || p.pickers[index].cumulativeWeight <= key {
		index = 0
	}
	return p.pickers[index].picker.Pick(info)
}

type queuePicker struct{}

func (*queuePicker) Pick(balancer.PickInfo) (balancer.PickResult, error) {
	return balancer.PickResult{}, balancer.ErrNoSubConnAvailable
}
