/*
 *
 * Copyright 2022 gRPC authors.
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

package wrrlocality

import (
	"math/rand"
	"sort"

	"github.com/corelb/lbtree/balancer"
)

// localityPicker holds a prefix-sum table over the READY localities' EDS
// weights and picks among them by binary search on a per-call random key,
// the same stateless scheme weighted_target's own picker uses.
type localityPicker struct {
	pickers []weightedLocalityPicker
	total   uint32
}

type weightedLocalityPicker struct {
	cumulativeWeight uint32
	picker           balancer.Picker
}

type localityPickerEntry struct {
	weight uint32
	picker balancer.Picker
}

func newLocalityPicker(localities map[string]localityPickerEntry) *localityPicker {
	names := make([]string, 0, len(localities))
	for name := range localities {
		names = append(names, name)
	}
	sort.Strings(names)

	lp := &localityPicker{pickers: make([]weightedLocalityPicker, 0, len(names))}
	var sum uint32
	for _, name := range names {
		l := localities[name]
		sum += l.weight
		lp.pickers = append(lp.pickers, weightedLocalityPicker{cumulativeWeight: sum, picker: l.picker})
	}
	lp.total = sum
	return lp
}

func (p *localityPicker) Pick(info balancer.PickInfo) (balancer.PickResult, error) {
	if len(p.pickers) == 0 || p.total == 0 {
		return balancer.PickResult{}, balancer.ErrNoSubConnAvailable
	}
	key := uint32(rand.Int63n(int64(p.total)))
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
