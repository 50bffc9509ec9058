package projections

import "sort"

// positions keeps the last handled event number per stream in a stable
// iteration order.
type positions struct {
	order []string
	at    map[string]int64
}

func newPositions() *positions {
	return &positions{at: map[string]int64{}}
}

// merge puts the resolved streams first, in order, followed by any stream
// already tracked. Known streams keep their position, new ones start at 0.
func (p *positions) merge(names []string) {
	order := make([]string, 0, len(names)+len(p.order))
	listed := make(map[string]bool, len(names))
	for _, n := range names {
		if listed[n] {
			continue
		}
		listed[n] = true
		order = append(order, n)
		if _, ok := p.at[n]; !ok {
			p.at[n] = 0
		}
	}
	for _, n := range p.order {
		if !listed[n] {
			order = append(order, n)
		}
	}
	p.order = order
}

// overlay applies checkpointed positions, which win over in-memory ones.
func (p *positions) overlay(saved map[string]int64) {
	var extra []string
	for n, no := range saved {
		if _, ok := p.at[n]; !ok {
			extra = append(extra, n)
		}
		p.at[n] = no
	}
	sort.Strings(extra)
	p.order = append(p.order, extra...)
}

func (p *positions) set(name string, no int64) { p.at[name] = no }

func (p *positions) get(name string) int64 { return p.at[name] }

func (p *positions) names() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

func (p *positions) snapshot() map[string]int64 {
	out := make(map[string]int64, len(p.at))
	for k, v := range p.at {
		out[k] = v
	}
	return out
}

func (p *positions) reset() {
	p.order = nil
	p.at = map[string]int64{}
}
