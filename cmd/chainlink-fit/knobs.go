package main

import (
	"fmt"
	"math"
	"strings"

	approx "github.com/cwbudde/algo-approx"

	"github.com/cwbudde/algo-chainlink/preset"
)

const (
	weightKnobPrefix = "weight."
	crossfadeKnob    = "crossfade_ms"
)

// knobDef bounds one searched value. Log knobs are searched uniformly in
// log space, which suits multiplicative weights.
type knobDef struct {
	Name string
	Min  float64
	Max  float64
	Log  bool
}

type candidate struct {
	Vals []float64
}

// parseOptimizeGroups parses a comma-separated string of group names.
// Valid groups: weights, crossfade.
func parseOptimizeGroups(raw string) (map[string]bool, error) {
	valid := map[string]bool{"weights": true, "crossfade": true}
	groups := make(map[string]bool)
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !valid[s] {
			return nil, fmt.Errorf("unknown optimize group %q (valid: weights, crossfade)", s)
		}
		groups[s] = true
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("no optimize groups specified")
	}
	return groups, nil
}

// initCandidate returns the knob layout for the active groups and the
// starting point taken from base.
func initCandidate(base *preset.Params, groups map[string]bool, minWeight, maxWeight float64) ([]knobDef, candidate) {
	defs := make([]knobDef, 0, len(base.Weights)+1)
	vals := make([]float64, 0, len(base.Weights)+1)

	if groups["weights"] {
		for i, name := range preset.DimensionNames(base.Features) {
			defs = append(defs, knobDef{Name: weightKnobPrefix + name, Min: minWeight, Max: maxWeight, Log: true})
			vals = append(vals, base.Weights[i])
		}
	}
	if groups["crossfade"] {
		defs = append(defs, knobDef{Name: crossfadeKnob, Min: 0, Max: 25})
		vals = append(vals, base.CrossfadeMs)
	}

	for i := range vals {
		vals[i] = clamp(vals[i], defs[i].Min, defs[i].Max)
	}
	return defs, candidate{Vals: vals}
}

// applyCandidate returns a copy of base with the knob values written in.
func applyCandidate(base *preset.Params, defs []knobDef, c candidate) *preset.Params {
	p := cloneParams(base)
	for i, def := range defs {
		v := c.Vals[i]
		switch {
		case def.Name == crossfadeKnob:
			p.CrossfadeMs = v
		case strings.HasPrefix(def.Name, weightKnobPrefix):
			dim := strings.TrimPrefix(def.Name, weightKnobPrefix)
			for j, name := range preset.DimensionNames(p.Features) {
				if name == dim {
					p.Weights[j] = v
				}
			}
		}
	}
	return p
}

// fromNormalized maps a mayfly position in [0,1]^n onto knob values.
func fromNormalized(pos []float64, defs []knobDef) candidate {
	vals := make([]float64, len(defs))
	for i := range defs {
		x := 0.0
		if i < len(pos) {
			x = clamp(pos[i], 0, 1)
		}
		d := defs[i]
		if d.Log && d.Min > 0 {
			lo, hi := math.Log(d.Min), math.Log(d.Max)
			v := float64(approx.FastExp(float32(lo + x*(hi-lo))))
			vals[i] = clamp(v, d.Min, d.Max)
			continue
		}
		vals[i] = d.Min + x*(d.Max-d.Min)
	}
	return candidate{Vals: vals}
}

func cloneParams(src *preset.Params) *preset.Params {
	d := *src
	d.Weights = append(d.Weights[:0:0], src.Weights...)
	return &d
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
