// Package format defines the detection rule formats the pipeline can
// translate between and the compatibility relation over them.
package format

import (
	"fmt"
	"strings"

	"github.com/rulebridge/rulebridge/errors"
)

// Format identifies a detection rule language.
type Format string

// Supported detection rule formats.
const (
	Splunk      Format = "splunk"
	QRadar      Format = "qradar"
	Sigma       Format = "sigma"
	KQL         Format = "kql"
	PaloAlto    Format = "paloalto"
	CrowdStrike Format = "crowdstrike"
	YARA        Format = "yara"
	YARAL       Format = "yara-l"
)

// All returns every known format in a stable order.
func All() []Format {
	return []Format{Splunk, QRadar, Sigma, KQL, PaloAlto, CrowdStrike, YARA, YARAL}
}

// Parse converts a raw string into a Format. Matching is case-insensitive
// and tolerates surrounding whitespace.
func Parse(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case Splunk, QRadar, Sigma, KQL, PaloAlto, CrowdStrike, YARA, YARAL:
		return f, nil
	}
	return "", errors.WrapInput(
		fmt.Errorf("%w: %q", errors.ErrUnknownFormat, s),
		"format", "Parse", "parse format name")
}

// String returns the wire name of the format.
func (f Format) String() string { return string(f) }

// IsValid reports whether f is one of the known formats.
func (f Format) IsValid() bool {
	_, err := Parse(string(f))
	return err == nil
}

// Pair is a directed (source, target) translation pair.
type Pair struct {
	Source Format
	Target Format
}

// CompatibilityMatrix is the set of translation pairs the pipeline accepts.
// The zero value supports nothing; build one with NewCompatibilityMatrix or
// use DefaultMatrix.
type CompatibilityMatrix struct {
	pairs map[Pair]struct{}
}

// NewCompatibilityMatrix builds a matrix from an explicit pair list.
func NewCompatibilityMatrix(pairs []Pair) *CompatibilityMatrix {
	m := &CompatibilityMatrix{pairs: make(map[Pair]struct{}, len(pairs))}
	for _, p := range pairs {
		m.pairs[p] = struct{}{}
	}
	return m
}

// Supported reports whether the matrix allows translating src into dst.
// Identity pairs are never supported.
func (m *CompatibilityMatrix) Supported(src, dst Format) bool {
	if m == nil || src == dst {
		return false
	}
	_, ok := m.pairs[Pair{Source: src, Target: dst}]
	return ok
}

// Pairs returns a copy of the allowed pair set.
func (m *CompatibilityMatrix) Pairs() []Pair {
	out := make([]Pair, 0, len(m.pairs))
	for p := range m.pairs {
		out = append(out, p)
	}
	return out
}

// DefaultMatrix returns the stock compatibility relation: the SIEM query
// languages translate among each other freely, while the YARA family only
// interchanges with itself and accepts Sigma as a source. Notably there is
// no path from Splunk to YARA.
func DefaultMatrix() *CompatibilityMatrix {
	siem := []Format{Splunk, QRadar, Sigma, KQL, PaloAlto, CrowdStrike}

	var pairs []Pair
	for _, src := range siem {
		for _, dst := range siem {
			if src != dst {
				pairs = append(pairs, Pair{Source: src, Target: dst})
			}
		}
	}

	pairs = append(pairs,
		Pair{Source: YARA, Target: YARAL},
		Pair{Source: YARAL, Target: YARA},
		Pair{Source: Sigma, Target: YARA},
		Pair{Source: Sigma, Target: YARAL},
	)

	return NewCompatibilityMatrix(pairs)
}
