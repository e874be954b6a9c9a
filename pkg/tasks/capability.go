package tasks

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Capability is an aspect of book metadata that a refresh may touch.
type Capability string

const (
	CapabilityTitle            Capability = "TITLE"
	CapabilityTitleSort        Capability = "TITLE_SORT"
	CapabilitySummary          Capability = "SUMMARY"
	CapabilityNumber           Capability = "NUMBER"
	CapabilityNumberSort       Capability = "NUMBER_SORT"
	CapabilityReadingDirection Capability = "READING_DIRECTION"
	CapabilityPublisher        Capability = "PUBLISHER"
	CapabilityAgeRating        Capability = "AGE_RATING"
	CapabilityReleaseDate      Capability = "RELEASE_DATE"
	CapabilityAuthors          Capability = "AUTHORS"
)

var allCapabilities = []Capability{
	CapabilityTitle,
	CapabilityTitleSort,
	CapabilitySummary,
	CapabilityNumber,
	CapabilityNumberSort,
	CapabilityReadingDirection,
	CapabilityPublisher,
	CapabilityAgeRating,
	CapabilityReleaseDate,
	CapabilityAuthors,
}

// ErrUnknownCapability is returned for a capability name this system does not know.
var ErrUnknownCapability = errors.New("tasks: unknown capability")

// AllCapabilities returns every known capability. It is the default selection of
// RefreshBookMetadata: refreshing without a selection refreshes everything.
func AllCapabilities() []Capability {
	return append([]Capability(nil), allCapabilities...)
}

// ParseCapability converts a case-insensitive name into a Capability.
func ParseCapability(s string) (Capability, error) {
	c := Capability(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCapability, s)
	}
	return c, nil
}

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	for _, known := range allCapabilities {
		if c == known {
			return true
		}
	}
	return false
}

// NormalizeCapabilities validates, deduplicates and sorts capabilities.
func NormalizeCapabilities(capabilities []Capability) ([]Capability, error) {
	seen := make(map[Capability]struct{}, len(capabilities))
	out := make([]Capability, 0, len(capabilities))
	for _, c := range capabilities {
		if !c.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCapability, string(c))
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// encodeCapabilities joins capabilities in sorted order. The input is copied before sorting.
func encodeCapabilities(capabilities []Capability) string {
	names := make([]string, len(capabilities))
	for i, c := range capabilities {
		names[i] = string(c)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}
