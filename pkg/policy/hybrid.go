package policy

import "slices"

// HybridPolicy decides, per dependency-type tag, whether a call is
// intercepted (mocked from the cassette) or passed through live during
// replay.
//
// Exactly one of MockPlugins (allow-list: only these are mocked) or
// LivePlugins (deny-list: only these stay live) is normally configured.
// With both empty, everything is mocked. If both are set, MockPlugins wins:
// an explicit allow-list beats a deny-list.
type HybridPolicy struct {
	MockPlugins []string
	LivePlugins []string
}

// ShouldMock reports whether calls tagged with the given dependency type
// should be served from the cassette during replay.
func (h HybridPolicy) ShouldMock(tag string) bool {
	if len(h.MockPlugins) > 0 {
		return slices.Contains(h.MockPlugins, tag)
	}
	if slices.Contains(h.LivePlugins, tag) {
		return false
	}
	return true
}

// MockEverything is the default hybrid policy: every dependency type is
// served from the cassette.
var MockEverything = HybridPolicy{}
