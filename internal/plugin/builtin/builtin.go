// Package builtin provides the statically registered capability
// implementations shipped with the core. Each implementation registers
// itself with a name and a constructor closure; there is no reflective
// discovery.
package builtin

import (
	"geneforge/internal/plugin"
)

// RegisterAll adds every builtin factory to the registry's static
// registration table. Call once at startup, then Discover.
func RegisterAll(r *plugin.Registry) {
	r.MustRegisterFactory("gc_content", NewGCContent)
	r.MustRegisterFactory("remote_annotator", NewRemoteAnnotator)
	r.MustRegisterFactory("responder", func(creds map[string]string) (plugin.Capability, error) {
		return NewResponder(DefaultResponses), nil
	})
	r.MustRegisterFactory("sequence_normalizer", NewSequenceNormalizer)
}
