// Package utils provides bespoke, one off utils that don't make sense to be
// their own package
package utils

// Build metadata, overridden at link time via -ldflags. Version is also
// stamped into every cassette so a recording names the build that wrote it.
var (
	Version   = "dev"
	Sha       = "HEAD"
	Buildtime = "dev"
)
