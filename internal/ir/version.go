package ir

// Version constants for the telemetry wire format and the release.
const (
	// WireVersion is the telemetry payload schema version. The collector
	// archives it with every batch.
	WireVersion = "1"

	// Version is the renderscan release reported in session descriptors.
	Version = "0.1.0"
)
