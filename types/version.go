package types

// Version is the canonical project version.
// The CLI, the stream dump format and the archived record schema share it.
const Version = "0.3.0"

// APIVersion is the path prefix of the voice service API this client speaks.
const APIVersion = "v20160207"
