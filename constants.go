package udi

import "github.com/ehrlich-b/go-udi/internal/constants"

// Re-exported constants for callers who need the protocol version or
// default environment/file layout without reaching into internal.
const (
	ProtocolVersion = constants.ProtocolVersion1

	RequestFileName  = constants.RequestFileName
	ResponseFileName = constants.ResponseFileName
	EventsFileName   = constants.EventsFileName

	RootDirEnv = constants.RootDirEnv
)
