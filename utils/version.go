package utils

// Build information, set at link time with
// -ldflags "-X github.com/alpacahq/colstore/utils.Tag=..."
var (
	Tag        = "dev"
	GitHash    = "unknown"
	BuildStamp = "unknown"
)
