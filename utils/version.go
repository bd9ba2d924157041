package utils

// Set at build time with -ldflags "-X github.com/ledgerd/bookie/utils.Tag=...".
var (
	Tag        = "dev"
	GitHash    = "unknown"
	BuildStamp = "unknown"
)
