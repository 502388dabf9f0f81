package version

// Version is overridden at build time with -ldflags "-X idxsync/internal/version.Version=...".
var Version = "dev"

func String() string {
	if Version == "" {
		return "dev"
	}
	return Version
}
