package version

// Set with -ldflags "-X vesrates/internal/version.Version=..." at build time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Info is the build identity reported by the CLI and the API.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// Get returns the current build identity.
func Get() Info {
	return Info{Version: Version, Commit: Commit, BuildDate: BuildDate}
}

// String renders the identity on one line.
func (i Info) String() string {
	return i.Version + " (" + i.Commit + ", " + i.BuildDate + ")"
}
