package version

// Version contains the binary version injected by the build system via ldflags
var Version string

// GitCommit contains the git commit sha that the binary was built with, injected by the build system via ldflags
var GitCommit string

// GetVersion returns the version string with fallback logic:
// 1. If Version is set via ldflags, use it
// 2. Otherwise, use v0.1.0 as default
// 3. Append the short commit hash if available
func GetVersion() string {
	version := Version
	if version == "" {
		version = "v0.1.0"
	}

	if commit := shortCommit(GitCommit); commit != "" {
		return version + "-" + commit
	}
	return version
}

// UserAgent identifies the bridge towards the remote backend.
func UserAgent() string {
	return "girc-bridge/" + GetVersion()
}

func shortCommit(commit string) string {
	if len(commit) > 7 {
		return commit[:7]
	}
	return commit
}
