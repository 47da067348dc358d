package version

import (
	"fmt"
	"strings"
)

// Build-time injected information, set with -ldflags "-X github.com/replicate/rget/pkg/version.Version=..."
var (
	Version    string
	CommitHash string
	BuildTime  string
	Prerelease string
	Snapshot   string
	OS         string
	Arch       string
	Branch     string
)

// Info is a snapshot of the build information.
type Info struct {
	Version    string
	CommitHash string
	BuildTime  string
	Prerelease string
	Snapshot   bool
	OS         string
	Arch       string
	Branch     string
}

func Get() Info {
	return Info{
		Version:    Version,
		CommitHash: CommitHash,
		BuildTime:  BuildTime,
		Prerelease: Prerelease,
		Snapshot:   Snapshot == "true",
		OS:         OS,
		Arch:       Arch,
		Branch:     Branch,
	}
}

// String renders the version as version(commit)[-prerelease|-snapshot][[branch]][/os-arch].
func (i Info) String() string {
	var b strings.Builder
	v := i.Version
	if v == "" {
		v = "dev"
	}
	fmt.Fprintf(&b, "%s(%s)", v, i.CommitHash)
	switch {
	case i.Prerelease != "":
		fmt.Fprintf(&b, "-%s", i.Prerelease)
	case i.Snapshot:
		b.WriteString("-snapshot")
	}
	if i.Branch != "" && i.Branch != "main" && i.Branch != "HEAD" {
		fmt.Fprintf(&b, "[%s]", i.Branch)
	}
	switch {
	case i.OS != "" && i.Arch != "":
		fmt.Fprintf(&b, "/%s-%s", i.OS, i.Arch)
	case i.OS != "":
		fmt.Fprintf(&b, "/%s", i.OS)
	}
	return b.String()
}

// GetVersion returns the version information in a human consumable way.
func GetVersion() string {
	return Get().String()
}

// UserAgent is sent with every request.
func UserAgent() string {
	return fmt.Sprintf("rget/%s", GetVersion())
}
