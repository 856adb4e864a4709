package version

import "fmt"

const (
	snapshotString = "snapshot"
)

var (
	// Build-time injected information
	Version    string
	CommitHash string
	BuildTime  string
	Prerelease string
	Snapshot   string
	OS         string
	Arch       string
	Branch     string
)

// Info is the build information baked into a binary.
type Info struct {
	Version    string
	CommitHash string
	Prerelease string
	Snapshot   string
	OS         string
	Arch       string
	Branch     string
}

func current() Info {
	return Info{
		Version:    Version,
		CommitHash: CommitHash,
		Prerelease: Prerelease,
		Snapshot:   Snapshot,
		OS:         OS,
		Arch:       Arch,
		Branch:     Branch,
	}
}

// GetVersion returns the version information in a human consumable way. It is printed by
// `pgrab version` and sent as part of the User-Agent.
func GetVersion() string {
	return current().String()
}

// UserAgent is the User-Agent header value sent with every request.
func UserAgent() string {
	return fmt.Sprintf("pgrab/%s", GetVersion())
}

func (i Info) String() string {
	if i.Version == "" {
		i.Version = "dev"
	}
	s := i.Version
	if i.CommitHash != "" {
		s = fmt.Sprintf("%s(%s)", s, i.CommitHash)
	}
	switch {
	case i.Prerelease != "":
		s = fmt.Sprintf("%s-%s", s, i.Prerelease)
	case i.Snapshot == "true":
		s = fmt.Sprintf("%s-%s", s, snapshotString)
	}

	if i.Branch != "" && i.Branch != "main" && i.Branch != "HEAD" {
		s = fmt.Sprintf("%s[%s]", s, i.Branch)
	}

	switch {
	case i.OS != "" && i.Arch != "":
		s = fmt.Sprintf("%s/%s-%s", s, i.OS, i.Arch)
	case i.OS != "":
		s = fmt.Sprintf("%s/%s", s, i.OS)
	}
	return s
}
