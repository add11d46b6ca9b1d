package formula

import (
	"maps"
	"time"
)

// Actor identifies who ran an install.
type Actor struct {
	Hostname string
	Username string
}

// Receipt records a finished install.
type Receipt struct {
	Name      string
	Version   string
	PURL      string
	SourceURL string
	// SHA256 is the verified source digest; empty for head builds.
	SHA256 string
	// Commit is the checked-out revision of a head build.
	Commit      string
	Head        bool
	InstallID   string
	InstalledAt time.Time
	InstalledBy *Actor
	Platform    string
	// Files maps each installed destination path to its base64 checksum.
	Files map[string]string
}

// Clone returns a deep copy of the receipt.
func (r *Receipt) Clone() *Receipt {
	if r == nil {
		return nil
	}

	cloned := *r

	if r.InstalledBy != nil {
		actor := *r.InstalledBy
		cloned.InstalledBy = &actor
	}

	cloned.Files = maps.Clone(r.Files)

	return &cloned
}

// Matches reports whether the receipt describes d as built from its release source.
func (r *Receipt) Matches(d *Descriptor) bool {
	return r != nil && !r.Head &&
		r.Name == d.Name &&
		r.Version == d.Version &&
		r.SourceURL == d.SourceURL() &&
		r.SHA256 == d.SHA256
}
