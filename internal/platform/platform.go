package platform

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v4/host"
)

// Info describes the host.
type Info struct {
	OS   string `yaml:"os"`
	Arch string `yaml:"arch"`
	// Distribution fields are filled on Linux only, and only when detection succeeds.
	Distro        string `yaml:"distro,omitempty"`
	Family        string `yaml:"family,omitempty"`
	DistroVersion string `yaml:"distro_version,omitempty"`
}

// String renders the host as os/arch, plus the distribution when known.
func (i *Info) String() string {
	s := i.OS + "/" + i.Arch
	if i.Distro != "" {
		s += " (" + i.Distro + " " + i.DistroVersion + ")"
	}

	return s
}

// Detector produces host information.
type Detector interface {
	Detect(ctx context.Context) (*Info, error)
}

// HostDetector reads the running host with gopsutil.
type HostDetector struct{}

// Detect returns the running host's facts.
// A failed distribution lookup is not an error; a cancelled context is.
func (HostDetector) Detect(ctx context.Context) (*Info, error) {
	info := &Info{
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
	}

	if runtime.GOOS != "linux" {
		return info, nil
	}

	distro, family, distroVersion, err := host.PlatformInformationWithContext(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("detect platform: %w", ctx.Err())
		}

		return info, nil
	}

	info.Distro = strings.ToLower(strings.TrimSpace(distro))
	info.Family = strings.ToLower(strings.TrimSpace(family))
	info.DistroVersion = strings.TrimSpace(distroVersion)

	return info, nil
}

// Static always returns the same Info. Tests use it to pin the host.
type Static Info

// Detect returns a copy of s.
func (s Static) Detect(context.Context) (*Info, error) {
	info := Info(s)

	return &info, nil
}
