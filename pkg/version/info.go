// Package version exposes the build metadata stamped into the repokit binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

const (
	Unknown            = "unknown"
	DevelopmentVersion = "dev"
)

// Set with -ldflags "-X github.com/nimburion/repokit/pkg/version.AppVersion=v1.2.3".
// Empty or unset values fall back to what the toolchain recorded.
var (
	AppVersion = DevelopmentVersion
	GitCommit  = Unknown
	BuildTime  = Unknown
)

var readBuildInfo = debug.ReadBuildInfo

// Info describes the running binary.
type Info struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// Current returns the metadata of this build for serviceName. Values stamped
// with ldflags win over the module version and VCS settings of the build info.
func Current(serviceName string) Info {
	info := Info{
		Service:   orDefault(serviceName, Unknown),
		Version:   orDefault(AppVersion, DevelopmentVersion),
		Commit:    orDefault(GitCommit, Unknown),
		BuildTime: orDefault(BuildTime, Unknown),
		GoVersion: runtime.Version(),
	}
	if bi, ok := readBuildInfo(); ok && bi != nil {
		info.fillFrom(bi)
	}
	return info
}

func (i *Info) fillFrom(bi *debug.BuildInfo) {
	if v := bi.Main.Version; i.Version == DevelopmentVersion && v != "" && v != "(devel)" {
		i.Version = v
	}
	fallbacks := map[string]*string{
		"vcs.revision": &i.Commit,
		"vcs.time":     &i.BuildTime,
	}
	for _, s := range bi.Settings {
		if dst, ok := fallbacks[s.Key]; ok && *dst == Unknown && s.Value != "" {
			*dst = s.Value
		}
	}
}

// String renders the info as service@version (commit=..., build_time=...).
func (i Info) String() string {
	return fmt.Sprintf("%s@%s (commit=%s, build_time=%s)", i.Service, i.Version, i.Commit, i.BuildTime)
}

func orDefault(v, fallback string) string {
	if v = strings.TrimSpace(v); v == "" {
		return fallback
	}
	return v
}
