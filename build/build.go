// Package build reports which binary is running. Version is meant to be set
// at link time:
//
//	go build -ldflags "-X github.com/amp-labs/amp-fsm/build.Version=v1.2.3" ./cmd/fsmdemo
//
// Everything else comes from the build information the Go toolchain embeds.
package build

import (
	"log/slog"
	"runtime/debug"
)

// Version of the binary, "dev" unless set with -ldflags.
var Version = "dev" //nolint:gochecknoglobals

// Info contains build metadata of the running binary.
type Info struct {
	Version      string            `json:"version"`
	Module       string            `json:"module"`
	GoVersion    string            `json:"go_version"` //nolint:tagliatelle
	Revision     string            `json:"revision"`
	Time         string            `json:"time"`
	Modified     bool              `json:"modified"`
	Dependencies map[string]string `json:"dependencies"`
}

// Read collects the build metadata. The second result is false when the
// binary carries no build information, in which case only Version is set.
func Read() (*Info, bool) {
	info := &Info{Version: Version}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info, false
	}

	fromBuildInfo(info, bi)

	return info, true
}

func fromBuildInfo(info *Info, bi *debug.BuildInfo) {
	info.Module = bi.Main.Path
	info.GoVersion = bi.GoVersion

	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}

	for _, setting := range bi.Settings {
		switch setting.Key {
		case "vcs.revision":
			info.Revision = setting.Value
		case "vcs.time":
			info.Time = setting.Value
		case "vcs.modified":
			info.Modified = setting.Value == "true"
		}
	}

	if len(bi.Deps) > 0 {
		info.Dependencies = make(map[string]string, len(bi.Deps))

		for _, dep := range bi.Deps {
			version := dep.Version
			if dep.Replace != nil {
				version = dep.Replace.Path + "@" + dep.Replace.Version
			}

			info.Dependencies[dep.Path] = version
		}
	}
}

// LogValue keeps log lines short: dependencies are left out.
func (i *Info) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("version", i.Version),
		slog.String("go_version", i.GoVersion),
		slog.String("revision", i.Revision),
		slog.Bool("modified", i.Modified),
	)
}
