package app

import (
	"runtime/debug"
	"testing"
)

func stubBuildInfo(t *testing.T, version, buildDate string, info *debug.BuildInfo) {
	t.Helper()
	origVersion, origDate, origRead := Version, BuildDate, readBuildInfo
	t.Cleanup(func() {
		Version, BuildDate, readBuildInfo = origVersion, origDate, origRead
	})
	Version = version
	BuildDate = buildDate
	readBuildInfo = func() (*debug.BuildInfo, bool) {
		return info, info != nil
	}
}

func vcsInfo(settings ...string) *debug.BuildInfo {
	info := &debug.BuildInfo{Main: debug.Module{Path: "github.com/skobkin/myolink", Version: "(devel)"}}
	for i := 0; i+1 < len(settings); i += 2 {
		info.Settings = append(info.Settings, debug.BuildSetting{Key: settings[i], Value: settings[i+1]})
	}
	return info
}

func TestBuildVersion(t *testing.T) {
	tests := []struct {
		name    string
		version string
		info    *debug.BuildInfo
		want    string
	}{
		{name: "ldflags value wins", version: " 1.2.3 ", info: vcsInfo("vcs.revision", "abc"), want: "1.2.3"},
		{name: "no build info", version: "", want: "dev"},
		{
			name:    "module version from go install",
			version: "dev",
			info:    &debug.BuildInfo{Main: debug.Module{Version: "v0.3.0"}},
			want:    "v0.3.0",
		},
		{
			name:    "short vcs revision",
			version: "dev",
			info:    vcsInfo("vcs.revision", "0123456789abcdef0123", "vcs.modified", "false"),
			want:    "dev-0123456789ab",
		},
		{
			name:    "dirty tree",
			version: "",
			info:    vcsInfo("vcs.revision", "cafe", "vcs.modified", "true"),
			want:    "dev-cafe-dirty",
		},
		{name: "devel without vcs", version: "dev", info: vcsInfo(), want: "dev"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stubBuildInfo(t, tt.version, "", tt.info)
			if got := BuildVersion(); got != tt.want {
				t.Fatalf("BuildVersion() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildDateYMD(t *testing.T) {
	tests := []struct {
		name string
		in   string
		info *debug.BuildInfo
		want string
	}{
		{name: "empty stays empty", in: "", want: ""},
		{name: "rfc3339 formatted", in: "2026-01-30T14:55:03Z", want: "2026-01-30"},
		{name: "date only", in: "2026-01-30", want: "2026-01-30"},
		{name: "unknown format returns as is", in: "not-a-date", want: "not-a-date"},
		{name: "vcs commit time", in: "", info: vcsInfo("vcs.time", "2026-03-04T22:10:00Z"), want: "2026-03-04"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stubBuildInfo(t, "1.0.0", tt.in, tt.info)
			if got := BuildDateYMD(); got != tt.want {
				t.Fatalf("BuildDateYMD() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildVersionWithDate(t *testing.T) {
	stubBuildInfo(t, "0.1.2", "2026-01-30T14:55:03Z", nil)
	if got := BuildVersionWithDate(); got != "0.1.2 (2026-01-30)" {
		t.Fatalf("BuildVersionWithDate() = %q", got)
	}

	stubBuildInfo(t, "dev", "", vcsInfo("vcs.revision", "beef"))
	if got := BuildVersionWithDate(); got != "dev-beef" {
		t.Fatalf("BuildVersionWithDate() without date = %q", got)
	}
}
