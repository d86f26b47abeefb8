package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	info := Get()

	if info.Version == "" {
		t.Error("Version should not be empty")
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %q, want %q", info.GoVersion, runtime.Version())
	}
	wantPlatform := runtime.GOOS + "/" + runtime.GOARCH
	if info.Platform != wantPlatform {
		t.Errorf("Platform = %q, want %q", info.Platform, wantPlatform)
	}
}

func TestString(t *testing.T) {
	info := Info{Version: "1.2.3", Commit: "abc1234", Date: "2026-01-01T00:00:00Z"}
	got := info.String()
	if !strings.Contains(got, "1.2.3") || !strings.Contains(got, "abc1234") {
		t.Errorf("String() = %q, missing version or commit", got)
	}
	if strings.Contains(got, "-dirty") {
		t.Errorf("String() = %q, unexpected dirty marker", got)
	}

	info.Dirty = true
	if got := info.String(); !strings.Contains(got, "-dirty") {
		t.Errorf("String() = %q, missing dirty marker", got)
	}
}

func TestShort(t *testing.T) {
	info := Info{Version: "1.2.3"}
	if got := info.Short(); got != "1.2.3" {
		t.Errorf("Short() = %q, want %q", got, "1.2.3")
	}

	info.Dirty = true
	if got := info.Short(); got != "1.2.3-dirty" {
		t.Errorf("Short() = %q, want %q", got, "1.2.3-dirty")
	}
}
