package platform

import (
	"context"
	"errors"
	"runtime"
	"testing"
)

func TestRealDetector_Detect(t *testing.T) {
	detector := NewDetector()
	ctx := context.Background()

	info, err := detector.Detect(ctx)
	if _, resolveErr := Resolve(runtime.GOOS, mustNormalize(t, runtime.GOARCH)); resolveErr != nil {
		// Host has no daemon build; detection must say so.
		if err == nil {
			t.Fatalf("expected detection error on %s/%s", runtime.GOOS, runtime.GOARCH)
		}
		return
	}
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}

	if info.OS != runtime.GOOS {
		t.Errorf("OS = %v, want %v", info.OS, runtime.GOOS)
	}
	if info.ArchRaw != runtime.GOARCH {
		t.Errorf("ArchRaw = %v, want %v", info.ArchRaw, runtime.GOARCH)
	}
	if _, ok := Lookup(info.ID); !ok {
		t.Errorf("detected ID %q has no target", info.ID)
	}

	// If platform is set, family should also be set
	if info.Platform != "" && info.Family == "" {
		t.Error("Family should be set when Platform is set")
	}
	if runtime.GOOS != "linux" && info.Platform != "" {
		t.Errorf("Platform should be empty on non-Linux, got %v", info.Platform)
	}
}

func mustNormalize(t *testing.T, arch string) string {
	t.Helper()
	n, err := normalizeArch(arch)
	if err != nil {
		return arch
	}
	return n
}

func TestRealDetector_DetectTargets(t *testing.T) {
	tests := []struct {
		name    string
		goos    string
		goarch  string
		want    ID
		wantErr bool
	}{
		{"darwin amd64", "darwin", "amd64", MacOS, false},
		{"darwin arm64", "darwin", "arm64", MacOS, false},
		{"windows amd64", "windows", "amd64", Windows64, false},
		{"windows arm64", "windows", "arm64", "", true},
		{"linux amd64", "linux", "amd64", LinuxX8664, false},
		{"linux arm64", "linux", "arm64", "", true},
		{"freebsd", "freebsd", "amd64", "", true},
		{"linux 386", "linux", "386", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &RealDetector{goos: tt.goos, goarch: tt.goarch}
			info, err := d.Detect(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Detect() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if info.ID != tt.want {
				t.Errorf("ID = %v, want %v", info.ID, tt.want)
			}
		})
	}
}

func TestLookupTable(t *testing.T) {
	tests := []struct {
		id       ID
		fragment string
		exe      string
	}{
		{MacOS, "osx", "specterd"},
		{Windows64, "win64", "specterd.exe"},
		{LinuxX8664, "x86_64-linux-gnu", "specterd"},
	}

	for _, tt := range tests {
		t.Run(tt.id.String(), func(t *testing.T) {
			target, ok := Lookup(tt.id)
			if !ok {
				t.Fatalf("Lookup(%s) not found", tt.id)
			}
			if target.AssetFragment != tt.fragment {
				t.Errorf("AssetFragment = %q, want %q", target.AssetFragment, tt.fragment)
			}
			if target.ExecutableName != tt.exe {
				t.Errorf("ExecutableName = %q, want %q", target.ExecutableName, tt.exe)
			}
		})
	}

	if _, ok := Lookup("plan9"); ok {
		t.Error("unexpected target for unknown ID")
	}
	if len(IDs()) != len(targets) {
		t.Errorf("IDs() returned %d entries, table has %d", len(IDs()), len(targets))
	}
}

func TestInfo_GetDistro(t *testing.T) {
	tests := []struct {
		name string
		info *Info
		want *Distro
	}{
		{
			name: "Linux with distro info",
			info: &Info{OS: "linux", Arch: "amd64", Platform: "ubuntu", Family: "debian", Version: "22.04"},
			want: &Distro{ID: "ubuntu", Family: "debian", Version: "22.04"},
		},
		{
			name: "Linux without distro info",
			info: &Info{OS: "linux", Arch: "amd64"},
			want: nil,
		},
		{
			name: "Windows",
			info: &Info{OS: "windows", Arch: "amd64"},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.info.GetDistro()
			if (got == nil) != (tt.want == nil) {
				t.Fatalf("GetDistro() = %v, want %v", got, tt.want)
			}
			if got != nil && *got != *tt.want {
				t.Errorf("GetDistro() = %+v, want %+v", *got, *tt.want)
			}
		})
	}
}

func TestStaticDetector(t *testing.T) {
	want := &Info{ID: Windows64, OS: "windows", Arch: "amd64"}
	info, err := StaticDetector{Info: want}.Detect(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info != want {
		t.Error("StaticDetector should return the configured info")
	}
	if info.Target().ExecutableName != "specterd.exe" {
		t.Errorf("unexpected target: %+v", info.Target())
	}

	boom := errors.New("boom")
	if _, err := (StaticDetector{Err: boom}).Detect(context.Background()); !errors.Is(err, boom) {
		t.Errorf("expected configured error, got %v", err)
	}
}
