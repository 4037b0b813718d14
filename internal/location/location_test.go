package location

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantPre  string
		wantOrg  string
		wantName string
		wantZone Zone
		wantRel  string
	}{
		{
			name:     "draft file",
			raw:      "/work/U1001/MyScript/draft/scripts/a.ts",
			wantPre:  filepath.FromSlash("/work"),
			wantOrg:  "U1001",
			wantName: "MyScript",
			wantZone: ZoneDraft,
			wantRel:  "scripts/a.ts",
		},
		{
			name:     "dot-dot into another zone",
			raw:      "/work/U1001/MyScript/draft/../declarations/index.d.ts",
			wantPre:  filepath.FromSlash("/work"),
			wantOrg:  "U1001",
			wantName: "MyScript",
			wantZone: ZoneDeclarations,
			wantRel:  "index.d.ts",
		},
		{
			name:     "dot-dot inside a zone",
			raw:      "/work/U1001/MyScript/draft/scripts/./util/../a.ts",
			wantPre:  filepath.FromSlash("/work"),
			wantOrg:  "U1001",
			wantName: "MyScript",
			wantZone: ZoneDraft,
			wantRel:  "scripts/a.ts",
		},
		{
			name:     "root",
			raw:      "/work/U1001/MyScript",
			wantPre:  filepath.FromSlash("/work"),
			wantOrg:  "U1001",
			wantName: "MyScript",
			wantZone: ZoneRoot,
		},
		{
			name:     "trailing slash root",
			raw:      "/work/U1001/MyScript/",
			wantPre:  filepath.FromSlash("/work"),
			wantOrg:  "U1001",
			wantName: "MyScript",
			wantZone: ZoneRoot,
		},
		{
			name:     "script name with spaces",
			raw:      "/home/me/b6p/U42/My Fancy Script/declarations/types/index.d.ts",
			wantPre:  filepath.FromSlash("/home/me/b6p"),
			wantOrg:  "U42",
			wantName: "My Fancy Script",
			wantZone: ZoneDeclarations,
			wantRel:  "types/index.d.ts",
		},
		{
			name:     "windows separators",
			raw:      `C:\work\U7\Script\draft\scripts\b.ts`,
			wantPre:  filepath.FromSlash("C:/work"),
			wantOrg:  "U7",
			wantName: "Script",
			wantZone: ZoneDraft,
			wantRel:  "scripts/b.ts",
		},
		{
			name:     "metadata file",
			raw:      "/work/U1001/MyScript/.b6p_metadata.json",
			wantPre:  filepath.FromSlash("/work"),
			wantOrg:  "U1001",
			wantName: "MyScript",
			wantZone: ZoneMetadataFile,
		},
		{
			name:     "gitignore",
			raw:      "/work/U1001/MyScript/.gitignore",
			wantPre:  filepath.FromSlash("/work"),
			wantOrg:  "U1001",
			wantName: "MyScript",
			wantZone: ZoneIgnoreFile,
		},
		{
			name:     "snapshot zone folder",
			raw:      "/work/U1001/MyScript/snapshot",
			wantPre:  filepath.FromSlash("/work"),
			wantOrg:  "U1001",
			wantName: "MyScript",
			wantZone: ZoneSnapshot,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, err := Parse(tt.raw)
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tt.raw, err)
			}
			if loc.PrependingPath != tt.wantPre {
				t.Errorf("PrependingPath = %q, want %q", loc.PrependingPath, tt.wantPre)
			}
			if loc.OrganizationID != tt.wantOrg {
				t.Errorf("OrganizationID = %q, want %q", loc.OrganizationID, tt.wantOrg)
			}
			if loc.ScriptName != tt.wantName {
				t.Errorf("ScriptName = %q, want %q", loc.ScriptName, tt.wantName)
			}
			if loc.Zone != tt.wantZone {
				t.Errorf("Zone = %v, want %v", loc.Zone, tt.wantZone)
			}
			if loc.RelativePath != tt.wantRel {
				t.Errorf("RelativePath = %q, want %q", loc.RelativePath, tt.wantRel)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "no organization", raw: "/work/MyScript/draft/a.ts"},
		{name: "lowercase organization", raw: "/work/u1001/MyScript/draft/a.ts"},
		{name: "organization without digits", raw: "/work/U/MyScript/draft/a.ts"},
		{name: "missing script name", raw: "/work/U1001"},
		{name: "unknown zone", raw: "/work/U1001/MyScript/drafts/a.ts"},
		{name: "dot-dot above the script", raw: "/work/U1001/MyScript/../../a.ts"},
		{name: "metadata file with children", raw: "/work/U1001/MyScript/.b6p_metadata.json/x"},
		{name: "empty", raw: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.raw)
			if err == nil {
				t.Fatalf("Parse(%q) succeeded, want error", tt.raw)
			}
			var pfe *PathFormatError
			if !errors.As(err, &pfe) {
				t.Fatalf("expected *PathFormatError, got %T: %v", err, err)
			}
		})
	}
}

func TestShavedNameIsStableAcrossZones(t *testing.T) {
	paths := []string{
		"/work/U1001/MyScript",
		"/work/U1001/MyScript/draft",
		"/work/U1001/MyScript/draft/scripts/a.ts",
		"/work/U1001/MyScript/declarations/index.d.ts",
		"/work/U1001/MyScript/snapshot/old.ts",
		"/work/U1001/MyScript/.b6p_metadata.json",
		"/work/U1001/MyScript/.gitignore",
	}

	want := MustParse(paths[0]).ShavedName()
	if want != filepath.FromSlash("/work")+string(filepath.Separator)+"MyScript" {
		t.Fatalf("unexpected shaved name %q", want)
	}
	for _, p := range paths[1:] {
		if got := MustParse(p).ShavedName(); got != want {
			t.Errorf("ShavedName(%q) = %q, want %q", p, got, want)
		}
	}
}

func TestEqualityAndSameRoot(t *testing.T) {
	a := MustParse("/work/U1001/MyScript/draft/scripts/a.ts")
	b := MustParse("/work/U1001/MyScript/draft/scripts/b.ts")
	a2 := MustParse("/work/U1001/MyScript/draft/scripts/a.ts")
	other := MustParse("/work/U1002/MyScript/draft/scripts/a.ts")

	if a.Equal(b) {
		t.Error("files with different relative paths must not be equal")
	}
	if !a.Equal(a2) {
		t.Error("identical paths must be equal")
	}
	if !a.SameRoot(b) {
		t.Error("files under the same script must share a root")
	}
	if a.SameRoot(other) {
		t.Error("different organizations must not share a root")
	}
}

func TestPathRoundTrip(t *testing.T) {
	raw := filepath.FromSlash("/work/U1001/MyScript/draft/scripts/a.ts")
	loc := MustParse(raw)

	if loc.Path() != raw {
		t.Errorf("Path() = %q, want %q", loc.Path(), raw)
	}
	if loc.Rel() != "draft/scripts/a.ts" {
		t.Errorf("Rel() = %q", loc.Rel())
	}
	if loc.RootPath() != filepath.FromSlash("/work/U1001/MyScript") {
		t.Errorf("RootPath() = %q", loc.RootPath())
	}
	if loc.Name() != "a.ts" {
		t.Errorf("Name() = %q", loc.Name())
	}
	if !loc.Root().IsRoot() {
		t.Error("Root() should be the root location")
	}
}

func TestWithZoneAndChild(t *testing.T) {
	loc := MustParse("/work/U1001/MyScript/draft/scripts/a.ts")

	info := loc.WithZone(ZoneDraft, "info")
	if info.Rel() != "draft/info" {
		t.Errorf("WithZone rel = %q", info.Rel())
	}
	cfg := info.Child("config.json")
	if cfg.Rel() != "draft/info/config.json" {
		t.Errorf("Child rel = %q", cfg.Rel())
	}
	if !cfg.HasPrefix("info") {
		t.Error("config.json should be under info")
	}
	if loc.HasPrefix("info") {
		t.Error("scripts/a.ts is not under info")
	}
	if MustParse("/work/U1001/MyScript/draft/information/x").HasPrefix("info") {
		t.Error("prefix match must respect segment boundaries")
	}
}
