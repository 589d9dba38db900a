package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadAndSelect(t *testing.T) {
	json := `{
        "profiles": {
            "counter": {"kind": "sequential", "limit": 5, "mode": "deferred", "high_water_mark": 2},
            "ticker": {"kind": "push", "count": 3, "interval": "5ms", "chunk_size": 16}
        }
    }`

	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.json")
	if err := os.WriteFile(p, []byte(json), 0o644); err != nil {
		t.Fatalf("write temp cfg: %v", err)
	}

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	pr, ok := SelectProfile(cfg, "counter")
	if !ok {
		t.Fatalf("SelectProfile failed")
	}
	if pr.Limit == nil || *pr.Limit != 5 || pr.Mode != ModeDeferred || pr.HighWaterMark == nil || *pr.HighWaterMark != 2 {
		t.Fatalf("unexpected profile: %+v", pr)
	}
	if _, ok := SelectProfile(cfg, "missing"); ok {
		t.Fatalf("SelectProfile found a missing profile")
	}
}

func TestLoadYAMLWithEnvSubstitution(t *testing.T) {
	t.Setenv("GATE_TEST_ADDR", "10.0.0.7:7000")
	yml := `
profiles:
  upstream:
    kind: remote
    addr: ${GATE_TEST_ADDR}
    high_water_mark: ${GATE_TEST_HWM:-4}
`
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(p, []byte(yml), 0o644); err != nil {
		t.Fatalf("write temp cfg: %v", err)
	}

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	name, pr, ok := OnlyProfile(cfg)
	if !ok || name != "upstream" {
		t.Fatalf("OnlyProfile = %q %v", name, ok)
	}
	if pr.Addr != "10.0.0.7:7000" || pr.HighWaterMark == nil || *pr.HighWaterMark != 4 {
		t.Fatalf("unexpected profile: %+v", pr)
	}
}

func TestLoadRejectsBadJSON(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.json")
	if err := os.WriteFile(p, []byte("{"), 0o644); err != nil {
		t.Fatalf("write temp cfg: %v", err)
	}
	if _, err := Load(p); err == nil || !strings.Contains(err.Error(), "parse json config") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, ".env")
	if err := os.WriteFile(p, []byte("GATE_TEST_FROM_FILE=yes\nGATE_TEST_PRESET=file\n"), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("GATE_TEST_PRESET", "shell")
	t.Setenv("GATE_TEST_FROM_FILE", "")
	os.Unsetenv("GATE_TEST_FROM_FILE")

	loaded, err := LoadEnvFiles([]string{filepath.Join(dir, "absent.env"), p})
	if err != nil {
		t.Fatalf("LoadEnvFiles: %v", err)
	}
	if len(loaded) != 1 || loaded[0] != p {
		t.Fatalf("unexpected loaded files: %v", loaded)
	}
	if os.Getenv("GATE_TEST_FROM_FILE") != "yes" {
		t.Fatalf("env file value not applied")
	}
	if os.Getenv("GATE_TEST_PRESET") != "shell" {
		t.Fatalf("env file overrode an existing variable")
	}
}

func TestExpandUser(t *testing.T) {
	home, _ := os.UserHomeDir()
	got := ExpandUser("~/x/y")
	if home != "" && !strings.HasPrefix(got, home+string(os.PathSeparator)) {
		t.Fatalf("ExpandUser did not prefix home: %q not in %q", got, home)
	}
	if ExpandUser("/abs") != "/abs" {
		t.Fatalf("ExpandUser changed an absolute path")
	}
}

func TestResolve(t *testing.T) {
	cfg := Config{Profiles: map[string]Profile{
		"counter": {Kind: KindSequential, Limit: ptr(7), Mode: ModeDeferred},
	}}
	o := NoOverrides()
	o.HighWaterMark = 3
	p, err := Resolve(cfg, "counter", o)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if *p.Limit != 7 || p.Mode != ModeDeferred || *p.HighWaterMark != 3 {
		t.Fatalf("unexpected profile: %+v", p)
	}
	if p.ChunkSize != 128 || p.Interval != "23ms" {
		t.Fatalf("defaults not applied: %+v", p)
	}

	// Single profile is picked without a name; overrides win.
	p, err = Resolve(cfg, "", Overrides{Limit: 2, Mode: ModeSync, HighWaterMark: -1})
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if *p.Limit != 2 || p.Mode != ModeSync || *p.HighWaterMark != 1 {
		t.Fatalf("unexpected profile: %+v", p)
	}

	// Nothing configured at all.
	p, err = Resolve(Config{}, "", NoOverrides())
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if *p.Limit != 10 || *p.HighWaterMark != 1 {
		t.Fatalf("defaults not applied: limit=%d hwm=%v", *p.Limit, *p.HighWaterMark)
	}
}

func TestResolveKeepsExplicitZeros(t *testing.T) {
	// A zero limit is the empty stream and a zero high water mark pulls one
	// chunk at a time; neither may fall back to the defaults.
	o := NoOverrides()
	o.Limit = 0
	o.HighWaterMark = 0
	p, err := Resolve(Config{}, "", o)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if *p.Limit != 0 || *p.HighWaterMark != 0 {
		t.Fatalf("flag zeros replaced: limit=%d hwm=%v", *p.Limit, *p.HighWaterMark)
	}

	dir := t.TempDir()
	for name, body := range map[string]string{
		"cfg.json": `{"profiles": {"empty": {"kind": "sequential", "limit": 0, "high_water_mark": 0}}}`,
		"cfg.yaml": "profiles:\n  empty:\n    kind: sequential\n    limit: 0\n    high_water_mark: 0\n",
	} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load %s: %v", name, err)
		}
		p, err := Resolve(cfg, "empty", NoOverrides())
		if err != nil {
			t.Fatalf("Resolve %s: %v", name, err)
		}
		if *p.Limit != 0 || *p.HighWaterMark != 0 {
			t.Fatalf("%s: configured zeros replaced: limit=%d hwm=%v", name, *p.Limit, *p.HighWaterMark)
		}
	}
}

func TestResolveErrors(t *testing.T) {
	cfg := Config{Profiles: map[string]Profile{
		"a":      {Kind: KindSequential},
		"b":      {Kind: KindSequential},
		"remote": {Kind: KindRemote},
		"tick":   {Kind: KindPush, Interval: "soon"},
		"neg":    {Kind: KindSequential, Limit: ptr(-3)},
	}}
	cases := []struct {
		name    string
		profile string
		o       Overrides
		want    string
	}{
		{"missing profile", "nope", NoOverrides(), "not found"},
		{"remote without addr", "remote", NoOverrides(), "needs an addr"},
		{"bad interval", "tick", NoOverrides(), "interval"},
		{"bad mode", "a", Overrides{Mode: "eventually", Limit: -1, HighWaterMark: -1}, "unknown mode"},
		{"bad kind", "a", Overrides{Kind: "firehose", Limit: -1, HighWaterMark: -1}, "unknown source kind"},
		{"transcript without path", "a", Overrides{Kind: KindTranscript, Limit: -1, HighWaterMark: -1}, "needs a path"},
		{"negative limit in profile", "neg", NoOverrides(), "limit must be"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Resolve(cfg, tc.profile, tc.o)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestDefaultConfigPaths(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	paths := DefaultConfigPaths()
	if len(paths) < 4 || paths[0] != filepath.Join(xdg, ".stream-gate", "config.json") {
		t.Fatalf("unexpected paths: %v", paths)
	}

	want := filepath.Join(xdg, "stream-gate", "config.yaml")
	if err := os.MkdirAll(filepath.Dir(want), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(want, []byte("profiles: {}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, ok := FindExistingDefaultConfig()
	if !ok || got != want {
		t.Fatalf("FindExistingDefaultConfig = %q %v, want %q", got, ok, want)
	}
}
