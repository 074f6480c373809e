package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	hosterrors "klipper-filament-width/pkg/errors"
)

func TestLoadString(t *testing.T) {
	data := `
[filament_width_sensor]
pin: analog5
default_nominal_filament_dia: 1.75
measurement_delay_cm = 5   # sensor to nozzle

[metrics]
address: :9100
`

	cfg, err := LoadString(data)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}

	if !cfg.HasSection("filament_width_sensor") {
		t.Error("expected [filament_width_sensor] section to exist")
	}
	if cfg.HasSection("nonexistent") {
		t.Error("expected [nonexistent] section to not exist")
	}

	sec, err := cfg.GetSection("filament_width_sensor")
	if err != nil {
		t.Fatalf("GetSection failed: %v", err)
	}
	if sec.GetName() != "filament_width_sensor" {
		t.Errorf("expected name 'filament_width_sensor', got '%s'", sec.GetName())
	}

	pin, err := sec.Get("pin")
	if err != nil || pin != "analog5" {
		t.Errorf("expected 'analog5', got %q (%v)", pin, err)
	}
	delay, err := sec.GetFloat("measurement_delay_cm")
	if err != nil || delay != 5 {
		t.Errorf("expected 5, got %v (%v)", delay, err)
	}

	metrics, _ := cfg.GetSection("metrics")
	addr, _ := metrics.Get("address")
	if addr != ":9100" {
		t.Errorf("expected ':9100', got %q", addr)
	}
}

func TestSectionGetters(t *testing.T) {
	cfg, err := LoadString(`
[test]
int_val: 42
float_val: 1.75
bool_yes: yes
bool_off: off
bad_int: 4.2
bad_bool: maybe
`)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}
	sec, _ := cfg.GetSection("test")

	if v, err := sec.GetInt("int_val"); err != nil || v != 42 {
		t.Errorf("GetInt: got %d (%v)", v, err)
	}
	if v, err := sec.GetFloat("float_val"); err != nil || v != 1.75 {
		t.Errorf("GetFloat: got %f (%v)", v, err)
	}
	if v, err := sec.GetBool("bool_yes"); err != nil || !v {
		t.Errorf("GetBool(yes): got %v (%v)", v, err)
	}
	if v, err := sec.GetBool("bool_off"); err != nil || v {
		t.Errorf("GetBool(off): got %v (%v)", v, err)
	}
	if v, err := sec.GetFloat("missing", 2.5); err != nil || v != 2.5 {
		t.Errorf("fallback: got %f (%v)", v, err)
	}

	if _, err := sec.GetInt("bad_int"); !hosterrors.Is(err, hosterrors.ErrConfigType) {
		t.Errorf("expected CONFIG_TYPE for bad_int, got %v", err)
	}
	if _, err := sec.GetBool("bad_bool"); !hosterrors.Is(err, hosterrors.ErrConfigType) {
		t.Errorf("expected CONFIG_TYPE for bad_bool, got %v", err)
	}
}

func TestBoundsChecking(t *testing.T) {
	cfg, _ := LoadString(`
[bounds]
value: 1.0
`)
	sec, _ := cfg.GetSection("bounds")

	tests := []struct {
		name    string
		bounds  FloatBounds
		wantErr string
	}{
		{"min ok", Min(0), ""},
		{"min fail", Min(2), "must have minimum of 2"},
		{"max fail", Max(0.5), "must have maximum of 0.5"},
		{"above equal fails", Above(1.0), "must be above 1"},
		{"below ok", Below(1.5), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sec.GetFloatWithBounds("value", tt.bounds)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
			if !hosterrors.Is(err, hosterrors.ErrConfigValidation) {
				t.Errorf("expected CONFIG_VALIDATION code, got %v", err)
			}
		})
	}
}

func TestMissingOptionError(t *testing.T) {
	cfg, _ := LoadString("[filament_width_sensor]\npin: analog5\n")
	sec, _ := cfg.GetSection("filament_width_sensor")

	_, err := sec.Get("max_difference")
	if err == nil {
		t.Fatal("expected error for missing option")
	}
	want := "option 'max_difference' in section 'filament_width_sensor' must be specified"
	if !strings.Contains(err.Error(), want) {
		t.Errorf("expected %q in %q", want, err.Error())
	}

	if _, err := cfg.GetSection("nope"); !hosterrors.Is(err, hosterrors.ErrConfigSection) {
		t.Errorf("expected CONFIG_SECTION, got %v", err)
	}
}

func TestAccessTracking(t *testing.T) {
	cfg, _ := LoadString(`
[filament_width_sensor]
pin: analog5
typo_option: 3

[unused_section]
foo: bar
`)
	sec, _ := cfg.GetSection("filament_width_sensor")
	sec.Get("pin")

	unused := cfg.GetUnusedSections()
	if len(unused) != 1 || unused[0] != "unused_section" {
		t.Errorf("expected [unused_section], got %v", unused)
	}

	err := cfg.CheckUnusedOptions()
	if err == nil || !strings.Contains(err.Error(), "typo_option") {
		t.Errorf("expected unused typo_option to be reported, got %v", err)
	}

	sec.Get("typo_option")
	if err := cfg.CheckUnusedOptions(); err != nil {
		t.Errorf("expected no unused options, got %v", err)
	}
}

func TestDuplicateSectionsMerge(t *testing.T) {
	cfg, _ := LoadString(`
[filament_width_sensor]
pin: analog5
max_difference: 0.2

#*# [filament_width_sensor]
#*# max_difference = 0.3
`)
	names := cfg.GetSectionNames()
	if len(names) != 1 {
		t.Fatalf("expected one merged section, got %v", names)
	}
	sec, _ := cfg.GetSection("filament_width_sensor")
	if v, _ := sec.GetFloat("max_difference"); v != 0.3 {
		t.Errorf("expected SAVE_CONFIG override 0.3, got %f", v)
	}
}

func TestLoadWithInclude(t *testing.T) {
	dir := t.TempDir()
	main := filepath.Join(dir, "printer.cfg")
	inc := filepath.Join(dir, "sensor.cfg")

	if err := os.WriteFile(main, []byte("[include sensor.cfg]\n[api_server]\naddress: :7125\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(inc, []byte("[filament_width_sensor]\npin: analog5\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(main)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.HasSection("filament_width_sensor") || !cfg.HasSection("api_server") {
		t.Errorf("expected both sections, got %v", cfg.GetSectionNames())
	}
}

func TestLoadRecursiveInclude(t *testing.T) {
	dir := t.TempDir()
	main := filepath.Join(dir, "printer.cfg")
	if err := os.WriteFile(main, []byte("[include printer.cfg]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(main)
	if err == nil || !strings.Contains(err.Error(), "recursive include") {
		t.Errorf("expected recursive include error, got %v", err)
	}
}

func TestLoadStringRejectsInclude(t *testing.T) {
	if _, err := LoadString("[include other.cfg]\n"); err == nil {
		t.Error("expected include to be rejected without a base directory")
	}
}
