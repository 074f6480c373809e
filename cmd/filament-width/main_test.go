package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klipper-filament-width/pkg/host"
)

const testPrinterCfg = `
[filament_width_sensor]
pin: analog5
default_nominal_filament_dia: 1.75
measurement_delay_cm: 5
max_difference: 0.3
`

const testScenario = `
name: quick
speed_mm_s: 5
duration_s: 40
segments:
  - length_mm: 100
    diameter_mm: 1.75
  - length_mm: 1000
    diameter_mm: 1.85
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCheckConfig(t *testing.T) {
	cfg := writeFile(t, "printer.cfg", testPrinterCfg)

	out, err := execute(t, "check-config", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "pin:                  analog5")
	assert.Contains(t, out, "measurement delay:    50.0 mm")
	assert.Contains(t, out, "compensation band:    1.450 - 2.050 mm")
	assert.Contains(t, out, "metrics address:      disabled")
}

func TestCheckConfigReportsInvalidOptions(t *testing.T) {
	cfg := writeFile(t, "printer.cfg", `
[filament_width_sensor]
pin: analog5
default_nominal_filament_dia: 0.5
measurement_delay_cm: 5
`)
	_, err := execute(t, "check-config", "--config", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default_nominal_filament_dia")
	assert.Contains(t, err.Error(), "max_difference")
}

func TestSimulate(t *testing.T) {
	cfg := writeFile(t, "printer.cfg", testPrinterCfg)
	sc := writeFile(t, "quick.yaml", testScenario)

	out, err := execute(t, "simulate", "--config", cfg, "--scenario", sc, "--trace")
	require.NoError(t, err)
	assert.Contains(t, out, "scenario: quick")
	assert.Contains(t, out, "outputs in_band")
	assert.Contains(t, out, "   95 ")
}

func TestSimulateJSON(t *testing.T) {
	cfg := writeFile(t, "printer.cfg", testPrinterCfg)
	sc := writeFile(t, "quick.yaml", testScenario)

	out, err := execute(t, "simulate", "--config", cfg, "--scenario", sc, "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"scenario": "quick"`)
	assert.Contains(t, out, `"measured_mm"`)
	assert.NotContains(t, out, `"trace"`)
}

func TestSimulateRequiresScenario(t *testing.T) {
	cfg := writeFile(t, "printer.cfg", testPrinterCfg)
	_, err := execute(t, "simulate", "--config", cfg)
	assert.Error(t, err)
}

func TestInitializeAppWithoutEndpoints(t *testing.T) {
	cfg := writeFile(t, "printer.cfg", testPrinterCfg)

	app, err := InitializeApp(Options{ConfigPath: cfg})
	require.NoError(t, err)
	assert.Nil(t, app.MetricsServer)
	assert.Nil(t, app.API)
	assert.Nil(t, app.Scenario)
}

func TestInitializeAppAppliesScenarioOverrides(t *testing.T) {
	cfg := writeFile(t, "printer.cfg", testPrinterCfg+"\n[metrics]\n\n[api_server]\naddress: 127.0.0.1:0\n")
	sc := writeFile(t, "s.yaml", testScenario+"sensor:\n  enable: false\n")

	app, err := InitializeApp(Options{ConfigPath: cfg, ScenarioPath: sc, MetricsAddr: "127.0.0.1:0"})
	require.NoError(t, err)
	assert.NotNil(t, app.MetricsServer)
	assert.NotNil(t, app.API)
	require.NotNil(t, app.Scenario)
	assert.False(t, app.Printer.Sensor().IsActive())
}

func TestAppRunFeedsScenarioUntilCancelled(t *testing.T) {
	cfg := writeFile(t, "printer.cfg", testPrinterCfg)
	sc := writeFile(t, "quick.yaml", testScenario)

	app, err := InitializeApp(Options{ConfigPath: cfg, ScenarioPath: sc})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 700*time.Millisecond)
	defer cancel()
	require.NoError(t, app.Run(ctx))

	assert.Equal(t, host.StateShutdown, app.Printer.GetKlippyState())
	assert.InDelta(t, 1.75, app.Printer.Sensor().LastDiameter(), 1e-9)
	assert.Greater(t, app.Printer.Extruder().Position(), 0.0)
}

func TestMissingConfigFile(t *testing.T) {
	_, err := execute(t, "check-config", "--config", filepath.Join(t.TempDir(), "nope.cfg"))
	assert.Error(t, err)
}
