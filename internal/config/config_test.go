// config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeProps(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "zones.properties")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write properties: %v", err)
	}
	return path
}

func TestLoadPropertiesAppliesZoneOverrides(t *testing.T) {
	body := "zones=zone-A,zone-B\n" +
		"margin=1.2\n" +
		"margin.zone-B=1.3\n" +
		"warmup.ignore.min=10\n" +
		"min.off.time.sec=600\n" +
		"anti.short.cycle=true\n"
	cfg := &App{}
	if err := cfg.loadProperties(writeProps(t, body)); err != nil {
		t.Fatalf("loadProperties: %v", err)
	}

	a, ok := cfg.Zone("zone-A")
	if !ok {
		t.Fatal("zone-A missing")
	}
	if a.SafetyMarginBase != 1.2 || a.WarmupIgnoreMin != 10 || !a.AntiShortCycle {
		t.Fatalf("zone-A=%+v", a)
	}
	if a.MinOffTime != 10*time.Minute {
		t.Fatalf("minOffTime=%v want 10m", a.MinOffTime)
	}
	b, _ := cfg.Zone("zone-B")
	if b.SafetyMarginBase != 1.3 {
		t.Fatalf("zone-B margin=%.2f want override 1.3", b.SafetyMarginBase)
	}
	if got := cfg.Zones(); len(got) != 2 || got[0] != "zone-A" {
		t.Fatalf("zones=%v", got)
	}
}

func TestLoadPropertiesParsesSchedules(t *testing.T) {
	body := "zones=zone-A\n" +
		"schedule.zone-A=06:30=20.5 22:30=17\n" +
		"schedule.zone-A.saturday=08:00=21 23:00=17\n"
	cfg := &App{}
	if err := cfg.loadProperties(writeProps(t, body)); err != nil {
		t.Fatalf("loadProperties: %v", err)
	}
	z, _ := cfg.Zone("zone-A")
	if z.Schedule == nil || z.Schedule.Empty() {
		t.Fatal("schedule not loaded")
	}

	// Friday follows the whole-week program.
	fri := time.Date(2026, 1, 16, 12, 0, 0, 0, time.UTC)
	if got, _ := z.Schedule.SetpointAt(fri); got != 20.5 {
		t.Fatalf("friday setpoint=%v want 20.5", got)
	}
	// Saturday morning keeps the late program: 07:00 is still at Friday's 22:30 value.
	sat := time.Date(2026, 1, 17, 7, 0, 0, 0, time.UTC)
	if got, _ := z.Schedule.SetpointAt(sat); got != 17 {
		t.Fatalf("saturday 07:00 setpoint=%v want 17", got)
	}
	sat = time.Date(2026, 1, 17, 9, 0, 0, 0, time.UTC)
	if got, _ := z.Schedule.SetpointAt(sat); got != 21 {
		t.Fatalf("saturday 09:00 setpoint=%v want day override 21", got)
	}
}

func TestLoadPropertiesDayOverrideSurvivesKeyOrder(t *testing.T) {
	// Day-scoped key listed before the whole-week key must still win.
	body := "zones=zone-A\n" +
		"schedule.zone-A.monday=09:00=22\n" +
		"schedule.zone-A=06:30=20.5\n"
	cfg := &App{}
	if err := cfg.loadProperties(writeProps(t, body)); err != nil {
		t.Fatalf("loadProperties: %v", err)
	}
	z, _ := cfg.Zone("zone-A")
	mon := time.Date(2026, 1, 12, 10, 0, 0, 0, time.UTC)
	if got, _ := z.Schedule.SetpointAt(mon); got != 22 {
		t.Fatalf("monday setpoint=%v want 22 from the day override", got)
	}
}

func TestLoadPropertiesRequiresZones(t *testing.T) {
	cfg := &App{}
	if err := cfg.loadProperties(writeProps(t, "margin=1.2\n")); err == nil {
		t.Fatal("missing zones= must error")
	}
}

func TestLoadPropertiesRejectsBadSchedule(t *testing.T) {
	cfg := &App{}
	if err := cfg.loadProperties(writeProps(t, "zones=zone-A\nschedule.zone-A=notatime\n")); err == nil {
		t.Fatal("malformed schedule must error")
	}
}

func TestLoadPropertiesIgnoresCommentsAndUnknownZones(t *testing.T) {
	body := "# comment\n" +
		"// another\n" +
		"zones=zone-A\n" +
		"margin.zone-X=9.9\n"
	cfg := &App{}
	if err := cfg.loadProperties(writeProps(t, body)); err != nil {
		t.Fatalf("loadProperties: %v", err)
	}
	if _, ok := cfg.Zone("zone-X"); ok {
		t.Fatal("undeclared zone materialized")
	}
}
