// config.go
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Acidburn1824/smart-heating/internal/schedule"
)

// Zone holds the per-zone tuning knobs. SafetyMarginBase is only the initial
// value: the feedback calibrator owns it at runtime and persists its updates.
type Zone struct {
	SafetyMarginBase float64
	WarmupIgnoreMin  float64
	AntiShortCycle   bool
	MinOffTime       time.Duration
	MinSessions      int
	Schedule         *schedule.Week
}

type App struct {
	HTTPBind          string
	KafkaBrokers      []string
	ObservationsTopic string
	CommandTopicPref  string
	CommandTransport  string // kafka | mqtt
	MQTTBroker        string
	MQTTTopicPref     string
	TopicReplication  int

	DataDir        string
	PropertiesPath string
	PollInterval   time.Duration

	AdvisorProvider      string // none | ollama | openai | anthropic | delegate
	AdvisorModel         string
	AdvisorURL           string
	AdvisorAPIKey        string
	AdvisorTimeout       time.Duration
	AdvisorHours         []int // scheduled call slots, hours of day
	AdvisorMinConfidence float64

	RecencyWeighted bool

	mu    sync.RWMutex
	zones []string
	byID  map[string]*Zone
}

func LoadEnvAndFiles() (*App, error) {
	c := &App{
		HTTPBind:          getenv("HTTP_BIND", ":8086"),
		KafkaBrokers:      split(getenv("KAFKA_BROKERS", ""), ","),
		ObservationsTopic: getenv("OBSERVATIONS_TOPIC", "zone.observations"),
		CommandTopicPref:  getenv("COMMAND_TOPIC_PREFIX", "zone.commands."),
		CommandTransport:  getenv("COMMAND_TRANSPORT", "kafka"),
		MQTTBroker:        getenv("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTTopicPref:     getenv("MQTT_TOPIC_PREFIX", "zone/commands/"),
		TopicReplication:  geti("TOPIC_REPLICATION", 1),

		DataDir:        getenv("DATA_DIR", "./data"),
		PropertiesPath: getenv("PROPERTIES_PATH", "./configs/zones.properties"),
		PollInterval:   time.Duration(geti("POLL_INTERVAL_MS", 120000)) * time.Millisecond,

		AdvisorProvider:      getenv("ADVISOR_PROVIDER", "none"),
		AdvisorModel:         getenv("ADVISOR_MODEL", ""),
		AdvisorURL:           getenv("ADVISOR_URL", ""),
		AdvisorAPIKey:        getenv("ADVISOR_API_KEY", ""),
		AdvisorTimeout:       time.Duration(geti("ADVISOR_TIMEOUT_SEC", 10)) * time.Second,
		AdvisorMinConfidence: getf("ADVISOR_MIN_CONFIDENCE", 0.2),

		RecencyWeighted: getenv("THERMAL_RECENCY_WEIGHT", "false") == "true",
	}
	for _, p := range split(getenv("ADVISOR_HOURS", "9,16"), ",") {
		if h, err := strconv.Atoi(p); err == nil && h >= 0 && h <= 23 {
			c.AdvisorHours = append(c.AdvisorHours, h)
		}
	}
	if c.CommandTransport == "kafka" && len(c.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS required")
	}
	if err := c.loadProperties(c.PropertiesPath); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *App) ReloadProperties() error { return c.loadProperties(c.PropertiesPath) }

// Zones returns the configured zone IDs in file order.
func (c *App) Zones() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.zones))
	copy(out, c.zones)
	return out
}

// Zone returns the settings for one zone; the boolean is false for unknown IDs.
func (c *App) Zone(id string) (*Zone, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	z, ok := c.byID[id]
	return z, ok
}

func (c *App) loadProperties(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	defaults := Zone{
		SafetyMarginBase: 1.15,
		WarmupIgnoreMin:  0,
		AntiShortCycle:   false,
		MinOffTime:       1800 * time.Second,
		MinSessions:      3,
	}
	var zones []string
	perZone := map[string]map[string]string{}

	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		switch {
		case k == "zones":
			zones = split(v, ",")
		case k == "margin":
			if fv, err := strconv.ParseFloat(v, 64); err == nil {
				defaults.SafetyMarginBase = fv
			}
		case k == "warmup.ignore.min":
			if fv, err := strconv.ParseFloat(v, 64); err == nil {
				defaults.WarmupIgnoreMin = fv
			}
		case k == "anti.short.cycle":
			defaults.AntiShortCycle = v == "true"
		case k == "min.off.time.sec":
			if iv, err := strconv.Atoi(v); err == nil {
				defaults.MinOffTime = time.Duration(iv) * time.Second
			}
		case k == "min.sessions":
			if iv, err := strconv.Atoi(v); err == nil {
				defaults.MinSessions = iv
			}
		default:
			// zone-scoped keys: <key>.<zone> or schedule.<zone>[.<day>]
			dot := strings.LastIndex(k, ".")
			if dot < 0 {
				continue
			}
			base, zone := k[:dot], k[dot+1:]
			if strings.HasPrefix(k, "schedule.") {
				base, zone = "schedule", strings.TrimPrefix(k, "schedule.")
			}
			if perZone[zone] == nil {
				perZone[zone] = map[string]string{}
			}
			perZone[zone][base] = v
		}
	}
	if err := s.Err(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(zones) == 0 {
		return fmt.Errorf("%s: zones= is required", path)
	}

	byID := make(map[string]*Zone, len(zones))
	for _, id := range zones {
		z := defaults
		z.Schedule = &schedule.Week{}
		byID[id] = &z
	}
	// Whole-week schedule entries must apply before per-day overrides,
	// so run the day-qualified keys in a second pass.
	for pass := 0; pass < 2; pass++ {
		for key, props := range perZone {
			zoneID, day := key, ""
			if i := strings.Index(key, "."); i >= 0 {
				zoneID, day = key[:i], key[i+1:]
			}
			if (day == "") != (pass == 0) {
				continue
			}
			z, ok := byID[zoneID]
			if !ok {
				continue
			}
			for base, v := range props {
				if err := applyZoneProp(z, base, day, v); err != nil {
					return fmt.Errorf("%s: zone %s: %w", path, zoneID, err)
				}
			}
		}
	}

	c.mu.Lock()
	c.zones = zones
	c.byID = byID
	c.mu.Unlock()
	return nil
}

func applyZoneProp(z *Zone, base, day, v string) error {
	switch base {
	case "margin":
		fv, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("margin %q: %w", v, err)
		}
		z.SafetyMarginBase = fv
	case "warmup.ignore.min":
		fv, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("warmup.ignore.min %q: %w", v, err)
		}
		z.WarmupIgnoreMin = fv
	case "anti.short.cycle":
		z.AntiShortCycle = v == "true"
	case "min.off.time.sec":
		iv, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("min.off.time.sec %q: %w", v, err)
		}
		z.MinOffTime = time.Duration(iv) * time.Second
	case "min.sessions":
		iv, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("min.sessions %q: %w", v, err)
		}
		z.MinSessions = iv
	case "schedule":
		pts, err := schedule.ParseDay(v)
		if err != nil {
			return err
		}
		if day == "" {
			z.Schedule.SetAll(pts)
		} else {
			key := strings.ToLower(day)
			if len(key) > 3 {
				key = key[:3]
			}
			wd, ok := weekdays[key]
			if !ok {
				return fmt.Errorf("unknown weekday %q", day)
			}
			z.Schedule.SetDay(wd, pts)
		}
	}
	return nil
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func geti(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return d
}

func getf(k string, d float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return d
}

func split(s, sep string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
