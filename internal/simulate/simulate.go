// Package simulate generates synthetic activity for demos and load tests.
//
// Each Scenario mirrors one user action (a login, sending mail, copying files
// to USB) and produces the activity record that action would log. Batch mixes
// ordinary workdays with a share of anomalous ones.
package simulate

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/mbd888/threatscore/internal/activity"
)

var (
	ErrUnknownScenario = errors.New("simulate: unknown scenario")
	ErrInvalidBatch    = errors.New("simulate: invalid batch parameters")
)

// Scenario names a simulated user action.
type Scenario string

const (
	ScenarioLogin        Scenario = "login"
	ScenarioEmail        Scenario = "email"
	ScenarioEmailBlast   Scenario = "email_blast"
	ScenarioFileDownload Scenario = "file_download"
	ScenarioUSBCopy      Scenario = "usb_copy"
	ScenarioMassDownload Scenario = "mass_download_3am"
	ScenarioNormalDay    Scenario = "normal_day"
)

// Scenarios lists every supported scenario.
var Scenarios = []Scenario{
	ScenarioLogin,
	ScenarioEmail,
	ScenarioEmailBlast,
	ScenarioFileDownload,
	ScenarioUSBCopy,
	ScenarioMassDownload,
	ScenarioNormalDay,
}

// anomalous scenarios are drawn for the anomaly share of a batch.
var anomalous = []Scenario{ScenarioMassDownload, ScenarioEmailBlast}

// ParseScenario validates a scenario name.
func ParseScenario(s string) (Scenario, error) {
	for _, sc := range Scenarios {
		if string(sc) == s {
			return sc, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownScenario, s)
}

// MaxBatch caps a single generated batch.
const MaxBatch = 100_000

// Generator produces records from a seeded faker, so a seed always yields
// the same sequence. Safe for concurrent use.
type Generator struct {
	mu    sync.Mutex
	faker *gofakeit.Faker
	now   func() time.Time
}

// NewGenerator creates a generator seeded with seed.
func NewGenerator(seed uint64) *Generator {
	return &Generator{faker: gofakeit.New(seed), now: time.Now}
}

// Record simulates scenario s for user at the current time. Scenarios with a
// fixed hour (mass_download_3am, normal_day) use the most recent past
// occurrence of that hour.
func (g *Generator) Record(user string, s Scenario) (activity.Record, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.build(user, s, g.now())
}

func (g *Generator) build(user string, s Scenario, at time.Time) (activity.Record, error) {
	rec := activity.Record{Username: user, LoginHour: at.Hour()}
	f := g.faker

	switch s {
	case ScenarioLogin:
	case ScenarioEmail:
		rec.EmailsSent = 1
	case ScenarioEmailBlast:
		// One aggregated row for the whole burst.
		rec.EmailsSent = f.Number(55, 80)
	case ScenarioFileDownload:
		rec.FilesAccessed = f.Number(1, 5)
	case ScenarioUSBCopy:
		rec.FilesAccessed = f.Number(1, 5)
		rec.USBDevicesUsed = 1
	case ScenarioMassDownload:
		rec.LoginHour = 3
		rec.FilesAccessed = f.Number(100, 150)
	case ScenarioNormalDay:
		rec.LoginHour = f.Number(8, 18)
		rec.FilesAccessed = f.Number(5, 30)
		rec.EmailsSent = f.Number(5, 40)
		if f.Float64() < 0.1 {
			rec.USBDevicesUsed = 1
		}
	default:
		return activity.Record{}, fmt.Errorf("%w: %q", ErrUnknownScenario, s)
	}

	y, m, d := at.Date()
	minute, sec := at.Minute(), at.Second()
	if rec.LoginHour != at.Hour() {
		minute, sec = f.Number(0, 59), f.Number(0, 59)
	}
	rec.Timestamp = time.Date(y, m, d, rec.LoginHour, minute, sec, 0, at.Location())
	if rec.Timestamp.After(at) {
		rec.Timestamp = rec.Timestamp.AddDate(0, 0, -1)
	}
	return rec, nil
}

// Users returns n generated usernames.
func (g *Generator) Users(n int) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.users(n)
}

func (g *Generator) users(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = g.faker.Username()
	}
	return out
}

// Batch returns n records spread over the last week for a small user pool.
// Each record is anomalous with probability anomalyRate.
func (g *Generator) Batch(n int, anomalyRate float64) ([]activity.Record, error) {
	if n < 0 || n > MaxBatch {
		return nil, fmt.Errorf("%w: count must be 0-%d, got %d", ErrInvalidBatch, MaxBatch, n)
	}
	if math.IsNaN(anomalyRate) || anomalyRate < 0 || anomalyRate > 1 {
		return nil, fmt.Errorf("%w: anomaly rate must be in [0, 1], got %v", ErrInvalidBatch, anomalyRate)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	pool := g.users(max(5, n/20))
	today := g.now()
	out := make([]activity.Record, 0, n)
	for range n {
		user := g.faker.RandomString(pool)
		day := today.AddDate(0, 0, -g.faker.Number(1, 7))

		s := ScenarioNormalDay
		if g.faker.Float64() < anomalyRate {
			s = anomalous[g.faker.Number(0, len(anomalous)-1)]
			// Bursts happen at a random working hour, not "now".
			day = time.Date(day.Year(), day.Month(), day.Day(), g.faker.Number(9, 17), 0, 0, 0, day.Location())
		}

		rec, err := g.build(user, s, day)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
