package planner

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"browser-task-scheduler/internal/models"
)

// Roster is the on-disk description of a run.
//
//	identities:
//	  alice:
//	    profile_dir: /profiles/alice
//	    device: mobile
//	    headless: true
//	    actions:
//	      - name: visit
//	        payload: {url: "https://example.com"}
type Roster struct {
	Identities map[string]Identity `yaml:"identities" json:"identities"`
}

// LoadRoster reads and validates a YAML roster.
func LoadRoster(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	return ParseRoster(data)
}

// ParseRoster decodes a YAML roster.
func ParseRoster(data []byte) (*Roster, error) {
	var r Roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse roster: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate checks that every identity can produce runnable tasks.
func (r *Roster) Validate() error {
	for key, id := range r.Identities {
		if id.ProfileDir == "" {
			return fmt.Errorf("identity %s: %w", key, models.ErrMissingProfileDir)
		}
		switch id.Device {
		case "", models.DeviceMobile, models.DeviceDesktop:
		default:
			return fmt.Errorf("identity %s: unknown device %q", key, id.Device)
		}
		for i, a := range id.Actions {
			if a.Name == "" {
				return fmt.Errorf("identity %s action %d: %w", key, i, models.ErrMissingAction)
			}
		}
	}
	return nil
}

// Tasks plans the roster.
func (r *Roster) Tasks() []models.Task {
	return Plan(r.Identities)
}
