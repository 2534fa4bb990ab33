package models

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// DeviceKind selects the viewport a session emulates.
const (
	DeviceMobile  = "mobile"
	DeviceDesktop = "desktop"
)

// DeviceProfile describes the emulated device for a browser session.
type DeviceProfile struct {
	Kind              string  `json:"kind" yaml:"kind"`
	Width             int64   `json:"width" yaml:"width"`
	Height            int64   `json:"height" yaml:"height"`
	DeviceScaleFactor float64 `json:"device_scale_factor" yaml:"device_scale_factor"`
	IsMobile          bool    `json:"is_mobile" yaml:"is_mobile"`
	UserAgent         string  `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`
}

// MobileProfile is the default phone-sized viewport.
func MobileProfile() DeviceProfile {
	return DeviceProfile{Kind: DeviceMobile, Width: 390, Height: 844, DeviceScaleFactor: 3, IsMobile: true}
}

// DesktopProfile is the default narrow desktop viewport.
func DesktopProfile() DeviceProfile {
	return DeviceProfile{Kind: DeviceDesktop, Width: 960, Height: 844, DeviceScaleFactor: 3, IsMobile: false}
}

// DeviceFor returns the default profile for a kind, falling back to desktop.
func DeviceFor(kind string) DeviceProfile {
	if kind == DeviceMobile {
		return MobileProfile()
	}
	return DesktopProfile()
}

// Task is one scheduled action for one identity.
type Task struct {
	ID          string         `json:"id"`
	IdentityKey string         `json:"identity_key"`
	ProfileDir  string         `json:"profile_dir"`
	ActionName  string         `json:"action"`
	Payload     map[string]any `json:"payload,omitempty"`
	Device      DeviceProfile  `json:"device"`
	Headless    bool           `json:"headless"`
	// Seq is the position of the action within its identity's action list.
	Seq int `json:"seq"`
}

var (
	ErrMissingIdentity   = errors.New("task identity key is required")
	ErrMissingProfileDir = errors.New("task profile dir is required")
	ErrMissingAction     = errors.New("task action is required")
)

// NewTask builds a task with a fresh ID and the default device for kind.
func NewTask(identityKey, profileDir, action string, payload map[string]any, deviceKind string, headless bool) Task {
	return Task{
		ID:          uuid.NewString(),
		IdentityKey: identityKey,
		ProfileDir:  profileDir,
		ActionName:  action,
		Payload:     payload,
		Device:      DeviceFor(deviceKind),
		Headless:    headless,
	}
}

// Validate checks the structural invariants of a task.
func (t Task) Validate() error {
	switch {
	case t.IdentityKey == "":
		return ErrMissingIdentity
	case t.ProfileDir == "":
		return fmt.Errorf("identity %s: %w", t.IdentityKey, ErrMissingProfileDir)
	case t.ActionName == "":
		return fmt.Errorf("identity %s: %w", t.IdentityKey, ErrMissingAction)
	}
	return nil
}

// DedupKey identifies the task for queue deduplication. Tasks planned as
// later actions of the same identity carry a Seq so they are not collapsed
// into the first one.
func (t Task) DedupKey() string {
	if t.Seq == 0 {
		return t.IdentityKey
	}
	return fmt.Sprintf("%s#%d", t.IdentityKey, t.Seq)
}
