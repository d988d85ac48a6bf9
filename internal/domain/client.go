package domain

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrInvalidProfile marks profile input rejected by validation, as opposed to
// a storage fault.
var ErrInvalidProfile = errors.New("invalid profile data")

const (
	// MaxPoints is the number of saved points a client may hold.
	MaxPoints = 3

	// MaxPointNameLen bounds a saved point's display name.
	MaxPointNameLen = 15
)

// Point is a client's saved point of interest.
type Point struct {
	Geo  Geo    `json:"geo"`
	Name string `json:"name"`
}

// ClientProfile is a notifiable subscriber: up to MaxPoints saved points in
// slot order, plus an optional textual zone (country/county/town) used as a
// coarse fallback when no point is set.
type ClientProfile struct {
	ClientID string  `json:"client_id"`
	Points   []Point `json:"points"`
	Zone     string  `json:"zone,omitempty"`
}

// Subscribed reports whether the profile can be matched at all. A client
// with zero points and no zone is skipped during fan-out, not an error.
func (p ClientProfile) Subscribed() bool {
	return len(p.Points) > 0 || p.Zone != ""
}

// ValidatePoint checks a point before it is stored in a slot.
func ValidatePoint(slot int, pt Point) error {
	if slot < 1 || slot > MaxPoints {
		return fmt.Errorf("%w: point slot %d out of range 1..%d", ErrInvalidProfile, slot, MaxPoints)
	}
	if !pt.Geo.Valid() {
		return fmt.Errorf("%w: %w: lat=%.4f lon=%.4f", ErrInvalidProfile, ErrInvalidCoordinates, pt.Geo.Lat, pt.Geo.Lon)
	}
	if utf8.RuneCountInString(pt.Name) > MaxPointNameLen {
		return fmt.Errorf("%w: point name exceeds %d characters", ErrInvalidProfile, MaxPointNameLen)
	}
	return nil
}
