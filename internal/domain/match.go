package domain

import (
	"fmt"
	"math"
)

const (
	// EarthRadiusKM is the mean sphere radius used for haversine distances.
	EarthRadiusKM = 6371.0

	// MatchRadiusKM is the geofence threshold. All distances in this package
	// are kilometers; there is no other unit anywhere in the match path.
	MatchRadiusKM = 30.0
)

// AffectedMatch pairs an affected client with the point or zone that
// triggered the match. Ephemeral: produced by Match or MatchZones, consumed
// immediately by Encode, never persisted.
type AffectedMatch struct {
	ClientID   string
	HazardID   string
	Point      Point   // zero value for zone matches
	Zone       string  // empty for point matches
	DistanceKM float64 // 0 for zone matches
}

// Haversine returns the great-circle distance in kilometers between two
// coordinate pairs.
func Haversine(a, b Geo) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return EarthRadiusKM * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Match returns one AffectedMatch per client holding a saved point within
// MatchRadiusKM of the hazard. Points are scanned in slot order and scanning
// stops at the first qualifying point, so each client appears at most once.
// First-hit, not nearest-hit: slots are the client's priority order.
//
// Zone-only subscribers are never matched here; see MatchZones. The hazard
// must have been validated already — Match returns an error rather than
// guessing when coordinates are absent or out of range.
func Match(hazard HazardEvent, clients []ClientProfile) ([]AffectedMatch, error) {
	if !hazard.HasGeo {
		return nil, nil
	}
	if !hazard.Geo.Valid() {
		return nil, fmt.Errorf("match %s: %w", hazard.ID, ErrInvalidCoordinates)
	}

	var matches []AffectedMatch
	for _, client := range clients {
		for _, pt := range client.Points {
			dist := Haversine(hazard.Geo, pt.Geo)
			if dist <= MatchRadiusKM {
				matches = append(matches, AffectedMatch{
					ClientID:   client.ClientID,
					HazardID:   hazard.ID,
					Point:      pt,
					DistanceKM: dist,
				})
				break
			}
		}
	}
	return matches, nil
}

// MatchZones applies the coarse textual fallback: a client whose declared
// zone equals the hazard's area description is affected. Lower confidence
// than the distance rule and kept separate from it. Clients already matched
// by point (present in seen) are skipped so each client yields one alert.
func MatchZones(hazard HazardEvent, clients []ClientProfile, seen map[string]bool) []AffectedMatch {
	if hazard.AreaDesc == "" {
		return nil
	}

	var matches []AffectedMatch
	for _, client := range clients {
		if client.Zone == "" || seen[client.ClientID] {
			continue
		}
		if client.Zone == hazard.AreaDesc {
			matches = append(matches, AffectedMatch{
				ClientID: client.ClientID,
				HazardID: hazard.ID,
				Zone:     client.Zone,
			})
		}
	}
	return matches
}
