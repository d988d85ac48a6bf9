package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Encode builds the AlertRecord for one affected match. Pure construction:
// the only ambient input is the package clock (swap with SetClock in tests).
//
// The identifier is derived from hazardID|clientID, so encoding the same
// pair twice yields records with the same ID — retries cannot create
// duplicates once appends key on it.
func Encode(hazard HazardEvent, match AffectedMatch) AlertRecord {
	record := AlertRecord{
		ID:          generateAlertID(hazard.ID, match.ClientID),
		ClientID:    match.ClientID,
		HazardID:    hazard.ID,
		Sender:      AlertSender,
		SentAt:      clock.Now().UTC(),
		Status:      AlertStatus,
		MsgType:     AlertMsgType,
		Scope:       AlertScope,
		Category:    AlertCategory,
		Event:       hazard.Event,
		Urgency:     hazard.Urgency,
		Severity:    hazard.Severity,
		Certainty:   hazard.Certainty,
		Instruction: hazard.Instruction,
		AreaDesc:    hazard.AreaDesc,
		CreatedAt:   hazard.CreatedAt,
	}
	if hazard.HasGeo {
		record.Circle = fmt.Sprintf("%g,%g %g", hazard.Geo.Lat, hazard.Geo.Lon, MatchRadiusKM)
	}
	if match.Zone != "" {
		record.Zone = match.Zone
	} else {
		pin := match.Point.Geo
		record.Pin = &pin
	}
	return record
}

// generateAlertID produces the stable per-(hazard, client) identifier.
func generateAlertID(hazardID, clientID string) string {
	return "cap-" + shortHash(hazardID+"|"+clientID)
}

// shortHash returns the first 8 bytes of the SHA-256 of input, hex encoded.
func shortHash(input string) string {
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:8])
}
