// Package domain models hazard events, client geofence subscriptions, and
// the CAP alert records produced when the two intersect.
//
// # Hazard events
//
// Hazards (earthquakes, fires, floods and similar calamities) are reported by
// authorities and arrive as flat JSON on the Kafka source topic. Each carries
// a WGS-84 coordinate pair, CAP-style urgency/severity/certainty values, a
// human-readable instruction, and an area description. Coordinates are
// validated up front: latitude must lie in [-90, 90] and longitude in
// [-180, 180]. A hazard reported without coordinates is legal and is matched
// against zone subscribers only.
//
// # Geofence matching
//
// Each client holds up to three saved points of interest, slot-ordered 1..3.
// A client is affected by a hazard when any saved point lies within
// [MatchRadiusKM] kilometers of the hazard location, measured as great-circle
// (haversine) distance on a sphere of radius [EarthRadiusKM]. Points are
// scanned in slot order and scanning stops at the first qualifying point, so
// a client is matched at most once per hazard. Slot order is the client's own
// priority order; the match is deliberately first-hit, not nearest-hit.
//
// Clients without saved points may declare a textual zone (country, county,
// or town). Zone matching is a separate, lower-confidence rule: the zone must
// equal the hazard's area description. It never mixes with the distance rule.
//
// # Alert records
//
// An affected (hazard, client) pair yields exactly one alert record, shaped
// after the OASIS Common Alerting Protocol 1.2. Record identifiers are
// deterministic SHA-256 hashes of hazardID|clientID, so re-encoding the same
// pair on retry produces the same identifier and downstream appends stay
// idempotent (ON CONFLICT DO NOTHING). See [Encode].
//
// The circle element follows the CAP "point radius" form, "{lat},{lon} 30",
// using the hazard's coordinates and the match radius. The pin element
// carries the matched point's own coordinates, not the hazard's, so a client
// can see which of their saved places triggered the alert.
package domain
