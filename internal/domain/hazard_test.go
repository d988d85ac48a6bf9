package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRawEvent(t *testing.T) {
	msgTime := time.Date(2025, 3, 4, 9, 58, 0, 0, time.UTC)

	t.Run("full record", func(t *testing.T) {
		data := []byte(`{"id":"hzd-1","event":"Earthquake","lat":44.4268,"lon":26.1025,"urgency":"Immediate","severity":"Severe","certainty":"Observed","instruction":"Evacuați zona afectată!","areaDesc":"București și împrejurimi","createdAt":"2025-03-04T10:00:00Z"}`)
		raw := RawEvent{Value: data, Timestamp: msgTime}

		hazard, err := ParseRawEvent(raw)
		require.NoError(t, err)
		assert.Equal(t, "hzd-1", hazard.ID)
		assert.Equal(t, "Earthquake", hazard.Event)
		assert.True(t, hazard.HasGeo)
		assert.Equal(t, 44.4268, hazard.Geo.Lat)
		assert.Equal(t, 26.1025, hazard.Geo.Lon)
		assert.Equal(t, "Immediate", hazard.Urgency)
		assert.Equal(t, time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC), hazard.CreatedAt)
		assert.Equal(t, data, hazard.RawPayload)
	})

	t.Run("missing coordinates", func(t *testing.T) {
		raw := RawEvent{Value: []byte(`{"id":"hzd-2","event":"Flood","areaDesc":"Ilfov"}`), Timestamp: msgTime}
		hazard, err := ParseRawEvent(raw)
		require.NoError(t, err)
		assert.False(t, hazard.HasGeo)
		assert.Zero(t, hazard.Geo)
	})

	t.Run("missing createdAt falls back to message time", func(t *testing.T) {
		raw := RawEvent{Value: []byte(`{"id":"hzd-3","event":"Fire","lat":44,"lon":26}`), Timestamp: msgTime}
		hazard, err := ParseRawEvent(raw)
		require.NoError(t, err)
		assert.Equal(t, msgTime, hazard.CreatedAt)
	})

	t.Run("missing id is derived deterministically", func(t *testing.T) {
		data := []byte(`{"event":"Fire","lat":44,"lon":26,"areaDesc":"Ilfov","createdAt":"2025-03-04T10:00:00Z"}`)
		first, err := ParseRawEvent(RawEvent{Value: data, Timestamp: msgTime})
		require.NoError(t, err)
		second, err := ParseRawEvent(RawEvent{Value: data, Timestamp: msgTime})
		require.NoError(t, err)

		assert.NotEmpty(t, first.ID)
		assert.True(t, len(first.ID) > 4 && first.ID[:4] == "hzd-")
		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		_, err := ParseRawEvent(RawEvent{Value: []byte("{invalid")})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse raw hazard")
	})
}

func TestHazardValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		h := HazardEvent{Event: "Earthquake", Geo: bucharest, HasGeo: true}
		assert.NoError(t, h.Validate())
	})

	t.Run("zone-only hazard is valid", func(t *testing.T) {
		h := HazardEvent{Event: "Flood", AreaDesc: "Ilfov"}
		assert.NoError(t, h.Validate())
	})

	t.Run("latitude out of range", func(t *testing.T) {
		h := HazardEvent{Event: "Fire", Geo: Geo{Lat: 90.1, Lon: 0}, HasGeo: true}
		assert.ErrorIs(t, h.Validate(), ErrInvalidCoordinates)
	})

	t.Run("longitude out of range", func(t *testing.T) {
		h := HazardEvent{Event: "Fire", Geo: Geo{Lat: 0, Lon: -180.5}, HasGeo: true}
		assert.ErrorIs(t, h.Validate(), ErrInvalidCoordinates)
	})

	t.Run("missing event kind", func(t *testing.T) {
		h := HazardEvent{Geo: bucharest, HasGeo: true}
		assert.Error(t, h.Validate())
	})
}

func TestValidatePoint(t *testing.T) {
	valid := Point{Geo: Geo{Lat: 44.43, Lon: 26.10}, Name: "Acasă"}

	assert.NoError(t, ValidatePoint(1, valid))
	assert.NoError(t, ValidatePoint(3, valid))
	assert.Error(t, ValidatePoint(0, valid))
	assert.Error(t, ValidatePoint(4, valid))
	assert.ErrorIs(t, ValidatePoint(1, Point{Geo: Geo{Lat: 95, Lon: 0}}), ErrInvalidCoordinates)
	assert.Error(t, ValidatePoint(1, Point{Geo: valid.Geo, Name: "a name longer than 15"}))
}

func TestClientProfileSubscribed(t *testing.T) {
	assert.False(t, ClientProfile{ClientID: "c1"}.Subscribed())
	assert.True(t, ClientProfile{ClientID: "c2", Zone: "Ilfov"}.Subscribed())
	assert.True(t, ClientProfile{ClientID: "c3", Points: []Point{{}}}.Subscribed())
}
