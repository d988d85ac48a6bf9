package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/couchcryptid/hazard-alert-service/internal/observability"
	"github.com/couchcryptid/hazard-alert-service/internal/registry"
)

var bucharest = domain.Geo{Lat: 44.4268, Lon: 26.1025}

type fakeProfiles struct {
	profiles []domain.ClientProfile
	err      error
}

func (f *fakeProfiles) All(_ context.Context) ([]domain.ClientProfile, error) {
	return f.profiles, f.err
}

type fakeLog struct {
	mu      sync.Mutex
	records []domain.AlertRecord
	failFor map[string]error
}

func (f *fakeLog) Append(_ context.Context, record domain.AlertRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[record.ClientID]; err != nil {
		return err
	}
	f.records = append(f.records, record)
	return nil
}

func (f *fakeLog) clientIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.records))
	for _, r := range f.records {
		ids = append(ids, r.ClientID)
	}
	return ids
}

type captureChannel struct {
	mu       sync.Mutex
	payloads [][]byte
	sendErr  error
}

func (c *captureChannel) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.payloads = append(c.payloads, payload)
	return nil
}

func (c *captureChannel) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.payloads...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testHazard() domain.HazardEvent {
	return domain.HazardEvent{
		ID:          "hzd-1",
		Event:       "Earthquake",
		Geo:         bucharest,
		HasGeo:      true,
		Urgency:     "Immediate",
		Severity:    "Severe",
		Certainty:   "Observed",
		Instruction: "Evacuați zona afectată!",
		AreaDesc:    "București și împrejurimi",
		CreatedAt:   time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC),
	}
}

func nearPoint() domain.Point {
	return domain.Point{Geo: domain.Geo{Lat: 44.43, Lon: 26.10}, Name: "Acasă"}
}

func farPoint() domain.Point {
	return domain.Point{Geo: domain.Geo{Lat: 46, Lon: 25}, Name: "Acasă"}
}

func newDispatcher(profiles []domain.ClientProfile, log *fakeLog, reg *registry.Registry) *Dispatcher {
	return New(&fakeProfiles{profiles: profiles}, log, reg, discardLogger(), observability.NewMetricsForTesting())
}

func TestDispatch_LiveAndLogged(t *testing.T) {
	reg := registry.New()
	ch := &captureChannel{}
	reg.Register("client-1", ch)

	log := &fakeLog{}
	d := newDispatcher([]domain.ClientProfile{
		{ClientID: "client-1", Points: []domain.Point{nearPoint()}},
	}, log, reg)

	require.NoError(t, d.Dispatch(context.Background(), testHazard()))

	require.Len(t, log.clientIDs(), 1)
	assert.Equal(t, "client-1", log.clientIDs()[0])

	received := ch.received()
	require.Len(t, received, 1)

	var record domain.AlertRecord
	require.NoError(t, json.Unmarshal(received[0], &record))
	assert.Equal(t, "Earthquake", record.Event)
	assert.Equal(t, "client-1", record.ClientID)
	require.NotNil(t, record.Pin)
	assert.Equal(t, 44.43, record.Pin.Lat)
}

func TestDispatch_OfflineClientStillLogged(t *testing.T) {
	log := &fakeLog{}
	d := newDispatcher([]domain.ClientProfile{
		{ClientID: "client-1", Points: []domain.Point{nearPoint()}},
	}, log, registry.New())

	require.NoError(t, d.Dispatch(context.Background(), testHazard()))
	assert.Equal(t, []string{"client-1"}, log.clientIDs())
}

func TestDispatch_SendFailureIsolated(t *testing.T) {
	reg := registry.New()
	broken := &captureChannel{sendErr: errors.New("connection reset")}
	healthy := &captureChannel{}
	reg.Register("client-a", broken)
	reg.Register("client-b", healthy)

	log := &fakeLog{}
	d := newDispatcher([]domain.ClientProfile{
		{ClientID: "client-a", Points: []domain.Point{nearPoint()}},
		{ClientID: "client-b", Points: []domain.Point{nearPoint()}},
	}, log, reg)

	require.NoError(t, d.Dispatch(context.Background(), testHazard()))

	// B still got its live push, and both clients have a log entry.
	assert.Len(t, healthy.received(), 1)
	assert.ElementsMatch(t, []string{"client-a", "client-b"}, log.clientIDs())
}

func TestDispatch_LogFailureIsolated(t *testing.T) {
	log := &fakeLog{failFor: map[string]error{"client-a": errors.New("disk full")}}
	d := newDispatcher([]domain.ClientProfile{
		{ClientID: "client-a", Points: []domain.Point{nearPoint()}},
		{ClientID: "client-b", Points: []domain.Point{nearPoint()}},
	}, log, registry.New())

	require.NoError(t, d.Dispatch(context.Background(), testHazard()))
	assert.Equal(t, []string{"client-b"}, log.clientIDs())
}

func TestDispatch_UnmatchedClientGetsNothing(t *testing.T) {
	log := &fakeLog{}
	d := newDispatcher([]domain.ClientProfile{
		{ClientID: "client-far", Points: []domain.Point{farPoint()}},
		{ClientID: "client-near", Points: []domain.Point{nearPoint()}},
	}, log, registry.New())

	require.NoError(t, d.Dispatch(context.Background(), testHazard()))
	assert.Equal(t, []string{"client-near"}, log.clientIDs())
}

func TestDispatch_ZoneFallback(t *testing.T) {
	log := &fakeLog{}
	d := newDispatcher([]domain.ClientProfile{
		{ClientID: "client-zone", Zone: "București și împrejurimi"},
		{ClientID: "client-both", Zone: "București și împrejurimi", Points: []domain.Point{nearPoint()}},
	}, log, registry.New())

	require.NoError(t, d.Dispatch(context.Background(), testHazard()))

	// The point-matched client is not matched a second time by zone.
	assert.ElementsMatch(t, []string{"client-zone", "client-both"}, log.clientIDs())
}

func TestDispatch_InvalidHazardRejectsWholeCycle(t *testing.T) {
	log := &fakeLog{}
	d := newDispatcher([]domain.ClientProfile{
		{ClientID: "client-1", Points: []domain.Point{nearPoint()}},
	}, log, registry.New())

	bad := testHazard()
	bad.Geo.Lat = 123

	err := d.Dispatch(context.Background(), bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidCoordinates)
	assert.Empty(t, log.clientIDs())
}

func TestDispatch_ProfileSourceFailure(t *testing.T) {
	d := New(&fakeProfiles{err: errors.New("db down")}, &fakeLog{}, registry.New(),
		discardLogger(), observability.NewMetricsForTesting())

	err := d.Dispatch(context.Background(), testHazard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load profiles")
}

func TestBroadcastRefresh(t *testing.T) {
	reg := registry.New()
	a := &captureChannel{}
	b := &captureChannel{}
	broken := &captureChannel{sendErr: errors.New("gone")}
	reg.Register("a", a)
	reg.Register("b", b)
	reg.Register("c", broken)

	log := &fakeLog{}
	d := newDispatcher(nil, log, reg)

	d.BroadcastRefresh()

	for _, ch := range []*captureChannel{a, b} {
		received := ch.received()
		require.Len(t, received, 1)
		assert.JSONEq(t, `{"refresh":true}`, string(received[0]))
	}
	// Control hints are never logged.
	assert.Empty(t, log.clientIDs())
}
