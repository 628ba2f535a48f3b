package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/navcore/internal/location"
	"github.com/breatheroute/navcore/internal/route"
	"github.com/breatheroute/navcore/internal/route/routetest"
	"github.com/breatheroute/navcore/internal/trip"
)

// fakeTrips records the calls made by the job handler.
type fakeTrips struct {
	mu       sync.Mutex
	fixes    map[string][]location.Fix
	reroutes []*route.Route
	stopped  []string
	err      error
}

func newFakeTrips() *fakeTrips {
	return &fakeTrips{fixes: make(map[string][]location.Fix)}
}

func (f *fakeTrips) SubmitFixes(_ context.Context, tripID string, fixes []location.Fix) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.fixes[tripID] = append(f.fixes[tripID], fixes...)
	return len(fixes), nil
}

func (f *fakeTrips) Reroute(_ context.Context, tripID string, r *route.Route) (*trip.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.reroutes = append(f.reroutes, r)
	return &trip.State{Trip: trip.Trip{ID: tripID, RerouteCount: len(f.reroutes)}}, nil
}

func (f *fakeTrips) Stop(_ context.Context, tripID string) (*trip.Trip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.stopped = append(f.stopped, tripID)
	return &trip.Trip{ID: tripID, Status: trip.StatusStopped}, nil
}

func newTestHandler(trips TripService) *JobHandler {
	h := NewJobHandler(trips, zerolog.Nop())
	h.now = func() time.Time { return time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC) }
	return h
}

func TestJobHandler_LocationFix(t *testing.T) {
	trips := newFakeTrips()
	h := newTestHandler(trips)

	jobType, err := h.Handle(context.Background(), []byte(`{
		"job_type": "location_fix",
		"trip_id": "trp_1",
		"fixes": [
			{"lat": 52.3700, "lon": 4.9000, "accuracy": 5, "time": "2024-05-01T07:59:58Z"},
			{"lat": 52.3705, "lon": 4.9000, "speed": 9.5, "bearing": 2, "provider": "fused"}
		]
	}`))
	require.NoError(t, err)
	assert.Equal(t, JobLocationFix, jobType)

	fixes := trips.fixes["trp_1"]
	require.Len(t, fixes, 2)
	assert.InDelta(t, 4.9, fixes[0].Point.Lon(), 1e-9)
	assert.InDelta(t, 52.37, fixes[0].Point.Lat(), 1e-9)
	assert.Equal(t, location.ProviderGPS, fixes[0].Provider)
	assert.Equal(t, time.Date(2024, 5, 1, 7, 59, 58, 0, time.UTC), fixes[0].Time.UTC())

	// Missing time is stamped on receipt.
	assert.Equal(t, h.now(), fixes[1].Time)
	assert.Equal(t, "fused", fixes[1].Provider)
	assert.InDelta(t, 9.5, fixes[1].Speed, 1e-9)
}

func TestJobHandler_Reroute(t *testing.T) {
	trips := newFakeTrips()
	h := newTestHandler(trips)

	_, err := h.Handle(context.Background(), []byte(`{"job_type":"reroute","trip_id":"trp_1"}`))
	require.NoError(t, err)

	body, err := routetest.SingleLeg().FeatureCollection().MarshalJSON()
	require.NoError(t, err)
	_, err = h.Handle(context.Background(), []byte(`{"job_type":"reroute","trip_id":"trp_1","route":`+string(body)+`}`))
	require.NoError(t, err)

	require.Len(t, trips.reroutes, 2)
	assert.Nil(t, trips.reroutes[0], "no route means fetch from the routing backend")
	require.NotNil(t, trips.reroutes[1])
	assert.Len(t, trips.reroutes[1].Legs[0].Steps, 3)
}

func TestJobHandler_StopTrip(t *testing.T) {
	trips := newFakeTrips()
	h := newTestHandler(trips)

	jobType, err := h.Handle(context.Background(), []byte(`{"job_type":"stop_trip","trip_id":"trp_9"}`))
	require.NoError(t, err)
	assert.Equal(t, JobStopTrip, jobType)
	assert.Equal(t, []string{"trp_9"}, trips.stopped)
}

func TestJobHandler_Errors(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		tripErr   error
		wantErr   error
		permanent bool
	}{
		{name: "invalid json", data: `{`, wantErr: ErrMalformedJob, permanent: true},
		{name: "unknown job", data: `{"job_type":"provider_refresh","trip_id":"trp_1"}`, wantErr: ErrUnknownJob, permanent: true},
		{name: "missing trip", data: `{"job_type":"stop_trip"}`, wantErr: ErrMissingTripID, permanent: true},
		{name: "bad route", data: `{"job_type":"reroute","trip_id":"trp_1","route":{"type":"FeatureCollection","features":[]}}`, wantErr: ErrMalformedJob, permanent: true},
		{
			name:      "trip gone",
			data:      `{"job_type":"location_fix","trip_id":"trp_1","fixes":[{"lat":52.37,"lon":4.9}]}`,
			tripErr:   trip.ErrTripNotFound,
			wantErr:   trip.ErrTripNotFound,
			permanent: true,
		},
		{
			name:      "trip stopped",
			data:      `{"job_type":"reroute","trip_id":"trp_1"}`,
			tripErr:   trip.ErrTripNotActive,
			wantErr:   trip.ErrTripNotActive,
			permanent: true,
		},
		{
			name:    "transient",
			data:    `{"job_type":"stop_trip","trip_id":"trp_1"}`,
			tripErr: context.DeadlineExceeded,
			wantErr: context.DeadlineExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trips := newFakeTrips()
			trips.err = tt.tripErr
			h := newTestHandler(trips)

			_, err := h.Handle(context.Background(), []byte(tt.data))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.permanent, Permanent(err))
		})
	}
}

// Fixes from a job reach a real trip service in order.
func TestJobHandler_WithTripService(t *testing.T) {
	svc := trip.NewService(trip.ServiceConfig{
		Repository: trip.NewInMemoryRepository(),
		Logger:     zerolog.Nop(),
	})
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

	r := routetest.SingleLeg()
	st, err := svc.Start(context.Background(), trip.StartRequest{Route: r})
	require.NoError(t, err)

	h := NewJobHandler(svc, zerolog.Nop())
	p := routetest.Along(r, 0, 0, 150)
	job := fmt.Sprintf(`{"job_type":"location_fix","trip_id":%q,"fixes":[{"lat":%.7f,"lon":%.7f,"accuracy":5,"speed":10}]}`,
		st.Trip.ID, p.Lat(), p.Lon())
	_, err = h.Handle(context.Background(), []byte(job))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		got, err := svc.Get(context.Background(), st.Trip.ID)
		return err == nil && got.Latest != nil && got.Latest.Progress.DistanceTraveled > 100
	}, 2*time.Second, 10*time.Millisecond)

	_, err = h.Handle(context.Background(), []byte(`{"job_type":"stop_trip","trip_id":"`+st.Trip.ID+`"}`))
	require.NoError(t, err)

	_, err = h.Handle(context.Background(), []byte(`{"job_type":"location_fix","trip_id":"`+st.Trip.ID+`","fixes":[{"lat":52.37,"lon":4.9}]}`))
	assert.True(t, Permanent(err))
}
