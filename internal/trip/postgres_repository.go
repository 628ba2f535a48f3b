package trip

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/breatheroute/navcore/internal/route"
	"github.com/breatheroute/navcore/internal/routing"
)

// Schema creates the trips table. It is safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS trips (
	id                 TEXT PRIMARY KEY,
	status             TEXT NOT NULL,
	profile            TEXT NOT NULL,
	route_id           TEXT NOT NULL,
	route              JSONB NOT NULL,
	leg_index          INTEGER NOT NULL DEFAULT 0,
	step_index         INTEGER NOT NULL DEFAULT 0,
	distance_remaining DOUBLE PRECISION NOT NULL DEFAULT 0,
	distance_traveled  DOUBLE PRECISION NOT NULL DEFAULT 0,
	off_route          BOOLEAN NOT NULL DEFAULT FALSE,
	reroute_count      INTEGER NOT NULL DEFAULT 0,
	simulated          BOOLEAN NOT NULL DEFAULT FALSE,
	last_lat           DOUBLE PRECISION,
	last_lon           DOUBLE PRECISION,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS trips_live_idx ON trips (created_at) WHERE status IN ('active', 'off_route');
`

const selectColumns = `
	id, status, profile, route_id, route,
	leg_index, step_index, distance_remaining, distance_traveled,
	off_route, reroute_count, simulated, last_lat, last_lon,
	created_at, updated_at
`

// PostgresRepository is a PostgreSQL implementation of Repository.
// Routes are stored as GeoJSON feature collections.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL trip repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// EnsureSchema creates the trips table if it does not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, Schema)
	return err
}

// Get retrieves a trip by ID.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Trip, error) {
	query := `SELECT ` + selectColumns + ` FROM trips WHERE id = $1`

	t, err := scanTrip(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTripNotFound
		}
		return nil, err
	}
	return t, nil
}

// Create creates a new trip.
func (r *PostgresRepository) Create(ctx context.Context, t *Trip) error {
	routeJSON, err := t.Route.FeatureCollection().MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode route: %w", err)
	}
	lat, lon := lastLocation(t)

	query := `
		INSERT INTO trips (
			id, status, profile, route_id, route,
			leg_index, step_index, distance_remaining, distance_traveled,
			off_route, reroute_count, simulated, last_lat, last_lon,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err = r.pool.Exec(ctx, query,
		t.ID,
		string(t.Status),
		string(t.Profile),
		t.Route.ID,
		routeJSON,
		t.LegIndex,
		t.StepIndex,
		t.DistanceRemaining,
		t.DistanceTraveled,
		t.OffRoute,
		t.RerouteCount,
		t.Simulated,
		lat,
		lon,
		t.CreatedAt,
		t.UpdatedAt,
	)
	return err
}

// Update updates an existing trip.
func (r *PostgresRepository) Update(ctx context.Context, t *Trip) error {
	routeJSON, err := t.Route.FeatureCollection().MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode route: %w", err)
	}
	lat, lon := lastLocation(t)

	query := `
		UPDATE trips SET
			status = $2,
			route_id = $3,
			route = $4,
			leg_index = $5,
			step_index = $6,
			distance_remaining = $7,
			distance_traveled = $8,
			off_route = $9,
			reroute_count = $10,
			last_lat = $11,
			last_lon = $12,
			updated_at = $13
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query,
		t.ID,
		string(t.Status),
		t.Route.ID,
		routeJSON,
		t.LegIndex,
		t.StepIndex,
		t.DistanceRemaining,
		t.DistanceTraveled,
		t.OffRoute,
		t.RerouteCount,
		lat,
		lon,
		t.UpdatedAt,
	)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrTripNotFound
	}

	return nil
}

// ListActive retrieves live trips, oldest first.
func (r *PostgresRepository) ListActive(ctx context.Context, limit int) ([]*Trip, error) {
	if limit <= 0 {
		limit = 500
	}

	query := `SELECT ` + selectColumns + `
		FROM trips
		WHERE status IN ('active', 'off_route')
		ORDER BY created_at ASC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trips []*Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		trips = append(trips, t)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return trips, nil
}

// scanTrip scans a trip from a row and rebuilds its route.
func scanTrip(row pgx.Row) (*Trip, error) {
	var (
		t                Trip
		status, profile  string
		routeID          string
		routeJSON        []byte
		lastLat, lastLon *float64
	)

	err := row.Scan(
		&t.ID,
		&status,
		&profile,
		&routeID,
		&routeJSON,
		&t.LegIndex,
		&t.StepIndex,
		&t.DistanceRemaining,
		&t.DistanceTraveled,
		&t.OffRoute,
		&t.RerouteCount,
		&t.Simulated,
		&lastLat,
		&lastLon,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = Status(status)
	t.Profile = routing.RouteProfile(profile)
	if lastLat != nil && lastLon != nil {
		t.LastLocation = &orb.Point{*lastLon, *lastLat}
	}

	fc, err := geojson.UnmarshalFeatureCollection(routeJSON)
	if err != nil {
		return nil, fmt.Errorf("decode route of trip %s: %w", t.ID, err)
	}
	t.Route, err = route.FromFeatureCollection(routeID, fc)
	if err != nil {
		return nil, fmt.Errorf("rebuild route of trip %s: %w", t.ID, err)
	}

	return &t, nil
}

func lastLocation(t *Trip) (lat, lon *float64) {
	if t.LastLocation == nil {
		return nil, nil
	}
	la, lo := t.LastLocation.Lat(), t.LastLocation.Lon()
	return &la, &lo
}

// Ensure PostgresRepository implements Repository interface.
var _ Repository = (*PostgresRepository)(nil)
