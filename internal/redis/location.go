package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	driverLocationKey     = "drivers:locations"
	locationSeenPrefix    = "drivers:last_seen:"
	locationSeenRetainFor = 24 * time.Hour
)

// DriverLocation represents a driver's last reported position.
type DriverLocation struct {
	DriverID string
	Lat      float64
	Lng      float64
}

// LocationStore handles driver location operations in Redis.
type LocationStore struct {
	client *redis.Client
}

// NewLocationStore creates a new LocationStore.
func NewLocationStore(client *redis.Client) *LocationStore {
	return &LocationStore{client: client}
}

// UpdateLocation stores a driver's location using GEOADD and records the fix
// timestamp. Location fixes replayed from an offline queue may arrive late;
// the timestamp lets readers judge staleness.
func (s *LocationStore) UpdateLocation(ctx context.Context, driverID string, lat, lng float64, at time.Time) error {
	if err := s.client.GeoAdd(ctx, driverLocationKey, &redis.GeoLocation{
		Name:      driverID,
		Longitude: lng,
		Latitude:  lat,
	}).Err(); err != nil {
		return err
	}

	return s.client.Set(ctx, locationSeenPrefix+driverID,
		strconv.FormatInt(at.Unix(), 10), locationSeenRetainFor).Err()
}

// LastSeen returns the timestamp of a driver's last location fix.
// Returns the zero time when no fix has been recorded.
func (s *LocationStore) LastSeen(ctx context.Context, driverID string) (time.Time, error) {
	val, err := s.client.Get(ctx, locationSeenPrefix+driverID).Result()
	if err != nil {
		if err == redis.Nil {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}

	unix, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(unix, 0), nil
}

// FindNearbyDrivers returns driver IDs within the given radius (in kilometers).
func (s *LocationStore) FindNearbyDrivers(ctx context.Context, lat, lng, radiusKm float64) ([]DriverLocation, error) {
	results, err := s.client.GeoRadius(ctx, driverLocationKey, lng, lat, &redis.GeoRadiusQuery{
		Radius:    radiusKm,
		Unit:      "km",
		WithCoord: true,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}

	locations := make([]DriverLocation, 0, len(results))
	for _, r := range results {
		locations = append(locations, DriverLocation{
			DriverID: r.Name,
			Lat:      r.Latitude,
			Lng:      r.Longitude,
		})
	}

	return locations, nil
}

// RemoveLocation removes a driver's location from the geo index.
func (s *LocationStore) RemoveLocation(ctx context.Context, driverID string) error {
	return s.client.ZRem(ctx, driverLocationKey, driverID).Err()
}
