package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"despacho/internal/config"
	"despacho/internal/device"
	"despacho/internal/device/store"
	"despacho/internal/domain"
)

// locationInterval is how often the agent reports a GPS fix while a trip is
// active.
const locationInterval = 30 * time.Second

func main() {
	cfg := config.Load()

	if cfg.Device.DriverID == "" {
		log.Fatal("DEVICE_DRIVER_ID is required")
	}

	db, err := store.Open(cfg.Device.StorePath)
	if err != nil {
		log.Fatalf("failed to open device store: %v", err)
	}
	defer db.Close()
	log.Printf("Device store ready at %s", cfg.Device.StorePath)

	client := device.NewClient(cfg.Device.ServerBaseURL, cfg.Device.HTTPTimeout)

	var evidence device.EvidenceStorage = device.PassthroughEvidenceStorage{}
	if cfg.Device.EvidenceUploadURL != "" {
		evidence = device.NewHTTPEvidenceStorage(cfg.Device.EvidenceUploadURL, cfg.Device.HTTPTimeout)
	}

	queue := device.NewQueue(db, client, evidence, device.QueueConfig{
		FlushInterval: cfg.Sync.FlushInterval,
		BackoffBase:   cfg.Sync.BackoffBase,
		BackoffCap:    cfg.Sync.BackoffCap,
		RetryBudget:   cfg.Sync.RetryBudget,
	})

	session, err := device.NewTripSession(
		cfg.Device.DriverID, db, queue, client,
		envGeolocator{}, cfg.Device.GPSTimeout,
	)
	if err != nil {
		log.Fatalf("failed to restore trip session: %v", err)
	}
	if session.State() == device.SessionActive {
		log.Printf("Resumed active trip %s", session.TripID())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go queue.Run(ctx)

	go func() {
		ticker := time.NewTicker(locationInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := session.RecordLocation(ctx)
				if err != nil && !errors.Is(err, device.ErrNoActiveTrip) {
					log.Printf("failed to queue location update: %v", err)
				}
			}
		}
	}()

	log.Printf("Device agent running for driver %s", cfg.Device.DriverID)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down device agent...")
	cancel()
}

// envGeolocator reads a fixed GPS position from the environment. Trucks with
// a real GPS unit plug in their own Geolocator; this keeps the agent usable
// on hardware without one.
type envGeolocator struct{}

func (envGeolocator) Current(_ context.Context) (domain.Location, error) {
	latStr, lngStr := os.Getenv("DEVICE_LAT"), os.Getenv("DEVICE_LNG")
	if latStr == "" || lngStr == "" {
		return domain.Location{}, errors.New("no gps source configured")
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return domain.Location{}, err
	}
	lng, err := strconv.ParseFloat(lngStr, 64)
	if err != nil {
		return domain.Location{}, err
	}
	return domain.Location{Lat: lat, Lng: lng, Timestamp: time.Now()}, nil
}
