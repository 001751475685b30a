// Command gatewaycore wires the gateway protocol engine, the Modbus RTU
// engine, the storage engine, and the sync client together behind one
// scheduler: flags are parsed first, a Redis connection is opened before
// anything else, then every subsystem is constructed against it ahead of
// the signal-driven shutdown wait.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/newmatik/esocore-gatewaycore/pkg/config"
	"github.com/newmatik/esocore-gatewaycore/pkg/gateway"
	"github.com/newmatik/esocore-gatewaycore/pkg/modbus"
	"github.com/newmatik/esocore-gatewaycore/pkg/redis"
	"github.com/newmatik/esocore-gatewaycore/pkg/scheduler"
	"github.com/newmatik/esocore-gatewaycore/pkg/storage"
	"github.com/newmatik/esocore-gatewaycore/pkg/syncclient"
	"github.com/newmatik/esocore-gatewaycore/pkg/transport"
)

// gatewayAddress is this node's own address on the RS-485 bus
// (unicast range 1-247). The gateway always masters its own bus
// segment, so this is fixed rather than discovered.
const gatewayAddress = 0x01

// deviceStateKey/deviceIDField is where the sync client's bootstrap
// device identifier is cached across restarts, one Redis hash per
// concern like the rest of this module's Redis-backed state.
const (
	deviceStateKey = "gatewaycore"
	deviceIDField  = "device_id"
)

func main() {
	rt := config.ParseFlags()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("Starting EsoCore gateway core")
	log.Printf("Serial device: %s", rt.SerialDevice)
	log.Printf("Redis address: %s", rt.RedisAddr)
	log.Printf("Storage dir: %s", rt.StorageDir)

	redisClient, err := redis.New(rt.RedisAddr, rt.RedisPass, rt.RedisDB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Printf("Connected to Redis")

	cfg := config.NewManager()
	if rt.ConfigPath != "" {
		if err := cfg.Load(rt.ConfigPath); err != nil {
			log.Printf("Config file %s not loaded, using defaults: %v", rt.ConfigPath, err)
		}
	}
	opts := cfg.Get()

	deviceID, err := loadOrCreateDeviceID(redisClient)
	if err != nil {
		log.Fatalf("Failed to establish device id: %v", err)
	}
	log.Printf("Device id: %s", deviceID)

	clock := transport.SystemClock{}

	bus, err := transport.OpenSerialBus(rt.SerialDevice, int(opts.BusBaud), transport.Parity(opts.BusParity[0]))
	if err != nil {
		log.Fatalf("Failed to open serial bus %s: %v", rt.SerialDevice, err)
	}
	defer bus.Close()
	arbiter := transport.NewBusArbiter(bus, clock, int(opts.BusBaud))
	log.Printf("Opened RS-485 bus at %d baud", opts.BusBaud)

	respTimeout := time.Duration(opts.ResponseTimeoutMs) * time.Millisecond

	gwLog := log.New(os.Stderr, "[gateway] ", log.Ldate|log.Ltime|log.Lmicroseconds)
	gwMaster := gateway.NewMaster(gatewayAddress, arbiter, clock, gwLog, int(opts.MaxRetries), respTimeout)

	mbMaster := modbus.NewMaster(arbiter, clock, int(opts.BusBaud), respTimeout)

	// One directory per file type; each store
	// owns its directory exclusively.
	dataFS, err := transport.NewOSFileStore(filepath.Join(rt.StorageDir, storage.FileTypeData.String()))
	if err != nil {
		log.Fatalf("Failed to open data storage directory: %v", err)
	}
	eventFS, err := transport.NewOSFileStore(filepath.Join(rt.StorageDir, storage.FileTypeEvent.String()))
	if err != nil {
		log.Fatalf("Failed to open event storage directory: %v", err)
	}

	storeOpts := storage.Options{
		MaxFileSizeBytes:        int64(opts.MaxFileSizeBytes),
		BufferSizeBytes:         64 << 10,
		Compress:                opts.EnableCompression,
		CompressionLevel:        int(opts.CompressionLevel),
		CapacityBytes:           int64(opts.MaxFileSizeBytes) * 16,
		CleanupThresholdPercent: int(opts.CleanupThresholdPercent),
	}
	nowSeconds := func() uint32 { return uint32(clock.Now().Unix()) }

	dataStore, err := storage.NewStore(dataFS, clock, storage.FileTypeData, storeOpts, nowSeconds)
	if err != nil {
		log.Fatalf("Failed to open telemetry store: %v", err)
	}
	eventStore, err := storage.NewStore(eventFS, clock, storage.FileTypeEvent, storeOpts, nowSeconds)
	if err != nil {
		log.Fatalf("Failed to open event store: %v", err)
	}
	dataCursor := storage.NewCursor(dataStore, dataFS)
	eventCursor := storage.NewCursor(eventStore, eventFS)
	log.Printf("Storage engine recovered %d data files, %d event files",
		len(dataStore.SealedFiles(storage.PriorityNormal)), len(eventStore.SealedFiles(storage.PriorityNormal)))

	syncLog := log.New(os.Stderr, "[sync] ", log.Ldate|log.Ltime|log.Lmicroseconds)
	syncOpts := syncclient.DefaultOptions()
	syncOpts.ServerURL = opts.ServerURL
	syncOpts.APIKey = string(opts.APIKey)
	syncOpts.UseHTTPS = opts.UseHTTPS
	syncOpts.DeviceID = deviceID
	syncClient := syncclient.New(syncOpts, syncLog)

	if err := syncClient.Handshake(context.Background(), clock.Now()); err != nil {
		log.Printf("Initial auth handshake failed, will retry on schedule: %v", err)
	}

	schedLog := log.New(os.Stderr, "[sched] ", log.Ldate|log.Ltime|log.Lmicroseconds)
	sched, err := scheduler.New(schedLog, redisClient, 256)
	if err != nil {
		log.Fatalf("Failed to construct scheduler: %v", err)
	}

	knownSensors := make(map[byte]gateway.DeviceInfo)

	registerPeriodicTasks(sched, gwMaster, mbMaster, syncClient, cfg, dataCursor, eventCursor, dataStore, eventStore, knownSensors)

	sched.Start()
	log.Printf("Scheduler started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Printf("Shutting down...")
	if err := sched.Stop(); err != nil {
		log.Printf("Scheduler stop reported: %v", err)
	}
	if err := dataStore.Flush(); err != nil {
		log.Printf("Final data store flush reported: %v", err)
	}
	if err := eventStore.Flush(); err != nil {
		log.Printf("Final event store flush reported: %v", err)
	}
}

// loadOrCreateDeviceID returns the persisted device identifier, minting
// one with google/uuid on first run and caching it back to Redis so
// restarts reuse the same identity for the auth handshake.
func loadOrCreateDeviceID(client *redis.Client) (string, error) {
	if id, err := client.GetString(deviceStateKey, deviceIDField); err == nil && id != "" {
		return id, nil
	}
	id := uuid.NewString()
	if err := client.WriteString(deviceStateKey, deviceIDField, id); err != nil {
		return "", err
	}
	return id, nil
}
