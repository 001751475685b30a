package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/newmatik/esocore-gatewaycore/pkg/config"
	"github.com/newmatik/esocore-gatewaycore/pkg/gateway"
	"github.com/newmatik/esocore-gatewaycore/pkg/gwerr"
	"github.com/newmatik/esocore-gatewaycore/pkg/modbus"
	"github.com/newmatik/esocore-gatewaycore/pkg/scheduler"
	"github.com/newmatik/esocore-gatewaycore/pkg/storage"
	"github.com/newmatik/esocore-gatewaycore/pkg/syncclient"
)

// recordFailureEvent turns a user-visible failure into an event record
// alongside its log line, so failures surface as durable records and
// counters, never just a log message. Append errors are swallowed
// here: a full event store has already raised its own failure.
func recordFailureEvent(events *storage.Store, what string, err error) {
	_ = events.Append(storage.Record{
		Timestamp: uint32(time.Now().Unix()),
		Priority:  storage.PriorityHigh,
		Payload:   []byte(err.Error()),
		Metadata:  "failure=" + what,
	})
}

// modbusPeripherals lists the fixed set of industrial peripheral slave
// addresses this gateway polls over Modbus RTU. The gateway protocol
// discovers its own sensors dynamically; Modbus has no discovery
// primitive, so the peripheral list is configuration, not runtime
// state; a fixed slice here stands in for what would otherwise come
// from the configuration collaborator.
var modbusPeripherals = []byte{0x01}

// registerPeriodicTasks installs every periodic task the scheduler
// drives (discovery, sensor poll, Modbus poll, telemetry sync, re-auth,
// heartbeat, config poll, OTA poll, stats publish), each handed a
// context that times out after its own slice. A task that overruns its
// slice is logged, not preempted.
func registerPeriodicTasks(
	sched *scheduler.Scheduler,
	gwMaster *gateway.Master,
	mbMaster *modbus.Master,
	sync *syncclient.Client,
	cfg *config.Manager,
	dataCursor, eventCursor *storage.Cursor,
	dataStore, eventStore *storage.Store,
	knownSensors map[byte]gateway.DeviceInfo,
) {
	discoverLog := log.New(os.Stderr, "[discover] ", log.Ldate|log.Ltime|log.Lmicroseconds)

	sched.RegisterPeriodic("discover-sensors", 60*time.Second, 2*time.Second, func(ctx context.Context) {
		found, err := gwMaster.Discover(ctx, time.Second)
		if err != nil {
			discoverLog.Printf("discovery failed: %v", err)
			recordFailureEvent(eventStore, "discovery", err)
			return
		}
		for addr, info := range found {
			if _, known := knownSensors[addr]; !known {
				discoverLog.Printf("discovered sensor 0x%02x type=%d", addr, info.Type)
			}
			knownSensors[addr] = info
		}
	})

	sched.RegisterPeriodic("sensor-poll", 2*time.Second, 500*time.Millisecond, func(ctx context.Context) {
		deadline := time.Now().Add(400 * time.Millisecond)
		for {
			f, err := gwMaster.Poll(ctx, deadline)
			if err != nil || f == nil {
				return
			}
			if f.Type != byte(gateway.MsgData) {
				continue
			}
			rec := storage.Record{
				Timestamp: uint32(time.Now().Unix()),
				Seq:       uint64(f.Seq),
				Priority:  storage.PriorityNormal,
				Payload:   append([]byte(nil), f.Payload...),
				Metadata:  "src=" + deviceAddrHex(f.Src),
			}
			if err := dataStore.Append(rec); err != nil {
				discoverLog.Printf("append sensor record from 0x%02x failed: %v", f.Src, err)
				recordFailureEvent(eventStore, "sensor-append", err)
			}
		}
	})

	modbusLog := log.New(os.Stderr, "[modbus-poll] ", log.Ldate|log.Ltime|log.Lmicroseconds)
	sched.RegisterPeriodic("modbus-poll", 5*time.Second, time.Second, func(ctx context.Context) {
		for _, slave := range modbusPeripherals {
			regs, err := mbMaster.ReadHoldingRegisters(ctx, slave, 0, 8)
			if err != nil {
				modbusLog.Printf("read holding registers from slave %d failed: %v", slave, err)
				continue
			}
			payload := make([]byte, 2*len(regs))
			for i, v := range regs {
				payload[2*i] = byte(v >> 8)
				payload[2*i+1] = byte(v)
			}
			rec := storage.Record{
				Timestamp: uint32(time.Now().Unix()),
				Priority:  storage.PriorityNormal,
				Payload:   payload,
				Metadata:  "modbus-slave=" + deviceAddrHex(slave),
			}
			if err := eventStore.Append(rec); err != nil {
				modbusLog.Printf("append modbus record from slave %d failed: %v", slave, err)
			}
		}
	})

	syncLog := log.New(os.Stderr, "[sync-tick] ", log.Ldate|log.Ltime|log.Lmicroseconds)
	sched.RegisterPeriodic("telemetry-sync", 3*time.Second, 5*time.Second, func(ctx context.Context) {
		now := time.Now()
		if _, err := sync.UploadOnce(ctx, dataCursor, storage.FileTypeData, 64, now); err != nil {
			syncLog.Printf("telemetry upload: %v", err)
			if !gwerr.Is(err, gwerr.AuthRequired) {
				recordFailureEvent(eventStore, "telemetry-upload", err)
			}
		}
		if _, err := sync.UploadOnce(ctx, eventCursor, storage.FileTypeEvent, 64, now); err != nil {
			syncLog.Printf("event upload: %v", err)
		}
	})

	sched.RegisterPeriodic("reauth", 15*time.Second, 5*time.Second, func(ctx context.Context) {
		if sync.Paused() {
			if err := sync.Handshake(ctx, time.Now()); err != nil {
				syncLog.Printf("re-authentication failed: %v", err)
			} else {
				syncLog.Printf("re-authentication succeeded, resuming sync")
			}
		}
	})

	sched.RegisterPeriodic("heartbeat", 30*time.Second, 5*time.Second, func(ctx context.Context) {
		if err := sync.Heartbeat(ctx, "ok", time.Now()); err != nil {
			syncLog.Printf("heartbeat failed: %v", err)
		}
	})

	cfgLog := log.New(os.Stderr, "[config] ", log.Ldate|log.Ltime|log.Lmicroseconds)
	sched.RegisterPeriodic("config-poll", 5*time.Minute, 10*time.Second, func(ctx context.Context) {
		blob, err := sync.FetchConfig(ctx)
		if err != nil {
			cfgLog.Printf("config fetch failed: %v", err)
			return
		}
		if len(blob) == 0 {
			return
		}
		if err := cfg.Apply(blob); err != nil {
			cfgLog.Printf("server config rejected: %v", err)
			recordFailureEvent(eventStore, "config-apply", err)
			return
		}
		cfgLog.Printf("applied server configuration update")
	})

	otaLog := log.New(os.Stderr, "[ota] ", log.Ldate|log.Ltime|log.Lmicroseconds)
	sched.RegisterPeriodic("ota-poll", 5*time.Minute, 10*time.Second, func(ctx context.Context) {
		update, err := sync.CheckOTA(ctx, firmwareVersion)
		if err != nil {
			otaLog.Printf("OTA check failed: %v", err)
			return
		}
		if update == nil {
			return
		}
		otaLog.Printf("OTA update available: %s (%d bytes)", update.Version, update.SizeBytes)
		if err := sync.ReportOTA(ctx, "update-available", "", time.Now()); err != nil {
			otaLog.Printf("OTA report failed: %v", err)
		}
	})

	sched.RegisterPeriodic("stats-publish", 10*time.Second, time.Second, func(ctx context.Context) {
		g := gwMaster.Stats()
		sched.PublishStats("gatewaycore:gateway", map[string]int{
			"frames_sent":     int(g.FramesSent),
			"frames_received": int(g.FramesReceived),
			"crc_errors":      int(g.CrcErrors),
			"timeouts":        int(g.Timeouts),
			"nacked":          int(g.Nacked),
		})

		d := dataStore.Stats()
		sched.PublishStats("gatewaycore:storage:data", map[string]int{
			"appended": int(d.Appended),
			"rejected": int(d.Rejected),
			"rotated":  int(d.Rotated),
			"pruned":   int(d.Pruned),
		})

		s := sync.Stats()
		sched.PublishStats("gatewaycore:sync", map[string]int{
			"uploaded":    int(s.BatchesUploaded),
			"dropped":     int(s.BatchesDropped),
			"retried":     int(s.BatchesRetried),
			"auth_pauses": int(s.AuthPauses),
		})
	})
}

// firmwareVersion is reported to the OTA check endpoint. A real build
// would stamp this at link time; this module has no build pipeline of
// its own, so it is a constant.
const firmwareVersion = "0.1.0"

func deviceAddrHex(addr byte) string {
	const hexDigits = "0123456789abcdef"
	return "0x" + string(hexDigits[addr>>4]) + string(hexDigits[addr&0xf])
}
