package config

import "flag"

// Runtime holds the deployment-level settings that sit outside the
// Options surface: where to find things, not how the protocols behave.
type Runtime struct {
	ConfigPath   string
	SerialDevice string
	RedisAddr    string
	RedisPass    string
	RedisDB      int
	StorageDir   string
}

// ParseFlags registers and parses the runtime flags, returning their
// values.
func ParseFlags() Runtime {
	configPath := flag.String("config", "/etc/gatewaycore/config.yaml", "Path to YAML configuration file")
	serialDevice := flag.String("serial", "/dev/ttyS1", "RS-485 serial device path")
	redisAddr := flag.String("redis-addr", "localhost:6379", "Redis server address")
	redisPass := flag.String("redis-pass", "", "Redis password")
	redisDB := flag.Int("redis-db", 0, "Redis database number")
	storageDir := flag.String("storage-dir", "/var/lib/gatewaycore", "Root directory for persisted record files")
	flag.Parse()

	return Runtime{
		ConfigPath:   *configPath,
		SerialDevice: *serialDevice,
		RedisAddr:    *redisAddr,
		RedisPass:    *redisPass,
		RedisDB:      *redisDB,
		StorageDir:   *storageDir,
	}
}
