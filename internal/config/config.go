package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// FileName is the configuration file looked up in the config directory.
const FileName = "ctfd.cfg.json"

// MemoryConfig holds in-memory storage backend settings. When OutputDir is
// set the store snapshot is loaded on Init and written back on Close.
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds settings for the in-memory SQLite backend.
type SQLiteConfig struct {
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
	DumpPath     string        `json:"dumpPath" mapstructure:"dumpPath"`
}

// PostgresConfig holds connection settings for the Postgres backend.
type PostgresConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
	SSLMode  string `json:"sslMode" mapstructure:"sslMode"`
}

// StorageConfig selects and configures the repository backend.
type StorageConfig struct {
	Type string `json:"type" mapstructure:"type"`
	// PollInterval makes SQL backends re-read observed games so writes from
	// other processes reach local observers. Zero disables polling.
	PollInterval time.Duration  `json:"pollInterval" mapstructure:"pollInterval"`
	Memory       MemoryConfig   `json:"memory" mapstructure:"memory"`
	SQLite       SQLiteConfig   `json:"sqlite" mapstructure:"sqlite"`
	Postgres     PostgresConfig `json:"postgres" mapstructure:"postgres"`
}

// EngineConfig holds the game rules constants. Distances are metres.
type EngineConfig struct {
	SafehouseRadius   float64 `json:"safehouseRadius" mapstructure:"safehouseRadius"`
	FlagRadius        float64 `json:"flagRadius" mapstructure:"flagRadius"`
	BattleRange       float64 `json:"battleRange" mapstructure:"battleRange"`
	DefaultGameRadius float64 `json:"defaultGameRadius" mapstructure:"defaultGameRadius"`
	GameCodeLength    int     `json:"gameCodeLength" mapstructure:"gameCodeLength"`
	WriteRetries      int     `json:"writeRetries" mapstructure:"writeRetries"`
}

// DefaultEngineConfig returns the stock rule set.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		SafehouseRadius:   100,
		FlagRadius:        40,
		BattleRange:       20,
		DefaultGameRadius: 750,
		GameCodeLength:    5,
		WriteRetries:      3,
	}
}

// OTelConfig holds OpenTelemetry export settings.
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// InfluxConfig holds settings for the game event sink.
type InfluxConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	Host       string `json:"host" mapstructure:"host"`
	Port       string `json:"port" mapstructure:"port"`
	Protocol   string `json:"protocol" mapstructure:"protocol"`
	Token      string `json:"token" mapstructure:"token"`
	Org        string `json:"org" mapstructure:"org"`
	Bucket     string `json:"bucket" mapstructure:"bucket"`
	BackupPath string `json:"backupPath" mapstructure:"backupPath"`
}

// URL returns the server URL built from protocol, host and port.
func (c InfluxConfig) URL() string {
	return fmt.Sprintf("%s://%s:%s", c.Protocol, c.Host, c.Port)
}

// StreamConfig holds settings for the websocket view publisher.
type StreamConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	URL     string `json:"url" mapstructure:"url"`
	Secret  string `json:"secret" mapstructure:"secret"`
}

// GraylogConfig holds settings for the GELF log handler.
type GraylogConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Address string `json:"address" mapstructure:"address"`
}

// APIConfig holds settings for match report export and upload.
type APIConfig struct {
	ServerURL  string `json:"serverUrl" mapstructure:"serverUrl"`
	APIKey     string `json:"apiKey" mapstructure:"apiKey"`
	Upload     bool   `json:"upload" mapstructure:"upload"`
	Tag        string `json:"tag" mapstructure:"tag"`
	ReportsDir string `json:"reportsDir" mapstructure:"reportsDir"`
}

// MonitorConfig holds settings for the status file writer.
type MonitorConfig struct {
	Enabled  bool          `json:"enabled" mapstructure:"enabled"`
	Interval time.Duration `json:"interval" mapstructure:"interval"`
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	setDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

// LoadDefaults registers default values without reading a file.
func LoadDefaults() {
	setDefaults()
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./ctflogs")

	eng := DefaultEngineConfig()
	viper.SetDefault("engine.safehouseRadius", eng.SafehouseRadius)
	viper.SetDefault("engine.flagRadius", eng.FlagRadius)
	viper.SetDefault("engine.battleRange", eng.BattleRange)
	viper.SetDefault("engine.defaultGameRadius", eng.DefaultGameRadius)
	viper.SetDefault("engine.gameCodeLength", eng.GameCodeLength)
	viper.SetDefault("engine.writeRetries", eng.WriteRetries)

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.pollInterval", "0s")
	viper.SetDefault("storage.memory.outputDir", "")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")
	viper.SetDefault("storage.sqlite.dumpPath", "")
	viper.SetDefault("storage.postgres.host", "localhost")
	viper.SetDefault("storage.postgres.port", "5432")
	viper.SetDefault("storage.postgres.username", "postgres")
	viper.SetDefault("storage.postgres.password", "postgres")
	viper.SetDefault("storage.postgres.database", "ctf")
	viper.SetDefault("storage.postgres.sslMode", "disable")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "ctf-metrics")
	viper.SetDefault("influx.bucket", "game_events")
	viper.SetDefault("influx.backupPath", "")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("stream.enabled", false)
	viper.SetDefault("stream.url", "ws://localhost:5000/ws")
	viper.SetDefault("stream.secret", "")

	viper.SetDefault("api.serverUrl", "http://localhost:5000")
	viper.SetDefault("api.apiKey", "")
	viper.SetDefault("api.upload", false)
	viper.SetDefault("api.tag", "")
	viper.SetDefault("api.reportsDir", "./ctfreports")

	viper.SetDefault("monitor.enabled", false)
	viper.SetDefault("monitor.interval", "5s")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "ctfd")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetEngineConfig returns the rule constants handed to each engine.
func GetEngineConfig() EngineConfig {
	return EngineConfig{
		SafehouseRadius:   viper.GetFloat64("engine.safehouseRadius"),
		FlagRadius:        viper.GetFloat64("engine.flagRadius"),
		BattleRange:       viper.GetFloat64("engine.battleRange"),
		DefaultGameRadius: viper.GetFloat64("engine.defaultGameRadius"),
		GameCodeLength:    viper.GetInt("engine.gameCodeLength"),
		WriteRetries:      viper.GetInt("engine.writeRetries"),
	}
}

// GetStorageConfig returns the repository backend configuration.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type:         viper.GetString("storage.type"),
		PollInterval: viper.GetDuration("storage.pollInterval"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
			DumpPath:     viper.GetString("storage.sqlite.dumpPath"),
		},
		Postgres: PostgresConfig{
			Host:     viper.GetString("storage.postgres.host"),
			Port:     viper.GetString("storage.postgres.port"),
			Username: viper.GetString("storage.postgres.username"),
			Password: viper.GetString("storage.postgres.password"),
			Database: viper.GetString("storage.postgres.database"),
			SSLMode:  viper.GetString("storage.postgres.sslMode"),
		},
	}
}

// GetOTelConfig returns the OpenTelemetry configuration.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetInfluxConfig returns the InfluxDB event sink configuration.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:    viper.GetBool("influx.enabled"),
		Host:       viper.GetString("influx.host"),
		Port:       viper.GetString("influx.port"),
		Protocol:   viper.GetString("influx.protocol"),
		Token:      viper.GetString("influx.token"),
		Org:        viper.GetString("influx.org"),
		Bucket:     viper.GetString("influx.bucket"),
		BackupPath: viper.GetString("influx.backupPath"),
	}
}

// GetStreamConfig returns the websocket publisher configuration.
func GetStreamConfig() StreamConfig {
	return StreamConfig{
		Enabled: viper.GetBool("stream.enabled"),
		URL:     viper.GetString("stream.url"),
		Secret:  viper.GetString("stream.secret"),
	}
}

// GetGraylogConfig returns the GELF handler configuration.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// GetAPIConfig returns the report export configuration.
func GetAPIConfig() APIConfig {
	return APIConfig{
		ServerURL:  viper.GetString("api.serverUrl"),
		APIKey:     viper.GetString("api.apiKey"),
		Upload:     viper.GetBool("api.upload"),
		Tag:        viper.GetString("api.tag"),
		ReportsDir: viper.GetString("api.reportsDir"),
	}
}

// GetMonitorConfig returns the status monitor configuration.
func GetMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Enabled:  viper.GetBool("monitor.enabled"),
		Interval: viper.GetDuration("monitor.interval"),
	}
}
