package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the client binary and the demo server.
// The values are read by viper from a config file or environment variables.
type Config struct {
	AppName    string           `mapstructure:"APP_NAME"`
	AppVersion string           `mapstructure:"APP_VERSION"`
	Client     ClientConfig     `mapstructure:"CLIENT"`
	DemoServer DemoServerConfig `mapstructure:"DEMO_SERVER"`
	Auth       AuthConfig       `mapstructure:"AUTH"`
	WebSocket  WebSocketConfig  `mapstructure:"WEBSOCKET"`
	Redis      RedisConfig      `mapstructure:"REDIS"`
}

// ClientConfig holds the chat client's own settings.
type ClientConfig struct {
	ServerURL      string        `mapstructure:"SERVER_URL"` // REST base URL
	SocketURL      string        `mapstructure:"SOCKET_URL"` // ws:// endpoint
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	SessionDir     string        `mapstructure:"SESSION_DIR"`
	DemoFallback   bool          `mapstructure:"DEMO_FALLBACK"` // substitute demo data when the backend is unreachable
	DedupeEcho     bool          `mapstructure:"DEDUPE_ECHO"`   // reconcile server echoes of own sends by clientMsgId
}

// DemoServerConfig holds the bundled demo backend's HTTP settings.
type DemoServerConfig struct {
	Host          string        `mapstructure:"HOST"`
	Port          string        `mapstructure:"PORT"`
	WebSocketPath string        `mapstructure:"WEBSOCKET_PATH"`
	ReadTimeout   time.Duration `mapstructure:"READ_TIMEOUT"`
	WriteTimeout  time.Duration `mapstructure:"WRITE_TIMEOUT"`
	CORS          CORSConfig    `mapstructure:"CORS"`
}

// CORSConfig holds configuration for CORS on the demo server.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"ALLOWED_ORIGINS"`
	AllowedMethods   []string `mapstructure:"ALLOWED_METHODS"`
	AllowedHeaders   []string `mapstructure:"ALLOWED_HEADERS"`
	AllowCredentials bool     `mapstructure:"ALLOW_CREDENTIALS"`
	MaxAge           int      `mapstructure:"MAX_AGE"`
}

// AuthConfig holds configuration for JWT signing and validation.
type AuthConfig struct {
	JWTSecretKey string        `mapstructure:"JWT_SECRET_KEY"`
	JWTExpiry    time.Duration `mapstructure:"JWT_EXPIRY"`
}

// WebSocketConfig holds tuning for websocket connections on both ends.
type WebSocketConfig struct {
	WriteWaitSeconds    int `mapstructure:"WRITE_WAIT_SECONDS"`
	PongWaitSeconds     int `mapstructure:"PONG_WAIT_SECONDS"`
	PingPeriodSeconds   int `mapstructure:"PING_PERIOD_SECONDS"`
	MaxMessageSizeBytes int `mapstructure:"MAX_MESSAGE_SIZE_BYTES"`
	SendBufferSize      int `mapstructure:"SEND_BUFFER_SIZE"`
}

// RedisConfig holds configuration for the optional redis token blacklist
// used by the demo server. An empty Addr selects the in-memory blacklist.
type RedisConfig struct {
	Addr     string `mapstructure:"ADDR"`
	Password string `mapstructure:"PASSWORD"`
	DB       int    `mapstructure:"DB"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()

	v.SetDefault("APP_NAME", "chatclient-go")
	v.SetDefault("APP_VERSION", "0.1.0")

	// Client defaults
	v.SetDefault("CLIENT.SERVER_URL", "http://localhost:8080")
	v.SetDefault("CLIENT.SOCKET_URL", "ws://localhost:8080/ws")
	v.SetDefault("CLIENT.REQUEST_TIMEOUT", 10*time.Second)
	v.SetDefault("CLIENT.SESSION_DIR", "") // empty means os.UserConfigDir()/chatclient
	v.SetDefault("CLIENT.DEMO_FALLBACK", true)
	v.SetDefault("CLIENT.DEDUPE_ECHO", true)

	// Demo server defaults
	v.SetDefault("DEMO_SERVER.HOST", "0.0.0.0")
	v.SetDefault("DEMO_SERVER.PORT", "8080")
	v.SetDefault("DEMO_SERVER.WEBSOCKET_PATH", "/ws")
	v.SetDefault("DEMO_SERVER.READ_TIMEOUT", 30*time.Second)
	v.SetDefault("DEMO_SERVER.WRITE_TIMEOUT", 30*time.Second)
	v.SetDefault("DEMO_SERVER.CORS.ALLOWED_ORIGINS", []string{"*"})
	v.SetDefault("DEMO_SERVER.CORS.ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("DEMO_SERVER.CORS.ALLOWED_HEADERS", []string{"Accept", "Authorization", "Content-Type"})
	v.SetDefault("DEMO_SERVER.CORS.ALLOW_CREDENTIALS", true)
	v.SetDefault("DEMO_SERVER.CORS.MAX_AGE", 300)

	// Auth defaults
	v.SetDefault("AUTH.JWT_SECRET_KEY", "a_very_secret_key_that_should_be_changed")
	v.SetDefault("AUTH.JWT_EXPIRY", 24*time.Hour)

	// WebSocket defaults
	v.SetDefault("WEBSOCKET.WRITE_WAIT_SECONDS", 10)
	v.SetDefault("WEBSOCKET.PONG_WAIT_SECONDS", 60)
	v.SetDefault("WEBSOCKET.PING_PERIOD_SECONDS", 54) // (60 * 9) / 10
	v.SetDefault("WEBSOCKET.MAX_MESSAGE_SIZE_BYTES", 4096)
	v.SetDefault("WEBSOCKET.SEND_BUFFER_SIZE", 256)

	// Redis defaults (demo server token blacklist; disabled by default)
	v.SetDefault("REDIS.ADDR", "")
	v.SetDefault("REDIS.PASSWORD", "")
	v.SetDefault("REDIS.DB", 0)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err = v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			return
		}
		// Config file not found; defaults cover everything.
		err = nil
	}

	err = v.Unmarshal(&config)
	return
}
