package bootstrap

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultSTUNServer = "stun:stun.l.google.com:19302"

type Config struct {
	ServerAddr  string
	LogLevel    string
	CORSOrigins []string

	JWTSecret string
	AdminRole string

	RTCICEServers []ICEServerConfig
	RTCPortMin    int
	RTCPortMax    int
	RTCMaxSDPSize int

	GeminiAPIKey        string
	GeminiModel         string
	GeminiUseVertex     bool
	GoogleCloudProject  string
	GoogleCloudLocation string

	LiveConnectAttempts int
	LiveConnectBackoff  time.Duration
	LiveMaxSession      time.Duration

	DatabaseDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CallRatePerMinute  int
	CallRateBurst      int
	MaxSessionsPerUser int

	// ScenariosFile replaces the built-in scenario catalogue when set.
	ScenariosFile string
}

type ICEServerConfig struct {
	URLs       []string
	Username   string
	Credential string
}

// LoadConfig reads the environment, after loading .env when one exists.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		ServerAddr:  getEnv("SERVER_ADDR", ":8080"),
		CORSOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		JWTSecret: getEnv("JWT_SECRET", "change-me-in-production"),
		AdminRole: getEnv("ADMIN_ROLE", "admin"),

		RTCICEServers: parseICEServers(
			getEnv("RTC_ICE_SERVERS", defaultSTUNServer),
			getEnv("RTC_TURN_USERNAME", ""),
			getEnv("RTC_TURN_CREDENTIAL", ""),
		),
		RTCPortMin:    getEnvInt("RTC_PORT_MIN", 10000),
		RTCPortMax:    getEnvInt("RTC_PORT_MAX", 20000),
		RTCMaxSDPSize: getEnvInt("RTC_MAX_SDP_SIZE", 64*1024),

		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModel:         getEnv("GEMINI_MODEL", ""),
		GeminiUseVertex:     getEnvBool("GEMINI_USE_VERTEX", false),
		GoogleCloudProject:  getEnv("GOOGLE_CLOUD_PROJECT", ""),
		GoogleCloudLocation: getEnv("GOOGLE_CLOUD_LOCATION", ""),

		LiveConnectAttempts: getEnvInt("LIVE_CONNECT_ATTEMPTS", 3),
		LiveConnectBackoff:  getEnvDuration("LIVE_CONNECT_BACKOFF", 500*time.Millisecond),
		LiveMaxSession:      getEnvDuration("LIVE_MAX_SESSION", 15*time.Minute),

		DatabaseDSN: getEnv("DATABASE_DSN", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		CallRatePerMinute:  getEnvInt("CALL_RATE_PER_MINUTE", 6),
		CallRateBurst:      getEnvInt("CALL_RATE_BURST", 3),
		MaxSessionsPerUser: getEnvInt("MAX_SESSIONS_PER_USER", 1),

		ScenariosFile: getEnv("SCENARIOS_FILE", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// parseICEServers splits a comma list of URLs. TURN credentials apply to
// turn: and turns: URLs only.
func parseICEServers(envValue, username, credential string) []ICEServerConfig {
	var servers []ICEServerConfig
	for _, url := range strings.Split(envValue, ",") {
		url = strings.TrimSpace(url)
		if url == "" {
			continue
		}
		server := ICEServerConfig{URLs: []string{url}}
		if strings.HasPrefix(url, "turn:") || strings.HasPrefix(url, "turns:") {
			server.Username = username
			server.Credential = credential
		}
		servers = append(servers, server)
	}

	if len(servers) == 0 {
		return []ICEServerConfig{{URLs: []string{defaultSTUNServer}}}
	}
	return servers
}
