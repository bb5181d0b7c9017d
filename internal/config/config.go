package config // package config loads application configuration from environment variables

import (
	"log"     // log is used to report configuration errors and halt execution
	"os"      // os provides access to environment variables
	"strconv" // strconv converts strings to other types
	"time"    // time for duration parsing
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  The types reflect how the values are used in
// the application: strings for identifiers and secrets, durations for
// timing knobs.
type Config struct {
	Env           string        // application environment (e.g. "dev", "prod")
	Port          string        // HTTP port to listen on
	DBUser        string        // database username
	DBPass        string        // database password (optional)
	DBHost        string        // database host address
	DBPort        string        // database port number
	DBName        string        // database name
	JWTSecret     string        // secret used to verify JWTs issued by the auth service
	HoldTTLMin    int           // seat hold time-to-live in minutes
	SweepInterval time.Duration // how often the abandonment sweeper runs
	PayGatewayURL string        // payment gateway base URL
	PayReturnURL  string        // URL the gateway redirects customers back to
	PayMerchantID string        // merchant identifier registered with the gateway
	PayHashSecret string        // shared secret for signing and verifying gateway callbacks
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
	return Config{
		Env:           must("APP_ENV"),  // environment (dev/test/prod)
		Port:          must("APP_PORT"), // port to bind the HTTP server
		DBUser:        must("DB_USER"),  // database user
		DBPass:        os.Getenv("DB_PASS"),
		DBHost:        must("DB_HOST"),
		DBPort:        must("DB_PORT"),
		DBName:        must("DB_NAME"),
		JWTSecret:     must("JWT_SECRET"),
		HoldTTLMin:    mustInt("HOLD_TTL_MIN"),
		SweepInterval: mustDur("SWEEP_INTERVAL"),
		PayGatewayURL: must("PAY_GATEWAY_URL"),
		PayReturnURL:  must("PAY_RETURN_URL"),
		PayMerchantID: must("PAY_TMN_CODE"),
		PayHashSecret: must("PAY_HASH_SECRET"),
	}
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// mustInt is like must() but converts the retrieved string into an integer.
// If conversion fails, the application logs a fatal error and exits.
func mustInt(key string) int {
	s := must(key)
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, s)
	}
	return n
}

// mustDur is like must() but parses the value as a time.Duration
// (e.g. "2m", "90s").
func mustDur(key string) time.Duration {
	s := must(key)
	d, err := time.ParseDuration(s)
	if err != nil {
		log.Fatalf("invalid duration for %s: %q", key, s)
	}
	return d
}
