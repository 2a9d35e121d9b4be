package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"fieldsales-api/internal/geo"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

type Config struct {
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	JWTExpiry   time.Duration

	DatabaseDSN string
	HTTPAddr    string
	Environment string
	LogLevel    string
	Timezone    string

	GeofenceRadiusKm float64
	GeofenceMethod   geo.Method

	ImportMapping string
}

func Load() *Config {
	config := &Config{
		JWTSecret:        getEnv("JWT_SECRET", defaultJWTSecret),
		JWTIssuer:        getEnv("JWT_ISS", "fieldsales-api"),
		JWTAudience:      getEnv("JWT_AUD", "fieldsales-app"),
		JWTExpiry:        24 * time.Hour, // Default to 24 hours
		DatabaseDSN:      os.Getenv("DB_DSN"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		Environment:      getEnv("ENVIRONMENT", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		Timezone:         getEnv("TIMEZONE", "UTC"),
		GeofenceRadiusKm: 0.1,
		GeofenceMethod:   geo.MethodPlanar,
		ImportMapping:    getEnv("IMPORT_MAPPING", "configs/mapping/retailers.yaml"),
	}

	// Parse JWT expiry from environment if provided
	if expiryStr := os.Getenv("JWT_EXPIRY"); expiryStr != "" {
		if expiry, err := time.ParseDuration(expiryStr); err == nil {
			config.JWTExpiry = expiry
		}
	}

	// An unparseable radius becomes -1 so Validate reports it
	if radiusStr := os.Getenv("GEOFENCE_RADIUS_KM"); radiusStr != "" {
		radius, err := strconv.ParseFloat(radiusStr, 64)
		if err != nil {
			radius = -1
		}
		config.GeofenceRadiusKm = radius
	}
	if methodStr := os.Getenv("GEOFENCE_METHOD"); methodStr != "" {
		config.GeofenceMethod = geo.Method(strings.ToLower(strings.TrimSpace(methodStr)))
	}

	return config
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	} else if len(c.JWTSecret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 characters"))
	}
	if c.IsProduction() && c.JWTSecret == defaultJWTSecret {
		errs = append(errs, errors.New("JWT_SECRET must be changed in production"))
	}
	if c.JWTIssuer == "" {
		errs = append(errs, errors.New("JWT_ISS is required"))
	}
	if c.JWTAudience == "" {
		errs = append(errs, errors.New("JWT_AUD is required"))
	}
	switch {
	case c.JWTExpiry <= 0:
		errs = append(errs, errors.New("JWT_EXPIRY must be positive"))
	case c.JWTExpiry < time.Minute:
		errs = append(errs, errors.New("JWT_EXPIRY must be at least 1m"))
	case c.JWTExpiry > 30*24*time.Hour:
		errs = append(errs, errors.New("JWT_EXPIRY must be at most 720h"))
	}

	if c.GeofenceRadiusKm <= 0 {
		errs = append(errs, errors.New("GEOFENCE_RADIUS_KM must be a positive number"))
	}
	if _, err := geo.ParseMethod(string(c.GeofenceMethod)); err != nil {
		errs = append(errs, fmt.Errorf("GEOFENCE_METHOD: %w", err))
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("TIMEZONE: %w", err))
	}

	return errors.Join(errs...)
}

// Location returns the time zone calendar days are counted in. Falls back
// to UTC when Timezone does not load.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsProduction reports whether ENVIRONMENT is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Fence returns the geofence configured for visit reconciliation.
func (c *Config) Fence() geo.Fence {
	return geo.Fence{RadiusKm: c.GeofenceRadiusKm, Method: c.GeofenceMethod}
}

// LoadAndValidate loads configuration from the environment and validates it.
func LoadAndValidate() (*Config, error) {
	cfg := Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
