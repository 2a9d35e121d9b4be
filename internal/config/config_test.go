package config

import (
	"os"
	"testing"
	"time"

	"fieldsales-api/internal/geo"
)

const validSecret = "valid-secret-that-is-long-enough-for-testing"

func clearEnv() {
	for _, k := range []string{
		"JWT_SECRET", "JWT_ISS", "JWT_AUD", "JWT_EXPIRY", "ENVIRONMENT",
		"GEOFENCE_RADIUS_KM", "GEOFENCE_METHOD", "HTTP_ADDR", "LOG_LEVEL",
	} {
		os.Unsetenv(k)
	}
}

func TestLoad(t *testing.T) {
	clearEnv()

	cfg := Load()

	// Check defaults
	if cfg.JWTSecret != defaultJWTSecret {
		t.Errorf("Expected default JWT_SECRET, got %s", cfg.JWTSecret)
	}
	if cfg.JWTIssuer != "fieldsales-api" {
		t.Errorf("Expected default JWT_ISS, got %s", cfg.JWTIssuer)
	}
	if cfg.JWTAudience != "fieldsales-app" {
		t.Errorf("Expected default JWT_AUD, got %s", cfg.JWTAudience)
	}
	if cfg.JWTExpiry != 24*time.Hour {
		t.Errorf("Expected default JWT_EXPIRY, got %v", cfg.JWTExpiry)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("Expected default HTTP_ADDR, got %s", cfg.HTTPAddr)
	}
	if cfg.GeofenceRadiusKm != 0.1 {
		t.Errorf("Expected default GEOFENCE_RADIUS_KM 0.1, got %v", cfg.GeofenceRadiusKm)
	}
	if cfg.GeofenceMethod != geo.MethodPlanar {
		t.Errorf("Expected planar method by default, got %s", cfg.GeofenceMethod)
	}
}

func TestLoadWithEnvironment(t *testing.T) {
	clearEnv()
	defer clearEnv()

	os.Setenv("JWT_SECRET", "test-secret-key")
	os.Setenv("JWT_ISS", "test-issuer")
	os.Setenv("JWT_AUD", "test-audience")
	os.Setenv("JWT_EXPIRY", "2h")
	os.Setenv("GEOFENCE_RADIUS_KM", "0.25")
	os.Setenv("GEOFENCE_METHOD", "Haversine")

	cfg := Load()

	if cfg.JWTSecret != "test-secret-key" {
		t.Errorf("Expected JWT_SECRET from env, got %s", cfg.JWTSecret)
	}
	if cfg.JWTIssuer != "test-issuer" {
		t.Errorf("Expected JWT_ISS from env, got %s", cfg.JWTIssuer)
	}
	if cfg.JWTAudience != "test-audience" {
		t.Errorf("Expected JWT_AUD from env, got %s", cfg.JWTAudience)
	}
	if cfg.JWTExpiry != 2*time.Hour {
		t.Errorf("Expected JWT_EXPIRY from env, got %v", cfg.JWTExpiry)
	}
	if cfg.GeofenceRadiusKm != 0.25 {
		t.Errorf("Expected GEOFENCE_RADIUS_KM from env, got %v", cfg.GeofenceRadiusKm)
	}
	if cfg.GeofenceMethod != geo.MethodHaversine {
		t.Errorf("Expected GEOFENCE_METHOD from env, got %s", cfg.GeofenceMethod)
	}
	if f := cfg.Fence(); f.RadiusKm != 0.25 || f.Method != geo.MethodHaversine {
		t.Errorf("Fence() = %+v", f)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			JWTSecret:        validSecret,
			JWTIssuer:        "test-issuer",
			JWTAudience:      "test-audience",
			JWTExpiry:        time.Hour,
			GeofenceRadiusKm: 0.1,
			GeofenceMethod:   geo.MethodPlanar,
		}
	}

	tests := []struct {
		name        string
		mutate      func(c *Config)
		expectError bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"empty secret", func(c *Config) { c.JWTSecret = "" }, true},
		{"secret too short", func(c *Config) { c.JWTSecret = "short" }, true},
		{"empty issuer", func(c *Config) { c.JWTIssuer = "" }, true},
		{"empty audience", func(c *Config) { c.JWTAudience = "" }, true},
		{"negative expiry", func(c *Config) { c.JWTExpiry = -time.Hour }, true},
		{"zero expiry", func(c *Config) { c.JWTExpiry = 0 }, true},
		{"expiry too short", func(c *Config) { c.JWTExpiry = 30 * time.Second }, true},
		{"expiry too long", func(c *Config) { c.JWTExpiry = 31 * 24 * time.Hour }, true},
		{"zero radius", func(c *Config) { c.GeofenceRadiusKm = 0 }, true},
		{"unknown method", func(c *Config) { c.GeofenceMethod = "manhattan" }, true},
		{"haversine method", func(c *Config) { c.GeofenceMethod = geo.MethodHaversine }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.expectError {
				t.Errorf("Validate() error = %v, expectError %v", err, tt.expectError)
			}
		})
	}
}

func TestLoadAndValidate(t *testing.T) {
	clearEnv()
	defer clearEnv()

	os.Setenv("JWT_SECRET", "test-secret-key-that-is-long-enough-for-testing")
	os.Setenv("JWT_EXPIRY", "1h")

	cfg, err := LoadAndValidate()
	if err != nil {
		t.Errorf("LoadAndValidate() failed with valid config: %v", err)
	}
	if cfg == nil {
		t.Error("LoadAndValidate() returned nil config with valid config")
	}

	os.Setenv("JWT_SECRET", "short")
	if _, err = LoadAndValidate(); err == nil {
		t.Error("LoadAndValidate() should fail with invalid config")
	}

	os.Setenv("JWT_SECRET", "test-secret-key-that-is-long-enough-for-testing")
	os.Setenv("GEOFENCE_RADIUS_KM", "near")
	if _, err = LoadAndValidate(); err == nil {
		t.Error("LoadAndValidate() should fail with an unparseable radius")
	}
}

func TestProductionSecretValidation(t *testing.T) {
	clearEnv()
	defer clearEnv()

	os.Setenv("ENVIRONMENT", "production")
	os.Setenv("JWT_SECRET", defaultJWTSecret)

	cfg := Load()
	if err := cfg.Validate(); err == nil {
		t.Error("Production validation should fail with default secret")
	}

	os.Setenv("JWT_SECRET", "proper-production-secret-that-is-long-enough")
	cfg = Load()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Production validation should pass with proper secret: %v", err)
	}
}
