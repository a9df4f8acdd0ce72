// Package config loads the process-wide configuration used to construct
// the composition root (component O), grounded on the teacher's
// cmd/demo/main.go wiring style: explicit struct, explicit defaulting,
// no DI framework. The process-wide hook bus remains the one piece of
// global state the spec itself requires (§5 "Shared state") — everything
// else configured here is handed explicitly to flowspec.New.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// ObjectStoreKind selects which Evidence storage adapter (§6) a
// deployment runs. Only one is active at a time.
type ObjectStoreKind string

const (
	ObjectStoreS3    ObjectStoreKind = "s3"
	ObjectStoreMongo ObjectStoreKind = "mongo"
)

// RateLimit bounds one company's share of a shared resource, e.g. impact
// analysis checks per second (§4.J).
type RateLimit struct {
	CompanyID string `yaml:"companyId" validate:"required"`
	PerSecond int    `yaml:"perSecond" validate:"gt=0"`
}

// Features toggles optional subsystems on or off without a redeploy.
type Features struct {
	// Cache enables the read-through actionable-task cache (§5 EXPANSION).
	// Disabled by default: correctness never depends on it, and an empty
	// cache.address with Cache enabled is a config error caught at Load.
	Cache bool `yaml:"cache"`
	// AuditSubscriber registers hooks/subscribers.Audit against the
	// configured object store on startup.
	AuditSubscriber bool `yaml:"auditSubscriber"`
	// SlackNotifier registers hooks/subscribers.Notifier on startup.
	SlackNotifier bool `yaml:"slackNotifier"`
}

// Config is the top-level process configuration, unmarshaled from YAML.
// Struct tags cover the unconditional checks; validate() layers the
// conditional ones (a field required only when a sibling feature flag is
// set) that validator's cross-struct required_if can't express cleanly
// here, since the flag and the field it gates live under different
// nested structs.
type Config struct {
	DatabaseDSN string `yaml:"databaseDsn" validate:"required"`

	Cache struct {
		Address string        `yaml:"address"`
		TTL     time.Duration `yaml:"ttl"`
	} `yaml:"cache"`

	ObjectStore struct {
		Kind   ObjectStoreKind `yaml:"kind" validate:"required,oneof=s3 mongo"`
		Bucket string          `yaml:"bucket" validate:"required"` // S3 bucket, or Mongo database name
		Prefix string          `yaml:"prefix"`                     // S3 key prefix; ignored for Mongo
	} `yaml:"objectStore"`

	Slack struct {
		Token   string `yaml:"token"`
		Channel string `yaml:"channel"`
	} `yaml:"slack"`

	ImpactAnalysisRatePerSecond int         `yaml:"impactAnalysisRatePerSecond"`
	RateLimits                  []RateLimit `yaml:"rateLimits" validate:"dive"`
	Features                    Features    `yaml:"features"`
}

// Load reads and parses the YAML config file at path, applying defaults
// for any zero-valued field that must not be zero at runtime.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.ImpactAnalysisRatePerSecond <= 0 {
		c.ImpactAnalysisRatePerSecond = 200
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = 5 * time.Minute
	}
	if c.ObjectStore.Kind == "" {
		c.ObjectStore.Kind = ObjectStoreS3
	}
	if c.ObjectStore.Prefix == "" {
		c.ObjectStore.Prefix = "evidence"
	}
}

func (c *Config) validate() error {
	if err := structValidator.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Features.Cache && c.Cache.Address == "" {
		return fmt.Errorf("features.cache requires cache.address")
	}
	if c.Features.SlackNotifier && (c.Slack.Token == "" || c.Slack.Channel == "") {
		return fmt.Errorf("features.slackNotifier requires slack.token and slack.channel")
	}
	return nil
}
