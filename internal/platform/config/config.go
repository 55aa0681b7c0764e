package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the process-wide configuration. It is built once at
// startup and treated as immutable afterwards; every component receives it
// by reference instead of reading the environment on its own.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	JWT      JWTConfig      `json:"jwt"`
	Cache    CacheConfig    `json:"cache"`
	Records  RecordsConfig  `json:"records"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	BaseRoute string `json:"baseRoute"`
	WebDomain string `json:"webDomain"`
	Debug     bool   `json:"debug"`

	// Write throttling per client IP. Zero disables it.
	WriteRateMax    int           `json:"writeRateMax"`
	WriteRateWindow time.Duration `json:"writeRateWindow"`
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Postgres PostgreSQLConfig `json:"postgres"`
}

// PostgreSQLConfig holds PostgreSQL-specific configuration
type PostgreSQLConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Username        string        `json:"username"`
	Password        string        `json:"password"`
	Database        string        `json:"database"`
	Schema          string        `json:"schema"`
	SSLMode         string        `json:"sslMode"`
	MaxOpenConns    int           `json:"maxOpenConns"`
	MaxIdleConns    int           `json:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime"`
	ConnectTimeout  int           `json:"connectTimeout"`
}

// JWTConfig holds JWT-related configuration. Requests without a token are
// served anonymously, so only the public key is required.
type JWTConfig struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

// CacheConfig holds cache-related configuration
type CacheConfig struct {
	Enabled bool          `json:"enabled"`
	Prefix  string        `json:"prefix"`
	TTL     time.Duration `json:"ttl"`
	Redis   RedisConfig   `json:"redis"`
}

// RedisConfig holds Redis-specific configuration
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	Database int    `json:"database"`
	PoolSize int    `json:"poolSize"`
}

// RecordsConfig holds the record-domain configuration shared by all families.
type RecordsConfig struct {
	URIScheme       string                  `json:"uriScheme"`
	URIHost         string                  `json:"uriHost"`
	ResponseLimit   int64                   `json:"responseLimit"`
	DefaultPageSize int64                   `json:"defaultPageSize"`
	MaxLookupDepth  int                     `json:"maxLookupDepth"`
	Families        map[string]FamilyConfig `json:"families"`
}

// FamilyConfig holds the per-family policy knobs: which kinds are allowed,
// what gets defaulted on create, and the business ceilings enforced before
// a write is committed.
type FamilyConfig struct {
	Name              string          `json:"name"`
	Collection        string          `json:"collection"`
	AllowedKinds      []string        `json:"allowedKinds"` // empty allows any kind
	DefaultKind       string          `json:"defaultKind"`
	DefaultVisibility string          `json:"defaultVisibility"`
	AutoApprove       bool            `json:"autoApprove"`
	AutoApproveKinds  map[string]bool `json:"autoApproveKinds"`
	CountLimit        int64           `json:"countLimit"` // 0 means unlimited
	LimitRules        []LimitRule     `json:"limitRules"`
	UniquenessFields  []string        `json:"uniquenessFields"`
	UniquenessSet     string          `json:"uniquenessSet"`
}

// LimitRule is a scoped record-count ceiling. Scope is a filter/set
// query-string template whose ${field} placeholders are substituted from the
// incoming record before being parsed and counted. An empty scope applies to
// the whole collection.
type LimitRule struct {
	Scope string `json:"scope"`
	Limit int64  `json:"limit"`
}

// Family names. Env keys derive from the upper-snake form of these.
const (
	FamilyEntity         = "entity"
	FamilyList           = "list"
	FamilyEntityReaction = "entity-reaction"
	FamilyListReaction   = "list-reaction"
	FamilyRelation       = "list-entity-rel"
)

var familyCollections = map[string]string{
	FamilyEntity:         "entities",
	FamilyList:           "lists",
	FamilyEntityReaction: "entity_reactions",
	FamilyListReaction:   "list_reactions",
	FamilyRelation:       "list_entity_relations",
}

var familyDefaultKinds = map[string]string{
	FamilyEntity:         "entity",
	FamilyList:           "list",
	FamilyEntityReaction: "reaction",
	FamilyListReaction:   "reaction",
	FamilyRelation:       "relation",
}

// Family returns the configuration for a family name.
func (c *Config) Family(name string) (FamilyConfig, bool) {
	fc, ok := c.Records.Families[name]
	return fc, ok
}

// LoadFromEnv loads configuration from the environment.
// It follows a clear precedence:
// 1. Explicit environment variables (e.g., set in the shell or by CI)
// 2. Values from the .env file (if it exists)
// 3. Hardcoded defaults
func LoadFromEnv() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		fmt.Println("INFO: .env file not found, using environment variables and defaults.")
	}

	env := func(key, def string) string { return getEnvOrDefault(key, def) }
	return loadWith(env, getEnvAsInt, getEnvAsInt64, getEnvAsBool, getEnvAsDuration)
}

// LoadFromMap loads configuration from an in-memory map. This is the primary
// helper for testing configuration logic in isolation without manipulating
// global environment variables.
func LoadFromMap(envMap map[string]string) (*Config, error) {
	get := func(key, def string) string {
		if v, ok := envMap[key]; ok {
			return v
		}
		return def
	}
	getInt := func(key string, def int) int {
		if v, ok := envMap[key]; ok {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
		return def
	}
	getInt64 := func(key string, def int64) int64 {
		if v, ok := envMap[key]; ok {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return n
			}
		}
		return def
	}
	getBool := func(key string, def bool) bool {
		if v, ok := envMap[key]; ok {
			if b, err := strconv.ParseBool(v); err == nil {
				return b
			}
		}
		return def
	}
	getDuration := func(key string, def time.Duration) time.Duration {
		if v, ok := envMap[key]; ok {
			if d, err := time.ParseDuration(v); err == nil {
				return d
			}
		}
		return def
	}
	return loadWith(get, getInt, getInt64, getBool, getDuration)
}

func loadWith(
	get func(string, string) string,
	getInt func(string, int) int,
	getInt64 func(string, int64) int64,
	getBool func(string, bool) bool,
	getDuration func(string, time.Duration) time.Duration,
) (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:      get("HOST", "localhost"),
			Port:      getInt("SERVER_PORT", 8080),
			BaseRoute: get("BASE_ROUTE", ""),
			WebDomain: get("WEB_DOMAIN", "http://localhost:3000"),
			Debug:     getBool("DEBUG", false),

			WriteRateMax:    getInt("WRITE_RATE_LIMIT", 0),
			WriteRateWindow: getDuration("WRITE_RATE_WINDOW", time.Minute),
		},
		Database: DatabaseConfig{
			Postgres: PostgreSQLConfig{
				Host:            get("POSTGRES_HOST", "localhost"),
				Port:            getInt("POSTGRES_PORT", 5432),
				Username:        get("POSTGRES_USERNAME", "postgres"),
				Password:        get("POSTGRES_PASSWORD", ""),
				Database:        get("POSTGRES_DATABASE", "recordbase"),
				Schema:          get("POSTGRES_SCHEMA", "public"),
				SSLMode:         get("POSTGRES_SSL_MODE", "disable"),
				MaxOpenConns:    getInt("POSTGRES_MAX_OPEN_CONNS", 25),
				MaxIdleConns:    getInt("POSTGRES_MAX_IDLE_CONNS", 25),
				ConnMaxLifetime: time.Duration(getInt("POSTGRES_CONN_MAX_LIFETIME", 300)) * time.Second,
				ConnectTimeout:  getInt("POSTGRES_CONNECT_TIMEOUT", 10),
			},
		},
		JWT: JWTConfig{
			PublicKey:  get("JWT_PUBLIC_KEY", ""),
			PrivateKey: get("JWT_PRIVATE_KEY", ""),
		},
		Cache: CacheConfig{
			Enabled: getBool("CACHE_ENABLED", false),
			Prefix:  get("CACHE_PREFIX", "recordbase:"),
			TTL:     getDuration("CACHE_TTL", 1*time.Hour),
			Redis: RedisConfig{
				Address:  get("REDIS_ADDRESS", "localhost:6379"),
				Password: get("REDIS_PASSWORD", ""),
				Database: getInt("REDIS_DATABASE", 0),
				PoolSize: getInt("REDIS_POOL_SIZE", 10),
			},
		},
		Records: RecordsConfig{
			URIScheme:       get("URI_SCHEME", "record"),
			URIHost:         get("URI_HOST", "localhost"),
			ResponseLimit:   getInt64("RESPONSE_LIMIT", 50),
			DefaultPageSize: getInt64("DEFAULT_PAGE_SIZE", 20),
			MaxLookupDepth:  getInt("MAX_LOOKUP_DEPTH", 5),
			Families:        map[string]FamilyConfig{},
		},
	}

	for _, name := range []string{FamilyEntity, FamilyList, FamilyEntityReaction, FamilyListReaction, FamilyRelation} {
		fc, err := loadFamily(name, get, getInt64, getBool)
		if err != nil {
			return nil, err
		}
		config.Records.Families[name] = fc
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// envKey turns a family name into its environment key fragment,
// e.g. "list-entity-rel" -> "LIST_ENTITY_REL".
func envKey(family string) string {
	return strings.ToUpper(strings.ReplaceAll(family, "-", "_"))
}

func loadFamily(
	name string,
	get func(string, string) string,
	getInt64 func(string, int64) int64,
	getBool func(string, bool) bool,
) (FamilyConfig, error) {
	key := envKey(name)

	fc := FamilyConfig{
		Name:              name,
		Collection:        familyCollections[name],
		DefaultKind:       get("DEFAULT_KIND_"+key, familyDefaultKinds[name]),
		DefaultVisibility: get("VISIBILITY_"+key, "protected"),
		AutoApprove:       getBool("AUTOAPPROVE_"+key, false),
		AutoApproveKinds:  map[string]bool{},
		CountLimit:        getInt64("RECORD_LIMIT_"+key+"_COUNT", 0),
		UniquenessSet:     get("UNIQUENESS_"+key+"_SET", ""),
	}

	if kinds := get(key+"_KINDS", ""); kinds != "" {
		for _, k := range strings.Split(kinds, ",") {
			if k = strings.TrimSpace(k); k != "" {
				fc.AllowedKinds = append(fc.AllowedKinds, k)
			}
		}
	}

	for _, k := range fc.AllowedKinds {
		kindKey := strings.ToUpper(strings.ReplaceAll(k, "-", "_"))
		if getBool("AUTOAPPROVE_"+key+"_"+kindKey, false) {
			fc.AutoApproveKinds[k] = true
		}
	}

	if raw := get("RECORD_LIMIT_"+key+"_SCOPES", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &fc.LimitRules); err != nil {
			return fc, fmt.Errorf("invalid RECORD_LIMIT_%s_SCOPES: %w", key, err)
		}
	}

	if fields := get("UNIQUENESS_"+key+"_FIELDS", ""); fields != "" {
		for _, f := range strings.Split(fields, ",") {
			if f = strings.TrimSpace(f); f != "" {
				fc.UniquenessFields = append(fc.UniquenessFields, f)
			}
		}
	}

	return fc, nil
}

// Validate validates the configuration for required fields
func (c *Config) Validate() error {
	var errs []string

	if c.Records.ResponseLimit <= 0 {
		errs = append(errs, "RESPONSE_LIMIT must be positive")
	}
	if c.Records.DefaultPageSize <= 0 {
		errs = append(errs, "DEFAULT_PAGE_SIZE must be positive")
	}
	if c.Records.DefaultPageSize > c.Records.ResponseLimit {
		errs = append(errs, "DEFAULT_PAGE_SIZE cannot exceed RESPONSE_LIMIT")
	}

	for name, fc := range c.Records.Families {
		switch fc.DefaultVisibility {
		case "public", "protected", "private":
		default:
			errs = append(errs, fmt.Sprintf("VISIBILITY_%s must be public, protected or private", envKey(name)))
		}
		for _, rule := range fc.LimitRules {
			if rule.Limit <= 0 {
				errs = append(errs, fmt.Sprintf("RECORD_LIMIT_%s_SCOPES entries need a positive limit", envKey(name)))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Helper functions
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
