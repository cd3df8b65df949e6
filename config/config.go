// Package config loads the gateway configuration: server settings, the
// credential verifier, data sources, and the resolver bindings that drive
// execution. Configuration is read once at startup; a malformed file is fatal.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of the gateway configuration file.
type Config struct {
	Server      ServerConfig       `yaml:"server"`
	Auth        AuthConfig         `yaml:"auth"`
	DataSources []DataSourceConfig `yaml:"dataSources"`
	Resolvers   []ResolverConfig   `yaml:"resolvers"`
	// SchemaFile is the path to the GraphQL SDL document, relative to the
	// config file's directory when not absolute.
	SchemaFile string `yaml:"schemaFile"`
	// CursorSecret signs pagination cursors. When empty a random per-process
	// key is used, which invalidates outstanding cursors across restarts.
	CursorSecret string `yaml:"cursorSecret"`
}

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	Port string `yaml:"port"`
	// Deadline bounds each inbound operation end to end.
	Deadline Duration `yaml:"deadline"`
}

// AuthConfig identifies the external identity provider.
type AuthConfig struct {
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
	JwksURL  string `yaml:"jwksURL"`
	// CacheTTL bounds how long fetched verification keys are reused.
	CacheTTL Duration `yaml:"cacheTTL"`
}

// DataSourceConfig identifies one backing table and its key schema.
type DataSourceConfig struct {
	ID       string `yaml:"id"`
	Table    string `yaml:"table"`
	HashKey  string `yaml:"hashKey"`
	RangeKey string `yaml:"rangeKey"`
	// Index names the secondary index used for key conditions that do not
	// start from the table's hash key.
	Index  string `yaml:"index"`
	Region string `yaml:"region"`
	// MaxAttempts bounds retries of throttled calls.
	MaxAttempts int `yaml:"maxAttempts"`
	// MaxInFlight bounds concurrent calls against this source; acquisition
	// waits at most AcquireTimeout before failing as throttled.
	MaxInFlight    int           `yaml:"maxInFlight"`
	AcquireTimeout Duration `yaml:"acquireTimeout"`
}

// ResolverConfig binds one schema field to a data source and its two
// mapping templates.
type ResolverConfig struct {
	Type       string          `yaml:"type"`
	Field      string          `yaml:"field"`
	DataSource string          `yaml:"dataSource"`
	Request    RequestTemplate `yaml:"request"`
	// Response is an expression evaluated against the backend result.
	Response string `yaml:"response"`
}

// RequestTemplate is the declarative request mapping. Leaf values are
// expressions evaluated per invocation against the request context.
type RequestTemplate struct {
	Operation string `yaml:"operation"`
	// Key expressions, one per key attribute (GetItem, PutItem, DeleteItem).
	Key map[string]string `yaml:"key"`
	// Attributes expressions for non-key item attributes (PutItem).
	Attributes map[string]string `yaml:"attributes"`
	// KeyCondition expressions, equality per attribute (Query).
	KeyCondition map[string]string `yaml:"keyCondition"`
	Limit        string            `yaml:"limit"`
	Cursor       string            `yaml:"cursor"`
}

const (
	defaultPort           = "8080"
	defaultDeadline       = 10 * time.Second
	defaultCacheTTL       = 15 * time.Minute
	defaultMaxAttempts    = 4
	defaultMaxInFlight    = 64
	defaultAcquireTimeout = 2 * time.Second
)

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates configuration bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = defaultPort
	}
	if p := os.Getenv("PORT"); p != "" {
		c.Server.Port = p
	}
	if c.Server.Deadline <= 0 {
		c.Server.Deadline = Duration(defaultDeadline)
	}
	if c.Auth.CacheTTL <= 0 {
		c.Auth.CacheTTL = Duration(defaultCacheTTL)
	}
	if c.SchemaFile == "" {
		c.SchemaFile = "schema.graphql"
	}
	for i := range c.DataSources {
		ds := &c.DataSources[i]
		if ds.MaxAttempts <= 0 {
			ds.MaxAttempts = defaultMaxAttempts
		}
		if ds.MaxInFlight <= 0 {
			ds.MaxInFlight = defaultMaxInFlight
		}
		if ds.AcquireTimeout <= 0 {
			ds.AcquireTimeout = Duration(defaultAcquireTimeout)
		}
	}
}

func (c *Config) validate() error {
	if c.Auth.JwksURL == "" {
		return fmt.Errorf("auth.jwksURL is required")
	}
	if len(c.DataSources) == 0 {
		return fmt.Errorf("at least one data source is required")
	}
	sources := make(map[string]bool, len(c.DataSources))
	for _, ds := range c.DataSources {
		if ds.ID == "" || ds.Table == "" || ds.HashKey == "" {
			return fmt.Errorf("data source %q: id, table and hashKey are required", ds.ID)
		}
		if sources[ds.ID] {
			return fmt.Errorf("duplicate data source id %q", ds.ID)
		}
		sources[ds.ID] = true
	}
	if len(c.Resolvers) == 0 {
		return fmt.Errorf("at least one resolver binding is required")
	}
	seen := make(map[string]bool, len(c.Resolvers))
	for _, r := range c.Resolvers {
		name := r.Type + "." + r.Field
		if r.Type == "" || r.Field == "" {
			return fmt.Errorf("resolver %q: type and field are required", name)
		}
		if seen[name] {
			return fmt.Errorf("duplicate resolver binding %q", name)
		}
		seen[name] = true
		if !sources[r.DataSource] {
			return fmt.Errorf("resolver %q: unknown data source %q", name, r.DataSource)
		}
		if err := r.Request.validate(name); err != nil {
			return err
		}
		if r.Response == "" {
			return fmt.Errorf("resolver %q: response template is required", name)
		}
	}
	return nil
}

func (t *RequestTemplate) validate(name string) error {
	switch t.Operation {
	case "GetItem", "DeleteItem":
		if len(t.Key) == 0 {
			return fmt.Errorf("resolver %q: %s requires a key template", name, t.Operation)
		}
	case "PutItem":
		if len(t.Key) == 0 {
			return fmt.Errorf("resolver %q: PutItem requires a key template", name)
		}
	case "Query":
		if len(t.KeyCondition) == 0 {
			return fmt.Errorf("resolver %q: Query requires a keyCondition template", name)
		}
	case "":
		return fmt.Errorf("resolver %q: request operation is required", name)
	default:
		return fmt.Errorf("resolver %q: unknown operation %q", name, t.Operation)
	}
	return nil
}
