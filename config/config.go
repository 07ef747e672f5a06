package config

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/joho/godotenv"
)

// DefaultConfigFile is read when no config file is named explicitly
const DefaultConfigFile = "fixture.hcl"

// DataSizeEnv selects the tier when no override is given
const DataSizeEnv = "DATA_SIZE"

// Insert modes
const (
	InsertModeBulk   = "bulk"
	InsertModeValues = "values"
)

// Name styles
const (
	NameStyleFake    = "fake"
	NameStyleIndexed = "indexed"
)

// EmbeddedNATS as events.url starts an in-process NATS server for the duration of a run
const EmbeddedNATS = "embedded"

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,127}$`)

// Config holds the entire fixture configuration as represented in the HCL file
type Config struct {
	DataSize        string `hcl:"data_size,optional"`
	DatabaseName    string `hcl:"database_name,optional"`
	BatchSize       int    `hcl:"batch_size,optional"`
	InsertMode      string `hcl:"insert_mode,optional"`
	InsertRemainder bool   `hcl:"insert_remainder,optional"`
	NameStyle       string `hcl:"name_style,optional"`
	Seed            int64  `hcl:"seed,optional"`

	Server   *ServerConfig   `hcl:"server,block"`
	Admin    *LoginConfig    `hcl:"admin,block"`
	App      *AppLoginConfig `hcl:"app,block"`
	Connect  *ConnectConfig  `hcl:"connect,block"`
	Remove   *RemoveConfig   `hcl:"remove,block"`
	Events   *EventsConfig   `hcl:"events,block"`
	Manifest *ManifestConfig `hcl:"manifest,block"`

	// Tier is resolved from DataSize, the environment and any override; it is not read from HCL.
	Tier Tier
}

// ServerConfig is the SQL Server endpoint
type ServerConfig struct {
	Host string `hcl:"host,optional"`
	Port int    `hcl:"port,optional"`
	// Extra query parameters appended to every connection URL, e.g. encrypt = "disable"
	Params map[string]string `hcl:"params,optional"`
}

// LoginConfig is a SQL login used to connect
type LoginConfig struct {
	Username string `hcl:"username,optional"`
	Password string `hcl:"password,optional"`
}

// AppLoginConfig is the application login created by the loader
type AppLoginConfig struct {
	Username string `hcl:"username,optional"`
	Password string `hcl:"password,optional"`
	Role     string `hcl:"role,optional"`
}

// ConnectConfig controls how connection failures are retried
type ConnectConfig struct {
	Attempts        int    `hcl:"attempts,optional"`
	InitialInterval string `hcl:"initial_interval,optional"`
	MaxInterval     string `hcl:"max_interval,optional"`
}

// RemoveConfig controls the sample deleted by the remover
type RemoveConfig struct {
	// Count defaults to 10 when unset; 0 issues no deletes
	Count *int `hcl:"count,optional"`
	// Candidates are drawn from [RangeStart, RangeEnd)
	RangeStart int `hcl:"range_start,optional"`
	RangeEnd   int `hcl:"range_end,optional"`
}

// EventsConfig enables publishing progress events to NATS
type EventsConfig struct {
	URL           string `hcl:"url"`
	SubjectPrefix string `hcl:"subject_prefix,optional"`
}

// ManifestConfig controls where run manifests are written
type ManifestConfig struct {
	Path      string           `hcl:"path,optional"`
	AzureBlob *AzureBlobConfig `hcl:"azure_blob,block"`
}

// AzureBlobConfig is the container manifests are uploaded to
type AzureBlobConfig struct {
	ConnectionString string `hcl:"connection_string"`
	ContainerName    string `hcl:"container_name"`
}

// Default returns the configuration used when no config file is present
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	c.Tier = Medium
	return c
}

// Load reads the config file at filePath, applies defaults and resolves the tier.
// override, when non-empty, takes precedence over DATA_SIZE and the file's data_size.
// A missing DefaultConfigFile is not an error; any other missing file is.
func Load(filePath string, override string) (*Config, error) {
	explicit := filePath != ""
	if !explicit {
		filePath = DefaultConfigFile
	}

	var c Config
	if fileExists(filePath) {
		src, err := generateHCL(filePath)
		if err != nil {
			return nil, err
		}
		if c, err = processHCL(src, filePath); err != nil {
			return nil, err
		}
		log.Printf("[Config] Loaded config file '%s'", filePath)
	} else if explicit {
		return nil, fmt.Errorf("config file '%s' does not exist", filePath)
	}

	if err := c.resolve(override); err != nil {
		return nil, err
	}
	return &c, nil
}

// Parse decodes an HCL document held in memory, applies defaults and resolves the tier
func Parse(src string, override string) (*Config, error) {
	rendered, err := renderTemplate("inline.hcl", src)
	if err != nil {
		return nil, err
	}
	c, err := processHCL(rendered, "inline.hcl")
	if err != nil {
		return nil, err
	}
	if err := c.resolve(override); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file without overriding variables already set.
// A missing file is ignored.
func LoadEnvFile(filePath string) error {
	if filePath == "" || !fileExists(filePath) {
		return nil
	}
	if err := godotenv.Load(filePath); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", filePath, err)
	}
	log.Printf("[Config] Loaded environment from '%s'", filePath)
	return nil
}

func (c *Config) resolve(override string) error {
	c.applyDefaults()

	dataSize := c.DataSize
	if env, ok := os.LookupEnv(DataSizeEnv); ok {
		dataSize = env
	}
	if override != "" {
		dataSize = override
	}

	tier, err := ParseTier(dataSize)
	if err != nil {
		return err
	}
	c.Tier = tier
	c.DataSize = tier.String()

	return c.Validate()
}

func (c *Config) applyDefaults() {
	if c.DatabaseName == "" {
		c.DatabaseName = "xe"
	}
	if c.BatchSize == 0 {
		c.BatchSize = 1000
	}
	if c.InsertMode == "" {
		c.InsertMode = InsertModeBulk
	}
	if c.NameStyle == "" {
		c.NameStyle = NameStyleFake
	}

	if c.Server == nil {
		c.Server = &ServerConfig{}
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 9090
	}

	if c.Admin == nil {
		c.Admin = &LoginConfig{}
	}
	if c.Admin.Username == "" {
		c.Admin.Username = "sa"
	}
	if c.Admin.Password == "" {
		c.Admin.Password = "Password_123"
	}

	if c.App == nil {
		c.App = &AppLoginConfig{}
	}
	if c.App.Username == "" {
		c.App.Username = "admin"
	}
	if c.App.Password == "" {
		c.App.Password = "Password_123"
	}
	if c.App.Role == "" {
		c.App.Role = "sysadmin"
	}

	if c.Connect == nil {
		c.Connect = &ConnectConfig{}
	}
	if c.Connect.Attempts == 0 {
		c.Connect.Attempts = 5
	}
	if c.Connect.InitialInterval == "" {
		c.Connect.InitialInterval = "1s"
	}
	if c.Connect.MaxInterval == "" {
		c.Connect.MaxInterval = "30s"
	}

	if c.Remove == nil {
		c.Remove = &RemoveConfig{}
	}
	if c.Remove.Count == nil {
		count := 10
		c.Remove.Count = &count
	}
	if c.Remove.RangeStart == 0 && c.Remove.RangeEnd == 0 {
		c.Remove.RangeStart, c.Remove.RangeEnd = 1, 1000
	}

	if c.Events != nil && c.Events.SubjectPrefix == "" {
		c.Events.SubjectPrefix = "fixture"
	}
}

// Validate checks the configuration for values the fixture cannot work with
func (c *Config) Validate() error {
	var errs []error

	for label, ident := range map[string]string{
		"database_name": c.DatabaseName,
		"app.username":  c.App.Username,
		"app.role":      c.App.Role,
	} {
		if !identifierPattern.MatchString(ident) {
			errs = append(errs, fmt.Errorf("%s %q is not a valid identifier", label, ident))
		}
	}

	if len(c.App.Password) > 128 {
		errs = append(errs, errors.New("app.password must be at most 128 characters"))
	}

	if c.BatchSize < 1 || c.BatchSize > 1000 {
		errs = append(errs, fmt.Errorf("batch_size must be between 1 and 1000, got %d", c.BatchSize))
	}

	switch strings.ToLower(c.InsertMode) {
	case InsertModeBulk, InsertModeValues:
	default:
		errs = append(errs, fmt.Errorf("unknown insert_mode: %s", c.InsertMode))
	}

	switch strings.ToLower(c.NameStyle) {
	case NameStyleFake, NameStyleIndexed:
	default:
		errs = append(errs, fmt.Errorf("unknown name_style: %s", c.NameStyle))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}

	if c.Connect.Attempts < 1 {
		errs = append(errs, fmt.Errorf("connect.attempts must be positive, got %d", c.Connect.Attempts))
	}
	if _, _, err := c.Backoff(); err != nil {
		errs = append(errs, err)
	}

	if count := *c.Remove.Count; count < 0 {
		errs = append(errs, fmt.Errorf("remove.count must not be negative, got %d", count))
	} else if c.Remove.RangeEnd-c.Remove.RangeStart < count {
		errs = append(errs, fmt.Errorf("remove range [%d, %d) cannot supply %d distinct candidates",
			c.Remove.RangeStart, c.Remove.RangeEnd, count))
	}

	if c.Events != nil && c.Events.URL == "" {
		errs = append(errs, errors.New("events.url is required when an events block is present"))
	}

	if c.Manifest != nil && c.Manifest.AzureBlob != nil {
		if c.Manifest.AzureBlob.ConnectionString == "" {
			errs = append(errs, errors.New("manifest.azure_blob.connection_string is required"))
		}
		if c.Manifest.AzureBlob.ContainerName == "" {
			errs = append(errs, errors.New("manifest.azure_blob.container_name is required"))
		}
	}

	return errors.Join(errs...)
}

// Backoff returns the initial and maximum connect retry intervals
func (c *Config) Backoff() (initial, max time.Duration, err error) {
	if initial, err = time.ParseDuration(c.Connect.InitialInterval); err != nil {
		return 0, 0, fmt.Errorf("invalid connect.initial_interval: %w", err)
	}
	if max, err = time.ParseDuration(c.Connect.MaxInterval); err != nil {
		return 0, 0, fmt.Errorf("invalid connect.max_interval: %w", err)
	}
	if max < initial {
		return 0, 0, fmt.Errorf("connect.max_interval %s is shorter than initial_interval %s", max, initial)
	}
	return initial, max, nil
}

// AdminURL returns the connection URL for the administrative login
func (c *Config) AdminURL() string {
	return c.connectionURL(c.Admin.Username, c.Admin.Password, "")
}

// AppURL returns the connection URL for the application login.
// An empty database connects to the login's default database.
func (c *Config) AppURL(database string) string {
	return c.connectionURL(c.App.Username, c.App.Password, database)
}

func (c *Config) connectionURL(username, password, database string) string {
	q := url.Values{}
	for k, v := range c.Server.Params {
		q.Set(k, v)
	}
	if database != "" {
		q.Set("database", database)
	}

	u := url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(username, password),
		Host:     net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port)),
		RawQuery: q.Encode(),
	}
	return u.String()
}

// generateHCL Generates the HCL config after processing the text templating
func generateHCL(filePath string) (string, error) {
	src, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}
	return renderTemplate(filepath.Base(filePath), string(src))
}

// renderTemplate runs the config source through text/template with the Sprig functions loaded
func renderTemplate(name string, src string) (string, error) {
	t, err := template.New(name).Funcs(sprig.TxtFuncMap()).Parse(src)
	if err != nil {
		return "", fmt.Errorf("failed to parse config template %s: %w", name, err)
	}

	buf := &bytes.Buffer{}
	if err := t.Execute(buf, nil); err != nil {
		return "", fmt.Errorf("failed to render config template %s: %w", name, err)
	}
	return buf.String(), nil
}

// processHCL returns a config object based on the provided config source
func processHCL(configHCL string, filePath string) (Config, error) {
	var c Config

	f, diags := hclsyntax.ParseConfig([]byte(configHCL), filePath, hcl.Pos{Line: 1, Column: 1, Byte: 0})
	if diags.HasErrors() {
		return c, fmt.Errorf("failed to parse %s: %s", filePath, diags.Error())
	}

	if diags := gohcl.DecodeBody(f.Body, nil, &c); diags.HasErrors() {
		return c, fmt.Errorf("failed to decode %s: %s", filePath, diags.Error())
	}
	return c, nil
}

func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}
