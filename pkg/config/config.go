// Package config loads, defaults and validates the daemon's YAML
// configuration file, the Go equivalent of config.py's Dynaconf-backed
// settings object.
package config

import (
	"os"
	"path/filepath"
	"regexp"
	"runtime"

	"dario.cat/mergo"
	"sigs.k8s.io/yaml"

	"github.com/lutraconsulting/gdbsync/pkg/sync"
	"github.com/lutraconsulting/gdbsync/pkg/syncerr"
)

// projectRefPattern mirrors config.py's "/" in conn.mergin_project check,
// tightened to namespace/name with no further slashes.
var projectRefPattern = regexp.MustCompile(`^[^/]+/[^/]+$`)

// Mergin holds the project-store credentials, named after the original's
// `mergin` config block.
type Mergin struct {
	URL      string `json:"url"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Connection is one entry of config.connections: a single project <->
// schema pairing.
type Connection struct {
	Driver        string      `json:"driver"`
	ConnInfo      string      `json:"conn_info"`
	Modified      string      `json:"modified"`
	Base          string      `json:"base"`
	MerginProject string      `json:"mergin_project"`
	SyncFile      string      `json:"sync_file"`
	SkipTables    interface{} `json:"skip_tables,omitempty"`
}

// NormalizedSkipTables returns SkipTables coerced to a list, porting
// config.py's get_ignored_tables (null -> empty, string -> one-element
// list, list -> itself).
func (c Connection) NormalizedSkipTables() ([]string, error) {
	switch v := c.SkipTables.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, syncerr.Configf("connection %q: skip_tables entries must all be strings", c.MerginProject)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, syncerr.Configf("connection %q: skip_tables must be null, a string, or a list of strings", c.MerginProject)
	}
}

// Daemon holds the loop-mode sleep interval between cycles.
type Daemon struct {
	SleepTime int `json:"sleep_time"`
}

// Notification is the optional SMTP-on-failure block.
type Notification struct {
	SMTPServer           string   `json:"smtp_server"`
	SMTPPort             int      `json:"smtp_port,omitempty"`
	UseSSL               bool     `json:"use_ssl,omitempty"`
	UseTLS               bool     `json:"use_tls,omitempty"`
	SMTPUsername         string   `json:"smtp_username,omitempty"`
	SMTPPassword         string   `json:"smtp_password,omitempty"`
	EmailSender          string   `json:"email_sender"`
	EmailSubject         string   `json:"email_subject"`
	EmailRecipients      []string `json:"email_recipients"`
	MinimalEmailInterval float64  `json:"minimal_email_interval,omitempty"`
}

// Config is the fully-unmarshalled daemon configuration, matching spec.md
// §6's recognized keys exactly.
type Config struct {
	Mergin       Mergin        `json:"mergin"`
	InitFrom     string        `json:"init_from"`
	Connections  []Connection  `json:"connections"`
	Daemon       Daemon        `json:"daemon"`
	Notification *Notification `json:"notification,omitempty"`
	GeodiffExe   string        `json:"geodiff_exe,omitempty"`
	WorkingDir   string        `json:"working_dir,omitempty"`
}

// defaults mirrors the Dynaconf() call's keyword defaults in config.py:
// a platform-appropriate geodiff executable name, a working directory
// under the system temp dir, and a 60-second daemon sleep time. The 4-hour
// default for minimal_email_interval is applied by pkg/notify, not here.
func defaults() Config {
	exe := "geodiff"
	if runtime.GOOS == "windows" {
		exe = "geodiff.exe"
	}
	return Config{
		GeodiffExe: exe,
		WorkingDir: filepath.Join(os.TempDir(), "dbsync"),
		Daemon:     Daemon{SleepTime: 60},
	}
}

// Load reads and parses path, then merges it over the built-in defaults,
// mirroring update_config_path's Dynaconf(settings_files=[path]).update().
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, syncerr.Configf("config file %q does not exist", path)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, syncerr.Configf("reading config file %q: %v", path, err)
	}

	cfg := defaults()
	var fromFile Config
	if err := yaml.Unmarshal(body, &fromFile); err != nil {
		return nil, syncerr.Configf("parsing config file %q: %v", path, err)
	}
	if err := mergo.Merge(&cfg, fromFile, mergo.WithOverride, mergo.WithAppendSlice); err != nil {
		return nil, syncerr.Configf("merging config file %q with defaults: %v", path, err)
	}
	return &cfg, nil
}

// Validate enforces every rule in spec.md §6 / config.py's validate_config,
// minus the "can geodiff actually run" probe, which belongs to
// pkg/geodiff.Locate and is run separately so Validate stays a pure
// function of the parsed config.
func (c *Config) Validate() error {
	if c.Mergin.URL == "" || c.Mergin.Username == "" {
		return syncerr.Configf("incorrect mergin settings: url and username are required")
	}
	if len(c.Connections) == 0 {
		return syncerr.Configf("connections list can not be empty")
	}
	if c.InitFrom == "" {
		return syncerr.Configf("missing parameter `init_from` in the configuration")
	}
	if c.InitFrom != "gpkg" && c.InitFrom != "db" {
		return syncerr.Configf("`init_from` parameter must be either `gpkg` or `db`, current value is %q", c.InitFrom)
	}

	seenBase := map[string]bool{}
	seenModified := map[string]bool{}
	for _, conn := range c.Connections {
		if err := conn.validate(); err != nil {
			return err
		}
		if seenBase[conn.Base] || seenModified[conn.Base] {
			return syncerr.Configf("schema %q is used by more than one connection", conn.Base)
		}
		if seenBase[conn.Modified] || seenModified[conn.Modified] {
			return syncerr.Configf("schema %q is used by more than one connection", conn.Modified)
		}
		seenBase[conn.Base] = true
		seenModified[conn.Modified] = true
	}

	if c.Notification != nil {
		if err := c.Notification.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (conn Connection) validate() error {
	if conn.Driver == "" || conn.ConnInfo == "" || conn.Modified == "" || conn.Base == "" ||
		conn.MerginProject == "" || conn.SyncFile == "" {
		return syncerr.Configf("incorrect connection settings: driver, conn_info, modified, base, mergin_project and sync_file are all required")
	}
	if conn.Driver != string(sync.DriverPostgres) {
		return syncerr.Configf("only the %q driver is currently supported, got %q", sync.DriverPostgres, conn.Driver)
	}
	if !projectRefPattern.MatchString(conn.MerginProject) {
		return syncerr.Configf("mergin project name %q should be provided in the namespace/name format", conn.MerginProject)
	}
	if _, err := conn.NormalizedSkipTables(); err != nil {
		return err
	}
	return nil
}

func (n Notification) validate() error {
	if n.SMTPServer == "" {
		return syncerr.Configf("`smtp_server` is missing from `notification`")
	}
	if n.EmailSender == "" {
		return syncerr.Configf("`email_sender` is missing from `notification`")
	}
	if n.EmailSubject == "" {
		return syncerr.Configf("`email_subject` is missing from `notification`")
	}
	if len(n.EmailRecipients) == 0 {
		return syncerr.Configf("`email_recipients` should be a non-empty list of addresses")
	}
	return nil
}

// Redacted returns a copy of c with every credential replaced by a fixed
// placeholder, for --show-config and for logging the parsed configuration.
func (c Config) Redacted() Config {
	const placeholder = "*****"
	if c.Mergin.Password != "" {
		c.Mergin.Password = placeholder
	}
	if c.Notification != nil {
		red := *c.Notification
		if red.SMTPPassword != "" {
			red.SMTPPassword = placeholder
		}
		c.Notification = &red
	}
	return c
}

