package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/jun/gophsync/internal/logutils"
)

// Backend selects the store implementation.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendDynamo   Backend = "dynamo"
	BackendPostgres Backend = "postgres"
)

// Config is the server configuration. Values come from the YAML file and are
// then overridden by environment variables.
type Config struct {
	DevMode       bool   `yaml:"devMode"`
	FrontendURL   string `yaml:"frontendURL"`
	PublicBaseURL string `yaml:"publicBaseURL"`
	ListenAddr    string `yaml:"listenAddr"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Store struct {
		Backend     Backend `yaml:"backend"`
		PostgresDSN string  `yaml:"postgresDSN"`
		Tables      struct {
			Workspaces  string `yaml:"workspaces"`
			Collections string `yaml:"collections"`
			Members     string `yaml:"members"`
			Invites     string `yaml:"invites"`
			Slugs       string `yaml:"slugs"`
		} `yaml:"tables"`
	} `yaml:"store"`

	Secrets struct {
		JWTParam        string `yaml:"jwtParam"`
		InviteParam     string `yaml:"inviteParam"`
		APIGatewayParam string `yaml:"apiGatewayParam"`
	} `yaml:"secrets"`

	Invites struct {
		KMSMacKeyID       string  `yaml:"kmsMacKeyID"`
		AttemptsPerMinute float64 `yaml:"attemptsPerMinute"`
		AttemptBurst      int     `yaml:"attemptBurst"`
	} `yaml:"invites"`
}

// DefaultPath is read when GOPHSYNC_CONFIG is unset.
const DefaultPath = "./etc/config.yaml"

var (
	once   sync.Once
	config *Config
)

// GetConfig loads the configuration once and panics if it is unreadable.
func GetConfig() *Config {
	once.Do(func() {
		path := os.Getenv("GOPHSYNC_CONFIG")
		if path == "" {
			path = DefaultPath
		}
		c, err := Load(path)
		if err != nil {
			logutils.Log.Error("init config: ", err)
			panic(err)
		}
		config = c
	})
	return config
}

// Load reads path (a missing file is fine), applies the environment and
// fills defaults.
func Load(path string) (*Config, error) {
	c := &Config{}
	if err := readConfig(path, c); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	c.applyEnv(os.Getenv)
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func readConfig(filePath string, c *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	if v := getenv("DEV_MODE"); v != "" {
		c.DevMode, _ = strconv.ParseBool(v)
	}
	set(&c.FrontendURL, "FRONTEND_URL")
	set(&c.PublicBaseURL, "PUBLIC_BASE_URL")
	set(&c.ListenAddr, "LISTEN_ADDR")
	set(&c.Log.Level, "LOG_LEVEL")

	if v := getenv("STORE_BACKEND"); v != "" {
		c.Store.Backend = Backend(v)
	}
	set(&c.Store.PostgresDSN, "POSTGRES_DSN")
	set(&c.Store.Tables.Workspaces, "WORKSPACES_TABLE")
	set(&c.Store.Tables.Collections, "COLLECTIONS_TABLE")
	set(&c.Store.Tables.Members, "MEMBERS_TABLE")
	set(&c.Store.Tables.Invites, "INVITES_TABLE")
	set(&c.Store.Tables.Slugs, "SLUGS_TABLE")

	set(&c.Secrets.JWTParam, "JWT_SECRET_PARAM")
	set(&c.Secrets.InviteParam, "INVITE_SECRET_PARAM")
	set(&c.Secrets.APIGatewayParam, "API_GATEWAY_SECRET_PARAM")
	set(&c.Invites.KMSMacKeyID, "KMS_MAC_KEY_ID")
}

func (c *Config) applyDefaults() {
	def := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	def(&c.FrontendURL, "http://localhost:3000")
	def(&c.PublicBaseURL, c.FrontendURL)
	def(&c.ListenAddr, ":8080")
	def(&c.Log.Level, "info")
	if c.Store.Backend == "" {
		if c.DevMode {
			c.Store.Backend = BackendMemory
		} else {
			c.Store.Backend = BackendDynamo
		}
	}
	def(&c.Store.Tables.Workspaces, "Workspaces")
	def(&c.Store.Tables.Collections, "WorkspaceCollections")
	def(&c.Store.Tables.Members, "WorkspaceMembers")
	def(&c.Store.Tables.Invites, "WorkspaceInvites")
	def(&c.Store.Tables.Slugs, "WorkspaceSlugs")
	def(&c.Secrets.JWTParam, "/gophsync/jwt-secret")
	def(&c.Secrets.InviteParam, "/gophsync/invite-secret")
	def(&c.Secrets.APIGatewayParam, "/gophsync/api-gateway-secret")
	if c.Invites.AttemptsPerMinute <= 0 {
		c.Invites.AttemptsPerMinute = 10
	}
	if c.Invites.AttemptBurst <= 0 {
		c.Invites.AttemptBurst = 5
	}
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendDynamo:
	case BackendPostgres:
		if c.Store.PostgresDSN == "" {
			return errors.New("store backend postgres requires POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	return nil
}
