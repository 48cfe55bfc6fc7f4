package cli

import (
	"io"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

const DefaultListenAddr = ":8085"

var (
	ErrDatabaseURLMissing    = errors.New("database url was not defined")
	ErrOperatorSecretMissing = errors.New("operator secret was not defined")
)

// Config is read from an optional yaml file, then from SCHEMATA_* environment
// variables, then from command line flags, each overriding the previous one
type Config struct {
	DatabaseURL      string `env:"SCHEMATA_DATABASE_URL"`
	MigrationsFolder string `env:"SCHEMATA_MIGRATIONS_FOLDER"`
	MigrationsTable  string `env:"SCHEMATA_MIGRATIONS_TABLE"`
	OperatorSecret   string `env:"SCHEMATA_OPERATOR_SECRET"`
	ListenAddr       string `env:"SCHEMATA_LISTEN_ADDR"`

	Verbose bool
	NoColor bool
}

type (
	migrations struct {
		DatabaseURL string `yaml:"database_url"`
		Folder      string `yaml:"folder"`
		Table       string `yaml:"table"`
	}

	admin struct {
		ListenAddr     string `yaml:"listen_addr"`
		OperatorSecret string `yaml:"operator_secret"`
	}

	configFile struct {
		Version    string     `yaml:"version"`
		Migrations migrations `yaml:"migrations"`
		Admin      admin      `yaml:"admin"`
	}
)

const configFileStub = `version: "1"
migrations:
  database_url: "%%SCHEMATA_DB%%"
  # leave empty to use the migrations compiled into the binary
  folder: ""
  table: schema_migrations
admin:
  listen_addr: ":8085"
  operator_secret: "%%SCHEMATA_OPERATOR%%"
`

// LoadConfig reads the yaml file at path when path is not empty and applies
// the environment overrides. Values of the form %%NAME%% in the file are
// replaced with the value of the NAME environment variable.
func LoadConfig(path string) (Config, error) {
	var cfg Config

	if path != "" {
		fromFile, err := createConfigFromYaml(path)
		if err != nil {
			return cfg, err
		}
		cfg = fromFile
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, errors.Wrap(err, "could not parse environment")
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}

	return cfg, nil
}

func (cfg Config) requireDatabase() error {
	if cfg.DatabaseURL == "" {
		return ErrDatabaseURLMissing
	}

	return nil
}

func createConfigFromYaml(path string) (Config, error) {
	var cfg Config

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "could not read schemata configuration file")
	}

	var cfgFile configFile
	if err := yaml.Unmarshal(b, &cfgFile); err != nil {
		return cfg, errors.Wrap(err, "could not parse schemata configuration file")
	}

	cfg.DatabaseURL = fromEnvIfReferenced(cfgFile.Migrations.DatabaseURL)
	cfg.MigrationsFolder = fromEnvIfReferenced(cfgFile.Migrations.Folder)
	cfg.MigrationsTable = fromEnvIfReferenced(cfgFile.Migrations.Table)
	cfg.ListenAddr = fromEnvIfReferenced(cfgFile.Admin.ListenAddr)
	cfg.OperatorSecret = fromEnvIfReferenced(cfgFile.Admin.OperatorSecret)

	return cfg, nil
}

func fromEnvIfReferenced(value string) string {
	if len(value) > 4 && strings.HasPrefix(value, "%%") && strings.HasSuffix(value, "%%") {
		return os.Getenv(strings.Trim(value, "%"))
	}

	return value
}

// InitCfg writes a config file stub to path, an existing file is not overwritten
func InitCfg(path string) error {
	if FileExists(path) {
		return errors.Errorf("config file %s already exists", path)
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "could not create config file")
	}

	if _, err := io.Copy(f, strings.NewReader(configFileStub)); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "could not write config file")
	}

	return f.Close()
}

func FileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}
