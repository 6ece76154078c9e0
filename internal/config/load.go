package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up in the project root
const FileName = ".qgate.yaml"

// EnvPrefix prefixes every environment override, e.g. QGATE_CIRCUIT_BREAKER_MAX_FAILURES
const EnvPrefix = "QGATE"

// flagAliases maps CLI flag names that differ from their config key
var flagAliases = map[string]string{
	"sensitivity": "escalation_sensitivity",
	"timeout":     "timeout_ms",
	"state":       "state_path",
}

// Options controls where configuration is read from
type Options struct {
	// ConfigFile is an explicit config file; it must exist when set
	ConfigFile string

	// SearchDir is searched for .qgate.yaml when ConfigFile is empty
	SearchDir string

	// Flags are bound on top of file and environment. Only flags the user
	// changed override lower layers.
	Flags *pflag.FlagSet
}

// Load merges defaults, the config file, QGATE_* environment variables and
// flags (lowest to highest precedence) and validates the result. The second
// return value is the config file that was read, or "" when none was found.
func Load(opts Options) (*Config, string, error) {
	v := viper.New()
	setDefaults(v, "", reflect.ValueOf(*Default()))

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		dir := opts.SearchDir
		if dir == "" {
			dir = "."
		}
		v.AddConfigPath(dir)
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, "", fmt.Errorf("failed to read config: %w", err)
		}
	}

	if opts.Flags != nil {
		if err := bindFlags(v, opts.Flags); err != nil {
			return nil, "", err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, v.ConfigFileUsed(), err
	}
	return cfg, v.ConfigFileUsed(), nil
}

// setDefaults registers every leaf of the default config under its mapstructure key
func setDefaults(v *viper.Viper, prefix string, val reflect.Value) {
	t := val.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		key := field.Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		if field.Type.Kind() == reflect.Struct {
			setDefaults(v, key, val.Field(i))
			continue
		}
		v.SetDefault(key, val.Field(i).Interface())
	}
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	known := make(map[string]bool)
	for _, k := range v.AllKeys() {
		known[k] = true
	}

	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		key, ok := flagAliases[f.Name]
		if !ok {
			key = strings.ReplaceAll(f.Name, "-", "_")
		}
		if !known[key] || bindErr != nil {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			bindErr = fmt.Errorf("failed to bind flag --%s: %w", f.Name, err)
		}
	})
	return bindErr
}

// WriteDefault writes the default configuration as YAML. An existing file is
// only replaced when force is set.
func WriteDefault(path string, force bool) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	header := "# qgate configuration. Environment variables override these values\n" +
		"# (QGATE_ prefix, dots become underscores, lists are comma-separated).\n"
	if _, err := f.WriteString(header); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// YAML renders cfg the way it would appear in a config file
func (c *Config) YAML() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	return string(data), nil
}
