// Ringq uses flags and a single config file for configuration.
// The config file is stored in TOML format and contains the values that can be set via flags. Each leaf field of
// Config names its command line flag with a `flag` struct tag; tables only group related flags together.
// Flags given explicitly on the command line win over the config file.

package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"slices"
	"strings"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/require"
)

var configFilePath = flag.String("config_file", "ringq.toml", "Path to the TOML configuration file.")

// skippedConfigFlags is the list of command line flags that don't need a config file entry.
var skippedConfigFlags = []string{"print_version", "config_file"}

// Config is the schema of the config file.
type Config struct {
	Log struct {
		HandlerType string `toml:"handler_type" flag:"log_handler_type"`
		Level       string `toml:"level" flag:"log_level"`
	} `toml:"log"`
	Harness struct {
		Script      string `toml:"script" flag:"script"`
		FailPercent int    `toml:"fail_percent" flag:"fail_percent"`
		Compare     string `toml:"compare" flag:"compare"`
		CopyLength  int    `toml:"copy_length" flag:"copy_length"`
		Echo        bool   `toml:"echo" flag:"echo"`
	} `toml:"harness"`
	Server struct {
		Address    string `toml:"address" flag:"address"`
		ShardCount int    `toml:"shard_count" flag:"shard_count"`
		Compare    string `toml:"compare" flag:"queue_compare"`
	} `toml:"server"`
}

// configLeaf is a flag-annotated field of Config.
type configLeaf struct {
	path     []string // TOML key path, e.g. ["log", "level"].
	flagName string
	value    reflect.Value // Invalid when walking the type only.
}

// walkConfig calls `visit` on every flag-annotated leaf of the given Config type / value.
func walkConfig(t reflect.Type, v reflect.Value, path []string, visit func(configLeaf) error) error {
	for fieldIdx := 0; fieldIdx < t.NumField(); fieldIdx++ {
		field := t.Field(fieldIdx)
		key, _, _ := strings.Cut(field.Tag.Get("toml"), ",")
		if key == "" {
			key = field.Name
		}
		fieldPath := append(slices.Clone(path), key)
		var fieldValue reflect.Value
		if v.IsValid() {
			fieldValue = v.Field(fieldIdx)
		}
		if field.Type.Kind() == reflect.Struct { // Tables group flags; recurse into them.
			if err := walkConfig(field.Type, fieldValue, fieldPath, visit); err != nil {
				return err
			}
			continue
		}
		flagName := field.Tag.Get("flag")
		if flagName == "" {
			return fmt.Errorf("config field '%s' has no flag annotation", strings.Join(fieldPath, "."))
		}
		if err := visit(configLeaf{path: fieldPath, flagName: flagName, value: fieldValue}); err != nil {
			return err
		}
	}
	return nil
}

// setConfigFlags sets the flags of every field defined in the config file, except the ones in `explicit`.
// Flags that aren't registered in the running binary are skipped.
func setConfigFlags(conf *Config, meta toml.MetaData, explicit map[string]bool) error {
	return walkConfig(reflect.TypeOf(*conf), reflect.ValueOf(*conf), nil, func(leaf configLeaf) error {
		if !meta.IsDefined(leaf.path...) || explicit[leaf.flagName] {
			return nil
		}
		if flag.Lookup(leaf.flagName) == nil {
			slog.Debug("Skipping a config entry with no registered flag.", "flag", leaf.flagName)
			return nil
		}
		if err := flag.Set(leaf.flagName, fmt.Sprint(leaf.value.Interface())); err != nil {
			return fmt.Errorf("failed to set flag %s: %w", leaf.flagName, err)
		}
		return nil
	})
}

// loadConfig applies the config file at `path` to the registered flags.
func loadConfig(path string, explicit map[string]bool) error {
	conf := new(Config)
	meta, err := toml.DecodeFile(path, conf)
	if err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown config keys: %v", undecoded)
	}
	return setConfigFlags(conf, meta, explicit)
}

// InitFlags initializes the flags from the config file specified by the -config_file flag.
// It should be called after defining all flags and before using them.
func InitFlags() {
	flag.Parse()

	if *configFilePath == "" {
		slog.Info("Config file not specified. Skipping config initialization.")
		return
	}

	explicit := make(map[ /*flagName*/ string]bool)
	flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	err := loadConfig(*configFilePath, explicit)
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("Config file does not exist.", "path", *configFilePath)
		return
	}
	if err != nil { // Keep going with the command line / default flag values.
		slog.Error("Failed to apply config file.", "path", *configFilePath, "error", err)
	}
}

// getDefinedFlags returns the set of flags that have an entry in Config.
func getDefinedFlags() (map[ /*flagName*/ string]struct{}, error) {
	flagSet := make(map[string]struct{})
	err := walkConfig(reflect.TypeOf(Config{}), reflect.Value{}, nil, func(leaf configLeaf) error {
		if _, exists := flagSet[leaf.flagName]; exists {
			return fmt.Errorf("duplicate flag name '%s' in config: %s", leaf.flagName, strings.Join(leaf.path, "."))
		}
		flagSet[leaf.flagName] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return flagSet, nil
}

// CollectUnregisteredFlags collects all flags that haven't been registered in the config schema.
// An error exists in the results corresponding to each unregistered flag.
func CollectUnregisteredFlags() []error {
	definedFlags, err := getDefinedFlags()
	if err != nil {
		return []error{err}
	}
	errs := make([]error, 0)
	flag.VisitAll(func(f *flag.Flag) {
		if strings.HasPrefix(f.Name, "test.") { // Skip test flags.
			return
		}
		if slices.Contains(skippedConfigFlags, f.Name) {
			return
		}
		if _, flagHasConfigEntry := definedFlags[f.Name]; !flagHasConfigEntry {
			errs = append(errs, fmt.Errorf("flag '%s' has not been defined in the config schema", f.Name))
		}
	})
	return errs
}

// SetTestFlag sets a flag to a specific value for the duration of the test.
func SetTestFlag(t *testing.T, name, value string) {
	t.Helper()
	flagHolder := flag.Lookup(name)
	require.NotNil(t, flagHolder, "Flag %s not found", name)
	if flagHolder != nil { // Revert the flag value back to its original when the test is done.
		prevValue := flagHolder.Value.String()
		t.Cleanup(func() { require.NoError(t, flag.Set(name, prevValue)) })
	}
	require.NoError(t, flag.Set(name, value))
}
