package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/spatialpool/pkg/spatial/support/util/exception"
	"github.com/tigerroll/spatialpool/pkg/spatial/support/util/logger"
)

const moduleName = "config"

// datasourceEnvPrefix prefixes per data source overrides, e.g.
// SPATIALPOOL_DATASOURCES_GIS_HOST or SPATIALPOOL_DATASOURCES_GIS_POOL_MAX_CONNECTIONS.
const datasourceEnvPrefix = "SPATIALPOOL_DATASOURCES_"

// LoadConfig builds the configuration in four layers: defaults, the .env
// file (if any), the YAML in raw with ${VAR} placeholders expanded, and
// finally SPATIALPOOL_* environment variables.
func LoadConfig(envFilePath string, raw RawConfig) (*Config, error) {
	return loadConfig(envFilePath, raw, NewOsEnvironmentExpander())
}

// LoadConfigFile reads path and calls LoadConfig.
func LoadConfigFile(envFilePath, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, exception.New(moduleName, "failed to read config file "+path, err)
	}
	return LoadConfig(envFilePath, data)
}

func loadConfig(envFilePath string, raw RawConfig, expander EnvironmentExpander) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else if err := godotenv.Load(); err != nil {
		logger.Debugf(".env file not found or could not be loaded: %v", err)
	}

	expanded, err := expander.Expand(raw)
	if err != nil {
		return nil, exception.New(moduleName, "failed to expand environment variables in config", err)
	}

	cfg := NewConfig()
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, exception.New(moduleName, "failed to unmarshal config", err)
	}
	if cfg.SpatialPool.Datasources == nil {
		cfg.SpatialPool.Datasources = map[string]interface{}{}
	}

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.New(moduleName, "failed to load config from environment variables", err)
	}
	loadDatasourcesFromEnv(cfg.SpatialPool.Datasources, os.Environ())

	if err := cfg.Validate(); err != nil {
		return nil, exception.New(moduleName, "invalid config", err)
	}
	return cfg, nil
}

// loadStructFromEnv recursively overrides scalar fields from environment
// variables named after the upper-cased yaml tag path, e.g.
// SPATIALPOOL_SYSTEM_LOGGING_LEVEL. Maps are handled separately.
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag := strings.Split(fieldType.Tag.Get("yaml"), ",")[0]
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}
		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

// loadDatasourcesFromEnv applies SPATIALPOOL_DATASOURCES_<NAME>_<FIELD>
// overrides. <NAME> is the first segment, lower-cased, so data source names
// containing underscores cannot be overridden. A POOL_ field goes into the
// nested pool mapping. Values stay strings; decoding converts them.
func loadDatasourcesFromEnv(datasources map[string]interface{}, environ []string) {
	for _, env := range environ {
		if !strings.HasPrefix(env, datasourceEnvPrefix) {
			continue
		}
		keyAndValue := strings.SplitN(strings.TrimPrefix(env, datasourceEnvPrefix), "=", 2)
		if len(keyAndValue) != 2 {
			continue
		}
		parts := strings.SplitN(keyAndValue[0], "_", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		name := strings.ToLower(parts[0])
		field := strings.ToLower(parts[1])

		props, ok := datasources[name].(map[string]interface{})
		if !ok {
			props = map[string]interface{}{}
			datasources[name] = props
		}
		if poolField, isPool := strings.CutPrefix(field, "pool_"); isPool {
			pool, ok := props["pool"].(map[string]interface{})
			if !ok {
				pool = map[string]interface{}{}
				props["pool"] = pool
			}
			pool[poolField] = keyAndValue[1]
			continue
		}
		props[field] = keyAndValue[1]
	}
}

// setField sets a string, integer, float or bool field from its text form.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	}
	return nil
}
