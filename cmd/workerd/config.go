package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cryguy/taskworker/internal/core"
	"github.com/cryguy/taskworker/internal/host/wsock"
)

type fileConfig struct {
	Listen            string        `mapstructure:"listen"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
	ResourceRoot      string        `mapstructure:"resource_root"`
	StreamTimeout     time.Duration `mapstructure:"stream_timeout"`
	CompressThreshold int           `mapstructure:"compress_threshold"`
	MaxMessageBytes   int64         `mapstructure:"max_message_bytes"`
	SourceMapDSN      string        `mapstructure:"source_map_dsn"`
	MemoryLimitMB     int           `mapstructure:"memory_limit_mb"`
	ExecutionTimeout  time.Duration `mapstructure:"execution_timeout"`
}

func (c fileConfig) core() core.Config {
	return core.Config{
		ResourceRoot:      c.ResourceRoot,
		StreamTimeout:     c.StreamTimeout,
		CompressThreshold: c.CompressThreshold,
		MaxMessageBytes:   c.MaxMessageBytes,
		SourceMapDSN:      c.SourceMapDSN,
		MemoryLimitMB:     c.MemoryLimitMB,
		ExecutionTimeout:  c.ExecutionTimeout,
	}
}

// wsock returns the connection options of the worker server.
func (c fileConfig) wsock() wsock.Options {
	opts := wsock.OptionsFrom(c.core())
	opts.OriginPatterns = c.AllowedOrigins
	return opts
}

// loadConfig reads configuration from file and env. Env var overrides use
// prefix TASKWORKER_; TASKWORKER_CONFIG names the config file.
func loadConfig() (fileConfig, error) {
	v := viper.New()

	v.SetDefault("listen", "127.0.0.1:8790")
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("resource_root", core.DefaultResourceRoot)
	v.SetDefault("stream_timeout", core.DefaultStreamTimeout)
	v.SetDefault("compress_threshold", core.DefaultCompressThreshold)
	v.SetDefault("max_message_bytes", core.DefaultMaxMessageBytes)
	v.SetDefault("source_map_dsn", core.DefaultSourceMapDSN)
	v.SetDefault("memory_limit_mb", 0)
	v.SetDefault("execution_timeout", core.DefaultExecutionTimeout)

	v.SetConfigType("toml")
	if path := os.Getenv("TASKWORKER_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "taskworker"))
		v.AddConfigPath(".")
		v.SetConfigName("workerd")
	}

	v.SetEnvPrefix("TASKWORKER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fileConfig{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c fileConfig
	if err := v.Unmarshal(&c); err != nil {
		return fileConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return c, nil
}
