// Package config implements the Configuration Model (spec §4.2, §6): a
// schema-validated record describing the cube's target location, append
// axis, fixed dimensions, per-variable encoding, polling, rollback,
// attributes, and evaluation policy.
//
// Loading follows the teacher's layered-config convention: CLI overrides >
// environment variables (ZAPPEND_*) > repeated config files (later files
// merged into earlier, last-write-wins at the leaf with deep merge at
// objects) > built-in defaults.
package config

import (
	"fmt"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/bcdev/zappend/pkg/zerrors"
)

// Config is the fully merged, validated configuration record consumed
// read-only by every upstream component (spec §1, "Consumed read-only by
// everything upstream").
type Config struct {
	TargetDir            string            `mapstructure:"target_dir" yaml:"target_dir" validate:"required"`
	TargetStorageOptions map[string]string `mapstructure:"target_storage_options" yaml:"target_storage_options,omitempty"`

	AppendDim  string      `mapstructure:"append_dim" yaml:"append_dim"`
	AppendStep *AppendStep `mapstructure:"append_step" yaml:"append_step,omitempty"`
	FixedDims  map[string]int `mapstructure:"fixed_dims" yaml:"fixed_dims,omitempty"`

	IncludedVariables []string                  `mapstructure:"included_variables" yaml:"included_variables,omitempty"`
	ExcludedVariables []string                  `mapstructure:"excluded_variables" yaml:"excluded_variables,omitempty"`
	Variables         map[string]VariableConfig `mapstructure:"variables" yaml:"variables,omitempty"`

	Attrs           map[string]any `mapstructure:"attrs" yaml:"attrs,omitempty"`
	AttrsUpdateMode string         `mapstructure:"attrs_update_mode" yaml:"attrs_update_mode" validate:"omitempty,oneof=keep replace update ignore"`
	PermitEval      bool           `mapstructure:"permit_eval" yaml:"permit_eval"`
	ZarrVersion     int            `mapstructure:"zarr_version" yaml:"zarr_version" validate:"omitempty,eq=2"`

	SliceStorageOptions map[string]string `mapstructure:"slice_storage_options" yaml:"slice_storage_options,omitempty"`
	SliceEngine         string            `mapstructure:"slice_engine" yaml:"slice_engine,omitempty"`
	SlicePolling        *PollingConfig    `mapstructure:"slice_polling" yaml:"slice_polling,omitempty"`
	SliceSource         string            `mapstructure:"slice_source" yaml:"slice_source,omitempty"`
	SliceSourceKwargs   map[string]any    `mapstructure:"slice_source_kwargs" yaml:"slice_source_kwargs,omitempty"`
	PersistMemSlices    bool              `mapstructure:"persist_mem_slices" yaml:"persist_mem_slices"`

	TempDir            string            `mapstructure:"temp_dir" yaml:"temp_dir,omitempty"`
	TempStorageOptions map[string]string `mapstructure:"temp_storage_options" yaml:"temp_storage_options,omitempty"`
	DisableRollback    bool              `mapstructure:"disable_rollback" yaml:"disable_rollback"`
	ForceNew           bool              `mapstructure:"force_new" yaml:"force_new"`

	DryRun     bool `mapstructure:"dry_run" yaml:"dry_run"`
	Profiling  bool `mapstructure:"profiling" yaml:"profiling"`

	Logging LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Extra   map[string]any `mapstructure:"extra" yaml:"extra,omitempty"`

	// LockWaitTimeout/LockWaitInterval govern the Lock Manager's wait-mode
	// acquisition (spec §4.7); they share the slice-polling defaults (§5).
	LockWaitTimeout  time.Duration `mapstructure:"lock_wait_timeout" yaml:"lock_wait_timeout,omitempty"`
	LockWaitInterval time.Duration `mapstructure:"lock_wait_interval" yaml:"lock_wait_interval,omitempty"`
	LockFailFast     bool          `mapstructure:"lock_fail_fast" yaml:"lock_fail_fast"`
}

// LoggingConfig controls the internal/logger sink, threaded through the
// Processor's Context object rather than a package global (spec §9).
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"omitempty,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"omitempty,oneof=text json"`
	Output string `mapstructure:"output" yaml:"output"`
}

// PollingConfig is the expanded form of `slice_polling`, which in the
// config file may also appear as a bare boolean (see decode hook below).
type PollingConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval,omitempty"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty"`
}

// VariableConfig is one entry of the `variables` map; "*" is a permitted
// wildcard key applied to every kept variable not otherwise overridden.
type VariableConfig struct {
	Dims     []string       `mapstructure:"dims" yaml:"dims,omitempty"`
	Encoding EncodingConfig `mapstructure:"encoding" yaml:"encoding,omitempty"`
	Attrs    map[string]any `mapstructure:"attrs" yaml:"attrs,omitempty"`
}

// EncodingConfig is the effective per-variable encoding fields named in
// spec §4.3: dtype, chunks (nil entry means "equal to the dim size"),
// fill value, packing, units/calendar, compressor, and filters.
type EncodingConfig struct {
	Dtype       string         `mapstructure:"dtype" yaml:"dtype,omitempty"`
	Chunks      []*int         `mapstructure:"chunks" yaml:"chunks,omitempty"`
	FillValue   any            `mapstructure:"fill_value" yaml:"fill_value,omitempty"`
	ScaleFactor *float64       `mapstructure:"scale_factor" yaml:"scale_factor,omitempty"`
	AddOffset   *float64       `mapstructure:"add_offset" yaml:"add_offset,omitempty"`
	Units       string         `mapstructure:"units" yaml:"units,omitempty"`
	Calendar    string         `mapstructure:"calendar" yaml:"calendar,omitempty"`
	Compressor  string         `mapstructure:"compressor" yaml:"compressor,omitempty"`
	Filters     []string       `mapstructure:"filters" yaml:"filters,omitempty"`
	Extra       map[string]any `mapstructure:"-" yaml:"-"`
}

// AppendStep represents `append_step`: a numeric delta, a duration string,
// or the sign markers "+"/"-". Exactly one of Delta/Sign is set.
type AppendStep struct {
	Sign  string  // "+" or "-"
	Delta float64 // exact delta, used when Sign == ""
	IsSet bool
}

var validate = validator.New()

// Load reads zero or more config files (later overriding earlier), applies
// environment variable substitution and ZAPPEND_* overrides, fills in
// defaults, and validates the result. An empty paths slice yields the
// default configuration plus required overrides.
func Load(paths []string, overrides map[string]any) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ZAPPEND")
	v.AutomaticEnv()

	setDefaultsOnViper(v)

	for _, p := range paths {
		v.SetConfigFile(p)
		if err := v.MergeInConfig(); err != nil {
			return nil, zerrors.Config("reading config file %q: %v", p, err)
		}
	}

	for k, val := range overrides {
		v.Set(k, val)
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		pollingDecodeHook(),
		appendStepDecodeHook(),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, zerrors.Config("decoding config: %v", err)
	}

	if err := substituteEnvStrings(reflect.ValueOf(&cfg)); err != nil {
		return nil, err
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate runs struct-tag validation plus the checks written out below
// (target_dir present, a known attrs_update_mode, positive chunk sizes).
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return zerrors.Config("%v", err)
	}
	if cfg.TargetDir == "" {
		return zerrors.Config("target_dir is required")
	}
	if cfg.AttrsUpdateMode != "" {
		switch cfg.AttrsUpdateMode {
		case "keep", "replace", "update", "ignore":
		default:
			return zerrors.Config("invalid attrs_update_mode %q", cfg.AttrsUpdateMode)
		}
	}
	for name, vc := range cfg.Variables {
		for i, c := range vc.Encoding.Chunks {
			if c != nil && *c <= 0 {
				return zerrors.Config("variable %q: chunks[%d] must be positive", name, i)
			}
		}
	}
	return nil
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		default:
			return data, nil
		}
	}
}

// pollingDecodeHook accepts `slice_polling: true` as shorthand for
// `{enabled: true}` with default interval/timeout, per spec §6.
func pollingDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(PollingConfig{}) {
			return data, nil
		}
		if b, ok := data.(bool); ok {
			return map[string]any{"enabled": b}, nil
		}
		return data, nil
	}
}

// appendStepDecodeHook parses `append_step` from its polymorphic forms:
// "+" / "-" sign markers, a bare number, or a duration string.
func appendStepDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(AppendStep{}) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			if v == "+" || v == "-" {
				return AppendStep{Sign: v, IsSet: true}, nil
			}
			if d, err := time.ParseDuration(v); err == nil {
				return AppendStep{Delta: float64(d), IsSet: true}, nil
			}
			return nil, fmt.Errorf("invalid append_step %q", v)
		case float64:
			return AppendStep{Delta: v, IsSet: true}, nil
		case int:
			return AppendStep{Delta: float64(v), IsSet: true}, nil
		case nil:
			return AppendStep{}, nil
		default:
			return data, nil
		}
	}
}
