package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/edp1096/spicecore/pkg/util"
)

const (
	DefaultReltol     = 1e-3
	DefaultAbstol     = 1e-12
	DefaultVntol      = 1e-6
	DefaultChgtol     = 1e-14
	DefaultTrtol      = 7.0
	DefaultGmin       = 1e-12
	DefaultGminFactor = 10.0
	DefaultDCIter     = 100
	DefaultSweepIter  = 50
	DefaultStepIter   = 100
	DefaultTranIter   = 10
	DefaultMaxOrder   = 2
	DefaultTemp       = 27.0
)

var validate = newValidator()

// newValidator adds the "method" tag, which accepts any spelling
// util.ParseMethod does.
func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("method", func(fl validator.FieldLevel) bool {
		_, err := util.ParseMethod(fl.Field().String())
		return err == nil
	})
	return v
}

// Config holds the solver tunables. Zero step counts select the adaptive
// continuation algorithms, negative counts disable a family.
type Config struct {
	Reltol float64 `yaml:"reltol" validate:"gt=0,lt=1"`
	Abstol float64 `yaml:"abstol" validate:"gt=0"`
	Vntol  float64 `yaml:"vntol" validate:"gt=0"`
	Chgtol float64 `yaml:"chgtol" validate:"gt=0"`
	Trtol  float64 `yaml:"trtol" validate:"gt=0"`

	Gmin       float64 `yaml:"gmin" validate:"gte=0"`
	GminFactor float64 `yaml:"gmin_factor" validate:"gt=1"`

	DCIter      int `yaml:"itl1" validate:"gte=1"`
	SweepIter   int `yaml:"itl2" validate:"gte=1"`
	GminMaxIter int `yaml:"gmin_max_iter" validate:"gte=1"`
	SrcMaxIter  int `yaml:"src_max_iter" validate:"gte=1"`
	TranIter    int `yaml:"itl4" validate:"gte=1"`

	NumGminSteps int  `yaml:"gmin_steps"`
	NumSrcSteps  int  `yaml:"src_steps"`
	GminFirst    bool `yaml:"gmin_first"`
	NoOpIter     bool `yaml:"no_op_iter"`

	Method    string  `yaml:"method" validate:"required,method"`
	MaxOrder  int     `yaml:"max_order" validate:"gte=1,lte=6"`
	MinBreak  float64 `yaml:"min_break" validate:"gte=0"`
	Predictor bool    `yaml:"predictor"`

	Threads int `yaml:"threads" validate:"gte=0,lte=256"`

	Temp float64 `yaml:"temp" validate:"gt=-273.15"`
	Tnom float64 `yaml:"tnom" validate:"gt=-273.15"`
}

func Default() *Config {
	return &Config{
		Reltol:      DefaultReltol,
		Abstol:      DefaultAbstol,
		Vntol:       DefaultVntol,
		Chgtol:      DefaultChgtol,
		Trtol:       DefaultTrtol,
		Gmin:        DefaultGmin,
		GminFactor:  DefaultGminFactor,
		DCIter:      DefaultDCIter,
		SweepIter:   DefaultSweepIter,
		GminMaxIter: DefaultStepIter,
		SrcMaxIter:  DefaultStepIter,
		TranIter:    DefaultTranIter,
		GminFirst:   true,
		Method:      "trap",
		MaxOrder:    DefaultMaxOrder,
		Predictor:   true,
		Temp:        DefaultTemp,
		Tnom:        DefaultTemp,
	}
}

// Load overlays a YAML file onto the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if m, _ := util.ParseMethod(c.Method); m == util.TrapezoidalMethod {
		if c.MaxOrder > 2 {
			return fmt.Errorf("invalid configuration: trapezoidal integration supports max_order <= 2, got %d", c.MaxOrder)
		}
	}
	return nil
}

// Clone returns an independent copy.
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}

// SetOption applies one .options assignment from a netlist. Flags without a
// value are passed with an empty value.
func (c *Config) SetOption(name, value string) error {
	name = strings.ToLower(name)

	switch name {
	case "gminfirst", "noopiter":
		on := true
		if value != "" {
			b, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("option %s: %w", name, err)
			}
			on = b
		}
		if name == "gminfirst" {
			c.GminFirst = on
		} else {
			c.NoOpIter = on
		}
		return nil
	case "method":
		c.Method = strings.ToLower(value)
		return nil
	}

	if value == "" {
		return fmt.Errorf("option %s requires a value", name)
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("option %s: %w", name, err)
	}

	switch name {
	case "reltol":
		c.Reltol = v
	case "abstol":
		c.Abstol = v
	case "vntol":
		c.Vntol = v
	case "chgtol":
		c.Chgtol = v
	case "trtol":
		c.Trtol = v
	case "gmin":
		c.Gmin = v
	case "gminfactor":
		c.GminFactor = v
	case "itl1":
		c.DCIter = int(v)
	case "itl2":
		c.SweepIter = int(v)
	case "itl4":
		c.TranIter = int(v)
	case "gminsteps":
		c.NumGminSteps = int(v)
	case "srcsteps":
		c.NumSrcSteps = int(v)
	case "maxord":
		c.MaxOrder = int(v)
	case "minbreak":
		c.MinBreak = v
	case "threads":
		c.Threads = int(v)
	case "temp":
		c.Temp = v
	case "tnom":
		c.Tnom = v
	default:
		return fmt.Errorf("unknown option %s", name)
	}
	return nil
}
