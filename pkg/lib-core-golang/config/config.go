package config

import (
	"encoding/json"
	"flag"
	"io/ioutil"
	"os"
	"path"
	"strings"

	"github.com/pkg/errors"
)

const (
	appEnvVar    = "APP_ENV"
	configDirVar = "CONFIG_DIR"
)

// AppEnv represents app env
type AppEnv struct {
	// ServiceName is a name of a current service
	ServiceName string

	// Name is a env name. By default taken from APP_ENV
	Name string
}

// NewAppEnv creates a new instance of the app env from os env.
// Will use "dev" by default and "test" when running under go test
func NewAppEnv(serviceName string) AppEnv {
	appEnv := os.Getenv(appEnvVar)
	if appEnv == "" {
		if v := flag.Lookup("test.v"); v == nil {
			appEnv = "dev"
		} else {
			appEnv = "test"
		}
	}
	return AppEnv{
		Name:        appEnv,
		ServiceName: serviceName,
	}
}

type param struct {
	key     string
	envName string
	value   paramValue
}

// Builder is a tool to declare and load config params
type Builder struct {
	appEnv AppEnv
	dir    string
	params []*param
}

// BuilderOpt is an option of a config builder
type BuilderOpt func(b *Builder)

// WithDir option sets a dir to load config files from
func WithDir(dir string) BuilderOpt {
	return func(b *Builder) {
		b.dir = dir
	}
}

// NewBuilder returns an instance of a config builder
func NewBuilder(appEnv AppEnv, opts ...BuilderOpt) *Builder {
	b := &Builder{appEnv: appEnv, dir: "config"}
	for _, opt := range opts {
		opt(b)
	}
	if dir := os.Getenv(configDirVar); dir != "" {
		b.dir = dir
	}
	return b
}

// ParamBuilder is a tool to build a single param
type ParamBuilder struct {
	b *Builder
	p *param
}

// NewParam returns an instance of a param builder for a given key.
// Key is a slash separated path within config json files, e.g: storage/driver
func (b *Builder) NewParam(key string) *ParamBuilder {
	p := &param{key: key}
	b.params = append(b.params, p)
	return &ParamBuilder{b: b, p: p}
}

// WithEnvOverride makes the param overridable with given env variable
func (pb *ParamBuilder) WithEnvOverride(envName string) *ParamBuilder {
	pb.p.envName = envName
	return pb
}

// String binds the param as a string value
func (pb *ParamBuilder) String() StringVal {
	val := NewStringVal("")
	pb.p.value = val
	return val
}

// Int binds the param as an int value
func (pb *ParamBuilder) Int() IntVal {
	val := NewIntVal(0)
	pb.p.value = val
	return val
}

// Bool binds the param as a bool value
func (pb *ParamBuilder) Bool() BoolVal {
	val := NewBoolVal(false)
	pb.p.value = val
	return val
}

func pick(configData map[string]interface{}, key string) interface{} {
	parts := strings.Split(key, "/")
	var paramVal interface{} = configData
	for _, part := range parts {
		obj, ok := paramVal.(map[string]interface{})
		if !ok {
			return nil
		}
		if paramVal, ok = obj[part]; !ok {
			return nil
		}
	}
	return paramVal
}

func (b *Builder) readConfigFile(name string) (map[string]interface{}, error) {
	buffer, err := ioutil.ReadFile(path.Join(b.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "Failed to read config file %v", name)
	}
	var configData map[string]interface{}
	if err := json.Unmarshal(buffer, &configData); err != nil {
		return nil, errors.Wrapf(err, "Failed to parse config file %v", name)
	}
	return configData, nil
}

// LoadConfig resolves all declared params from default.json
// overlaid with <env>.json and env variable overrides.
// Fails if some param can not be resolved
func (b *Builder) LoadConfig() error {
	defaults, err := b.readConfigFile("default.json")
	if err != nil {
		return err
	}
	envOverlay, err := b.readConfigFile(b.appEnv.Name + ".json")
	if err != nil {
		return err
	}

	for _, p := range b.params {
		paramVal := pick(defaults, p.key)
		if envVal := pick(envOverlay, p.key); envVal != nil {
			paramVal = envVal
		}
		if p.envName != "" {
			if envVal := os.Getenv(p.envName); envVal != "" {
				paramVal = envVal
			}
		}
		if paramVal == nil {
			return errors.Errorf("Parameter %v not found (dir=%v, env=%v)", p.key, b.dir, b.appEnv.Name)
		}
		if err := p.value.setValue(paramVal); err != nil {
			return errors.Wrapf(err, "Failed to set parameter %v", p.key)
		}
	}
	return nil
}
