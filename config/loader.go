// 配置加载：默认值 → YAML 文件 → 环境变量，后者覆盖前者。
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("hivetrain.yaml").
//	    WithStrict(true).
//	    Load()
//
// 环境变量名由前缀和各层 env tag 以下划线拼接，例如
// HIVETRAIN_SCHEDULER_LEARNING_RATE、HIVETRAIN_TRAINER_DATASET_SEED。
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix 环境变量默认前缀
const DefaultEnvPrefix = "HIVETRAIN"

var durationType = reflect.TypeOf(time.Duration(0))

// Loader 配置加载器
type Loader struct {
	configPath string
	envPrefix  string
	strict     bool
	lookupEnv  func(string) (string, bool)
	validators []func(*Config) error

	overrides []string
}

// NewLoader 创建加载器，默认前缀 HIVETRAIN
func NewLoader() *Loader {
	return &Loader{
		envPrefix: DefaultEnvPrefix,
		lookupEnv: os.LookupEnv,
	}
}

// WithConfigPath 设置 YAML 文件路径；文件不存在时只用默认值和环境变量
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = strings.TrimSuffix(prefix, "_")
	return l
}

// WithStrict 为 true 时 YAML 中的未知键视为错误，拼错的键不会被静默忽略
func (l *Loader) WithStrict(strict bool) *Loader {
	l.strict = strict
	return l
}

// WithLookupEnv 替换环境变量来源
func (l *Loader) WithLookupEnv(fn func(string) (string, bool)) *Loader {
	if fn != nil {
		l.lookupEnv = fn
	}
	return l
}

// WithValidator 追加加载完成后执行的校验
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Overrides 返回上一次 Load 中生效的环境变量名（已排序）
func (l *Loader) Overrides() []string {
	return append([]string(nil), l.overrides...)
}

// Load 按优先级合并配置
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()
	l.overrides = l.overrides[:0]

	if l.configPath != "" {
		if err := l.mergeFile(cfg); err != nil {
			return nil, fmt.Errorf("config file %s: %w", l.configPath, err)
		}
	}
	if err := l.mergeEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}
	sort.Strings(l.overrides)

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

func (l *Loader) mergeFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(l.strict)
	// 空文件
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse: %w", err)
	}
	return nil
}

// mergeEnv 递归遍历带 env tag 的字段；所有无法解析的变量一起报告
func (l *Loader) mergeEnv(v reflect.Value, prefix string) error {
	var errs []error
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		tag := t.Field(i).Tag.Get("env")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + "_" + tag
		field := v.Field(i)

		if field.Kind() == reflect.Struct && field.Type() != durationType {
			if err := l.mergeEnv(field, key); err != nil {
				errs = append(errs, err)
			}
			continue
		}

		raw, ok := l.lookupEnv(key)
		if !ok || raw == "" {
			continue
		}
		if err := parseInto(field, raw); err != nil {
			errs = append(errs, fmt.Errorf("%s=%q: %w", key, raw, err))
			continue
		}
		l.overrides = append(l.overrides, key)
	}
	return errors.Join(errs...)
}

// parseInto 把字符串解析为字段类型；字符串切片按逗号拆分
func parseInto(field reflect.Value, raw string) error {
	if !field.CanSet() {
		return nil
	}
	if field.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		var items []string
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				items = append(items, s)
			}
		}
		field.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 只使用默认值和环境变量
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}
