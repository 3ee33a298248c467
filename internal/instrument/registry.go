package instrument

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tally/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Spec 描述单个合约的换算参数。
type Spec struct {
	Symbol      string  `mapstructure:"symbol" yaml:"symbol"`
	Description string  `mapstructure:"description" yaml:"description"`
	PointValue  float64 `mapstructure:"point_value" yaml:"point_value"`
	TickSize    float64 `mapstructure:"tick_size" yaml:"tick_size"`
}

// FileConfig 映射 instruments 配置文件。
type FileConfig struct {
	Instruments map[string]Spec `mapstructure:"instruments" yaml:"instruments"`
}

// Snapshot 公开的合约表快照。
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Specs    map[string]Spec
}

// Registry 管理合约换算表，文件变更时热加载；加载失败保留旧表。
type Registry struct {
	path string
	v    *viper.Viper

	mu       sync.RWMutex
	snapshot Snapshot
}

const specSchema = `{
	"type": "object",
	"properties": {
		"instruments": {
			"type": "object",
			"additionalProperties": {
				"type": "object",
				"properties": {
					"symbol": {"type": "string"},
					"description": {"type": "string"},
					"point_value": {"type": "number", "exclusiveMinimum": 0},
					"tick_size": {"type": "number", "minimum": 0}
				}
			}
		}
	}
}`

var compiledSpecSchema = jsonschema.MustCompileString("instruments.json", specSchema)

// NewRegistry 读取合约配置并监听更新。
func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("instrument registry requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read instruments config failed: %w", err)
	}
	r := &Registry{path: path, v: v}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("instrument reload failed, keeping previous table: %v", err)
		}
	})
	v.WatchConfig()
	return r, nil
}

// PointValue 返回合约的每点价值，未知合约按 1 处理。
func (r *Registry) PointValue(symbol string) float64 {
	spec, ok := r.Spec(symbol)
	if !ok || spec.PointValue <= 0 {
		return 1
	}
	return spec.PointValue
}

// Spec 返回指定合约的换算参数。
func (r *Registry) Spec(symbol string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.snapshot.Specs[normalizeSymbol(symbol)]
	return spec, ok
}

// Snapshot 返回当前合约表。
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dst := Snapshot{
		Version:  r.snapshot.Version,
		LoadedAt: r.snapshot.LoadedAt,
		Specs:    make(map[string]Spec, len(r.snapshot.Specs)),
	}
	for sym, spec := range r.snapshot.Specs {
		dst.Specs[sym] = spec
	}
	return dst
}

func (r *Registry) reload() error {
	cfg, err := readInstrumentFile(r.path)
	if err != nil {
		return err
	}
	specs := make(map[string]Spec, len(cfg.Instruments))
	for name, spec := range cfg.Instruments {
		sym := normalizeSymbol(spec.Symbol)
		if sym == "" {
			sym = normalizeSymbol(name)
		}
		if sym == "" {
			continue
		}
		spec.Symbol = sym
		if spec.PointValue <= 0 {
			spec.PointValue = 1
		}
		specs[sym] = spec
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Specs:    specs,
	}
	r.mu.Unlock()
	logger.Infof("instrument registry loaded %d specs from %s", len(specs), filepath.Base(r.path))
	return nil
}

func readInstrumentFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read instruments config failed: %w", err)
	}
	var generic map[string]any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return FileConfig{}, fmt.Errorf("parse instruments config failed: %w", err)
	}
	if err := compiledSpecSchema.Validate(normalizeYAML(generic)); err != nil {
		return FileConfig{}, fmt.Errorf("instruments config schema invalid: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("decode instruments config failed: %w", err)
	}
	return cfg, nil
}

// normalizeYAML 将 yaml 解码出的数值类型统一成 jsonschema 认识的形态。
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = normalizeYAML(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = normalizeYAML(child)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	default:
		return val
	}
}

func normalizeSymbol(sym string) string {
	return strings.ToUpper(strings.TrimSpace(sym))
}
