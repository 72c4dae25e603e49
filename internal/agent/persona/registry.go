package persona

// 中文说明：
// 助手人设注册表：从 YAML 读取 system prompt 模板并监听文件热更新。
// 每个人设可以携带一份 JSON Schema，用于在拼提示词之前校验前端递交的
// portfolio_context 形状（校验失败只降级为忽略该上下文，不影响聊天）。

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"majorgainz/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Template 描述单个人设。
type Template struct {
	ID            string                 `mapstructure:"id" yaml:"id"`
	Description   string                 `mapstructure:"description" yaml:"description"`
	SystemPrompt  string                 `mapstructure:"system_prompt" yaml:"system_prompt"`
	Version       int                    `mapstructure:"version" yaml:"version"`
	ContextSchema map[string]interface{} `mapstructure:"context_schema" yaml:"context_schema"`

	schemaCompiled *jsonschema.Schema
}

// FileConfig 映射 personas 文件。
type FileConfig struct {
	Personas map[string]Template `mapstructure:"personas" yaml:"personas"`
	Default  string              `mapstructure:"default" yaml:"default"`
}

// Snapshot 公开的人设快照。
type Snapshot struct {
	Version   int64
	LoadedAt  time.Time
	Default   string
	Templates map[string]Template
}

// ChangeListener 在 registry 重载时触发。
type ChangeListener func(Snapshot)

// Registry 管理人设模板。
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewRegistry 读取人设文件并监听更新。
func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("persona registry requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read persona config failed: %w", err)
	}
	r := &Registry{path: path, v: v}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("persona reload failed: %v", err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// Snapshot 返回当前人设集。
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.snapshot)
}

// Template 返回指定 ID 的人设；id 为空时返回默认人设。
func (r *Registry) Template(id string) (Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key := strings.TrimSpace(id)
	if key == "" {
		key = r.snapshot.Default
	}
	tpl, ok := r.snapshot.Templates[key]
	return tpl, ok
}

// OnChange 注册重载回调。
func (r *Registry) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// ValidateContext 用人设声明的 schema 校验 portfolio_context。
// 人设没有 schema 时直接放行。
func (r *Registry) ValidateContext(id string, ctx map[string]any) error {
	tpl, ok := r.Template(id)
	if !ok {
		return fmt.Errorf("unknown persona: %s", id)
	}
	if tpl.schemaCompiled == nil {
		return nil
	}
	return tpl.schemaCompiled.Validate(normalizeForSchema(ctx))
}

func (r *Registry) reload() error {
	cfg, err := readPersonaFile(r.path)
	if err != nil {
		return err
	}
	templates := make(map[string]Template)
	for name, tpl := range cfg.Personas {
		norm := normalizeTemplate(name, tpl)
		templates[norm.ID] = norm
	}
	def := strings.TrimSpace(cfg.Default)
	if def == "" {
		def = "analyst"
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:   r.snapshot.Version + 1,
		LoadedAt:  time.Now(),
		Default:   def,
		Templates: templates,
	}
	r.mu.Unlock()
	logger.Infof("Persona registry loaded %d personas from %s", len(templates), filepath.Base(r.path))
	return nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := cloneSnapshot(r.snapshot)
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer safeRecover("persona listener")
			cb(snap)
		}(fn)
	}
}

func normalizeTemplate(name string, tpl Template) Template {
	tpl.ID = strings.TrimSpace(tpl.ID)
	if tpl.ID == "" {
		tpl.ID = strings.TrimSpace(name)
	}
	if tpl.Version <= 0 {
		tpl.Version = 1
	}
	tpl.Description = strings.TrimSpace(tpl.Description)
	if len(tpl.ContextSchema) > 0 {
		if compiled, err := compileSchema(tpl.ContextSchema); err != nil {
			logger.Errorf("persona context schema compile failed id=%s: %v", tpl.ID, err)
		} else {
			tpl.schemaCompiled = compiled
		}
	}
	return tpl
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := Snapshot{
		Version:   src.Version,
		LoadedAt:  src.LoadedAt,
		Default:   src.Default,
		Templates: make(map[string]Template, len(src.Templates)),
	}
	for id, tpl := range src.Templates {
		dst.Templates[id] = tpl
	}
	return dst
}

func safeRecover(tag string) {
	if r := recover(); r != nil {
		logger.Errorf("%s panic: %v", tag, r)
	}
}

func compileSchema(data map[string]interface{}) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(string(raw))); err != nil {
		return nil, err
	}
	return compiler.Compile("schema.json")
}

// jsonschema 只接受 json.Unmarshal 风格的值，yaml/map 输入先绕道一次 JSON。
func normalizeForSchema(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

func readPersonaFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read persona config failed: %w", err)
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse persona config failed: %w", err)
	}
	return cfg, nil
}
