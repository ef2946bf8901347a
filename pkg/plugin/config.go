package plugin

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// 配置中的保留字段
const (
	FieldName        = "name"
	FieldEnabled     = "enabled"
	FieldInstalledAt = "installedAt"
	FieldUpdatedAt   = "updatedAt"
)

// Config 插件配置
// 除固定字段外的任意字段保存在Extra中，序列化时与固定字段平铺在同一层
type Config struct {
	Name        string         `mapstructure:"name"`
	Enabled     bool           `mapstructure:"enabled"`
	InstalledAt int64          `mapstructure:"installedAt"` // 毫秒时间戳
	UpdatedAt   int64          `mapstructure:"updatedAt"`   // 毫秒时间戳
	Extra       map[string]any `mapstructure:",remain"`
}

// ConfigDocument 配置导出格式 { plugins: [...] }
type ConfigDocument struct {
	Plugins []Config `json:"plugins" yaml:"plugins" toml:"plugins"`
}

// ConfigPatch 安装插件时对配置的覆盖
// Enabled为nil时保留已有的启用状态，新安装的插件默认启用
type ConfigPatch struct {
	Enabled *bool
	Extra   map[string]any
}

// Bool 返回布尔值指针
func Bool(v bool) *bool {
	return &v
}

// NowMillis 当前毫秒时间戳
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// Clone 返回深度为一层的副本
func (c Config) Clone() Config {
	if c.Extra != nil {
		extra := make(map[string]any, len(c.Extra))
		for k, v := range c.Extra {
			extra[k] = v
		}
		c.Extra = extra
	}
	return c
}

// Merge 用other覆盖c，other中的零值固定字段不覆盖
func (c Config) Merge(other Config) Config {
	out := c.Clone()
	if other.Name != "" {
		out.Name = other.Name
	}
	out.Enabled = other.Enabled
	if other.InstalledAt != 0 {
		out.InstalledAt = other.InstalledAt
	}
	if other.UpdatedAt != 0 {
		out.UpdatedAt = other.UpdatedAt
	}
	for k, v := range other.Extra {
		if out.Extra == nil {
			out.Extra = make(map[string]any)
		}
		out.Extra[k] = v
	}
	return out
}

// Apply 应用覆盖，只修改patch中给出的字段
func (c Config) Apply(patch ConfigPatch) Config {
	out := c.Clone()
	if patch.Enabled != nil {
		out.Enabled = *patch.Enabled
	}
	for k, v := range patch.Extra {
		if out.Extra == nil {
			out.Extra = make(map[string]any)
		}
		out.Extra[k] = v
	}
	return out
}

// Get 读取额外字段
func (c Config) Get(key string) (any, bool) {
	v, ok := c.Extra[key]
	return v, ok
}

// ToMap 转换为平铺的map
func (c Config) ToMap() map[string]any {
	m := make(map[string]any, len(c.Extra)+4)
	for k, v := range c.Extra {
		m[k] = v
	}
	m[FieldName] = c.Name
	m[FieldEnabled] = c.Enabled
	if c.InstalledAt != 0 {
		m[FieldInstalledAt] = c.InstalledAt
	}
	if c.UpdatedAt != 0 {
		m[FieldUpdatedAt] = c.UpdatedAt
	}
	return m
}

// ConfigFromMap 从平铺的map解析配置
func ConfigFromMap(m map[string]any) (Config, error) {
	var c Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &c,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return Config{}, fmt.Errorf("创建解码器失败: %w", err)
	}
	if err := decoder.Decode(m); err != nil {
		return Config{}, fmt.Errorf("解码插件配置失败: %w", err)
	}
	if len(c.Extra) == 0 {
		c.Extra = nil
	}
	return c, nil
}

// MarshalJSON 平铺输出
func (c Config) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.ToMap())
}

// UnmarshalJSON 平铺读取
func (c *Config) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	parsed, err := ConfigFromMap(m)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// MarshalYAML 平铺输出
func (c Config) MarshalYAML() (interface{}, error) {
	return c.ToMap(), nil
}

// UnmarshalYAML 平铺读取
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var m map[string]any
	if err := value.Decode(&m); err != nil {
		return err
	}
	parsed, err := ConfigFromMap(m)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// DecodeSettings 将插件配置的额外字段解码到插件自己的结构体
// 结构体字段使用yaml标签
func DecodeSettings(c Config, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "yaml",
	})
	if err != nil {
		return fmt.Errorf("创建解码器失败: %w", err)
	}
	if err := decoder.Decode(c.Extra); err != nil {
		return fmt.Errorf("解码插件设置失败: %w", err)
	}
	return nil
}
