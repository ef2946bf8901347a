package configstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/lomehong/pluginkit/pkg/plugin"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// codec 配置文档的编解码
type codec interface {
	Decode(data []byte) (plugin.ConfigDocument, error)
	Encode(doc plugin.ConfigDocument) ([]byte, error)
}

// FileStore 基于本地文件的配置存储
type FileStore struct {
	path  string
	codec codec
	mu    sync.Mutex
}

// NewFileStore 创建文件存储，格式由扩展名决定
func NewFileStore(path string) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("配置文件路径不能为空")
	}
	c, err := codecFor(path)
	if err != nil {
		return nil, err
	}
	return &FileStore{path: path, codec: c}, nil
}

func codecFor(path string) (codec, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yamlCodec{}, nil
	case ".json":
		return jsonCodec{}, nil
	case ".toml":
		return tomlCodec{}, nil
	case ".hcl":
		return hclCodec{filename: filepath.Base(path)}, nil
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s", filepath.Ext(path))
	}
}

// Path 文件路径
func (s *FileStore) Path() string {
	return s.path
}

// Load 读取配置文件，文件不存在时返回空文档
func (s *FileStore) Load(ctx context.Context) (plugin.ConfigDocument, error) {
	if err := ctx.Err(); err != nil {
		return plugin.ConfigDocument{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return plugin.ConfigDocument{}, nil
		}
		return plugin.ConfigDocument{}, fmt.Errorf("读取配置文件失败: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return plugin.ConfigDocument{}, nil
	}
	doc, err := s.codec.Decode(data)
	if err != nil {
		return plugin.ConfigDocument{}, fmt.Errorf("解析配置文件 %s 失败: %w", s.path, err)
	}
	return doc, nil
}

// Save 写入配置文件，先写临时文件再重命名
func (s *FileStore) Save(ctx context.Context, doc plugin.ConfigDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := s.codec.Encode(sortDocument(doc))
	if err != nil {
		return fmt.Errorf("编码配置失败: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("写入临时文件失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("关闭临时文件失败: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("替换配置文件失败: %w", err)
	}
	return nil
}

// Close 文件存储无需释放资源
func (s *FileStore) Close() error {
	return nil
}

type yamlCodec struct{}

func (yamlCodec) Decode(data []byte) (plugin.ConfigDocument, error) {
	var doc plugin.ConfigDocument
	err := yaml.Unmarshal(data, &doc)
	return doc, err
}

func (yamlCodec) Encode(doc plugin.ConfigDocument) ([]byte, error) {
	return yaml.Marshal(doc)
}

type jsonCodec struct{}

func (jsonCodec) Decode(data []byte) (plugin.ConfigDocument, error) {
	var doc plugin.ConfigDocument
	err := json.Unmarshal(data, &doc)
	return doc, err
}

func (jsonCodec) Encode(doc plugin.ConfigDocument) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// tomlCodec 经由平铺的map转换，插件列表写成 [[plugins]] 表数组
type tomlCodec struct{}

func (tomlCodec) Decode(data []byte) (plugin.ConfigDocument, error) {
	var raw struct {
		Plugins []map[string]any `toml:"plugins"`
	}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return plugin.ConfigDocument{}, err
	}
	doc := plugin.ConfigDocument{Plugins: make([]plugin.Config, 0, len(raw.Plugins))}
	for i, m := range raw.Plugins {
		cfg, err := plugin.ConfigFromMap(m)
		if err != nil {
			return plugin.ConfigDocument{}, fmt.Errorf("第%d个插件配置: %w", i+1, err)
		}
		doc.Plugins = append(doc.Plugins, cfg)
	}
	return doc, nil
}

func (tomlCodec) Encode(doc plugin.ConfigDocument) ([]byte, error) {
	raw := struct {
		Plugins []map[string]any `toml:"plugins"`
	}{Plugins: make([]map[string]any, 0, len(doc.Plugins))}
	for _, cfg := range doc.Plugins {
		raw.Plugins = append(raw.Plugins, cfg.ToMap())
	}
	return toml.Marshal(raw)
}
