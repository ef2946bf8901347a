package configstore

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/lomehong/pluginkit/pkg/plugin"
	"github.com/zclconf/go-cty/cty"
)

// hclDocument HCL格式:
//
//	plugin "cache" {
//	  enabled      = true
//	  installed_at = 1700000000000
//	  settings = {
//	    ttl = 30
//	  }
//	}
type hclDocument struct {
	Plugins []hclPlugin `hcl:"plugin,block"`
}

type hclPlugin struct {
	Name        string         `hcl:"name,label"`
	Enabled     bool           `hcl:"enabled,optional"`
	InstalledAt int64          `hcl:"installed_at,optional"`
	UpdatedAt   int64          `hcl:"updated_at,optional"`
	Settings    hcl.Expression `hcl:"settings,optional"`
}

type hclCodec struct {
	filename string
}

func (c hclCodec) Decode(data []byte) (plugin.ConfigDocument, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, c.filename)
	if diags.HasErrors() {
		return plugin.ConfigDocument{}, diags
	}

	var raw hclDocument
	if diags := gohcl.DecodeBody(file.Body, nil, &raw); diags.HasErrors() {
		return plugin.ConfigDocument{}, diags
	}

	doc := plugin.ConfigDocument{Plugins: make([]plugin.Config, 0, len(raw.Plugins))}
	for _, p := range raw.Plugins {
		cfg := plugin.Config{
			Name:        p.Name,
			Enabled:     p.Enabled,
			InstalledAt: p.InstalledAt,
			UpdatedAt:   p.UpdatedAt,
		}
		if p.Settings != nil {
			val, diags := p.Settings.Value(nil)
			if diags.HasErrors() {
				return plugin.ConfigDocument{}, diags
			}
			settings, err := fromCty(val)
			if err != nil {
				return plugin.ConfigDocument{}, fmt.Errorf("插件 %s 的settings: %w", p.Name, err)
			}
			if settings != nil {
				m, ok := settings.(map[string]any)
				if !ok {
					return plugin.ConfigDocument{}, fmt.Errorf("插件 %s 的settings必须是对象", p.Name)
				}
				if len(m) > 0 {
					cfg.Extra = m
				}
			}
		}
		doc.Plugins = append(doc.Plugins, cfg)
	}
	return doc, nil
}

func (c hclCodec) Encode(doc plugin.ConfigDocument) ([]byte, error) {
	f := hclwrite.NewEmptyFile()
	body := f.Body()
	for i, cfg := range doc.Plugins {
		if i > 0 {
			body.AppendNewline()
		}
		b := body.AppendNewBlock("plugin", []string{cfg.Name}).Body()
		b.SetAttributeValue("enabled", cty.BoolVal(cfg.Enabled))
		if cfg.InstalledAt != 0 {
			b.SetAttributeValue("installed_at", cty.NumberIntVal(cfg.InstalledAt))
		}
		if cfg.UpdatedAt != 0 {
			b.SetAttributeValue("updated_at", cty.NumberIntVal(cfg.UpdatedAt))
		}
		if len(cfg.Extra) > 0 {
			val, err := toCty(cfg.Extra)
			if err != nil {
				return nil, fmt.Errorf("插件 %s 的settings: %w", cfg.Name, err)
			}
			b.SetAttributeValue("settings", val)
		}
	}
	return f.Bytes(), nil
}

// fromCty 将cty值转换为普通Go值，整数保持为int64
func fromCty(val cty.Value) (any, error) {
	if !val.IsKnown() || val.IsNull() {
		return nil, nil
	}
	ty := val.Type()
	if ty.IsPrimitiveType() {
		switch ty {
		case cty.String:
			return val.AsString(), nil
		case cty.Number:
			bf := val.AsBigFloat()
			if bf.IsInt() {
				if i, acc := bf.Int64(); acc == big.Exact {
					return i, nil
				}
			}
			f, _ := bf.Float64()
			return f, nil
		case cty.Bool:
			return val.True(), nil
		default:
			return nil, fmt.Errorf("不支持的类型: %s", ty.FriendlyName())
		}
	}
	if ty.IsObjectType() || ty.IsMapType() {
		out := make(map[string]any)
		for it := val.ElementIterator(); it.Next(); {
			k, v := it.Element()
			converted, err := fromCty(v)
			if err != nil {
				return nil, err
			}
			out[k.AsString()] = converted
		}
		return out, nil
	}
	if ty.IsTupleType() || ty.IsListType() || ty.IsSetType() {
		out := make([]any, 0, val.LengthInt())
		for it := val.ElementIterator(); it.Next(); {
			_, v := it.Element()
			converted, err := fromCty(v)
			if err != nil {
				return nil, err
			}
			out = append(out, converted)
		}
		return out, nil
	}
	return nil, fmt.Errorf("不支持的类型: %s", ty.FriendlyName())
}

// toCty 将配置中的Go值转换为cty值
func toCty(v any) (cty.Value, error) {
	switch t := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case string:
		return cty.StringVal(t), nil
	case bool:
		return cty.BoolVal(t), nil
	case int:
		return cty.NumberIntVal(int64(t)), nil
	case int32:
		return cty.NumberIntVal(int64(t)), nil
	case int64:
		return cty.NumberIntVal(t), nil
	case uint64:
		return cty.NumberUIntVal(t), nil
	case float32:
		return cty.NumberFloatVal(float64(t)), nil
	case float64:
		return cty.NumberFloatVal(t), nil
	case []string:
		items := make([]any, len(t))
		for i, s := range t {
			items[i] = s
		}
		return toCty(items)
	case []any:
		if len(t) == 0 {
			return cty.EmptyTupleVal, nil
		}
		items := make([]cty.Value, 0, len(t))
		for _, item := range t {
			cv, err := toCty(item)
			if err != nil {
				return cty.NilVal, err
			}
			items = append(items, cv)
		}
		return cty.TupleVal(items), nil
	case map[string]string:
		m := make(map[string]any, len(t))
		for k, s := range t {
			m[k] = s
		}
		return toCty(m)
	case map[string]any:
		if len(t) == 0 {
			return cty.EmptyObjectVal, nil
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		attrs := make(map[string]cty.Value, len(t))
		for _, k := range keys {
			cv, err := toCty(t[k])
			if err != nil {
				return cty.NilVal, fmt.Errorf("%s: %w", k, err)
			}
			attrs[k] = cv
		}
		return cty.ObjectVal(attrs), nil
	default:
		return cty.NilVal, fmt.Errorf("不支持的值类型 %T", v)
	}
}
