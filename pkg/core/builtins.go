package core

import (
	"github.com/lomehong/pluginkit/plugins/cache"
	"github.com/lomehong/pluginkit/plugins/hello"
	"github.com/lomehong/pluginkit/plugins/search"
)

// DefaultBuiltins 随宿主一起发布的插件
func DefaultBuiltins() []Builtin {
	return []Builtin{
		{Name: cache.Name, New: cache.New},
		{Name: search.Name, New: search.New},
		{Name: hello.Name, New: hello.New},
	}
}
