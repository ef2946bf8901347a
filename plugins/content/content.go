// Package content 定义内置插件共用的内容钩子载荷
package content

import (
	"fmt"

	"github.com/lomehong/pluginkit/pkg/hooks"
)

// Document content:*钩子的载荷
type Document struct {
	ID    string   `json:"id"`
	Title string   `json:"title"`
	Body  string   `json:"body"`
	Tags  []string `json:"tags,omitempty"`
}

// 内容钩子
var (
	SaveHook   = hooks.NewHook[*Document](hooks.ContentSave)
	DeleteHook = hooks.NewHook[*Document](hooks.ContentDelete)
)

// FromHook 从钩子数据取出文档
func FromHook(data any) (*Document, error) {
	doc, ok := data.(*Document)
	if !ok || doc == nil {
		return nil, fmt.Errorf("期望 *content.Document，实际为 %T", data)
	}
	return doc, nil
}
