package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Rotator 按大小轮转的日志文件
// 备份文件命名为 <path>.1 ... <path>.N，数字越大越旧
type Rotator struct {
	path       string
	maxSize    int64
	maxBackups int

	mu   sync.Mutex
	file *os.File
	size int64
}

// NewRotator 创建日志轮转器，maxSize<=0表示不轮转
func NewRotator(path string, maxSize int64, maxBackups int) *Rotator {
	return &Rotator{path: path, maxSize: maxSize, maxBackups: maxBackups}
}

// Write 实现io.Writer接口
func (r *Rotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		if err := r.open(); err != nil {
			return 0, err
		}
	}

	if r.maxSize > 0 && r.size > 0 && r.size+int64(len(p)) > r.maxSize {
		if err := r.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

// Close 关闭当前文件
func (r *Rotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// Path 返回当前日志文件路径
func (r *Rotator) Path() string {
	return r.path
}

func (r *Rotator) open() error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return fmt.Errorf("创建日志目录失败: %w", err)
	}
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("打开日志文件失败: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("获取日志文件信息失败: %w", err)
	}
	r.file = f
	r.size = info.Size()
	return nil
}

func (r *Rotator) rotate() error {
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("关闭日志文件失败: %w", err)
	}
	r.file = nil

	if r.maxBackups <= 0 {
		if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("删除日志文件失败: %w", err)
		}
		return r.open()
	}

	// 最旧的备份被覆盖
	for i := r.maxBackups - 1; i >= 1; i-- {
		src := backupName(r.path, i)
		if _, err := os.Stat(src); err == nil {
			if err := os.Rename(src, backupName(r.path, i+1)); err != nil {
				return fmt.Errorf("重命名日志备份失败: %w", err)
			}
		}
	}
	if err := os.Rename(r.path, backupName(r.path, 1)); err != nil {
		return fmt.Errorf("重命名日志文件失败: %w", err)
	}
	return r.open()
}

func backupName(path string, n int) string {
	return fmt.Sprintf("%s.%d", path, n)
}
