package configstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lomehong/pluginkit/pkg/plugin"
)

// DefaultMySQLTable 默认表名
const DefaultMySQLTable = "plugin_configs"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// MySQLStore 使用 MySQL 保存插件配置，每个插件一行
type MySQLStore struct {
	db    *sql.DB
	table string
}

// NewMySQLStore 连接 MySQL 并初始化表结构
func NewMySQLStore(ctx context.Context, opts MySQLOptions) (*MySQLStore, error) {
	if strings.TrimSpace(opts.DSN) == "" {
		return nil, fmt.Errorf("MySQL DSN 不能为空")
	}
	if _, err := mysql.ParseDSN(opts.DSN); err != nil {
		return nil, fmt.Errorf("MySQL DSN 无效: %w", err)
	}

	db, err := sql.Open("mysql", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("连接 MySQL 失败: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到 MySQL: %w", err)
	}

	store, err := NewMySQLStoreWithDB(ctx, db, opts.Table)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewMySQLStoreWithDB 使用已有连接创建存储
func NewMySQLStoreWithDB(ctx context.Context, db *sql.DB, table string) (*MySQLStore, error) {
	if table == "" {
		table = DefaultMySQLTable
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("无效的表名: %s", table)
	}
	store := &MySQLStore{db: db, table: table}
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema(ctx context.Context) error {
	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
        name VARCHAR(128) PRIMARY KEY,
        enabled TINYINT(1) NOT NULL DEFAULT 0,
        installed_at BIGINT NOT NULL DEFAULT 0,
        updated_at BIGINT NOT NULL DEFAULT 0,
        settings TEXT
)`, s.table)
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("初始化 %s 表失败: %w", s.table, err)
	}
	return nil
}

// Load 读取全部插件配置
func (s *MySQLStore) Load(ctx context.Context) (plugin.ConfigDocument, error) {
	query := fmt.Sprintf(`SELECT name, enabled, installed_at, updated_at, settings FROM %s ORDER BY name`, s.table)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return plugin.ConfigDocument{}, fmt.Errorf("查询插件配置失败: %w", err)
	}
	defer rows.Close()

	doc := plugin.ConfigDocument{Plugins: []plugin.Config{}}
	for rows.Next() {
		var (
			cfg      plugin.Config
			settings sql.NullString
		)
		if err := rows.Scan(&cfg.Name, &cfg.Enabled, &cfg.InstalledAt, &cfg.UpdatedAt, &settings); err != nil {
			return plugin.ConfigDocument{}, fmt.Errorf("读取插件配置失败: %w", err)
		}
		if settings.Valid && settings.String != "" {
			if err := json.Unmarshal([]byte(settings.String), &cfg.Extra); err != nil {
				return plugin.ConfigDocument{}, fmt.Errorf("解析插件 %s 的settings失败: %w", cfg.Name, err)
			}
			if len(cfg.Extra) == 0 {
				cfg.Extra = nil
			}
		}
		doc.Plugins = append(doc.Plugins, cfg)
	}
	if err := rows.Err(); err != nil {
		return plugin.ConfigDocument{}, fmt.Errorf("遍历插件配置失败: %w", err)
	}
	return doc, nil
}

// Save 在事务中替换表内容
func (s *MySQLStore) Save(ctx context.Context, doc plugin.ConfigDocument) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, s.table)); err != nil {
		return fmt.Errorf("清空插件配置失败: %w", err)
	}

	insert := fmt.Sprintf(`INSERT INTO %s (name, enabled, installed_at, updated_at, settings) VALUES (?, ?, ?, ?, ?)`, s.table)
	for _, cfg := range doc.Plugins {
		if cfg.Name == "" {
			continue
		}
		var settings sql.NullString
		if len(cfg.Extra) > 0 {
			data, err := json.Marshal(cfg.Extra)
			if err != nil {
				return fmt.Errorf("编码插件 %s 的settings失败: %w", cfg.Name, err)
			}
			settings = sql.NullString{String: string(data), Valid: true}
		}
		if _, err := tx.ExecContext(ctx, insert, cfg.Name, cfg.Enabled, cfg.InstalledAt, cfg.UpdatedAt, settings); err != nil {
			return fmt.Errorf("写入插件 %s 的配置失败: %w", cfg.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}

// Close 关闭数据库连接
func (s *MySQLStore) Close() error {
	return s.db.Close()
}
