// Package mbtiles stores tiles and metadata in a single SQLite file using the
// deduplicating MBTiles layout: records in map, blobs in images, joined by the
// tiles view.
package mbtiles

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/migration"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	// sql drivers
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/shaxbee/go-spatialite"

	"sattiler/tile"
)

// DefaultDriver 默认驱动
const DefaultDriver = "sqlite3"

// Options 打开存储的参数
type Options struct {
	// Driver sqlite3 或 spatialite
	Driver      string
	BusyTimeout time.Duration
	Logger      logrus.FieldLogger
}

// Store 单文件瓦片库
type Store struct {
	db   *sql.DB
	path string
	opts Options
	log  logrus.FieldLogger
}

// Open 打开或创建瓦片库, 并完成表结构迁移
func Open(path string, opts Options) (*Store, error) {
	if opts.Driver == "" {
		opts.Driver = DefaultDriver
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	dsn := fmt.Sprintf("%s?_busy_timeout=%d", path, opts.BusyTimeout.Milliseconds())
	db, err := migration.OpenWith(opts.Driver, dsn, migrations, schemaVersion.Get, schemaVersion.Set)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	// 单连接: 写事务与读互斥, 读者看不到未提交的 blob
	db.SetMaxOpenConns(1)

	s := &Store{
		db:   db,
		path: path,
		opts: opts,
		log:  opts.Logger.WithField("store", path),
	}
	s.log.Debugf("store opened with driver %s", opts.Driver)
	return s, nil
}

// Path 文件路径
func (s *Store) Path() string {
	return s.path
}

// Close 关闭
func (s *Store) Close() error {
	return s.db.Close()
}

// CloneTo 复制一份工作副本并打开, 目标文件必须不存在
func (s *Store) CloneTo(ctx context.Context, path string) (*Store, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, errors.Errorf("clone target %s already exists", path)
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return nil, errors.Wrapf(err, "clone %s to %s", s.path, path)
	}
	s.log.Infof("cloned to %s", path)
	return Open(path, s.opts)
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// expectRows 影响行数不符即为一致性错误
func expectRows(res sql.Result, op, key string, want int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "%s rows affected", op)
	}
	if n != want {
		return &tile.StorageConsistencyError{Op: op, Key: key, Expected: want, Rows: n}
	}
	return nil
}
