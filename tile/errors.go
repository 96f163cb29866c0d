package tile

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound 瓦片或元数据不存在
	ErrNotFound = errors.New("not found")
	// ErrCorruptPayload 数据既不是有效图片也不是可识别的占位页
	ErrCorruptPayload = errors.New("corrupt tile payload")
	// ErrPlaceholder 源返回了 HTML 占位页
	ErrPlaceholder = errors.New("placeholder response")
	// ErrUnavailable 源返回非 200 状态
	ErrUnavailable = errors.New("tile unavailable from source")
)

// OutOfRangeError 经纬度或级别超出 Web Mercator 有效范围
type OutOfRangeError struct {
	Field string
	Value float64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("%s %v out of range", e.Field, e.Value)
}

// TransportError 重试耗尽后仍无法访问瓦片源
type TransportError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StorageConsistencyError 写操作影响的行数与预期不符, 属于致命错误
type StorageConsistencyError struct {
	Op       string
	Key      string
	Expected int64
	Rows     int64
}

func (e *StorageConsistencyError) Error() string {
	return fmt.Sprintf("%s %s: expected %d row(s), touched %d", e.Op, e.Key, e.Expected, e.Rows)
}

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsFatal reports whether err must abort the enclosing run.
func IsFatal(err error) bool {
	var te *TransportError
	var se *StorageConsistencyError
	return errors.As(err, &te) || errors.As(err, &se)
}
