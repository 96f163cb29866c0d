package diag

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"sattiler/tile"
)

var auditHeader = []string{"z", "x", "y", "status"}

// AuditEntry 审计日志中的一行
type AuditEntry struct {
	Coord  tile.Coord
	Status string
}

// AuditLog 追加写入的修复记录, 记录经 channel 交给后台写入
type AuditLog struct {
	file     *os.File
	w        *csv.Writer
	saveChan chan AuditEntry
	done     chan struct{}
	log      logrus.FieldLogger

	mu      sync.Mutex
	isClose bool
	err     error
}

// OpenAudit 打开或创建审计日志
func OpenAudit(path string, buf int, log logrus.FieldLogger) (*AuditLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return nil, errors.Wrap(err, "audit dir")
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open audit log %s", path)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	a := &AuditLog{
		file:     file,
		w:        csv.NewWriter(file),
		saveChan: make(chan AuditEntry, buf),
		done:     make(chan struct{}),
		log:      log,
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.Wrap(err, "stat audit log")
	}
	if info.Size() == 0 {
		if err := a.w.Write(auditHeader); err != nil {
			file.Close()
			return nil, errors.Wrap(err, "write audit header")
		}
	}

	go a.start()
	return a, nil
}

// Record 记录一个坐标的处理结果, 关闭后的记录被丢弃
func (a *AuditLog) Record(c tile.Coord, status string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.isClose {
		return
	}
	a.saveChan <- AuditEntry{Coord: c, Status: status}
}

func (a *AuditLog) start() {
	defer close(a.done)
	for e := range a.saveChan {
		row := []string{strconv.Itoa(e.Coord.Z), strconv.Itoa(e.Coord.X), strconv.Itoa(e.Coord.Y), e.Status}
		if err := a.w.Write(row); err != nil && a.err == nil {
			a.err = err
		}
	}
	a.w.Flush()
	if err := a.w.Error(); err != nil && a.err == nil {
		a.err = err
	}
}

// Close 写完缓冲中的记录并关闭文件, 可重复调用
func (a *AuditLog) Close() error {
	a.mu.Lock()
	if a.isClose {
		a.mu.Unlock()
		<-a.done
		return a.err
	}
	a.isClose = true
	close(a.saveChan)
	a.mu.Unlock()

	<-a.done
	if err := a.file.Close(); err != nil && a.err == nil {
		a.err = err
	}
	a.log.Infof("audit log %s closed", a.file.Name())
	return a.err
}

// ReadAudit 读取审计日志
func ReadAudit(path string) ([]AuditEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open audit log %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(auditHeader)
	var entries []AuditEntry
	for line := 1; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "audit log %s", path)
		}
		if rec[0] == auditHeader[0] {
			continue
		}
		var nums [3]int
		for i := range nums {
			if nums[i], err = strconv.Atoi(rec[i]); err != nil {
				return nil, errors.Wrapf(err, "audit log %s line %d", path, line)
			}
		}
		entries = append(entries, AuditEntry{Coord: tile.Coord{Z: nums[0], X: nums[1], Y: nums[2]}, Status: rec[3]})
	}
	return entries, nil
}
