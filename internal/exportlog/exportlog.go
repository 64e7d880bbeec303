// Package exportlog writes the per-job and combined export logs. It is a
// side-channel sink: every failure is swallowed, and no call here may block
// or fail job processing.
package exportlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	combinedName = "combined.log"
	timeLayout   = "2006-01-02 15:04:05"
	suffixLayout = "20060102-150405"
)

// Manager owns the export log directory: the combined log, its size-based
// rotation, and the retention pruning that keeps the directory under the
// configured ceiling.
type Manager struct {
	dir         string
	rotateBytes int64
	retainBytes int64

	mu        sync.Mutex
	protected map[string]struct{}
}

// NewManager creates the log directory if needed.
func NewManager(dir string, rotateBytes, retainBytes int64) *Manager {
	_ = os.MkdirAll(dir, 0o755)
	return &Manager{
		dir:         dir,
		rotateBytes: rotateBytes,
		retainBytes: retainBytes,
		protected:   make(map[string]struct{}),
	}
}

// ForJob opens the dedicated log for one job and protects its file from
// retention pruning until Close is called.
func (m *Manager) ForJob(jobID string) *JobLog {
	name := "job-" + jobID + ".log"
	m.mu.Lock()
	m.protected[name] = struct{}{}
	m.mu.Unlock()
	return &JobLog{manager: m, path: filepath.Join(m.dir, name), name: name}
}

// JobLog appends leveled lines to one job's file and the combined file.
type JobLog struct {
	manager *Manager
	path    string
	name    string
	sink    func(line string)
}

// SetSink registers a callback receiving every formatted line, used to
// mirror log lines into the job record.
func (l *JobLog) SetSink(fn func(line string)) {
	l.sink = fn
}

// Close lifts the pruning protection of the job's file.
func (l *JobLog) Close() {
	l.manager.mu.Lock()
	delete(l.manager.protected, l.name)
	l.manager.mu.Unlock()
}

func (l *JobLog) Debug(msg string, payload interface{}) { l.write("DEBUG", msg, payload) }
func (l *JobLog) Info(msg string, payload interface{})  { l.write("INFO", msg, payload) }
func (l *JobLog) Warn(msg string, payload interface{})  { l.write("WARN", msg, payload) }
func (l *JobLog) Error(msg string, payload interface{}) { l.write("ERROR", msg, payload) }

func (l *JobLog) write(level, msg string, payload interface{}) {
	line := fmt.Sprintf("%s [%s] %s", time.Now().Format(timeLayout), level, msg)
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			line += " | " + string(data)
		} else {
			line += " | " + fmt.Sprintf("%v", payload)
		}
	}
	line += "\n"

	appendLine(l.path, line)
	if l.sink != nil {
		l.sink(line)
	}
	l.manager.writeCombined(line)
}

// writeCombined appends to the combined log and then enforces the rotation
// and retention invariants.
func (m *Manager) writeCombined(line string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := filepath.Join(m.dir, combinedName)
	appendLine(path, line)
	m.rotateLocked(path)
	m.pruneLocked()
}

// rotateLocked renames the combined file once it exceeds the rotation
// threshold; a fresh file starts on the next write.
func (m *Manager) rotateLocked(path string) {
	info, err := os.Stat(path)
	if err != nil || info.Size() <= m.rotateBytes {
		return
	}
	rotated := filepath.Join(m.dir,
		fmt.Sprintf("combined-%s.log", time.Now().Format(suffixLayout)))
	_ = os.Rename(path, rotated)
}

// pruneLocked deletes the oldest unprotected log files until the directory
// is back under the retention ceiling.
func (m *Manager) pruneLocked() {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return
	}

	type logFile struct {
		name  string
		size  int64
		mtime time.Time
	}
	var files []logFile
	var total int64
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".log" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, logFile{name: entry.Name(), size: info.Size(), mtime: info.ModTime()})
		total += info.Size()
	}
	if total <= m.retainBytes {
		return
	}

	sort.Slice(files, func(i, j int) bool { return files[i].mtime.Before(files[j].mtime) })
	for _, f := range files {
		if total <= m.retainBytes {
			return
		}
		if _, ok := m.protected[f.name]; ok || f.name == combinedName {
			continue
		}
		if err := os.Remove(filepath.Join(m.dir, f.name)); err == nil {
			total -= f.size
		}
	}
}

func appendLine(path, line string) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.WriteString(line)
}
