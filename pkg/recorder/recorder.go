// Package recorder persists the normalized frame stream to newline
// delimited JSON files, one file per recording session.
package recorder

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-posebridge/internal/log"
	"github.com/teslashibe/go-posebridge/pkg/metrics"
	"github.com/teslashibe/go-posebridge/pkg/pose"
)

// FileExt is appended to the session id to form the file name.
const FileExt = ".ndjson"

// ErrSessionActive is returned by Start while a session is recording.
var ErrSessionActive = errors.New("recorder: session already active")

// Record is one line of a session file: the frame plus its offset from
// the session start, in milliseconds.
type Record struct {
	pose.Frame
	Relative float64 `json:"relative"`
}

// Status describes the recorder state.
type Status struct {
	Active    bool      `json:"active"`
	SessionID string    `json:"sessionId,omitempty"`
	StartedAt time.Time `json:"startedAt,omitempty"`
	Frames    int64     `json:"frames"`
}

// SessionFile is a finished or in-progress session on disk.
type SessionFile struct {
	SessionID string    `json:"sessionId"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	Modified  time.Time `json:"modified"`
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock overrides the time source used for session start.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// WithIDGenerator overrides session id allocation.
func WithIDGenerator(gen func() string) Option {
	return func(r *Recorder) { r.newID = gen }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// WithMetrics sets the collectors updated on start, stop and record.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// Recorder is the Idle -> Recording -> Idle state machine. All methods are
// safe for concurrent use; writes to the session file are serialized.
type Recorder struct {
	dir     string
	now     func() time.Time
	newID   func() string
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	file      *os.File
	sessionID string
	startedAt time.Time
	startMs   float64
	frames    int64
}

// New creates an idle recorder writing into dir. The directory is created
// lazily on the first Start.
func New(dir string, opts ...Option) *Recorder {
	r := &Recorder{
		dir:   dir,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = log.Component("recorder")
	}
	if r.metrics == nil {
		r.metrics = metrics.New()
	}
	return r
}

// Dir returns the directory session files are written to.
func (r *Recorder) Dir() string {
	return r.dir
}

// Start opens a new session and returns its id. It fails with
// ErrSessionActive if a session is already recording.
func (r *Recorder) Start() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		return "", ErrSessionActive
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("recorder: create %s: %w", r.dir, err)
	}

	id := r.newID()
	path := filepath.Join(r.dir, id+FileExt)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", fmt.Errorf("recorder: open %s: %w", path, err)
	}

	r.file = f
	r.sessionID = id
	r.startedAt = r.now()
	r.startMs = float64(r.startedAt.UnixMilli())
	r.frames = 0
	r.metrics.RecordingActive.Set(1)
	r.logger.Info("recording started", "session_id", id, "path", path)
	return id, nil
}

// Stop closes the active session. It is a no-op when idle.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.logger.Info("recording stopped", "session_id", r.sessionID, "frames", r.frames)
	r.file = nil
	r.sessionID = ""
	r.startedAt = time.Time{}
	r.metrics.RecordingActive.Set(0)
	if err != nil {
		return fmt.Errorf("recorder: close: %w", err)
	}
	return nil
}

// Record appends frame to the active session. While idle it does nothing.
func (r *Recorder) Record(frame pose.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}

	rel := frame.Timestamp - r.startMs
	if rel < 0 {
		rel = 0
	}
	line, err := json.Marshal(Record{Frame: frame, Relative: rel})
	if err != nil {
		return fmt.Errorf("recorder: encode: %w", err)
	}
	line = append(line, '\n')
	if _, err := r.file.Write(line); err != nil {
		return fmt.Errorf("recorder: write: %w", err)
	}
	r.frames++
	r.metrics.RecordedFrames.Inc()
	return nil
}

// Status returns a snapshot of the recorder state.
func (r *Recorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{
		Active:    r.file != nil,
		SessionID: r.sessionID,
		StartedAt: r.startedAt,
		Frames:    r.frames,
	}
}

// List returns the session files in the directory, newest first.
func (r *Recorder) List() ([]SessionFile, error) {
	entries, err := os.ReadDir(r.dir)
	if errors.Is(err, os.ErrNotExist) {
		return []SessionFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("recorder: list: %w", err)
	}

	files := make([]SessionFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), FileExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, SessionFile{
			SessionID: strings.TrimSuffix(e.Name(), FileExt),
			Path:      filepath.Join(r.dir, e.Name()),
			Size:      info.Size(),
			Modified:  info.ModTime(),
		})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].Modified.After(files[j].Modified)
	})
	return files, nil
}

// maxLine bounds a single record when reading session files back.
const maxLine = 4 << 20

// Read decodes a session stream record by record. fn returning an error
// stops the iteration and the error is returned.
func Read(src io.Reader, fn func(Record) error) error {
	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	line := 0
	for sc.Scan() {
		line++
		data := sc.Bytes()
		if len(strings.TrimSpace(string(data))) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("recorder: line %d: %w", line, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return sc.Err()
}
