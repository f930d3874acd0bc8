// Package tracklog persists valid fixes to daily, size-capped CSV files
// through a fixed-size write buffer.
package tracklog

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	geo "github.com/kellydunn/golang-geo"
	"github.com/ricochet2200/go-disk-usage/du"

	"github.com/musicaJack/LC76G-Pico-sub000/internal/gps"
	"github.com/musicaJack/LC76G-Pico-sub000/internal/observability"
)

const (
	DefaultBufferSize     = 2048
	DefaultBatchCount     = 10
	DefaultFlushInterval  = 30 * time.Second
	DefaultMaxFileSize    = 10 << 20
	DefaultMaxFilesPerDay = 999

	// flushFillPercent forces a flush once the buffer is this full.
	flushFillPercent = 80
)

type Options struct {
	Dir string

	BufferSize    int
	BatchCount    int
	FlushInterval time.Duration

	MaxFileSize    int64
	MaxFilesPerDay int

	// MinDistanceM drops fixes closer than this to the last logged one.
	// Zero logs every valid fix.
	MinDistanceM float64
	// MinFreeBytes refuses to flush when the volume has less space left.
	// Zero disables the check.
	MinFreeBytes uint64

	// Extended appends altitude, course and fix quality to every record.
	Extended bool

	// Now supplies the clock used for file dates and flush timing.
	Now func() time.Time
}

func (o *Options) applyDefaults() {
	if o.Dir == "" {
		o.Dir = "gps_logs"
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.BatchCount <= 0 {
		o.BatchCount = DefaultBatchCount
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = DefaultFlushInterval
	}
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
	if o.MaxFilesPerDay <= 0 || o.MaxFilesPerDay > 999 {
		o.MaxFilesPerDay = DefaultMaxFilesPerDay
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type State int

const (
	Uninitialized State = iota
	Ready
	Rotating
	Closed
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Rotating:
		return "rotating"
	case Closed:
		return "closed"
	default:
		return "uninitialized"
	}
}

type Stats struct {
	State     State
	File      string
	Sequence  int
	FileSize  int64
	Pending   int
	Buffered  int
	Logged    uint64
	Skipped   uint64
	Flushes   uint64
	Rotations uint64
}

// Logger appends records for valid fixes to <Dir>/<YYYYMMDD>_<NNN>.log.
type Logger struct {
	mu   sync.Mutex
	opts Options

	state     State
	buf       *ring
	pending   int
	lastFlush time.Time
	last      *geo.Point

	day         string
	seq         int
	file        *os.File
	fileSize    int64
	fileRecords int

	logged, skipped, flushes, rotations uint64
}

// Open creates the log directory if needed and starts a new file after the
// highest sequence already present for today.
func Open(opts Options) (*Logger, error) {
	opts.applyDefaults()
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		observability.TrackErrors.WithLabelValues(DirectoryCreateFailed.String()).Inc()
		return nil, &StorageError{Kind: DirectoryCreateFailed, Path: opts.Dir, Err: err}
	}

	now := opts.Now()
	l := &Logger{
		opts:      opts,
		buf:       newRing(opts.BufferSize),
		lastFlush: now,
		day:       now.Format("20060102"),
	}
	seq, truncate := l.nextSequence(highestSequence(opts.Dir, l.day))
	if err := l.openFile(now, seq, truncate); err != nil {
		return nil, err
	}
	l.state = Ready
	return l, nil
}

// Log buffers a record for f. Invalid fixes and fixes within MinDistanceM of
// the previous record are skipped without error, but still flush the buffer
// when FlushInterval has passed. The first call on a new date drains the
// buffer into the previous day's file and opens <YYYYMMDD>_001.log.
func (l *Logger) Log(f gps.Fix) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == Closed {
		return ErrClosed
	}
	now := l.opts.Now()
	if day := now.Format("20060102"); day != l.day {
		// Records buffered before midnight belong to the old day's file.
		if err := l.flushLocked(); err != nil {
			return err
		}
		if err := l.rotate(now, day, "date "+day); err != nil {
			return err
		}
	}
	if !f.Valid || !f.HasPosition() {
		l.skipped++
		return l.flushIfDueLocked()
	}
	p := geo.NewPoint(f.Latitude, f.Longitude)
	if l.opts.MinDistanceM > 0 && l.last != nil {
		if l.last.GreatCircleDistance(p)*1000 < l.opts.MinDistanceM {
			l.skipped++
			return l.flushIfDueLocked()
		}
	}

	rec := formatRecord(f, l.opts.Extended)
	if len(rec) > l.buf.Free() {
		if err := l.flushLocked(); err != nil {
			return err
		}
	}
	if _, err := l.buf.Write(rec); err != nil {
		return &StorageError{Kind: WriteFailed, Path: l.path(), Err: err}
	}
	l.pending++
	l.logged++
	l.last = p

	if l.shouldFlush() {
		return l.flushLocked()
	}
	return nil
}

func (l *Logger) shouldFlush() bool {
	switch {
	case l.pending >= l.opts.BatchCount:
		return true
	case l.opts.Now().Sub(l.lastFlush) >= l.opts.FlushInterval:
		return true
	case l.buf.Len()*100 > l.buf.Cap()*flushFillPercent:
		return true
	}
	return false
}

// Tick flushes buffered records once FlushInterval has passed since the last
// flush. Callers run it every poll so records still reach storage while the
// receiver has no fix.
func (l *Logger) Tick() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == Closed {
		return ErrClosed
	}
	return l.flushIfDueLocked()
}

func (l *Logger) flushIfDueLocked() error {
	if l.pending > 0 && l.opts.Now().Sub(l.lastFlush) >= l.opts.FlushInterval {
		return l.flushLocked()
	}
	return nil
}

// Sync writes out buffered records and syncs the file to storage.
func (l *Logger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == Closed {
		return ErrClosed
	}
	if err := l.flushLocked(); err != nil {
		return err
	}
	if err := l.file.Sync(); err != nil {
		return &StorageError{Kind: WriteFailed, Path: l.path(), Err: err}
	}
	return nil
}

// Close flushes, syncs and closes the active file. Closing twice is a no-op.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == Closed {
		return nil
	}
	err := l.flushLocked()
	if cerr := l.closeFile(); err == nil {
		err = cerr
	}
	l.state = Closed
	return err
}

func (l *Logger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		State:     l.state,
		File:      l.path(),
		Sequence:  l.seq,
		FileSize:  l.fileSize,
		Pending:   l.pending,
		Buffered:  l.buf.Len(),
		Logged:    l.logged,
		Skipped:   l.skipped,
		Flushes:   l.flushes,
		Rotations: l.rotations,
	}
}

func (l *Logger) flushLocked() error {
	now := l.opts.Now()
	if l.buf.Len() == 0 {
		l.pending = 0
		l.lastFlush = now
		return nil
	}
	if l.file == nil {
		// A previous rotation failed to open its file.
		if err := l.openFile(now, l.seq, false); err != nil {
			return err
		}
		l.state = Ready
	}
	if err := l.rotateIfNeeded(now); err != nil {
		return err
	}
	if err := l.checkFreeSpace(); err != nil {
		return err
	}

	size := l.buf.Len()
	n, err := l.buf.WriteTo(l.file)
	l.fileSize += n
	observability.TrackBytes.Add(float64(n))
	if err != nil {
		observability.TrackErrors.WithLabelValues(WriteFailed.String()).Inc()
		return &StorageError{Kind: WriteFailed, Path: l.path(), Err: err}
	}
	if int(n) < size {
		observability.TrackErrors.WithLabelValues(WriteFailed.String()).Inc()
		return &StorageError{Kind: WriteFailed, Path: l.path(), Err: fmt.Errorf("short write %d of %d", n, size)}
	}

	l.fileRecords += l.pending
	l.pending = 0
	l.lastFlush = now
	l.flushes++
	observability.TrackFlushes.Inc()
	return nil
}

func (l *Logger) checkFreeSpace() error {
	if l.opts.MinFreeBytes == 0 {
		return nil
	}
	avail := du.NewDiskUsage(l.opts.Dir).Available()
	if avail >= l.opts.MinFreeBytes {
		return nil
	}
	log.Printf("tracklog: %s free on %s, need %s; holding %d buffered records",
		humanize.Bytes(avail), l.opts.Dir, humanize.Bytes(l.opts.MinFreeBytes), l.pending)
	observability.TrackErrors.WithLabelValues("insufficient_space").Inc()
	return &StorageError{Kind: WriteFailed, Path: l.path(), Err: ErrInsufficientSpace}
}

// rotateIfNeeded starts the next file once the active one has reached
// MaxFileSize. A file always receives at least one flush, so a header larger
// than MaxFileSize cannot cause endless rotation. Date changes are handled by
// Log, which drains the buffer into the old day's file first.
func (l *Logger) rotateIfNeeded(now time.Time) error {
	if l.fileSize < l.opts.MaxFileSize || l.fileRecords == 0 {
		return nil
	}
	return l.rotate(now, l.day, "size "+humanize.Bytes(uint64(l.fileSize)))
}

func (l *Logger) rotate(now time.Time, day, reason string) error {
	l.state = Rotating
	prev, prevSize := l.path(), l.fileSize
	if err := l.closeFile(); err != nil {
		log.Printf("tracklog: closing %s: %v", prev, err)
	}

	current := l.seq
	if day != l.day {
		l.day = day
		current = highestSequence(l.opts.Dir, day)
	}
	seq, truncate := l.nextSequence(current)
	if err := l.openFile(now, seq, truncate); err != nil {
		return err
	}
	l.state = Ready
	l.rotations++
	observability.TrackRotations.Inc()
	log.Printf("tracklog: rotated %s (%s) -> %s, %s", filepath.Base(prev), humanize.Bytes(uint64(prevSize)), filepath.Base(l.path()), reason)
	return nil
}

// nextSequence returns the sequence after current. Past MaxFilesPerDay it
// wraps to 1 and the reused file must be truncated.
func (l *Logger) nextSequence(current int) (int, bool) {
	next := current + 1
	if next > l.opts.MaxFilesPerDay {
		log.Printf("tracklog: %d files for %s, reusing sequence 001", l.opts.MaxFilesPerDay, l.day)
		return 1, true
	}
	return next, false
}

func (l *Logger) openFile(now time.Time, seq int, truncate bool) error {
	l.seq = seq
	path := l.path()
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if truncate {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		observability.TrackErrors.WithLabelValues(OpenFailed.String()).Inc()
		return &StorageError{Kind: OpenFailed, Path: path, Err: err}
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return &StorageError{Kind: OpenFailed, Path: path, Err: err}
	}

	h := header(filepath.Base(path), now, l.opts.Extended)
	n, err := f.Write(h)
	if err != nil {
		f.Close()
		observability.TrackErrors.WithLabelValues(WriteFailed.String()).Inc()
		return &StorageError{Kind: WriteFailed, Path: path, Err: err}
	}
	l.file = f
	l.fileSize = info.Size() + int64(n)
	l.fileRecords = 0
	log.Printf("tracklog: writing %s", path)
	return nil
}

func (l *Logger) closeFile() error {
	if l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil
	if err := f.Sync(); err != nil {
		f.Close()
		return &StorageError{Kind: WriteFailed, Path: f.Name(), Err: err}
	}
	if err := f.Close(); err != nil {
		return &StorageError{Kind: WriteFailed, Path: f.Name(), Err: err}
	}
	return nil
}

func (l *Logger) path() string {
	return filepath.Join(l.opts.Dir, fileName(l.day, l.seq))
}

func fileName(day string, seq int) string {
	return fmt.Sprintf("%s_%03d.log", day, seq)
}

// highestSequence returns the largest NNN among <day>_NNN.log files in dir,
// or 0 when there are none.
func highestSequence(dir, day string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	highest := 0
	prefix := day + "_"
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".log") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".log"))
		if err != nil {
			continue
		}
		if n > highest {
			highest = n
		}
	}
	return highest
}
