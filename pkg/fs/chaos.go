package fs

import (
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
)

// ChaosConfig controls fault injection probabilities.
// Each rate is a float64 from 0.0 (never) to 1.0 (always).
type ChaosConfig struct {
	// Read faults
	ReadFailRate    float64 // Fail read operations entirely
	PartialReadRate float64 // Return truncated data on reads

	// Write faults
	WriteFailRate    float64 // Fail write operations entirely
	PartialWriteRate float64 // Write partial data then fail (simulates a torn write)

	// Other faults
	OpenFailRate float64 // Fail Open/OpenFile
	StatFailRate float64 // Fail Stat/Exists and File.Stat
}

// DefaultChaosConfig returns a config with reasonable fault rates for testing.
func DefaultChaosConfig() ChaosConfig {
	return ChaosConfig{
		ReadFailRate:     0.05,
		PartialReadRate:  0.05,
		WriteFailRate:    0.05,
		PartialWriteRate: 0.05,
		OpenFailRate:     0.02,
		StatFailRate:     0.02,
	}
}

// ChaosMode controls how Chaos behaves.
type ChaosMode uint8

const (
	// ChaosModePassthrough behaves like the underlying FS.
	ChaosModePassthrough ChaosMode = iota

	// ChaosModeInject enables fault-rate injection.
	ChaosModeInject
)

// Chaos wraps an [FS] and injects random failures for testing.
//
// All injected errors are real OS errors (syscall.Errno wrapped in
// [os.PathError]) so code using errors.Is() behaves as it would against a
// failing disk. ENOENT is never injected: missing-path errors come from the
// wrapped FS.
//
// The zero mode is [ChaosModePassthrough]; call [Chaos.SetMode] to start
// injecting.
type Chaos struct {
	fs     FS
	config ChaosConfig
	mode   atomic.Uint32

	mu  sync.Mutex
	rng *rand.Rand

	openFails     atomic.Int64
	readFails     atomic.Int64
	writeFails    atomic.Int64
	partialReads  atomic.Int64
	partialWrites atomic.Int64
	statFails     atomic.Int64
}

// NewChaos creates a new Chaos filesystem wrapping the given [FS].
// The seed controls random fault injection for reproducibility.
func NewChaos(fs FS, seed int64, config ChaosConfig) *Chaos {
	return &Chaos{
		fs:     fs,
		rng:    rand.New(rand.NewSource(seed)),
		config: config,
	}
}

// SetMode updates Chaos behavior. Safe to call concurrently.
func (c *Chaos) SetMode(m ChaosMode) { c.mode.Store(uint32(m)) }

// ChaosStats contains counts of injected faults.
type ChaosStats struct {
	OpenFails     int64
	ReadFails     int64
	WriteFails    int64
	PartialReads  int64
	PartialWrites int64
	StatFails     int64
}

// Stats returns the current fault injection counts.
func (c *Chaos) Stats() ChaosStats {
	return ChaosStats{
		OpenFails:     c.openFails.Load(),
		ReadFails:     c.readFails.Load(),
		WriteFails:    c.writeFails.Load(),
		PartialReads:  c.partialReads.Load(),
		PartialWrites: c.partialWrites.Load(),
		StatFails:     c.statFails.Load(),
	}
}

// TotalFaults returns the total number of injected faults.
func (c *Chaos) TotalFaults() int64 {
	s := c.Stats()

	return s.OpenFails + s.ReadFails + s.WriteFails + s.PartialReads + s.PartialWrites + s.StatFails
}

func (c *Chaos) should(rate float64) bool {
	if ChaosMode(c.mode.Load()) != ChaosModeInject || rate <= 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.rng.Float64() < rate
}

// randIntn returns a random int in [0, n). n must be > 0.
func (c *Chaos) randIntn(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.rng.Intn(n)
}

func pathError(op, path string, errno syscall.Errno) error {
	return &os.PathError{Op: op, Path: path, Err: errno}
}

func (c *Chaos) Open(path string) (File, error) {
	if c.should(c.config.OpenFailRate) {
		c.openFails.Add(1)

		return nil, pathError("open", path, syscall.EIO)
	}

	f, err := c.fs.Open(path)
	if err != nil {
		return nil, err
	}

	return &chaosFile{f: f, chaos: c, path: path}, nil
}

func (c *Chaos) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if c.should(c.config.OpenFailRate) {
		c.openFails.Add(1)

		return nil, pathError("open", path, syscall.EACCES)
	}

	f, err := c.fs.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	return &chaosFile{f: f, chaos: c, path: path}, nil
}

func (c *Chaos) ReadFile(path string) ([]byte, error) {
	if c.should(c.config.ReadFailRate) {
		c.readFails.Add(1)

		return nil, pathError("read", path, syscall.EIO)
	}

	return c.fs.ReadFile(path)
}

// WriteFileAtomic either fails before touching path or delegates fully;
// a torn atomic write is not a state the wrapped FS can produce.
func (c *Chaos) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if c.should(c.config.WriteFailRate) {
		c.writeFails.Add(1)

		return pathError("write", path, syscall.ENOSPC)
	}

	return c.fs.WriteFileAtomic(path, data, perm)
}

func (c *Chaos) MkdirAll(path string, perm os.FileMode) error {
	return c.fs.MkdirAll(path, perm)
}

func (c *Chaos) Stat(path string) (os.FileInfo, error) {
	if c.should(c.config.StatFailRate) {
		c.statFails.Add(1)

		return nil, pathError("stat", path, syscall.EIO)
	}

	return c.fs.Stat(path)
}

func (c *Chaos) Exists(path string) (bool, error) {
	if c.should(c.config.StatFailRate) {
		c.statFails.Add(1)

		return false, pathError("stat", path, syscall.EIO)
	}

	return c.fs.Exists(path)
}

func (c *Chaos) Remove(path string) error {
	return c.fs.Remove(path)
}

// chaosFile wraps a [File] and injects read/write/stat faults.
type chaosFile struct {
	f     File
	chaos *Chaos
	path  string
}

func (cf *chaosFile) Read(p []byte) (int, error) {
	c := cf.chaos

	if c.should(c.config.ReadFailRate) {
		c.readFails.Add(1)

		return 0, pathError("read", cf.path, syscall.EIO)
	}

	if len(p) > 1 && c.should(c.config.PartialReadRate) {
		c.partialReads.Add(1)

		return cf.f.Read(p[:1+c.randIntn(len(p)-1)])
	}

	return cf.f.Read(p)
}

func (cf *chaosFile) Write(p []byte) (int, error) {
	c := cf.chaos

	if c.should(c.config.WriteFailRate) {
		c.writeFails.Add(1)

		return 0, pathError("write", cf.path, syscall.EIO)
	}

	if len(p) > 1 && c.should(c.config.PartialWriteRate) {
		c.partialWrites.Add(1)

		n, err := cf.f.Write(p[:1+c.randIntn(len(p)-1)])
		if err != nil {
			return n, err
		}

		return n, pathError("write", cf.path, syscall.ENOSPC)
	}

	return cf.f.Write(p)
}

func (cf *chaosFile) Seek(offset int64, whence int) (int64, error) {
	return cf.f.Seek(offset, whence)
}

func (cf *chaosFile) Close() error {
	return cf.f.Close()
}

func (cf *chaosFile) Fd() uintptr {
	return cf.f.Fd()
}

func (cf *chaosFile) Stat() (os.FileInfo, error) {
	c := cf.chaos

	if c.should(c.config.StatFailRate) {
		c.statFails.Add(1)

		return nil, pathError("stat", cf.path, syscall.EIO)
	}

	return cf.f.Stat()
}

func (cf *chaosFile) Sync() error {
	return cf.f.Sync()
}

// Compile-time interface checks.
var (
	_ FS   = (*Chaos)(nil)
	_ File = (*chaosFile)(nil)
)
