package benchmark

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/intellect4all/tuplgo/internal/errs"
	"github.com/intellect4all/tuplgo/internal/stats"
)

// Engine is the subset of Database's surface a benchmark needs to
// drive a workload and read back counters.
type Engine interface {
	Put(key, value []byte) error
	Get(key []byte) ([]byte, error)
	Sync() error
	Stats() stats.Stats
}

// WorkloadType defines the read/write mix.
type WorkloadType string

const (
	WorkloadWriteHeavy WorkloadType = "write-heavy"
	WorkloadReadHeavy  WorkloadType = "read-heavy"
	WorkloadBalanced   WorkloadType = "balanced"
	WorkloadReadOnly   WorkloadType = "read-only"
	WorkloadWriteOnly  WorkloadType = "write-only"
)

// Config defines one benchmark scenario.
type Config struct {
	Name string

	WorkloadType    WorkloadType
	KeyDistribution KeyDistribution

	NumKeys   int
	KeySize   int
	ValueSize int

	Duration    time.Duration
	Concurrency int

	PreloadKeys int

	Seed int64
}

// Result is the outcome of running one Config to completion.
type Result struct {
	Config Config

	TotalOps  int64
	WriteOps  int64
	ReadOps   int64
	Duration  time.Duration
	OpsPerSec float64

	WriteLatency LatencyStats
	ReadLatency  LatencyStats

	CacheHitRatio float64
	TotalDiskMB   float64

	EngineStats stats.Stats
}

// Benchmark drives Config against one Engine.
type Benchmark struct {
	engine Engine
	config Config

	writeLatencies *LatencyHistogram
	readLatencies  *LatencyHistogram

	writeCount atomic.Int64
	readCount  atomic.Int64
	errorCount atomic.Int64

	keyGen *KeyGenerator

	randSeed atomic.Int64
}

func NewBenchmark(engine Engine, config Config) *Benchmark {
	return &Benchmark{
		engine:         engine,
		config:         config,
		writeLatencies: NewLatencyHistogram(),
		readLatencies:  NewLatencyHistogram(),
		keyGen:         NewKeyGenerator(config.NumKeys, config.KeySize, config.KeyDistribution, config.Seed),
	}
}

// Run executes the benchmark: preload, warm-up, measured phase.
func (b *Benchmark) Run() (*Result, error) {
	if b.config.PreloadKeys > 0 {
		fmt.Printf("Preloading %d keys...\n", b.config.PreloadKeys)
		if err := b.preload(); err != nil {
			return nil, err
		}
	}

	fmt.Println("Warming up...")
	b.runWorkload(2 * time.Second)

	b.writeLatencies = NewLatencyHistogram()
	b.readLatencies = NewLatencyHistogram()
	b.writeCount.Store(0)
	b.readCount.Store(0)
	b.errorCount.Store(0)

	fmt.Printf("Running benchmark %q for %v...\n", b.config.Name, b.config.Duration)
	startTime := time.Now()
	b.runWorkload(b.config.Duration)
	duration := time.Since(startTime)

	return b.calculateResults(duration, b.engine.Stats()), nil
}

func (b *Benchmark) preload() error {
	value := make([]byte, b.config.ValueSize)
	rand.Read(value)

	for i := 0; i < b.config.PreloadKeys; i++ {
		key := b.keyGen.GenerateSequential(i)
		if err := b.engine.Put(key, value); err != nil {
			return err
		}
	}
	return b.engine.Sync()
}

func (b *Benchmark) runWorkload(duration time.Duration) {
	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < b.config.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			b.worker(stop)
		}(i)
	}

	time.Sleep(duration)
	close(stop)
	wg.Wait()
}

func (b *Benchmark) worker(stop <-chan struct{}) {
	value := make([]byte, b.config.ValueSize)
	rand.Read(value)

	for {
		select {
		case <-stop:
			return
		default:
			if b.shouldWrite() {
				b.doWrite(value)
			} else {
				b.doRead()
			}
		}
	}
}

func (b *Benchmark) shouldWrite() bool {
	switch b.config.WorkloadType {
	case WorkloadWriteOnly:
		return true
	case WorkloadReadOnly:
		return false
	case WorkloadWriteHeavy:
		return b.randFloat() < 0.95
	case WorkloadReadHeavy:
		return b.randFloat() < 0.05
	default:
		return b.randFloat() < 0.50
	}
}

func (b *Benchmark) doWrite(value []byte) {
	key := b.keyGen.NextKey()

	start := time.Now()
	err := b.engine.Put(key, value)
	latency := time.Since(start)

	if err != nil {
		b.errorCount.Add(1)
		return
	}

	b.writeLatencies.Record(latency)
	b.writeCount.Add(1)
}

func (b *Benchmark) doRead() {
	key := b.keyGen.NextKey()

	start := time.Now()
	_, err := b.engine.Get(key)
	latency := time.Since(start)

	if err != nil && !errors.Is(err, errs.ErrKeyNotFound) {
		b.errorCount.Add(1)
		return
	}

	b.readLatencies.Record(latency)
	b.readCount.Add(1)
}

func (b *Benchmark) calculateResults(duration time.Duration, endStats stats.Stats) *Result {
	writeOps := b.writeCount.Load()
	readOps := b.readCount.Load()
	totalOps := writeOps + readOps

	return &Result{
		Config:    b.config,
		TotalOps:  totalOps,
		WriteOps:  writeOps,
		ReadOps:   readOps,
		Duration:  duration,
		OpsPerSec: float64(totalOps) / duration.Seconds(),

		WriteLatency: b.writeLatencies.Stats(),
		ReadLatency:  b.readLatencies.Stats(),

		CacheHitRatio: endStats.CacheHitRatio(),
		TotalDiskMB:   float64(endStats.TotalDiskSize) / (1024 * 1024),
		EngineStats:   endStats,
	}
}

func (b *Benchmark) randFloat() float64 {
	return float64(b.randSeed.Add(1)%10000) / 10000.0
}

// StandardWorkloads returns a representative set of benchmark scenarios.
func StandardWorkloads() []Config {
	base := Config{
		NumKeys:     100000,
		KeySize:     16,
		ValueSize:   100,
		Duration:    30 * time.Second,
		Concurrency: 8,
		PreloadKeys: 10000,
		Seed:        1,
	}
	mk := func(name string, wl WorkloadType, dist KeyDistribution) Config {
		c := base
		c.Name = name
		c.WorkloadType = wl
		c.KeyDistribution = dist
		return c
	}
	return []Config{
		mk("write-heavy", WorkloadWriteHeavy, DistUniform),
		mk("read-heavy", WorkloadReadHeavy, DistZipfian),
		mk("balanced", WorkloadBalanced, DistUniform),
		mk("sequential-write", WorkloadWriteOnly, DistSequential),
	}
}

// QuickWorkloads is StandardWorkloads scaled down for fast iteration.
func QuickWorkloads() []Config {
	configs := StandardWorkloads()
	for i := range configs {
		configs[i].Duration = 2 * time.Second
		configs[i].NumKeys = 1000
		configs[i].PreloadKeys = 200
	}
	return configs
}
