package main

import (
	"fmt"
	"math/rand"
	"os"
	"sync/atomic"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/revclient/revclient"
	"github.com/revclient/revclient/backing/memstore"
	"github.com/revclient/revclient/config"
	"github.com/revclient/revclient/importq"
	"github.com/revclient/revclient/internal/cobradoc"
	"github.com/revclient/revclient/internal/version"
	"github.com/revclient/revclient/pkg/template"
	"github.com/revclient/revclient/types"
)

const (
	usageDesc = `Benchmark the import queue and pipeline
More details at https://github.com/revclient/revclient`
	// drain settings for the queue benchmark consumers
	drainWorkers = 2
	drainBatch   = 64
)

type rootCmd struct {
	verbosity string
	logopts   []string
	format    string // for Go template formatting of the results
}

type queueOpts struct {
	rootOpts   *rootCmd
	goroutines int
	requests   int
	keys       int
}

type pipelineOpts struct {
	rootOpts  *rootCmd
	producers int
	requests  int
	blobs     int
	workers   int
	batchSize int
	latency   time.Duration
}

var log *logrus.Logger

func init() {
	log = &logrus.Logger{
		Out:       os.Stderr,
		Formatter: new(logrus.TextFormatter),
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.InfoLevel,
	}
}

func NewRootCmd() *cobra.Command {
	rootOpts := rootCmd{}
	queueBenchOpts := queueOpts{rootOpts: &rootOpts}
	pipeBenchOpts := pipelineOpts{rootOpts: &rootOpts}
	var rootTopCmd = &cobra.Command{
		Use:           "revbench <cmd>",
		Short:         "Benchmark the import queue and pipeline",
		Long:          usageDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	var queueCmd = &cobra.Command{
		Use:   "queue",
		Short: "benchmark raw queue operations",
		Long: `Hammers the import queue with find-or-create and check operations from
concurrent goroutines while consumers drain and complete the requests.
Reports the operation throughput.`,
		Args: cobra.RangeArgs(0, 0),
		RunE: queueBenchOpts.run,
	}
	var pipelineCmd = &cobra.Command{
		Use:   "run",
		Short: "benchmark the import pipeline end to end",
		Long: `Issues blob requests over a seeded keyspace from concurrent producers
through a full client, exercising coalescing, batching, and the memory
cache. Reports the request throughput and pipeline counters.`,
		Args: cobra.RangeArgs(0, 0),
		RunE: pipeBenchOpts.run,
	}
	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Show the version",
		Long:  `Show the version`,
		Args:  cobra.RangeArgs(0, 0),
		RunE:  rootOpts.runVersion,
	}

	rootTopCmd.PersistentFlags().StringVarP(&rootOpts.verbosity, "verbosity", "v", logrus.InfoLevel.String(), "Log level (debug, info, warn, error, fatal, panic)")
	rootTopCmd.PersistentFlags().StringArrayVar(&rootOpts.logopts, "logopt", []string{}, "Log options")
	rootTopCmd.PersistentFlags().StringVar(&rootOpts.format, "format", "{{jsonPretty .}}", "Format output with go template syntax")

	queueCmd.Flags().IntVar(&queueBenchOpts.goroutines, "goroutines", 8, "Concurrent producer goroutines")
	queueCmd.Flags().IntVar(&queueBenchOpts.requests, "requests", 200000, "Total queue operations")
	queueCmd.Flags().IntVar(&queueBenchOpts.keys, "keys", 1024, "Distinct content hashes")

	pipelineCmd.Flags().IntVar(&pipeBenchOpts.producers, "producers", 8, "Concurrent producer goroutines")
	pipelineCmd.Flags().IntVar(&pipeBenchOpts.requests, "requests", 20000, "Total blob requests")
	pipelineCmd.Flags().IntVar(&pipeBenchOpts.blobs, "blobs", 512, "Distinct blobs in the keyspace")
	pipelineCmd.Flags().IntVar(&pipeBenchOpts.workers, "workers", 4, "Import worker count")
	pipelineCmd.Flags().IntVar(&pipeBenchOpts.batchSize, "batch-size", 16, "Import batch size")
	pipelineCmd.Flags().DurationVar(&pipeBenchOpts.latency, "latency", 2*time.Millisecond, "Simulated backing store latency")

	rootTopCmd.AddCommand(queueCmd)
	rootTopCmd.AddCommand(pipelineCmd)
	rootTopCmd.AddCommand(versionCmd)
	rootTopCmd.AddCommand(cobradoc.NewCmd("revbench", "cli-doc"))

	rootTopCmd.PersistentPreRunE = rootOpts.rootPreRun
	return rootTopCmd
}

func (rootOpts *rootCmd) rootPreRun(cmd *cobra.Command, args []string) error {
	lvl, err := logrus.ParseLevel(rootOpts.verbosity)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)
	log.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	for _, opt := range rootOpts.logopts {
		if opt == "json" {
			log.Formatter = new(logrus.JSONFormatter)
		}
	}
	return nil
}

func (rootOpts *rootCmd) runVersion(cmd *cobra.Command, args []string) error {
	info := version.GetInfo()
	return template.Writer(cmd.OutOrStdout(), rootOpts.format, info)
}

// queueResult reports raw queue operation throughput
type queueResult struct {
	Goroutines int           `json:"goroutines"`
	Requests   int64         `json:"requests"`
	Created    int64         `json:"created"`
	Coalesced  int64         `json:"coalesced"`
	CheckHits  int64         `json:"checkHits"`
	CheckMiss  int64         `json:"checkMiss"`
	Elapsed    time.Duration `json:"elapsed"`
	NsPerOp    int64         `json:"nsPerOp"`
	OpsPerSec  float64       `json:"opsPerSec"`
}

func (benchOpts *queueOpts) run(cmd *cobra.Command, args []string) error {
	if benchOpts.requests < 1 || benchOpts.goroutines < 1 || benchOpts.keys < 1 {
		return fmt.Errorf("%w: requests, goroutines, and keys must be positive", ErrInvalidInput)
	}
	ctx := cmd.Context()
	queue := importq.New()
	hashes := make([]digest.Digest, benchOpts.keys)
	proxies := make([]types.ProxyRef, benchOpts.keys)
	for i := range hashes {
		proxies[i] = types.ProxyRef{Rev: "bench", Path: fmt.Sprintf("key-%06d", i)}
		hashes[i] = proxies[i].ContentHash()
	}
	classes := []importq.Class{importq.ClassLow, importq.ClassNormal, importq.ClassHigh}
	var created, coalesced, checkHits, checkMiss atomic.Int64
	// consumers drain and complete requests for the whole run
	drain := errgroup.Group{}
	for i := 0; i < drainWorkers; i++ {
		drain.Go(func() error {
			for {
				batch := queue.Dequeue(drainBatch)
				if batch == nil {
					return nil
				}
				for _, req := range batch {
					req.Complete(types.Object{Kind: req.Kind(), Hash: req.Hash()})
				}
			}
		})
	}
	prod, prodCtx := errgroup.WithContext(ctx)
	perG := benchOpts.requests / benchOpts.goroutines
	extra := benchOpts.requests % benchOpts.goroutines
	start := time.Now()
	for i := 0; i < benchOpts.goroutines; i++ {
		n := perG
		if i < extra {
			n++
		}
		seed := int64(i + 1)
		prod.Go(func() error {
			rng := rand.New(rand.NewSource(seed))
			for op := 0; op < n; op++ {
				if op%4096 == 0 && prodCtx.Err() != nil {
					return ErrCanceled
				}
				idx := rng.Intn(len(hashes))
				pri := importq.NewPriority(classes[op%len(classes)])
				if op%5 == 4 {
					h, err := queue.CheckImportInProgress(types.KindBlob, hashes[idx], pri)
					if err != nil {
						return err
					}
					if h != nil {
						checkHits.Add(1)
					} else {
						checkMiss.Add(1)
					}
					continue
				}
				_, isNew, err := queue.FindOrCreate(types.KindBlob, hashes[idx], proxies[idx], pri)
				if err != nil {
					return err
				}
				if isNew {
					created.Add(1)
				} else {
					coalesced.Add(1)
				}
			}
			return nil
		})
	}
	err := prod.Wait()
	elapsed := time.Since(start)
	queue.Close()
	_ = drain.Wait()
	if err != nil {
		return err
	}
	res := queueResult{
		Goroutines: benchOpts.goroutines,
		Requests:   int64(benchOpts.requests),
		Created:    created.Load(),
		Coalesced:  coalesced.Load(),
		CheckHits:  checkHits.Load(),
		CheckMiss:  checkMiss.Load(),
		Elapsed:    elapsed,
		NsPerOp:    elapsed.Nanoseconds() / int64(benchOpts.requests),
		OpsPerSec:  float64(benchOpts.requests) / elapsed.Seconds(),
	}
	log.WithFields(logrus.Fields{
		"requests": res.Requests,
		"elapsed":  res.Elapsed.String(),
	}).Debug("Queue benchmark finished")
	return template.Writer(cmd.OutOrStdout(), benchOpts.rootOpts.format, res)
}

// pipelineResult reports end to end throughput through the import pipeline
type pipelineResult struct {
	Producers  int           `json:"producers"`
	Requests   int64         `json:"requests"`
	Blobs      int           `json:"blobs"`
	Workers    int           `json:"workers"`
	BatchSize  int           `json:"batchSize"`
	Latency    time.Duration `json:"latency"`
	Elapsed    time.Duration `json:"elapsed"`
	OpsPerSec  float64       `json:"opsPerSec"`
	Imports    int64         `json:"imports"`
	Coalesced  int64         `json:"coalesced"`
	MemHits    int64         `json:"memHits"`
	RoundTrips int64         `json:"roundTrips"`
}

func (benchOpts *pipelineOpts) run(cmd *cobra.Command, args []string) error {
	if benchOpts.requests < 1 || benchOpts.producers < 1 || benchOpts.blobs < 1 {
		return fmt.Errorf("%w: requests, producers, and blobs must be positive", ErrInvalidInput)
	}
	ctx := cmd.Context()
	src := memstore.New(memstore.WithLatency(benchOpts.latency))
	conf := config.ConfigNew()
	conf.Import.Workers = benchOpts.workers
	conf.Import.BatchSize = benchOpts.batchSize
	client, err := revclient.New(src,
		revclient.WithConfig(conf),
		revclient.WithLog(log),
	)
	if err != nil {
		return err
	}
	defer client.Close()
	hashes := make([]digest.Digest, benchOpts.blobs)
	for i := range hashes {
		proxy := types.ProxyRef{Rev: "bench", Path: fmt.Sprintf("blob-%06d", i)}
		hashes[i] = src.SeedBlob(proxy, []byte(fmt.Sprintf("payload for blob %06d", i)))
		err = client.ProxyRecord(hashes[i], proxy)
		if err != nil {
			return err
		}
	}
	g, gCtx := errgroup.WithContext(ctx)
	perG := benchOpts.requests / benchOpts.producers
	extra := benchOpts.requests % benchOpts.producers
	start := time.Now()
	for i := 0; i < benchOpts.producers; i++ {
		n := perG
		if i < extra {
			n++
		}
		seed := int64(i + 1)
		g.Go(func() error {
			rng := rand.New(rand.NewSource(seed))
			for op := 0; op < n; op++ {
				idx := rng.Intn(len(hashes))
				class := importq.ClassNormal
				switch {
				case op%10 == 9:
					class = importq.ClassHigh
				case op%10 >= 6:
					class = importq.ClassLow
				}
				_, err := client.BlobGet(gCtx, hashes[idx], revclient.BlobWithPriority(class))
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	err = g.Wait()
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return ErrCanceled
		}
		return err
	}
	stats := client.Stats()
	res := pipelineResult{
		Producers:  benchOpts.producers,
		Requests:   int64(benchOpts.requests),
		Blobs:      benchOpts.blobs,
		Workers:    benchOpts.workers,
		BatchSize:  benchOpts.batchSize,
		Latency:    benchOpts.latency,
		Elapsed:    elapsed,
		OpsPerSec:  float64(benchOpts.requests) / elapsed.Seconds(),
		Imports:    stats.Imports,
		Coalesced:  stats.Coalesced,
		MemHits:    stats.MemHits,
		RoundTrips: src.RoundTrips(),
	}
	log.WithFields(logrus.Fields{
		"requests": res.Requests,
		"elapsed":  res.Elapsed.String(),
	}).Debug("Pipeline benchmark finished")
	return template.Writer(cmd.OutOrStdout(), benchOpts.rootOpts.format, res)
}
