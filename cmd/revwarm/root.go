package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/revclient/revclient"
	"github.com/revclient/revclient/backing/dirstore"
	"github.com/revclient/revclient/config"
	"github.com/revclient/revclient/internal/cobradoc"
	"github.com/revclient/revclient/internal/throttle"
	"github.com/revclient/revclient/internal/version"
	"github.com/revclient/revclient/pkg/template"
	"github.com/revclient/revclient/types"
)

const (
	usageDesc = `Utility for keeping revision content warm in the import caches
More details at https://github.com/revclient/revclient`
	// blobFanout keeps enough blob requests in flight to fill import batches
	blobFanout = 64
)

type actionType int

const (
	actionCheck actionType = iota
	actionWarm
)

type rootCmd struct {
	confFile  string
	verbosity string
	logopts   []string
	format    string // for Go template formatting of various commands
	conf      *Config
	client    *revclient.Client
	throttleC *throttle.Throttle
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
	var rootTopCmd = &cobra.Command{
		Use:           "revwarm <cmd>",
		Short:         "Utility for warming revision content",
		Long:          usageDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	var serverCmd = &cobra.Command{
		Use:   "server",
		Short: "run the revwarm server",
		Long:  `Warm each configured tree according to its schedule.`,
		Args:  cobra.RangeArgs(0, 0),
		RunE:  rootOpts.runServer,
	}
	var checkCmd = &cobra.Command{
		Use:   "check",
		Short: "processes each warm entry once but skip blob fetches",
		Long: `Processes each warm entry in the configuration file in order.
Trees are resolved to report what a warming pass would fetch, blob content is
skipped. No jobs are run in parallel, and the command returns after any error
or the last entry is finished.`,
		Args: cobra.RangeArgs(0, 0),
		RunE: rootOpts.runCheck,
	}
	var onceCmd = &cobra.Command{
		Use:   "once",
		Short: "processes each warm entry once, ignoring cron schedule",
		Long: `Processes each warm entry in the configuration file in order.
The command returns after any error or the last entry is finished.`,
		Args: cobra.RangeArgs(0, 0),
		RunE: rootOpts.runOnce,
	}
	var configCmd = &cobra.Command{
		Use:   "config",
		Short: "Show the config",
		Long:  `Show the config`,
		Args:  cobra.RangeArgs(0, 0),
		RunE:  rootOpts.runConfig,
	}
	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Show the version",
		Long:  `Show the version`,
		Args:  cobra.RangeArgs(0, 0),
		RunE:  rootOpts.runVersion,
	}

	rootTopCmd.PersistentFlags().StringVarP(&rootOpts.confFile, "config", "c", "", "Config file")
	rootTopCmd.PersistentFlags().StringVarP(&rootOpts.verbosity, "verbosity", "v", logrus.InfoLevel.String(), "Log level (debug, info, warn, error, fatal, panic)")
	rootTopCmd.PersistentFlags().StringArrayVar(&rootOpts.logopts, "logopt", []string{}, "Log options")
	versionCmd.Flags().StringVar(&rootOpts.format, "format", "{{jsonPretty .}}", "Format output with go template syntax")

	_ = rootTopCmd.MarkPersistentFlagFilename("config")
	_ = serverCmd.MarkPersistentFlagRequired("config")
	_ = checkCmd.MarkPersistentFlagRequired("config")
	_ = onceCmd.MarkPersistentFlagRequired("config")
	_ = configCmd.MarkPersistentFlagRequired("config")

	rootTopCmd.AddCommand(serverCmd)
	rootTopCmd.AddCommand(checkCmd)
	rootTopCmd.AddCommand(onceCmd)
	rootTopCmd.AddCommand(configCmd)
	rootTopCmd.AddCommand(versionCmd)
	rootTopCmd.AddCommand(cobradoc.NewCmd("revwarm", "cli-doc"))

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

// runConfig shows the config processed with defaults applied
func (rootOpts *rootCmd) runConfig(cmd *cobra.Command, args []string) error {
	err := rootOpts.loadConf()
	if err != nil {
		return err
	}
	return ConfigWrite(rootOpts.conf, cmd.OutOrStdout())
}

// runOnce processes the file in one pass, ignoring cron
func (rootOpts *rootCmd) runOnce(cmd *cobra.Command, args []string) error {
	err := rootOpts.loadConf()
	if err != nil {
		return err
	}
	err = rootOpts.loadClient()
	if err != nil {
		return err
	}
	defer rootOpts.client.Close()
	ctx := cmd.Context()
	var wg sync.WaitGroup
	var errsMu sync.Mutex
	errs := []error{}
	for _, w := range rootOpts.conf.Warm {
		if rootOpts.conf.Defaults.Parallel > 0 {
			wg.Add(1)
			go func(w ConfigWarm) {
				defer wg.Done()
				err := rootOpts.process(ctx, w, actionWarm)
				if err != nil {
					errsMu.Lock()
					errs = append(errs, err)
					errsMu.Unlock()
				}
			}(w)
		} else {
			err := rootOpts.process(ctx, w, actionWarm)
			if err != nil {
				errs = append(errs, err)
			}
		}
	}
	wg.Wait()
	stats := rootOpts.client.Stats()
	log.WithFields(logrus.Fields{
		"imports":    stats.Imports,
		"coalesced":  stats.Coalesced,
		"memHits":    stats.MemHits,
		"localHits":  stats.LocalHits,
		"remoteHits": stats.RemoteHits,
	}).Info("Warming finished")
	return errors.Join(errs...)
}

// runServer stays running with cron scheduled tasks
func (rootOpts *rootCmd) runServer(cmd *cobra.Command, args []string) error {
	err := rootOpts.loadConf()
	if err != nil {
		return err
	}
	err = rootOpts.loadClient()
	if err != nil {
		return err
	}
	defer rootOpts.client.Close()
	ctx := cmd.Context()
	var wg sync.WaitGroup
	var errsMu sync.Mutex
	errs := []error{}
	saveErr := func(err error) {
		if err != nil {
			errsMu.Lock()
			errs = append(errs, err)
			errsMu.Unlock()
		}
	}
	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))
	for _, w := range rootOpts.conf.Warm {
		w := w
		sched := w.Schedule
		if sched == "" && w.Interval != 0 {
			sched = "@every " + w.Interval.String()
		}
		if sched == "" {
			log.WithFields(logrus.Fields{
				"rev":  w.Rev,
				"path": w.Path,
			}).Error("No schedule or interval found, ignoring")
			continue
		}
		log.WithFields(logrus.Fields{
			"rev":   w.Rev,
			"path":  w.Path,
			"sched": sched,
		}).Debug("Scheduled warm")
		_, errCron := c.AddFunc(sched, func() {
			log.WithFields(logrus.Fields{
				"rev":  w.Rev,
				"path": w.Path,
			}).Debug("Running warm")
			wg.Add(1)
			defer wg.Done()
			saveErr(rootOpts.process(ctx, w, actionWarm))
		})
		if errCron != nil {
			log.WithFields(logrus.Fields{
				"rev":   w.Rev,
				"sched": sched,
				"err":   errCron,
			}).Error("Failed to schedule cron")
			saveErr(errCron)
			continue
		}
		// warm immediately so caches are hot before the first tick
		wg.Add(1)
		go func(w ConfigWarm) {
			defer wg.Done()
			saveErr(rootOpts.process(ctx, w, actionWarm))
		}(w)
	}
	// wait for the initial warming before scheduling
	wg.Wait()
	c.Start()
	// wait on interrupt signal
	done := ctx.Done()
	if done != nil {
		<-done
	}
	log.WithFields(logrus.Fields{}).Info("Stopping server")
	// clean shutdown
	c.Stop()
	log.WithFields(logrus.Fields{}).Debug("Waiting on running tasks")
	wg.Wait()
	return errors.Join(errs...)
}

// runCheck is used for a dry-run
func (rootOpts *rootCmd) runCheck(cmd *cobra.Command, args []string) error {
	err := rootOpts.loadConf()
	if err != nil {
		return err
	}
	err = rootOpts.loadClient()
	if err != nil {
		return err
	}
	defer rootOpts.client.Close()
	errs := []error{}
	ctx := cmd.Context()
	for _, w := range rootOpts.conf.Warm {
		err := rootOpts.process(ctx, w, actionCheck)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (rootOpts *rootCmd) loadConf() error {
	var err error
	if rootOpts.confFile == "-" {
		rootOpts.conf, err = ConfigLoadReader(os.Stdin)
	} else if rootOpts.confFile != "" {
		rootOpts.conf, err = ConfigLoadFile(rootOpts.confFile)
	} else {
		return ErrMissingInput
	}
	if err != nil {
		return err
	}
	// use a throttle to control parallelism
	concurrent := rootOpts.conf.Defaults.Parallel
	if concurrent <= 0 {
		concurrent = 1
	}
	log.WithFields(logrus.Fields{
		"concurrent": concurrent,
	}).Debug("Configuring parallel settings")
	rootOpts.throttleC = throttle.New(concurrent)
	return nil
}

// loadClient opens the backing directory and builds the import client
func (rootOpts *rootCmd) loadClient() error {
	if rootOpts.conf.Backing.Path == "" {
		return fmt.Errorf("%w: backing path is not set", ErrMissingInput)
	}
	src, err := dirstore.New(rootOpts.conf.Backing.Path)
	if err != nil {
		return err
	}
	cc := config.ConfigNew()
	cc.Import = rootOpts.conf.Client.Import
	cc.Cache = rootOpts.conf.Client.Cache
	client, err := revclient.New(src,
		revclient.WithConfig(cc),
		revclient.WithLog(log),
	)
	if err != nil {
		return err
	}
	rootOpts.client = client
	return nil
}

// process warms one configured tree
func (rootOpts *rootCmd) process(ctx context.Context, w ConfigWarm, action actionType) error {
	err := rootOpts.throttleC.Acquire(ctx)
	if err != nil {
		return err
	}
	defer rootOpts.throttleC.Release(ctx)
	class, err := parsePriority(w.Priority)
	if err != nil {
		return err
	}
	root := types.ProxyRef{Rev: w.Rev, Path: w.Path}
	log.WithFields(logrus.Fields{
		"rev":  w.Rev,
		"path": w.Path,
	}).Debug("Walking tree")
	start := time.Now()
	blobs := []digest.Digest{}
	trees := 0
	err = rootOpts.client.TreeWalk(ctx, root, func(entry types.TreeEntry) error {
		switch entry.Kind {
		case types.KindTree:
			trees++
		case types.KindBlob:
			blobs = append(blobs, entry.Hash)
		}
		return nil
	}, revclient.TreeWithPriority(class))
	if err != nil {
		if ctx.Err() != nil {
			return ErrCanceled
		}
		return err
	}
	if action == actionCheck {
		log.WithFields(logrus.Fields{
			"rev":   w.Rev,
			"path":  w.Path,
			"trees": trees,
			"blobs": len(blobs),
		}).Info("Check finished")
		return nil
	}
	// fetch blobs concurrently, the import queue dedups and batches them
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(blobFanout)
	for _, h := range blobs {
		h := h
		g.Go(func() error {
			_, err := rootOpts.client.BlobGet(gCtx, h, revclient.BlobWithPriority(class))
			return err
		})
	}
	err = g.Wait()
	if err != nil {
		if ctx.Err() != nil {
			return ErrCanceled
		}
		return err
	}
	log.WithFields(logrus.Fields{
		"rev":     w.Rev,
		"path":    w.Path,
		"trees":   trees,
		"blobs":   len(blobs),
		"elapsed": time.Since(start).String(),
	}).Info("Warmed tree")
	return nil
}
