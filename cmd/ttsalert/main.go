package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"ttsalert/internal/alert"
	"ttsalert/internal/capture"
	"ttsalert/internal/config"
	"ttsalert/internal/ics"
	appLog "ttsalert/internal/log"
	"ttsalert/internal/speech"
	"ttsalert/internal/store"
	"ttsalert/internal/web"
)

const version = "0.1.0"

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	snapshot   string
	debug      bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	level := appLog.ParseLevel(conf.LogLevel)
	if flags.debug {
		level = appLog.LevelDebug
	}
	appLog.SetLevel(level)

	appLog.Info("ttsalert starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"week_start", conf.WeekStart,
		"daily_limit", conf.DailyLimit,
		"hosted_db", conf.Database.URL != "",
		"convert_url_set", conf.Speech.ConvertURL != "",
		"scheduler_url_set", conf.Speech.SchedulerURL != "",
		"ics_count", len(conf.ICS),
		"once", flags.once,
		"snapshot", flags.snapshot,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("ttsalert failed", err)
		os.Exit(1)
	}
	appLog.Info("ttsalert exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./ttsalert.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one dispatch pass and exit")
	flag.StringVar(&cfg.snapshot, "snapshot", "", "Write a PNG of the calendar page to this path and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	st, err := newStore(conf)
	if err != nil {
		return err
	}
	sp := speech.NewClient(conf.Speech.ConvertURL, conf.Speech.SchedulerURL, conf.SpeechTimeout())
	svc := alert.NewService(st, sp, alert.Options{
		UserID:     conf.UserID,
		DailyLimit: conf.DailyLimit,
		Location:   conf.Location(),
		Lookahead:  time.Duration(conf.Scheduler.LookaheadMinutes) * time.Minute,
		Sources:    sources(conf.ICS),
		Horizon:    time.Duration(conf.HorizonDays) * 24 * time.Hour,
		CacheDir:   conf.CacheDir,
	})

	if flags.once {
		rep, err := svc.Dispatch(ctx)
		if err != nil {
			return err
		}
		appLog.Info("dispatch finished", "synthesized", rep.Synthesized, "expired", rep.Expired, "failed", rep.Failed, "waiting", rep.Waiting)
		return nil
	}

	srv, err := web.NewServer(conf, svc, flags.debug)
	if err != nil {
		return err
	}

	if flags.snapshot != "" {
		return snapshot(ctx, conf, srv, flags.snapshot)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return runScheduler(gctx, conf, svc) })
	return g.Wait()
}

func newStore(conf *config.Config) (store.Store, error) {
	if conf.Database.URL == "" {
		appLog.Warn("no database configured; events are kept in memory only")
		return store.NewMemory(conf.UserID), nil
	}
	return store.NewPostgREST(store.PostgRESTOptions{
		BaseURL: conf.Database.URL,
		APIKey:  conf.Database.APIKey,
		Table:   conf.Database.Table,
		UserID:  conf.UserID,
	})
}

func sources(in []config.ICSConfig) []ics.Source {
	out := make([]ics.Source, 0, len(in))
	for i, c := range in {
		if c.URL == "" {
			continue
		}
		id := c.ID
		if id == "" {
			id = c.Name
		}
		if id == "" {
			id = fmt.Sprintf("ics-%d", i)
		}
		out = append(out, ics.Source{ID: id, URL: c.URL})
	}
	return out
}

type scheduledJob struct {
	name string
	spec string
	fn   func(context.Context) error
}

// scheduledJobs lists the background jobs. The service methods log their
// own results; the jobs only surface errors.
func scheduledJobs(conf *config.Config, svc *alert.Service) []scheduledJob {
	return []scheduledJob{
		{"dispatch", conf.Scheduler.Dispatch, func(ctx context.Context) error {
			_, err := svc.Dispatch(ctx)
			return err
		}},
		{"import", conf.Scheduler.Import, func(ctx context.Context) error {
			_, err := svc.Import(ctx)
			return err
		}},
		{"refresh", conf.Scheduler.Refresh, svc.Refresh},
	}
}

// runScheduler registers the background jobs and blocks until ctx is done.
func runScheduler(ctx context.Context, conf *config.Config, svc *alert.Service) error {
	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(conf.Location()),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	for _, j := range scheduledJobs(conf, svc) {
		if j.spec == "" {
			continue
		}
		if _, err := c.AddFunc(j.spec, func() {
			if err := j.fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				appLog.Error("scheduled job failed", err, "job", j.name)
			}
		}); err != nil {
			return fmt.Errorf("schedule %s %q: %w", j.name, j.spec, err)
		}
		appLog.Info("scheduled job", "job", j.name, "spec", j.spec)
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	appLog.Info("scheduler stopped")
	return nil
}

// snapshot serves the UI just long enough to capture it.
func snapshot(ctx context.Context, conf *config.Config, srv *web.Server, path string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error {
		defer cancel()
		base := url.URL{Scheme: "http", Host: dialAddr(conf.Listen)}
		if err := waitHealthy(gctx, base.String()+"/health", 10*time.Second); err != nil {
			return err
		}
		if a := conf.BasicAuth; a != nil && a.Username != "" {
			base.User = url.UserPassword(a.Username, a.Password)
		}
		base.Path = "/"
		return capture.Snapshot(gctx, capture.Options{URL: base.String(), OutputPath: path})
	})
	return g.Wait()
}

// dialAddr turns a listen address into one a local client can reach.
func dialAddr(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

func waitHealthy(ctx context.Context, target string, limit time.Duration) error {
	deadline := time.Now().Add(limit)
	client := &http.Client{Timeout: time.Second}
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server at %s not ready after %s", target, limit)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// cronLogger routes cron's own messages through the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...interface{}) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...interface{}) {
	appLog.Error("cron: "+msg, err, kv...)
}
