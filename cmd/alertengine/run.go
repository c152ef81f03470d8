package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"alertengine/config"
	"alertengine/internal/alerts"
	"alertengine/internal/anomaly"
	inputredis "alertengine/internal/input/redis"
	"alertengine/internal/logger"
	"alertengine/internal/notify"
	"alertengine/internal/output/alertclickhouse"
	"alertengine/internal/output/alertjson"
	"alertengine/internal/output/alertnats"
	"alertengine/internal/pipeline"
	"alertengine/internal/rules"
	"alertengine/internal/scheduler"
	sourceredis "alertengine/internal/source/redis"
	"alertengine/internal/telemetry"
	"alertengine/pkg/models"
)

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func runEngine(parent context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	ae := cfg.AlertEngine

	if err := logger.Init(ae.Logging.Enabled, ae.Logging.Level, ae.Logging.File, ae.Logging.Console); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()
	logger.Infof("Alert engine starting with config %s", configPath)

	metrics := telemetry.NewMetrics()

	store, err := sourceredis.NewStore(sourceredis.Config{
		Addr:      ae.Source.Redis.Addr,
		Password:  ae.Source.Redis.Password,
		DB:        ae.Source.Redis.DB,
		KeyPrefix: ae.Source.Redis.KeyPrefix,
		Retention: ae.Source.Redis.Retention,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	channels, err := buildChannels(ae.Channels)
	if err != nil {
		return err
	}
	dispatcher := notify.NewDispatcher(channels, ae.Engine.DashboardURL, metrics)

	opts := []alerts.Option{alerts.WithMetrics(metrics)}
	var journal *pipeline.Journal
	if ae.Journal.Enabled {
		journal, err = buildJournal(ae.Journal, metrics)
		if err != nil {
			return err
		}
		defer journal.Close()
		opts = append(opts, alerts.WithEventSink(journal))
	}

	mgr := alerts.NewManager(alerts.Config{
		DefaultChannels:         ae.Engine.DefaultChannels,
		EscalationTimeout:       ae.Engine.EscalationTimeout(),
		MaxAlertsPerHour:        ae.Engine.MaxAlertsPerHour,
		AnomalyDetectionEnabled: ae.Engine.AnomalyDetectionEnabled,
		Anomaly: anomaly.Config{
			Sensitivity:    ae.Engine.AnomalySensitivity,
			Method:         ae.Engine.AnomalyMethod,
			SeasonalPeriod: ae.Engine.SeasonalPeriod,
		},
		AnomalyMinScore: ae.Engine.AnomalyMinScore,
		AutoResolve:     ae.Engine.AutoResolve,
		NotifyOnResolve: ae.Engine.NotifyOnResolve,
	}, store, dispatcher, opts...)

	ruleFile := newRuleFile(ae.Rules.Path)
	if _, err := ruleFile.reload(); err != nil {
		return err
	}

	sched := scheduler.New(metrics, ae.Schedule.RunOnStart)
	tasks := []scheduler.Task{
		scheduler.RuleTask(ae.Schedule.RuleInterval, mgr, ruleFile.current),
		scheduler.EscalationTask(ae.Schedule.EscalationInterval, mgr),
	}
	if ae.Engine.AnomalyDetectionEnabled {
		for _, st := range ae.Schedule.Streams {
			tasks = append(tasks, scheduler.AnomalyTask(scheduler.Stream{
				Metric:   st.Metric,
				Interval: st.Interval,
				Lookback: st.Lookback,
			}, mgr, store, nil))
		}
	}
	for _, task := range tasks {
		if err := sched.Add(task); err != nil {
			return err
		}
	}

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	journalCtx, stopJournal := context.WithCancel(context.Background())
	defer stopJournal()
	if journal != nil {
		go journal.Run(journalCtx)
	}

	var ingest *pipeline.Ingest
	ingestDone := make(chan struct{})
	if ae.Ingest.Enabled {
		consumer, err := inputredis.NewConsumer(inputredis.Config{
			Addr:         ae.Source.Redis.Addr,
			Password:     ae.Source.Redis.Password,
			DB:           ae.Source.Redis.DB,
			Key:          ae.Ingest.Key,
			BlockTimeout: ae.Ingest.BlockTimeout,
		})
		if err != nil {
			return err
		}
		ingest = pipeline.NewIngest(consumer, store, pipeline.IngestConfig{
			Workers:       ae.Ingest.Workers,
			BatchSize:     ae.Ingest.BatchSize,
			FlushInterval: ae.Ingest.FlushInterval,
		}, metrics)
		defer ingest.Close()
		go func() {
			defer close(ingestDone)
			_ = ingest.Run(ctx)
		}()
		logger.Infof("Ingesting metric points from %s", consumer.Key())
	} else {
		close(ingestDone)
	}

	var metricsSrv *http.Server
	if ae.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(ae.Metrics.Path, metrics.Handler())
		metricsSrv = &http.Server{Addr: ae.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Infof("Metrics listening on %s%s", ae.Metrics.Listen, ae.Metrics.Path)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("Metrics server failed: %v", err)
			}
		}()
	}

	sched.Start()
	logger.Infof("Alert engine running: %d tasks, %d channels", len(tasks), len(channels))

	<-ctx.Done()
	logger.Infof("Shutting down...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Errorf("Scheduler did not stop cleanly: %v", err)
	}
	<-ingestDone
	stopJournal()
	if journal != nil {
		journal.Wait()
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	open := mgr.List(models.StatusActive, models.StatusAcknowledged)
	logger.Infof("Alert engine stopped with %d open alerts", len(open))
	return nil
}

func buildChannels(cfgs []config.ChannelConfig) ([]notify.Channel, error) {
	out := make([]notify.Channel, 0, len(cfgs))
	for _, c := range cfgs {
		ch, err := notify.New(notify.ChannelConfig{
			ID:   c.ID,
			Type: c.Type,
			Email: notify.EmailConfig{
				Host:     c.Email.Host,
				Port:     c.Email.Port,
				Username: c.Email.Username,
				Password: c.Email.Password,
				From:     c.Email.From,
				To:       c.Email.To,
			},
			Chat: notify.ChatConfig{
				WebhookURL: c.Chat.WebhookURL,
				Channel:    c.Chat.Channel,
				Username:   c.Chat.Username,
				IconEmoji:  c.Chat.IconEmoji,
				Timeout:    c.Chat.Timeout,
			},
			Webhook: notify.WebhookConfig{
				URL:     c.Webhook.URL,
				Timeout: c.Webhook.Timeout,
				Headers: c.Webhook.Headers,
			},
		})
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, nil
}

func buildJournal(cfg config.JournalConfig, metrics *telemetry.Metrics) (*pipeline.Journal, error) {
	j := pipeline.NewJournal(pipeline.JournalConfig{
		QueueSize:     cfg.QueueSize,
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
	}, metrics)

	for i, out := range cfg.Outputs {
		name := fmt.Sprintf("%s[%d]", out.Mode, i)
		switch out.Mode {
		case "file":
			w, err := alertjson.NewRotatingWriter(alertjson.Config{
				Path:       out.File.Path,
				MaxSizeMB:  out.File.MaxSizeMB,
				MaxBackups: out.File.MaxBackups,
				MaxAgeDays: out.File.MaxAgeDays,
				Compress:   out.File.Compress,
			})
			if err != nil {
				j.Close()
				return nil, err
			}
			j.AddWriter(name, w)
		case "clickhouse":
			w, err := alertclickhouse.NewWriter(alertclickhouse.Config{
				URL:      out.ClickHouse.URL,
				Database: out.ClickHouse.Database,
				Table:    out.ClickHouse.Table,
				Username: out.ClickHouse.Username,
				Password: out.ClickHouse.Password,
				Timeout:  out.ClickHouse.Timeout,
			})
			if err != nil {
				j.Close()
				return nil, err
			}
			j.AddWriter(name, w)
		case "nats":
			w, err := alertnats.NewWriter(alertnats.Config{
				URL:           out.NATS.URL,
				SubjectPrefix: out.NATS.SubjectPrefix,
			})
			if err != nil {
				j.Close()
				return nil, err
			}
			j.AddWriter(name, w)
		default:
			j.Close()
			return nil, fmt.Errorf("unknown journal output mode %q", out.Mode)
		}
	}
	return j, nil
}

// ruleFile rereads the rule file on every evaluation and keeps the last
// good rule set when the file is broken.
type ruleFile struct {
	path  string
	mu    sync.Mutex
	rules []models.AlertRule
	mtime time.Time
}

func newRuleFile(path string) *ruleFile {
	return &ruleFile{path: path}
}

func (r *ruleFile) reload() ([]models.AlertRule, error) {
	info, err := os.Stat(r.path)
	if err != nil {
		return nil, fmt.Errorf("stat rule file: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rules != nil && !info.ModTime().After(r.mtime) {
		return r.rules, nil
	}

	loaded, err := rules.LoadRuleSet(r.path)
	if err != nil {
		return nil, err
	}
	if errs := rules.Validate(loaded); len(errs) > 0 {
		for _, e := range errs {
			logger.Warnf("Rule file %s: %v", r.path, e)
		}
	}
	r.rules = loaded
	r.mtime = info.ModTime()
	logger.Infof("Loaded %d rules from %s", len(loaded), r.path)
	return loaded, nil
}

func (r *ruleFile) current() []models.AlertRule {
	loaded, err := r.reload()
	if err != nil {
		logger.Errorf("Rule reload failed, keeping previous rules: %v", err)
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.rules
	}
	return loaded
}
