// Package svc owns the daemon's shared components and wires them
// together: the log, gate, responder, wake scheduler, session manager
// and push backend.
package svc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/neboloop/bingus/internal/agent/ai"
	"github.com/neboloop/bingus/internal/agent/runner"
	"github.com/neboloop/bingus/internal/agent/tools"
	"github.com/neboloop/bingus/internal/clock"
	"github.com/neboloop/bingus/internal/config"
	"github.com/neboloop/bingus/internal/crashlog"
	"github.com/neboloop/bingus/internal/daemon"
	"github.com/neboloop/bingus/internal/db"
	"github.com/neboloop/bingus/internal/defaults"
	"github.com/neboloop/bingus/internal/gate"
	"github.com/neboloop/bingus/internal/inbox"
	"github.com/neboloop/bingus/internal/journal"
	"github.com/neboloop/bingus/internal/lifecycle"
	"github.com/neboloop/bingus/internal/logging"
	"github.com/neboloop/bingus/internal/push"
	"github.com/neboloop/bingus/internal/realtime"
)

// WakePrefix marks system entries produced by a self-wake.
const WakePrefix = "⏰ Wake: "

var (
	svcLog = logging.Named("svc")
	fatalf = logging.Fatalf
)

// Options overrides pieces of the default wiring, mostly for tests.
type Options struct {
	Provider ai.Provider // default: built from config
	Notifier realtime.Notifier
	Clock    clock.Clock
}

type ServiceContext struct {
	Config  config.Config
	DataDir string

	DB       *sql.DB
	Log      *inbox.Store
	Journal  *journal.Store
	Gate     *gate.Gate
	Schedule *daemon.FileScheduleStore
	Wake     *daemon.WakeScheduler
	Watcher  *daemon.ScheduleWatcher
	Tools    *tools.Registry
	Runner   *runner.Runner
	Manager  *realtime.Manager

	// APNs is set when the APNs backend is active.
	APNs *push.APNsClient

	clock     clock.Clock
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewServiceContext opens storage and builds every component. Nothing
// runs until Start.
func NewServiceContext(ctx context.Context, c config.Config, dataDir string, opts Options) (*ServiceContext, error) {
	s := &ServiceContext{Config: c, DataDir: dataDir, clock: opts.Clock}
	if s.clock == nil {
		s.clock = clock.Real()
	}

	sqlDB, err := db.Open(c.DBPath(dataDir))
	if err != nil {
		return nil, err
	}
	s.DB = sqlDB
	crashlog.Init(sqlDB)

	if err := s.build(ctx, opts); err != nil {
		crashlog.Init(nil)
		sqlDB.Close()
		return nil, err
	}
	return s, nil
}

func (s *ServiceContext) build(ctx context.Context, opts Options) error {
	c := s.Config

	log, err := inbox.New(ctx, s.DB, inbox.WithClock(s.clock))
	if err != nil {
		return err
	}
	s.Log = log
	s.Journal = journal.New(s.DB, s.clock)
	s.Schedule = daemon.NewFileScheduleStore(defaults.WakePath(s.DataDir))

	s.Wake = daemon.NewWakeScheduler(daemon.WakeConfig{
		QuietPeriod: c.Wake.QuietPeriod,
		Store:       s.Schedule,
		OnWake:      s.onWake,
		Clock:       s.clock,
	})
	s.Watcher = daemon.NewScheduleWatcher(s.Schedule.Path(), 0, s.Wake.Check)

	s.Gate = gate.New(
		gate.WithOnOpen(func() { s.Wake.SetReplying(true) }),
		gate.WithOnClose(func() {
			s.Wake.SetReplying(false)
			s.Wake.OnActivity()
			s.Wake.Check()
		}),
	)

	s.Tools = tools.NewRegistry()
	s.Tools.RegisterBuiltins(tools.BuiltinConfig{
		Journal:  s.Journal,
		Schedule: s.Schedule,
		Clock:    s.clock,
		Horizon:  tools.WakeHorizon{Min: c.Wake.MinDelay, Max: c.Wake.MaxDelay},
		// The watcher also sees the write; Check is idempotent.
		OnScheduleChange: s.Wake.Check,
	})

	notifier, err := s.buildNotifier(opts.Notifier)
	if err != nil {
		return err
	}

	s.Manager, err = realtime.NewManager(realtime.ManagerConfig{
		Token:         c.Server.AuthToken,
		Log:           s.Log,
		Gate:          s.Gate,
		OnUserMessage: func(string) { s.Wake.OnActivity() },
		OnPushToken:   s.onPushToken,
		Notifier:      notifier,
	})
	if err != nil {
		return err
	}

	provider := opts.Provider
	if provider == nil {
		provider, err = ai.NewProvider(ai.ProviderConfig{
			Name:    c.Model.Provider,
			Model:   c.Model.Name,
			APIKey:  c.APIKey(),
			BaseURL: c.Model.BaseURL,
		})
		if err != nil {
			return fmt.Errorf("model provider: %w", err)
		}
	}

	loc, err := runner.LoadLocation(c.Model.Timezone)
	if err != nil {
		return err
	}

	s.Runner, err = runner.New(runner.Config{
		Log:          s.Log,
		Gate:         s.Gate,
		Provider:     provider,
		Tools:        s.Tools,
		ToolDefs:     s.Tools.List(),
		SystemPrompt: runner.BuildSystemPrompt(c.Model.SystemPrompt, s.Tools.Prompt()),
		Model:        c.Model.Name,
		MaxTokens:    c.Model.MaxTokens,
		ContextLimit: c.Model.ContextLimit,
		Location:     loc,
		Publish:      s.Manager.Deliver,
	})
	return err
}

// buildNotifier picks the push backend named by the config.
func (s *ServiceContext) buildNotifier(override realtime.Notifier) (realtime.Notifier, error) {
	if override != nil {
		return override, nil
	}
	c := s.Config
	switch c.Push.Backend {
	case "none":
		return nil, nil
	case "desktop":
		d := push.NewDesktopNotifier()
		if !d.Supported() {
			svcLog.Warnf("desktop notifications unsupported here, push disabled")
			return nil, nil
		}
		return d, nil
	}

	if !c.APNsConfigured() {
		if c.Push.Backend == "apns" {
			return nil, errors.New(c.PushWarning())
		}
		svcLog.Warnf("%s", c.PushWarning())
		return nil, nil
	}
	client, err := push.NewAPNsClient(push.APNsConfig{
		KeyPath:  c.Push.APNs.KeyPath,
		KeyID:    c.Push.APNs.KeyID,
		TeamID:   c.Push.APNs.TeamID,
		BundleID: c.Push.APNs.BundleID,
		Sandbox:  c.APNsSandbox(),
	}, push.NewTokenStore(s.DataDir), push.WithClock(s.clock))
	if err != nil {
		return nil, err
	}
	s.APNs = client
	return client, nil
}

func (s *ServiceContext) onPushToken(token string) {
	if s.APNs == nil {
		svcLog.Infof("ignoring device token: APNs not configured")
		return
	}
	s.APNs.SetDeviceToken(token)
}

// onWake records the wake as a system entry, shows it to the client and
// lets the responder react.
func (s *ServiceContext) onWake(ctx context.Context, reason string) error {
	entry, err := s.Log.Append(context.WithoutCancel(ctx), inbox.StreamSystem, WakePrefix+reason)
	if err != nil {
		fatalf("append wake entry: %v", err)
		return err
	}
	s.Manager.DeliverSystem(entry)
	s.Gate.Signal()
	lifecycle.Emit(lifecycle.EventWakeFired, lifecycle.WakeEventData{Reason: reason})
	return nil
}

// Start runs the responder and the schedule watcher, and arms any wake
// persisted by a previous run.
func (s *ServiceContext) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	if err := s.Watcher.Start(ctx); err != nil {
		svcLog.Warnf("schedule watcher disabled: %v", err)
	}
	s.Wake.Check()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			svcLog.Errorf("responder stopped: %v", err)
		}
	}()
	return nil
}

// Close stops every component and closes the database. Safe to call
// more than once.
func (s *ServiceContext) Close() {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(30 * time.Second):
			svcLog.Warnf("responder did not stop within 30s")
		}
		if s.Watcher != nil {
			s.Watcher.Stop()
		}
		if s.Wake != nil {
			s.Wake.Stop()
		}
		if s.Manager != nil {
			s.Manager.Close()
		}
		if s.DB != nil {
			crashlog.Init(nil)
			s.DB.Close()
		}
	})
}
