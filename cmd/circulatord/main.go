package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/circulatord/internal/actuator"
	"codeberg.org/mutker/circulatord/internal/config"
	"codeberg.org/mutker/circulatord/internal/cycle"
	"codeberg.org/mutker/circulatord/internal/ledger"
	"codeberg.org/mutker/circulatord/internal/logger"
	"codeberg.org/mutker/circulatord/internal/pid"
	"codeberg.org/mutker/circulatord/internal/presence"
	"codeberg.org/mutker/circulatord/internal/timerstore"
)

// eventBuffer absorbs MQTT delivery bursts so the broker callback never
// blocks on the dispatch loop.
const eventBuffer = 16

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Debug, cfg.Verbose, logger.IsService())
	logger.Debug().Msg("Config loaded")
}

func main() {
	if err := pid.Write(); err != nil {
		logger.Fatal().Err(err).Msg("failed to write PID file")
	}
	defer func() {
		if err := pid.Remove(); err != nil {
			logger.Error().Err(err).Msg("failed to remove PID file")
		}
	}()

	repo := openRepository()
	defer repo.Close()
	dailyLedger := ledger.New(repo, cfg.Cycle.DailyCapSeconds)

	timers := timerstore.New()
	files := timerstore.NewFileStore(cfg.Checkpoint.Path)

	events := make(chan actuator.Event, eventBuffer)
	bridge, err := actuator.NewBridge(actuator.Config{
		Broker:      cfg.MQTT.Broker,
		ClientID:    cfg.MQTT.ClientID,
		TopicPrefix: cfg.MQTT.TopicPrefix,
	}, events)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to MQTT broker")
	}
	defer bridge.Close()

	controller, err := cycle.New(cycle.Config{
		Normal: cycle.Durations{
			Run:      cfg.Cycle.RunDuration(false),
			Cooldown: cfg.Cycle.CooldownDuration(false),
		},
		Elevated: cycle.Durations{
			Run:      cfg.Cycle.RunDuration(true),
			Cooldown: cfg.Cycle.CooldownDuration(true),
		},
		Monitor: cfg.Monitor,
	}, timers, dailyLedger, bridge, files)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize cycle controller")
	}

	aggregator := presence.New(cfg.Rooms.Monitored, cfg.Rooms.Priority)

	controller.Resume()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	if cfg.Monitor {
		logger.Info().Msg("Monitor mode activated. Logging decisions without commanding the pump...")
	}

	loop(ctx, controller, aggregator, events)

	if err := controller.Checkpoint(); err != nil {
		logger.Error().Err(err).Msg("failed to write checkpoint")
	}
	logger.Info().Msg("Exiting...")
}

func openRepository() ledger.Repository {
	if !cfg.Ledger.Enabled {
		logger.Debug().Msg("Ledger persistence disabled, using in-memory repository")

		return ledger.NewMemoryRepository()
	}

	repo, err := ledger.NewRepository(cfg.Ledger.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open ledger database")
	}

	return repo
}

// loop is the single dispatch goroutine. Every controller entry point
// runs here, so the state machine never needs internal locking. Wakes
// are rescheduled from NextWake after each dispatch because any event
// can change the next deadline.
func loop(ctx context.Context, controller *cycle.Controller, aggregator *presence.Aggregator, events <-chan actuator.Event) {
	midnight := time.NewTimer(untilMidnight(time.Now()))
	defer midnight.Stop()

	for {
		var wake *time.Timer
		var wakeC <-chan time.Time
		if deadline, found := controller.NextWake(); found {
			wake = time.NewTimer(max(time.Until(deadline), 0))
			wakeC = wake.C
		}

		select {
		case <-ctx.Done():
			if wake != nil {
				wake.Stop()
			}

			return
		case event := <-events:
			dispatch(controller, aggregator, event)
		case <-wakeC:
			controller.Tick()
		case <-midnight.C:
			controller.HandleMidnight()
			midnight.Reset(untilMidnight(time.Now()))
		}

		if wake != nil {
			wake.Stop()
		}
	}
}

func dispatch(controller *cycle.Controller, aggregator *presence.Aggregator, event actuator.Event) {
	switch event.Kind {
	case actuator.EventPresence:
		record, changed := aggregator.Update(presence.Signal{
			RoomID:     event.Room,
			Active:     event.Active,
			ObservedAt: event.At,
		})
		if changed {
			controller.HandleDemand(record)
		}
	case actuator.EventEnable:
		controller.SetEnabled(event.Active)
	}
}

func untilMidnight(now time.Time) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)

	return next.Sub(now)
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
