package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/tigerbot-team/tigerbot/linefollower/pkg/api"
	"github.com/tigerbot-team/tigerbot/linefollower/pkg/eventlog"
	"github.com/tigerbot-team/tigerbot/linefollower/pkg/hardware"
	"github.com/tigerbot-team/tigerbot/linefollower/pkg/runlog"
	"github.com/tigerbot-team/tigerbot/linefollower/pkg/screen"
	"github.com/tigerbot-team/tigerbot/linefollower/pkg/sequencer"
	"github.com/tigerbot-team/tigerbot/linefollower/pkg/timeutil"
	"github.com/tigerbot-team/tigerbot/linefollower/pkg/tunable"
)

type config struct {
	paramsPath string
	dbPath     string
	httpAddr   string
	hardware   string
	linePort   string
	soundsDir  string
}

func getenv(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func loadConfig() config {
	return config{
		paramsPath: getenv("LF_PARAMS", "/cfg/params.yaml"),
		dbPath:     getenv("LF_DB", "/cfg/runs.db"),
		httpAddr:   getenv("LF_HTTP", ":8080"),
		hardware:   getenv("LF_HARDWARE", "dummy"),
		linePort:   getenv("LF_LINE_PORT", "/dev/ttyAMA0"),
		soundsDir:  getenv("LF_SOUNDS", "/sounds"),
	}
}

func openHardware(ctx context.Context, cfg config, clock timeutil.Clock) (hardware.Interface, error) {
	switch cfg.hardware {
	case "dummy":
		return hardware.NewDummy(clock), nil
	case "real":
		hwCfg := hardware.DefaultConfig()
		hwCfg.LinePort = cfg.linePort
		hwCfg.SoundsDir = cfg.soundsDir
		hw, err := hardware.New(hwCfg)
		if err != nil {
			return nil, err
		}
		hw.Start(ctx)
		return hw, nil
	}
	return nil, errors.Errorf("unknown LF_HARDWARE %q, expected real or dummy", cfg.hardware)
}

func main() {
	fmt.Println("---- Line follower ----")
	fmt.Println("GOMAXPROCS", runtime.GOMAXPROCS(0))

	// Our global context, we cancel it to trigger shutdown.
	ctx, cancel := context.WithCancel(context.Background())

	// Hook Ctrl-C etc.
	registerSignalHandlers(cancel)

	cfg := loadConfig()
	clock := timeutil.RealClock{}
	events := eventlog.New(clock, eventlog.DefaultCapacity)

	params := tunable.NewParams()
	if err := params.Load(cfg.paramsPath); err != nil {
		fmt.Printf("Failed to load params from %s, using defaults: %v\n", cfg.paramsPath, err)
	}
	if err := params.Save(tunable.InUsePath(cfg.paramsPath)); err != nil {
		fmt.Println("Failed to write in-use params:", err)
	}

	hw, err := openHardware(ctx, cfg, clock)
	if err != nil {
		fmt.Println("Failed to initialise hardware:", err)
		os.Exit(1)
	}
	defer func() {
		fmt.Println("Zeroing motors for shut down")
		if err := hw.Close(); err != nil {
			fmt.Println("Hardware close failed:", err)
		}
		time.Sleep(100 * time.Millisecond)
	}()

	var wg sync.WaitGroup
	var runs api.RunLister
	var onMeasurement sequencer.MeasurementHook
	if store, err := runlog.Open(cfg.dbPath); err != nil {
		fmt.Println("Run log disabled:", err)
	} else {
		defer store.Close()
		rec := runlog.NewRecorder(store, events.Logf)
		wg.Add(1)
		go rec.Loop(ctx, &wg)
		runs = store
		onMeasurement = rec.Record
		events.Logf("Runlog: session %v", rec.SessionID())
	}

	seq := sequencer.New(sequencer.Deps{
		Clock:         clock,
		Log:           events.Logf,
		Params:        params,
		Line:          hw.Line(),
		Laser:         hw.Laser(),
		Ultrasonic:    hw.Ultrasonic(),
		Encoders:      hw.Encoders(),
		Motors:        hw.Motors(),
		Alarm:         hw.Alarm(),
		Button:        hw.Button(),
		Speaker:       hw,
		Battery:       hw.Battery(),
		OnMeasurement: onMeasurement,
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		seq.Run(ctx, sequencer.DefaultTickInterval)
	}()

	wg.Add(1)
	go screen.New(screen.DefaultDevice, seq.Publisher(), events.Prefixed("Screen")).Loop(ctx, &wg)

	server := api.NewServer(api.Config{
		Commands:   seq.Commands(),
		Snapshots:  seq.Publisher(),
		Params:     params,
		ParamsPath: cfg.paramsPath,
		Events:     events,
		Runs:       runs,
	})
	httpServer := &http.Server{
		Addr:              cfg.httpAddr,
		Handler:           server.LoggingMiddleware(server.ServeMux()),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		fmt.Println("API listening on", cfg.httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Println("API server failed:", err)
			cancel()
		}
	}()

	watchdog := time.NewTicker(5 * time.Second)
	defer watchdog.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Println("Context done, shutting down")
			shutdownCtx, done := context.WithTimeout(context.Background(), time.Second)
			_ = httpServer.Shutdown(shutdownCtx)
			done()
			wg.Wait()
			return
		case <-watchdog.C:
			fmt.Println("Main loop still running, state", seq.Publisher().Latest().State)
		}
	}
}

func registerSignalHandlers(cancelFunc context.CancelFunc) {
	// Hook Ctrl-C to cause shut down.
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		s := <-signals
		log.Println("Signal: ", s)
		cancelFunc()
		// Give the main loop time to stop the motors, then force the exit.
		time.Sleep(5 * time.Second)
		os.Exit(1)
	}()
}
