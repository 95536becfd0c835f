package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lunaweb/mcu-bridge/internal/api"
	"github.com/lunaweb/mcu-bridge/internal/config"
	"github.com/lunaweb/mcu-bridge/internal/mcu"
	"github.com/lunaweb/mcu-bridge/internal/midiport"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to config file")
		httpPort   = flag.Int("port", 0, "HTTP listen port (overrides config)")
		midiPort   = flag.String("midi-port", "", "MIDI port name (overrides config)")
		webDir     = flag.String("web", "", "directory with the web client (overrides config)")
		debug      = flag.Bool("debug", false, "enable debug logging")
		listPorts  = flag.Bool("list-ports", false, "list MIDI ports and exit")
	)
	flag.Parse()

	// Load configuration, then overlay environment and flags in that order.
	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}
	cfg.ApplyEnv()
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.HTTPPort = *httpPort
		case "midi-port":
			cfg.MIDIPort = *midiPort
		case "web":
			cfg.WebDir = *webDir
		case "debug":
			cfg.Debug = *debug
		}
	})

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if cfg.Debug {
		log.SetLevel(logrus.DebugLevel)
	}

	ports := midiport.NewManager(log)
	defer ports.Close()

	if *listPorts {
		fmt.Println("Input ports:")
		for _, name := range ports.InPorts() {
			fmt.Printf("  %s\n", name)
		}
		fmt.Println("Output ports:")
		for _, name := range ports.OutPorts() {
			fmt.Printf("  %s\n", name)
		}
		return
	}

	engine := mcu.New(ports, mcu.Config{
		Target:         cfg.Track.Name,
		TargetAliases:  cfg.Track.Aliases,
		MaxBanks:       cfg.Track.MaxBanks,
		SilenceWindow:  cfg.Timing.SilenceWindow(),
		DebounceWindow: cfg.Timing.DebounceWindow(),
		ResetSilence:   cfg.Timing.ResetSilence(),
		LCDSettle:      cfg.Timing.LCDSettle(),
		StepDelay:      cfg.Timing.StepDelay(),
		RequestDelay:   cfg.Timing.RequestDelay(),
		HandshakeDelay: cfg.Timing.HandshakeDelay(),
		Logger:         log,
	})
	engine.Start()
	defer engine.Close()

	// A missing MIDI port is not fatal: the HTTP API stays up so the web
	// client can report the state, and commands fail individually.
	if err := ports.Open(cfg.MIDIPort); err != nil {
		log.WithError(err).Warn("MIDI unavailable, continuing without device")
	} else {
		if err := ports.Listen(engine.HandleIncoming); err != nil {
			log.WithError(err).Warn("MIDI feedback unavailable")
		}
		go func() {
			if err := engine.Handshake(); err != nil {
				log.WithError(err).Error("device handshake failed")
			}
		}()
	}

	server := api.NewServer(engine, ports, cfg.WebDir, log)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: server.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", httpServer.Addr).Info("HTTP server listening")
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server failed")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("HTTP shutdown incomplete")
	}
}
