// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"kwdetect/cmd"
	"kwdetect/internal/audio"
	"kwdetect/internal/bus"
	"kwdetect/internal/config"
	"kwdetect/internal/detector"
	applog "kwdetect/internal/log"
	"kwdetect/internal/metrics"
	"kwdetect/internal/node"
	"kwdetect/internal/params"
	"kwdetect/internal/transport"
	"kwdetect/internal/transport/udp"
	"kwdetect/pkg/build"
)

const shutdownTimeout = 5 * time.Second

// main is the entry point for the keyword detection node.
// The program flow is divided into three distinct phases:
//
// 1. Startup Phase:
//   - Initialize build information
//   - Parse command line arguments and load configuration
//   - Discover keyword models and load the access key
//   - Wire the bus, metrics, transports and the node
//
// 2. Concurrent Phase:
//   - Processing loop, WebSocket server, metrics exporter and the
//     optional microphone run under one errgroup
//
// 3. Shutdown Phase:
//   - Termination signal cancels the group
//   - Servers shut down, the live session is released, transports close
func main() {
	// ==================== STARTUP PHASE ====================

	// Development builds carry no ldflags and keep the default build info.
	if err := build.Initialize(); err != nil {
		applog.Debugf("Build info: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.NewRootCommand(runNode).ExecuteContext(ctx); err != nil {
		applog.Fatalf("%v", err)
	}
}

// runNode wires every component from cfg and blocks until ctx is done or a
// component fails.
func runNode(ctx context.Context, cfg *config.Config) error {
	models, err := detector.DiscoverModels(cfg.Models.Dir, cfg.Models.Extension)
	if err != nil {
		return err
	}
	accessKey, err := detector.LoadAccessKey(cfg.Models.AccessKeyFile, config.EnvAccessKey)
	if err != nil {
		return err
	}
	for i, m := range models {
		applog.Infof("Keyword %d: %s", i, m.Name)
	}

	b := bus.New()
	defer b.Close()
	store := params.NewStore()

	var (
		m        *metrics.Metrics
		exporter *metrics.Exporter
	)
	if cfg.Metrics.Enabled {
		exporter = metrics.NewExporter(cfg.Metrics.Address)
		m = metrics.New(exporter.Registry())
	} else {
		m = metrics.NewUnregistered()
	}

	transports := []transport.Transport{transport.NewLoggingTransport()}

	var wst *transport.WebSocketTransport
	if cfg.Transport.WebSocketEnabled {
		wst = transport.NewWebSocketTransport(transport.WebSocketOptions{
			Addr:             cfg.Transport.WebSocketAddress,
			AudioTopic:       cfg.Topics.Audio,
			CommandTopic:     cfg.Topics.Command,
			FrameLengthParam: cfg.Params.FrameLength,
			RecordingParam:   cfg.Params.Recording,
		}, b, store)
		transports = append(transports, wst)
	}

	if cfg.Transport.UDPEnabled {
		sender, err := udp.NewUDPSender(cfg.Transport.UDPTargetAddress)
		if err != nil {
			return err
		}
		publisher, err := udp.NewEventPublisher(sender)
		if err != nil {
			sender.Close()
			return err
		}
		transports = append(transports, publisher)
	}

	closeTransports := func() {
		for _, t := range transports {
			t.Close()
		}
	}

	n, err := node.New(cfg, node.Deps{
		Bus:        b,
		Params:     store,
		Factory:    detector.NewPorcupine,
		Metrics:    m,
		Transports: transports,
	}, accessKey, models)
	if err != nil {
		closeTransports()
		return err
	}

	var mic *audio.Microphone
	if cfg.Microphone.Enabled {
		if err := audio.Initialize(); err != nil {
			closeTransports()
			return err
		}
		defer audio.Terminate()

		mic, err = audio.NewMicrophone(audio.Options{
			DeviceID:         cfg.Microphone.InputDevice,
			SampleRate:       cfg.Microphone.SampleRate,
			FrameLength:      cfg.Listener.FrameLength,
			LowLatency:       cfg.Microphone.LowLatency,
			GateThreshold:    cfg.Microphone.GateThreshold,
			AudioTopic:       cfg.Topics.Audio,
			FrameLengthParam: cfg.Params.FrameLength,
			RecordingParam:   cfg.Params.Recording,
		}, b, store)
		if err != nil {
			closeTransports()
			return err
		}
	}

	// ==================== CONCURRENT PHASE ====================

	g, gctx := errgroup.WithContext(ctx)

	if exporter != nil {
		g.Go(func() error {
			applog.Infof("Serving metrics on %s", cfg.Metrics.Address)
			return ignoreClosed(exporter.Start())
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return exporter.Shutdown(shutdownCtx)
		})
	}

	if wst != nil {
		g.Go(func() error {
			return ignoreClosed(wst.Start())
		})
		g.Go(func() error {
			<-gctx.Done()
			return wst.Close()
		})
	}

	// Run closes the transports once the loop has stopped.
	g.Go(func() error {
		return n.Run(gctx)
	})

	if mic != nil {
		outputFile := ""
		if cfg.Microphone.Record {
			outputFile = cfg.Microphone.OutputFile
		}
		g.Go(func() error {
			return mic.Run(gctx, outputFile)
		})
	}

	// ==================== SHUTDOWN PHASE ====================

	err = g.Wait()
	applog.Infof("Node stopped, listening state: %s", n.Listener().StateMachine().State())
	return err
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
