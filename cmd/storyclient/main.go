package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/cmd/config"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/internal/metrics"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/internal/session"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/internal/transport"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/internal/utils"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/pkg/audiodevice/device"
	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

func newCaptureDevice(cfg config.Config) (audiodevice.CaptureDevice, error) {
	if cfg.CaptureFile == "" {
		slog.Info("no capture file configured, outbound audio disabled")
		return device.NewDummyCaptureDevice(audiodevice.DeviceProperties{
			SampleRate:  cfg.CaptureSampleRate,
			NumChannels: 1,
		}), nil
	}
	return device.NewWAVCaptureDevice(cfg.CaptureFile, cfg.CaptureSampleRate, cfg.CaptureFrameDuration)
}

func newDialer(cfg config.Config) transport.Dialer {
	if cfg.Transport == config.TransportWebRTC {
		webrtcConfig := webrtc.Configuration{}
		if len(cfg.ICEServers) > 0 {
			webrtcConfig.ICEServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
		}
		return transport.NewWebRTCDialer(cfg.ServerURL, cfg.AuthToken, webrtcConfig)
	}
	return transport.NewWebSocketDialer(cfg.ServerURL, cfg.AuthToken)
}

func newRenderDevice(cfg config.Config) (audiodevice.RenderDevice, error) {
	// The render device also clocks the activity monitor, so it runs even when nothing is recorded.
	outputFile := cfg.OutputFile
	if outputFile == "" {
		outputFile = os.DevNull
	}
	return device.NewWAVRenderDevice(outputFile, cfg.EngineSampleRate, cfg.RenderBufferFrames)
}

// Serve the registry on /metrics until ctx is canceled.
func serveMetrics(ctx context.Context, address string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	slog.Info("serving metrics", "address", address)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("metrics server failed", "err", err)
	}
}

func main() {
	configFilePath := flag.String("configFilePath", "config.yaml", "Set the file path to the config file.")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFilePath)
	if err != nil {
		slog.Error("error while loading config", "err", err)
		panic(err)
	}
	logFilePointer, err := utils.ConfigureDefaultLogger(
		cfg.LogLevel,
		cfg.LogFile,
		cfg.ComponentLogLevels,
		slog.HandlerOptions{},
	)
	if err != nil {
		slog.Error("error while configuring default logger", "err", err)
		panic(err)
	}
	if logFilePointer != nil {
		defer logFilePointer.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --------------------------------------------------------------------------------

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)
	if cfg.MetricsAddress != "" {
		go serveMetrics(ctx, cfg.MetricsAddress, reg)
	}

	capture, err := newCaptureDevice(cfg)
	if err != nil {
		slog.Error("error while creating capture device", "err", err)
		panic(err)
	}
	render, err := newRenderDevice(cfg)
	if err != nil {
		slog.Error("error while creating render device", "err", err)
		panic(err)
	}

	sess := session.New(cfg.SessionConfig(), newDialer(cfg), capture, m)

	if err := render.Start(sess.Mixer()); err != nil {
		slog.Error("error while starting render device", "err", err)
		panic(err)
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- sess.Run(ctx)
	}()
	go printUpdates(ctx, sess.Updates(), os.Stdout)

	// --------------------------------------------------------------------------------

	if err := sess.Connect(ctx); err != nil {
		slog.Error("error while connecting", "err", err)
	}
	if err := readCommands(ctx, sess, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("error while reading commands", "err", err)
	}

	disconnectCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := sess.Disconnect(disconnectCtx); err != nil && !errors.Is(err, session.ErrStopped) {
		slog.Error("error while disconnecting", "err", err)
	}

	stop()
	<-runErr
	if err := render.Close(); err != nil {
		slog.Error("error while closing render device", "err", err)
	}
	slog.Info("story client stopped")
}
