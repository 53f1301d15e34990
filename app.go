package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"n8n-voice-interface/capture"
	"n8n-voice-interface/clients/voice_api"
	"n8n-voice-interface/config"
	"n8n-voice-interface/conversation"
	"n8n-voice-interface/listener"
	"n8n-voice-interface/logging"
	"n8n-voice-interface/metrics"
	"n8n-voice-interface/orchestrator"
	"n8n-voice-interface/playback"
	"n8n-voice-interface/settings"
	"n8n-voice-interface/vad"
)

// app holds the components shared by every command.
type app struct {
	cfg      *config.AppConfig
	logger   *zap.SugaredLogger
	out      io.Writer
	in       io.Reader
	settings settings.Store
	client   voice_api.VoiceAPI
	metrics  *metrics.Metrics
	log      *conversation.Log
}

func newApp(configFile string, out io.Writer) (*app, error) {
	return newAppWithInput(configFile, out, nil)
}

func newAppWithInput(configFile string, out io.Writer, in io.Reader) (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	store, err := settings.New(&settings.Config{Path: cfg.SettingsPath})
	if err != nil {
		return nil, err
	}

	client, err := voice_api.NewClient(&voice_api.Config{
		BaseURL: cfg.BaseURL,
		Timeout: cfg.RequestTimeout,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		out:      out,
		in:       in,
		settings: store,
		client:   client,
		metrics:  metrics.NewMetrics("voice"),
		log:      conversation.NewLog(cfg.MaxConversationEntries),
	}, nil
}

func (a *app) close() {
	_ = a.logger.Sync()
}

func (a *app) pipeline(observer conversation.Observer) (playback.Interface, orchestrator.Interface, error) {
	player, err := playback.New(&playback.Config{
		BaseURL: a.client.BaseURL(),
		Loader:  playback.NewHTTPLoader(a.cfg.RequestTimeout),
		Output:  playback.NewPortaudioOutput(),
		Logger:  a.logger,
		Metrics: a.metrics,
	})
	if err != nil {
		return nil, nil, err
	}

	orch, err := orchestrator.New(&orchestrator.Config{
		Client:       a.client,
		Player:       player,
		Observer:     observer,
		Logger:       a.logger,
		Metrics:      a.metrics,
		DefaultReply: a.cfg.DefaultReply,
	})
	if err != nil {
		return nil, nil, err
	}

	return player, orch, nil
}

func (a *app) listen(ctx context.Context) error {
	if a.settings.Get() == "" {
		a.logger.Warnf("no webhook URL configured; utterances will not be sent until one is set")
	}

	console := conversation.NewConsole(a.out, a.cfg.LogLevel == "debug", a.cfg.SilenceThreshold)
	observer := conversation.Multi(a.log, console)

	player, orch, err := a.pipeline(observer)
	if err != nil {
		return err
	}

	mic, err := capture.New(&capture.Config{
		Device:    capture.NewPortaudioDevice(),
		Logger:    a.logger,
		FFTSize:   a.cfg.FFTSize,
		Smoothing: a.cfg.Smoothing,
	})
	if err != nil {
		return err
	}

	constraints := capture.DefaultConstraints()
	constraints.SampleRate = a.cfg.SampleRate

	l, err := listener.New(&listener.Config{
		Capture:     mic,
		Constraints: constraints,
		Player:      player,
		Submitter:   orch,
		Webhook:     a.settings,
		Observer:    observer,
		Metrics:     a.metrics,
		Logger:      a.logger,
		VAD: vad.Config{
			Threshold:       a.cfg.SilenceThreshold,
			CheckInterval:   a.cfg.CheckInterval,
			SilenceDuration: a.cfg.SilenceDuration,
		},
		Mode:            listener.Mode(a.cfg.Mode),
		SegmentInterval: a.cfg.ContinuousSegment,
		MinBlobBytes:    a.cfg.MinUtteranceBytes,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()

		err := l.ListenLoop(gctx)
		if errors.Is(err, capture.ErrDeviceUnavailable) {
			return fmt.Errorf("%w; check microphone permissions and retry", err)
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		l.HaltListening()
		player.Interrupt()
		return nil
	})

	if a.cfg.MetricsAddr != "" {
		g.Go(func() error {
			a.logger.Infof("serving metrics on %s", a.cfg.MetricsAddr)
			return a.metrics.Serve(gctx, a.cfg.MetricsAddr)
		})
	}

	if a.in != nil {
		// not part of the group: a blocked stdin read cannot be canceled
		go a.readCommands(gctx, cancel, player, orch, observer)
	}

	err = g.Wait()

	waitTimeout(orch, 5*time.Second, a.logger)

	return err
}

func (a *app) say(ctx context.Context, words []string) error {
	text := strings.TrimSpace(strings.Join(words, " "))
	if text == "" {
		return errors.New("nothing to say")
	}

	console := conversation.NewConsole(a.out, false, a.cfg.SilenceThreshold)
	observer := conversation.Multi(a.log, console)

	player, orch, err := a.pipeline(observer)
	if err != nil {
		return err
	}

	const id = 1
	observer.OnUtteranceStarted(id)

	if err := orch.SubmitText(ctx, id, text, a.settings.Get()); err != nil {
		return err
	}
	orch.Wait()

	entry, _ := a.log.Entry(id)
	if entry.Error != "" {
		return errors.New(entry.Error)
	}

	// let the reply finish unless interrupted
	for player.Playing() {
		select {
		case <-ctx.Done():
			player.Interrupt()
			return nil
		case <-time.After(50 * time.Millisecond):
		}
	}

	return nil
}

// readCommands handles typed input during a listening session: /replay
// repeats the last reply, /quit ends the session and anything else is
// sent as a text message. Text entries use negative ids so they never
// collide with utterance ids.
func (a *app) readCommands(ctx context.Context, quit func(), player playback.Interface, orch orchestrator.Interface, observer conversation.Observer) {
	scanner := bufio.NewScanner(a.in)
	nextID := -1

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "/quit":
			quit()
			return
		case "/replay":
			if err := player.Replay(ctx, nil); err != nil {
				a.logger.Warnf("replay: %v", err)
			}
			continue
		}

		id := nextID
		nextID--

		observer.OnUtteranceStarted(id)

		if err := orch.SubmitText(context.WithoutCancel(ctx), id, line, a.settings.Get()); err != nil {
			observer.OnUtteranceError(id, err.Error())
		}
	}

	if err := scanner.Err(); err != nil {
		a.logger.Debugf("stop reading commands: %v", err)
	}
}

func waitTimeout(orch orchestrator.Interface, timeout time.Duration, logger *zap.SugaredLogger) {
	done := make(chan struct{})
	go func() {
		orch.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		logger.Warnf("gave up waiting for %d request(s) in flight", orch.InFlight())
	}
}
