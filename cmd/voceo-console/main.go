// Command voceo-console runs a candidate-side interview session from the
// terminal: raw PCM16LE audio on stdin feeds the call, transcripts and
// interviewer questions print to stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/voceo/voceo/pkg/call"
	"github.com/voceo/voceo/pkg/client"
	"github.com/voceo/voceo/pkg/config"
	"github.com/voceo/voceo/pkg/configutil"
	"github.com/voceo/voceo/pkg/frames"
	"github.com/voceo/voceo/pkg/media"
	"github.com/voceo/voceo/pkg/playback"
	"github.com/voceo/voceo/pkg/providers/deepgram"
	"github.com/voceo/voceo/pkg/providers/mock"
	"github.com/voceo/voceo/pkg/redact"
	"github.com/voceo/voceo/pkg/status"
	"github.com/voceo/voceo/pkg/transcribe"
	"github.com/voceo/voceo/pkg/vad"
)

func initLogger(levelStr, format string) {
	var level slog.Level
	switch strings.ToLower(levelStr) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

type deepgramSettings struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	Language       string `mapstructure:"language"`
	SampleRate     int    `mapstructure:"sample_rate"`
	Encoding       string `mapstructure:"encoding"`
	Interim        *bool  `mapstructure:"interim"`
	UtteranceEndMS *int   `mapstructure:"utterance_end_ms"`
}

type mockSettings struct {
	Transcript       string `mapstructure:"transcript"`
	EmitInterim      *bool  `mapstructure:"emit_interim"`
	EmitUtteranceEnd *bool  `mapstructure:"emit_utterance_end"`
}

func recognizerFactory(cfg config.Config, sessionID string) (transcribe.Factory, error) {
	switch strings.ToLower(cfg.STT.Provider) {
	case "deepgram":
		err := configutil.ValidateSettings(cfg.STT.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model", "language", "sample_rate", "encoding", "interim", "utterance_end_ms"},
		})
		if err != nil {
			return nil, fmt.Errorf("deepgram settings: %w", err)
		}
		var settings deepgramSettings
		if err := configutil.DecodeSettings(cfg.STT.Settings, &settings); err != nil {
			return nil, fmt.Errorf("decode deepgram settings: %w", err)
		}
		if err := configutil.RequireString(settings.APIKey, "stt.settings.api_key"); err != nil {
			return nil, err
		}
		return func() (transcribe.Recognizer, error) {
			return deepgram.New(deepgram.Config{
				APIKey:         settings.APIKey,
				Model:          settings.Model,
				Language:       settings.Language,
				SampleRate:     settings.SampleRate,
				Encoding:       settings.Encoding,
				Interim:        configutil.BoolValue(settings.Interim, true),
				UtteranceEndMS: configutil.IntValue(settings.UtteranceEndMS, 1000),
				SessionID:      sessionID,
			}), nil
		}, nil
	case "mock":
		var settings mockSettings
		if err := configutil.DecodeSettings(cfg.STT.Settings, &settings); err != nil {
			return nil, fmt.Errorf("decode mock settings: %w", err)
		}
		return func() (transcribe.Recognizer, error) {
			return mock.NewSTT(mock.STTConfig{
				SessionID:        sessionID,
				Transcript:       settings.Transcript,
				EmitInterim:      configutil.BoolValue(settings.EmitInterim, true),
				EmitUtteranceEnd: configutil.BoolValue(settings.EmitUtteranceEnd, true),
			}), nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown stt provider %q", cfg.STT.Provider)
	}
}

// consolePlayer renders a chunk by sleeping for its duration. The console has
// no audio device; pacing keeps barge-in and queue behavior observable.
type consolePlayer struct{}

func (consolePlayer) Play(ctx context.Context, chunk playback.Chunk) error {
	rate := chunk.SampleRate
	if rate <= 0 {
		rate = 24000
	}
	dur := time.Duration(len(chunk.Data)) * time.Second / time.Duration(rate*2)
	fmt.Printf("[audio] playing %v of interviewer speech\n", dur.Round(10*time.Millisecond))
	select {
	case <-time.After(dur):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// queueFlusher drops queued playback when the status machine signals
// barge-in.
type queueFlusher struct{ queue *playback.Queue }

func (f queueFlusher) Emit(frames.Frame) error {
	f.queue.Clear()
	return nil
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the service config file")
	wantVideo := flag.Bool("video", false, "request camera capture as well as microphone")
	flag.Parse()
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		panic(err)
	}
	initLogger(cfg.LogLevel, cfg.LogFormat)
	redact.SetEnabled(cfg.Observability.RedactPII)

	sessionID := uuid.NewString()
	factory, err := recognizerFactory(cfg, sessionID)
	if err != nil {
		slog.Error("recognizer_unavailable", "error", err.Error())
		os.Exit(1)
	}

	var machine *status.Machine
	var supervisor *transcribe.Supervisor
	queue := playback.NewQueue(consolePlayer{}, playback.WithDrainCallback(func() {
		machine.OnPlaybackComplete()
		// The answered question is spoken; the next utterance starts a
		// fresh transcript.
		supervisor.Buffer().Clear()
	}))
	machine = status.NewMachine(200*time.Millisecond, queueFlusher{queue})

	fallback := client.NewFallbackClient(cfg.Client.FallbackURL)

	var session *client.Session
	followUp := transcribe.NewFollowUp(time.Second, func(text string) {
		session.SendText(text)
	})
	supervisor = transcribe.NewSupervisor(transcribe.SupervisorConfig{}, factory,
		func(seg transcribe.Segment) {
			if seg.Final {
				fmt.Printf("[you] %s\n", seg.Text)
			}
		},
		transcribe.WithFollowUp(followUp))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session = client.NewSession(cfg.Client, queue, client.Handlers{
		OnTranscript: func(text string) {
			fmt.Printf("[interviewer] %s\n", text)
		},
		OnBargeIn: func() {
			machine.OnBargeIn(sessionID)
			supervisor.Buffer().Clear()
			followUp.Reset()
		},
		OnError: func(msg string) {
			// When the realtime path is down, fall back to a canned
			// question so the interview can continue.
			slog.Warn("relay_error", "message", msg)
			question, err := fallback.NextQuestion(ctx, supervisor.Buffer().FinalText())
			if err != nil {
				slog.Warn("fallback_unavailable", "error", err.Error())
				return
			}
			fmt.Printf("[interviewer] %s\n", question)
		},
		OnConnect: func() {
			slog.Info("relay_connected")
		},
		OnDisconnect: func() {
			slog.Warn("relay_disconnected")
		},
	})

	c := call.New(call.Config{
		SessionID: sessionID,
		WantVideo: *wantVideo,
		VAD:       vad.Config{SampleRate: cfg.Client.CaptureSampleRate},
	}, &media.FakeCapturer{}, session, supervisor, machine,
		call.WithTickHandler(func(elapsed time.Duration) {
			fmt.Printf("\r[call] %s", elapsed.Round(time.Second))
		}))

	queue.Start(ctx)
	if err := c.Start(ctx); err != nil {
		slog.Error("call_start_failed", "error", err.Error())
		os.Exit(1)
	}
	defer func() {
		c.End()
		queue.Stop()
	}()

	fmt.Println("streaming PCM16LE from stdin; Ctrl-C ends the call")
	window := make([]byte, cfg.Client.CaptureSampleRate/50*2)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := io.ReadFull(os.Stdin, window)
		if n > 0 {
			c.PushAudio(window[:n], cfg.Client.CaptureSampleRate)
		}
		if err != nil {
			if err != io.EOF && err != io.ErrUnexpectedEOF {
				slog.Error("stdin_read_failed", "error", err.Error())
			}
			return
		}
	}
}
