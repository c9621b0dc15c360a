// Package deepgram implements transcribe.Recognizer on the Deepgram live
// transcription WebSocket API.
package deepgram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/voceo/voceo/pkg/errorsx"
	"github.com/voceo/voceo/pkg/frames"
	"github.com/voceo/voceo/pkg/logging"
	"github.com/voceo/voceo/pkg/transcribe"
)

type Config struct {
	APIKey         string
	Model          string
	Language       string
	SampleRate     int
	Encoding       string
	Interim        bool
	UtteranceEndMS int

	SessionID string
	CallSID   string
	TraceID   string
}

// Recognizer streams session audio to Deepgram and emits transcript frames.
// The Results channel closes when the vendor stream ends, so the supervisor
// can restart with a fresh instance.
type Recognizer struct {
	cfg    Config
	logger *slog.Logger

	dgClient   *client.WSCallback
	out        chan frames.Frame
	outOnce    sync.Once
	ctx        context.Context
	cancel     context.CancelFunc
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	metaLogged bool
}

func New(cfg Config) *Recognizer {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "linear16"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	return &Recognizer{
		cfg:    cfg,
		out:    make(chan frames.Frame, 256),
		logger: logging.NewComponentLogger(slog.Default(), "deepgram_stt"),
	}
}

func (r *Recognizer) Name() string { return "deepgram_streaming" }

func (r *Recognizer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.pipeReader, r.pipeWriter = io.Pipe()

	clientOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}
	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:          r.cfg.Model,
		Language:       r.cfg.Language,
		Encoding:       r.cfg.Encoding,
		SampleRate:     r.cfg.SampleRate,
		InterimResults: r.cfg.Interim,
		SmartFormat:    true,
	}
	if r.cfg.UtteranceEndMS > 0 {
		transcriptOptions.UtteranceEndMs = fmt.Sprintf("%d", r.cfg.UtteranceEndMS)
	}

	r.logger.Info("initializing deepgram connection",
		slog.String("session_id", r.cfg.SessionID),
		slog.String("model", r.cfg.Model),
		slog.Int("sample_rate", r.cfg.SampleRate))

	cb := &callback{parent: r}
	dgClient, err := client.NewWSUsingCallback(r.ctx, r.cfg.APIKey, clientOptions, transcriptOptions, cb)
	if err != nil {
		r.logger.Error("deepgram_client_create_error",
			slog.String("error", err.Error()),
			slog.String("session_id", r.cfg.SessionID))
		return errorsx.Wrap(err, errorsx.ReasonSTTConnect)
	}
	r.dgClient = dgClient

	if connected := r.dgClient.Connect(); !connected {
		r.logger.Error("deepgram_connect_failed",
			slog.String("session_id", r.cfg.SessionID))
		return errorsx.Wrap(fmt.Errorf("deepgram connection failed"), errorsx.ReasonSTTConnect)
	}

	r.logger.Info("deepgram_connected",
		slog.String("session_id", r.cfg.SessionID),
		slog.String("model", r.cfg.Model))

	go func() {
		if err := r.dgClient.Stream(r.pipeReader); err != nil && r.ctx.Err() == nil {
			r.logger.Error("deepgram_stream_error",
				slog.String("error", err.Error()),
				slog.String("session_id", r.cfg.SessionID))
		}
		r.closeOut()
	}()
	return nil
}

func (r *Recognizer) Close() error {
	r.logger.Info("closing deepgram connection",
		slog.String("session_id", r.cfg.SessionID))
	if r.cancel != nil {
		r.cancel()
	}
	if r.pipeWriter != nil {
		_ = r.pipeWriter.Close()
	}
	if r.dgClient != nil {
		r.dgClient.Stop()
	}
	r.closeOut()
	return nil
}

func (r *Recognizer) SendAudio(frame frames.AudioFrame) error {
	if r.pipeWriter == nil {
		return errorsx.Wrap(fmt.Errorf("not started"), errorsx.ReasonSTTSend)
	}
	_, err := r.pipeWriter.Write(frame.RawPayload())
	if err != nil {
		r.logger.Error("failed to send audio to deepgram",
			slog.String("error", err.Error()),
			slog.String("session_id", r.cfg.SessionID))
		return errorsx.Wrap(err, errorsx.ReasonSTTSend)
	}
	return nil
}

func (r *Recognizer) Results() <-chan frames.Frame { return r.out }

func (r *Recognizer) closeOut() {
	r.outOnce.Do(func() { close(r.out) })
}

func (r *Recognizer) emit(f frames.Frame) {
	defer func() {
		// Emitting after closeOut loses the frame; the stream is over anyway.
		_ = recover()
	}()
	select {
	case r.out <- f:
	default:
		r.logger.Warn("deepgram_out_channel_full",
			slog.String("session_id", r.cfg.SessionID))
	}
}

func (r *Recognizer) baseMeta() map[string]string {
	meta := map[string]string{
		frames.MetaSource: "stt",
	}
	if r.cfg.CallSID != "" {
		meta[frames.MetaCallSID] = r.cfg.CallSID
	}
	if r.cfg.TraceID != "" {
		meta[frames.MetaTraceID] = r.cfg.TraceID
	}
	return meta
}

type callback struct {
	parent *Recognizer
}

func (c *callback) Open(or *msginterfaces.OpenResponse) error {
	c.parent.logger.Info("deepgram_connection_opened",
		slog.String("session_id", c.parent.cfg.SessionID))
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	alt := mr.Channel.Alternatives[0]
	transcript := alt.Transcript
	if transcript == "" {
		return nil
	}

	isFinal := mr.IsFinal || mr.SpeechFinal
	meta := c.parent.baseMeta()
	if isFinal {
		meta[frames.MetaIsFinal] = "true"
	} else {
		meta[frames.MetaIsFinal] = "false"
	}

	c.parent.logger.Debug("transcript_received",
		slog.String("session_id", c.parent.cfg.SessionID),
		slog.String("transcript", transcript),
		slog.Bool("is_final", isFinal))

	c.parent.emit(frames.NewTextFrame(c.parent.cfg.SessionID, time.Now().UnixNano(), transcript, meta))

	if isFinal {
		flushMeta := c.parent.baseMeta()
		flushMeta[frames.MetaReason] = "speech_final"
		c.parent.emit(frames.NewControlFrame(c.parent.cfg.SessionID, time.Now().UnixNano(), frames.ControlFlush, flushMeta))
	}
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	if !c.parent.metaLogged {
		c.parent.metaLogged = true
		c.parent.logger.Info("deepgram_metadata_received",
			slog.String("session_id", c.parent.cfg.SessionID),
			slog.String("request_id", md.RequestID))
	}
	return nil
}

func (c *callback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	meta := c.parent.baseMeta()
	meta[frames.MetaReason] = "speech_started"
	c.parent.emit(frames.NewControlFrame(c.parent.cfg.SessionID, time.Now().UnixNano(), frames.ControlFlush, meta))
	return nil
}

func (c *callback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	meta := c.parent.baseMeta()
	meta[frames.MetaReason] = "utterance_end"
	c.parent.emit(frames.NewControlFrame(c.parent.cfg.SessionID, time.Now().UnixNano(), frames.ControlUtteranceEnd, meta))
	return nil
}

func (c *callback) Close(cr *msginterfaces.CloseResponse) error {
	c.parent.logger.Info("deepgram_connection_closed",
		slog.String("session_id", c.parent.cfg.SessionID))
	c.parent.closeOut()
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.parent.logger.Error("deepgram_error",
		slog.String("session_id", c.parent.cfg.SessionID),
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	c.parent.logger.Debug("deepgram_unhandled_event",
		slog.String("session_id", c.parent.cfg.SessionID),
		slog.String("data", string(byData)))
	return nil
}

var _ transcribe.Recognizer = (*Recognizer)(nil)
