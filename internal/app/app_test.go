package app

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/parley-ai/parley/internal/config"
	audiomock "github.com/parley-ai/parley/pkg/audio/mock"
	"github.com/parley-ai/parley/pkg/provider/llm"
	llmmock "github.com/parley-ai/parley/pkg/provider/llm/mock"
	sttmock "github.com/parley-ai/parley/pkg/provider/stt/mock"
	vadmock "github.com/parley-ai/parley/pkg/provider/vad/mock"
	"github.com/parley-ai/parley/pkg/types"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Tools.Builtin = []string{"get_weather"}

	// Tight endpointing so tests complete quickly.
	cfg.Endpoint.BaseSilence = 60 * time.Millisecond
	cfg.Endpoint.MinSilence = 20 * time.Millisecond
	cfg.Endpoint.MaxSilence = 300 * time.Millisecond
	cfg.Bargein.GraceWindow = 20 * time.Millisecond
	return cfg
}

func testMeterProvider() *sdkmetric.MeterProvider {
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
}

func TestNew_WiresSubsystems(t *testing.T) {
	providers := &Providers{
		LLM:    &llmmock.Provider{},
		STT:    &sttmock.Provider{},
		VAD:    &vadmock.Engine{},
		Output: &audiomock.OutputStream{},
	}

	a, err := New(context.Background(), testConfig(), providers, WithMeterProvider(testMeterProvider()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if a.Controller() == nil {
		t.Error("controller not wired")
	}
	if a.Dispatcher() == nil {
		t.Error("dispatcher not wired")
	}
	defs := a.registry.Definitions()
	if len(defs) != 1 || defs[0].Name != "get_weather" {
		t.Errorf("tool definitions = %+v, want [get_weather]", defs)
	}
}

func TestNew_RequiresLLMProvider(t *testing.T) {
	_, err := New(context.Background(), testConfig(), &Providers{}, WithMeterProvider(testMeterProvider()))
	if err == nil {
		t.Fatal("expected error without an LLM provider, got nil")
	}
}

// TestRun_FrameToReplyPipeline drives raw audio frames through the full
// stack: VAD classification, streaming transcription, endpointing, turn
// control, generation, and playback.
func TestRun_FrameToReplyPipeline(t *testing.T) {
	vadSess := &vadmock.Session{}
	vadSess.Script(
		types.VADEvent{Type: types.VADSpeechStart},
		types.VADEvent{Type: types.VADSpeechContinue},
		types.VADEvent{Type: types.VADSpeechContinue},
		types.VADEvent{Type: types.VADSpeechEnd},
	)
	sttSess := sttmock.NewSession()
	input := audiomock.NewInputSource(16)
	output := &audiomock.OutputStream{}
	llmProvider := &llmmock.Provider{}
	llmProvider.Enqueue(llmmock.Stream{Chunks: []llm.Chunk{
		{Text: "Hi ", Audio: []byte{1}},
		{Text: "there.", Audio: []byte{2}},
		{FinishReason: "stop"},
	}})

	providers := &Providers{
		LLM:    llmProvider,
		STT:    &sttmock.Provider{Session: sttSess},
		VAD:    &vadmock.Engine{Session: vadSess},
		Input:  input,
		Output: output,
	}

	a, err := New(context.Background(), testConfig(), providers, WithMeterProvider(testMeterProvider()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	frame := types.AudioFrame{Data: make([]byte, 640), SampleRate: ingestSampleRate, Channels: 1}

	// Speech begins, words arrive, speech ends.
	input.Ch <- frame
	input.Ch <- frame
	sttSess.EmitPartial(types.Transcript{Text: "hello there"})
	sttSess.EmitFinal(types.Transcript{Text: "hello there."})
	input.Ch <- frame
	input.Ch <- frame

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		recs := a.Recorder().Snapshot()
		if len(recs) == 1 && output.WrittenCount() == 2 {
			if recs[0].Interrupted || recs[0].Failed {
				t.Fatalf("turn record = %+v, want clean completion", recs[0])
			}
			if len(sttSess.SentAudio()) != 4 {
				t.Errorf("stt received %d chunks, want 4", len(sttSess.SentAudio()))
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("pipeline did not complete: records=%d frames=%d",
		len(a.Recorder().Snapshot()), output.WrittenCount())
}

func TestShutdown_ClosesMediaStreams(t *testing.T) {
	input := audiomock.NewInputSource(1)
	output := &audiomock.OutputStream{}
	providers := &Providers{
		LLM:    &llmmock.Provider{},
		STT:    &sttmock.Provider{},
		VAD:    &vadmock.Engine{},
		Input:  input,
		Output: output,
	}

	a, err := New(context.Background(), testConfig(), providers, WithMeterProvider(testMeterProvider()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case _, ok := <-input.Ch:
		if ok {
			t.Error("input channel delivered a frame after Close")
		}
	default:
		t.Error("input channel not closed")
	}
	// A second Shutdown is a no-op.
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}
