// voicepipe is a one-shot voice pipeline: a WAV recording goes through
// transcription, one assistant CLI turn, and speech synthesis, landing in
// an output WAV. Useful for scripting and for exercising the speech
// backends without the server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/weber8thomas/claude-hands-free/internal/audio"
	"github.com/weber8thomas/claude-hands-free/internal/bridge"
	"github.com/weber8thomas/claude-hands-free/internal/config"
	"github.com/weber8thomas/claude-hands-free/internal/wyoming"
)

func main() {
	_ = godotenv.Load()

	var (
		output   = flag.String("o", "response.wav", "output WAV path for the spoken reply")
		language = flag.String("lang", "", "transcription language override")
		textOnly = flag.Bool("text-only", false, "print the reply without synthesizing speech")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <input.wav>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	lang := cfg.DefaultLanguage
	if *language != "" {
		lang = *language
	}

	wav, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		log.Fatalf("read input: %v", err)
	}
	pcm, rate, err := audio.DecodeWAVPCM16LE(wav)
	if err != nil {
		log.Fatalf("decode input: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.TurnTimeout+time.Minute)
	defer cancel()

	log.Printf("transcribing %d bytes of PCM at %d Hz", len(pcm), rate)
	transcriber := wyoming.NewTranscriber(cfg.WhisperHost, cfg.WhisperPort, lang, cfg.WyomingDialTimeout)
	transcript, err := transcriber.Transcribe(ctx, pcm, rate, lang)
	if err != nil {
		log.Fatalf("transcription failed: %v", err)
	}
	if transcript == "" {
		log.Fatal("no speech detected in the recording")
	}
	fmt.Printf("you: %s\n", transcript)

	br := bridge.New(bridge.Command{
		Path: cfg.AssistantCLIPath,
		Args: cfg.AssistantCLIArgs,
	}, bridge.CompletionPolicy{
		SentinelPrefix: cfg.PromptMarker,
		Quiescence:     cfg.TurnQuiescence,
		MaxTurn:        cfg.TurnTimeout,
	})
	defer br.Close()

	res, err := br.SendTurn(ctx, transcript)
	if err != nil {
		log.Fatalf("assistant turn failed: %v", err)
	}
	fmt.Printf("assistant: %s\n", res.Reply)

	if *textOnly || res.Reply == "" {
		return
	}

	synth := wyoming.NewSynthesizer(cfg.PiperHost, cfg.PiperPort, cfg.WyomingDialTimeout)
	replyPCM, replyRate, err := synth.Synthesize(ctx, res.Reply)
	if err != nil {
		log.Fatalf("synthesis failed: %v", err)
	}
	if err := audio.WriteWAVPCM16LEFile(*output, replyPCM, replyRate); err != nil {
		log.Fatalf("write output: %v", err)
	}
	log.Printf("spoken reply written to %s", *output)
}
