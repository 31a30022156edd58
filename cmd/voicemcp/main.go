// voicemcp is an MCP stdio server exposing voice input as a tool. An
// assistant CLI configured with it can ask the running voice server for a
// spoken answer: the tool opens a voice request, the user records in the
// browser UI, and the transcript comes back as the tool result.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/weber8thomas/claude-hands-free/internal/mcptool"
)

const (
	defaultTimeoutSeconds = 60
	maxTimeoutSeconds     = 300
)

type voiceInput struct {
	Language       string `json:"language,omitempty" jsonschema:"language code for transcription (fr, en, es, de, it)"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" jsonschema:"maximum seconds to wait for the user to answer"`
}

type voiceOutput struct {
	Transcript string `json:"transcript"`
}

func main() {
	_ = godotenv.Load()

	baseURL := os.Getenv("VOICE_SERVER_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	client := mcptool.NewClient(baseURL)

	server := mcp.NewServer(&mcp.Implementation{Name: "voice-input", Version: "v1.0.0"}, nil)
	mcp.AddTool(server, &mcp.Tool{
		Name: "get_voice_input",
		Description: "Ask the user a question by voice and wait for their spoken answer. " +
			"The user records in their browser; the recording is transcribed and " +
			"returned as text. Pass a language code to override the default.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in voiceInput) (*mcp.CallToolResult, voiceOutput, error) {
		timeout := time.Duration(in.TimeoutSeconds) * time.Second
		if in.TimeoutSeconds <= 0 {
			timeout = defaultTimeoutSeconds * time.Second
		} else if in.TimeoutSeconds > maxTimeoutSeconds {
			timeout = maxTimeoutSeconds * time.Second
		}

		// Leave the poller a margin beyond the request's own window so the
		// server-side timeout is the one that surfaces.
		ctx, cancel := context.WithTimeout(ctx, timeout+10*time.Second)
		defer cancel()

		transcript, err := client.GetVoiceInput(ctx, in.Language, timeout)
		switch {
		case errors.Is(err, mcptool.ErrTimedOut), errors.Is(err, context.DeadlineExceeded):
			return textResult("Voice input timed out: the user did not answer in time."), voiceOutput{}, nil
		case err != nil:
			return textResult(fmt.Sprintf("Voice input failed: %v", err)), voiceOutput{}, nil
		case transcript == "":
			return textResult("The user submitted a recording with no detectable speech."), voiceOutput{}, nil
		}
		return textResult(fmt.Sprintf("Voice input received: %q", transcript)), voiceOutput{Transcript: transcript}, nil
	})

	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		log.Fatalf("mcp server: %v", err)
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}
