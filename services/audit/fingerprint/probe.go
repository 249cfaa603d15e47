// Copyright (C) 2025 ashzak
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
)

// Prompt is one entry in a probe suite.
type Prompt struct {
	ID   string
	Text string
}

// StandardPrompts is the default probe suite. The mix covers factual
// recall, arithmetic, reasoning, and generation so a quantization or
// model swap shows up in at least one category.
func StandardPrompts() []Prompt {
	return []Prompt{
		{"greeting", "Hello! How are you today?"},
		{"factual", "What is the capital of France?"},
		{"math", "What is 15 + 27?"},
		{"reasoning", "If all cats are animals and some animals are dogs, can we conclude that some cats are dogs?"},
		{"creative", "Write a haiku about programming."},
		{"instruction", "List three benefits of exercise."},
		{"code", "Write a Python function that adds two numbers."},
		{"summarize", "Summarize in one sentence: Machine learning is a subset of artificial intelligence."},
	}
}

const (
	probeModel     = "nim"
	probeMaxTokens = 256
)

// Prober collects fingerprints from a running OpenAI-compatible
// endpoint.
type Prober struct {
	prompts []Prompt
	timeout time.Duration
}

// NewProber builds a prober with the given suite. A nil or empty suite
// uses StandardPrompts. Timeout bounds each individual request.
func NewProber(prompts []Prompt, timeout time.Duration) *Prober {
	if len(prompts) == 0 {
		prompts = StandardPrompts()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Prober{prompts: prompts, timeout: timeout}
}

// Probe runs the prompt suite against the endpoint and assembles a
// record. Per-prompt failures are recorded as error responses rather
// than aborting the run, so a flaky endpoint still yields a comparable
// record with structural gaps visible downstream.
func (p *Prober) Probe(ctx context.Context, reference, endpoint string, env map[string]string) (*Record, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("probe %s: endpoint is required", reference)
	}

	cfg := openai.DefaultConfig("")
	cfg.BaseURL = strings.TrimRight(endpoint, "/") + "/v1"
	client := openai.NewClientWithConfig(cfg)

	record := &Record{
		Reference:     reference,
		FingerprintID: uuid.New().String(),
		GeneratedAt:   time.Now().UTC(),
		EnvConfig:     env,
	}

	var totalLatency float64
	for _, prompt := range p.prompts {
		resp := p.runPrompt(ctx, client, prompt)
		record.Responses = append(record.Responses, resp)
		totalLatency += resp.LatencyMS
		record.TotalTokensIn += resp.TokensIn
		record.TotalTokensOut += resp.TokensOut
	}
	if len(record.Responses) > 0 {
		record.AvgLatencyMS = totalLatency / float64(len(record.Responses))
	}
	return record, nil
}

func (p *Prober) runPrompt(ctx context.Context, client *openai.Client, prompt Prompt) PromptResponse {
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	resp, err := client.CreateChatCompletion(reqCtx, openai.ChatCompletionRequest{
		Model:     probeModel,
		MaxTokens: probeMaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt.Text},
		},
	})
	if err != nil {
		return PromptResponse{
			PromptID: prompt.ID,
			Prompt:   prompt.Text,
			Response: fmt.Sprintf("ERROR: %v", err),
		}
	}

	latency := float64(time.Since(start)) / float64(time.Millisecond)
	content := ""
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}
	return PromptResponse{
		PromptID:     prompt.ID,
		Prompt:       prompt.Text,
		Response:     content,
		TokensIn:     resp.Usage.PromptTokens,
		TokensOut:    resp.Usage.CompletionTokens,
		LatencyMS:    latency,
		ResponseHash: HashResponse(content),
	}
}

// HashResponse returns the short content hash stored alongside each
// response, the first 16 hex digits of the SHA-256.
func HashResponse(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:16]
}
