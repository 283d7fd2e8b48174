// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// OpenAIDriver runs extraction tasks through the OpenAI chat completions
// API in JSON mode. Per prd006-extraction R2.1.
type OpenAIDriver struct {
	Model  string
	client *openai.Client
}

// NewOpenAIDriver creates a driver bound to one model.
func NewOpenAIDriver(apiKey, model string) *OpenAIDriver {
	return &OpenAIDriver{Model: model, client: openai.NewClient(apiKey)}
}

// Extract renders the task prompt and parses the driver's decisions JSON.
func (d *OpenAIDriver) Extract(ctx context.Context, task Task, view string) (TaskResponse, error) {
	prompt, err := renderTaskPrompt(task, view)
	if err != nil {
		return TaskResponse{}, fmt.Errorf("rendering %s prompt: %w", task.Name, err)
	}

	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       d.Model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: task.System},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return TaskResponse{}, fmt.Errorf("calling OpenAI API for task %s: %w", task.Name, err)
	}
	if len(resp.Choices) == 0 {
		return TaskResponse{}, fmt.Errorf("OpenAI API returned no choices for task %s", task.Name)
	}

	var out TaskResponse
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &out); err != nil {
		return TaskResponse{}, fmt.Errorf("parsing %s decisions JSON: %w", task.Name, err)
	}
	return out, nil
}
