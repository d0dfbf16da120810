//
// Tencent is pleased to support the open source community by making trpc-copilot-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-copilot-go is licensed under the Apache License Version 2.0.
//
//

// Package openai implements the provider adapter for OpenAI-compatible chat
// completion APIs, including the DeepSeek variant.
package openai

import (
	"context"
	"fmt"
	"net/http"

	openai "github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"trpc.group/trpc-go/trpc-copilot-go/action"
	"trpc.group/trpc-go/trpc-copilot-go/adapter"
	"trpc.group/trpc-go/trpc-copilot-go/message"
)

// Variant selects provider-specific behavior on top of the shared
// OpenAI-compatible wire protocol.
type Variant string

const (
	// VariantOpenAI is the default OpenAI variant.
	VariantOpenAI Variant = "openai"
	// VariantDeepSeek targets the DeepSeek API, which rejects the
	// developer role.
	VariantDeepSeek Variant = "deepseek"
)

// variantConfig holds configuration for different variants.
type variantConfig struct {
	defaultBaseURL string
	defaultModel   string
	// Providers without developer-role support get those messages
	// rewritten to system before the call.
	rewriteDeveloperRole bool
	temperatureLow       float64
	temperatureHigh      float64
}

var variantConfigs = map[Variant]variantConfig{
	VariantOpenAI: {
		defaultModel:         "gpt-4o",
		rewriteDeveloperRole: false,
		temperatureLow:       0,
		temperatureHigh:      2,
	},
	VariantDeepSeek: {
		defaultBaseURL:       "https://api.deepseek.com/v1",
		defaultModel:         "deepseek-chat",
		rewriteDeveloperRole: true,
		temperatureLow:       0,
		temperatureHigh:      2,
	},
}

type options struct {
	apiKey     string
	baseURL    string
	variant    Variant
	httpClient *http.Client
	tokenLimit int
	clientOpts []openaiopt.RequestOption
}

// Option configures the adapter.
type Option func(*options)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(o *options) {
		o.apiKey = key
	}
}

// WithBaseURL overrides the variant's default API base URL.
func WithBaseURL(url string) Option {
	return func(o *options) {
		o.baseURL = url
	}
}

// WithVariant sets the provider variant. The default is VariantOpenAI.
func WithVariant(v Variant) Option {
	return func(o *options) {
		o.variant = v
	}
}

// WithHTTPClient sets the HTTP client used for provider calls.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithTokenLimit bounds the total approximate tokens sent per call. Zero
// disables trimming.
func WithTokenLimit(n int) Option {
	return func(o *options) {
		o.tokenLimit = n
	}
}

// WithClientOptions appends raw openai-go request options.
func WithClientOptions(opts ...openaiopt.RequestOption) Option {
	return func(o *options) {
		o.clientOpts = append(o.clientOpts, opts...)
	}
}

// Adapter streams chat completions from an OpenAI-compatible provider.
type Adapter struct {
	client     openai.Client
	model      string
	variant    Variant
	config     variantConfig
	tokenLimit int
}

// New creates an adapter for the given default model. An empty model picks
// the variant's default.
func New(model string, opts ...Option) *Adapter {
	o := options{variant: VariantOpenAI}
	for _, opt := range opts {
		opt(&o)
	}
	cfg := variantConfigs[o.variant]
	if model == "" {
		model = cfg.defaultModel
	}

	var clientOpts []openaiopt.RequestOption
	if o.apiKey != "" {
		clientOpts = append(clientOpts, openaiopt.WithAPIKey(o.apiKey))
	}
	baseURL := o.baseURL
	if baseURL == "" {
		baseURL = cfg.defaultBaseURL
	}
	if baseURL != "" {
		clientOpts = append(clientOpts, openaiopt.WithBaseURL(baseURL))
	}
	if o.httpClient != nil {
		clientOpts = append(clientOpts, openaiopt.WithHTTPClient(o.httpClient))
	}
	clientOpts = append(clientOpts, o.clientOpts...)

	return &Adapter{
		client:     openai.NewClient(clientOpts...),
		model:      model,
		variant:    o.variant,
		config:     cfg,
		tokenLimit: o.tokenLimit,
	}
}

// Process implements adapter.Adapter. It shapes the message history, opens
// the streaming call, and decodes each provider chunk into the sink. The
// sink is closed before returning.
func (a *Adapter) Process(ctx context.Context, req adapter.Request) (*adapter.Response, error) {
	defer req.Sink.Close()

	messages := adapter.FilterOrphanResults(req.Messages)
	if a.config.rewriteDeveloperRole {
		messages = adapter.RewriteDeveloperRole(messages)
	}
	if a.tokenLimit > 0 {
		messages = adapter.TrimToBudget(messages, req.Actions, a.tokenLimit)
	}

	model := a.model
	if req.Model != "" {
		model = req.Model
	}
	if req.Forwarded != nil && req.Forwarded.Model != "" {
		model = req.Forwarded.Model
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: convertMessages(messages),
	}
	if tools := convertActions(req.Actions); len(tools) > 0 {
		params.Tools = tools
	}
	a.applyForwarded(&params, req.Forwarded)

	stream := a.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()
	for stream.Next() {
		decoded, ok := decodeChunk(stream.Current())
		if !ok {
			continue
		}
		if req.Sink.Send(decoded, nil) {
			break
		}
	}
	if err := stream.Err(); err != nil {
		err = fmt.Errorf("%s stream: %w", a.variant, err)
		req.Sink.Send(action.Chunk{}, err)
		return nil, err
	}
	return &adapter.Response{ThreadID: req.ThreadID, RunID: req.RunID}, nil
}

// ProviderName implements adapter.Adapter.
func (a *Adapter) ProviderName() string {
	return string(a.variant)
}

// ModelName implements adapter.Adapter.
func (a *Adapter) ModelName() string {
	return a.model
}

// SupportsStreaming implements adapter.Adapter.
func (a *Adapter) SupportsStreaming() bool {
	return true
}

// SupportsFunctionCalling implements adapter.Adapter.
func (a *Adapter) SupportsFunctionCalling() bool {
	return true
}

// convertMessages maps runtime messages onto the provider roles: text keeps
// its role, action executions become assistant tool_calls, results become
// tool messages bound by tool_call_id, images become user image parts.
// Agent-state messages are runtime-internal and are not forwarded.
func convertMessages(messages []message.Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Type {
		case message.TypeText:
			result = append(result, convertText(msg))
		case message.TypeActionExecution:
			result = append(result, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					ToolCalls: []openai.ChatCompletionMessageToolCallParam{{
						ID: msg.ID,
						Function: openai.ChatCompletionMessageToolCallFunctionParam{
							Name:      msg.Name,
							Arguments: msg.ArgumentsJSON(),
						},
					}},
				},
			})
		case message.TypeResult:
			result = append(result, openai.ChatCompletionMessageParamUnion{
				OfTool: &openai.ChatCompletionToolMessageParam{
					ToolCallID: msg.ActionExecutionID,
					Content: openai.ChatCompletionToolMessageParamContentUnion{
						OfString: openai.String(msg.Result),
					},
				},
			})
		case message.TypeImage:
			result = append(result, openai.ChatCompletionMessageParamUnion{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfArrayOfContentParts: []openai.ChatCompletionContentPartUnionParam{{
							OfImageURL: &openai.ChatCompletionContentPartImageParam{
								ImageURL: openai.ChatCompletionContentPartImageImageURLParam{
									URL: "data:image/" + msg.Format + ";base64," + msg.Bytes,
								},
							},
						}},
					},
				},
			})
		}
	}
	return result
}

func convertText(msg message.Message) openai.ChatCompletionMessageParamUnion {
	switch msg.Role {
	case message.RoleSystem:
		return openai.ChatCompletionMessageParamUnion{
			OfSystem: &openai.ChatCompletionSystemMessageParam{
				Content: openai.ChatCompletionSystemMessageParamContentUnion{
					OfString: openai.String(msg.Content),
				},
			},
		}
	case message.RoleDeveloper:
		return openai.ChatCompletionMessageParamUnion{
			OfDeveloper: &openai.ChatCompletionDeveloperMessageParam{
				Content: openai.ChatCompletionDeveloperMessageParamContentUnion{
					OfString: openai.String(msg.Content),
				},
			},
		}
	case message.RoleAssistant:
		return openai.ChatCompletionMessageParamUnion{
			OfAssistant: &openai.ChatCompletionAssistantMessageParam{
				Content: openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(msg.Content),
				},
			},
		}
	default:
		return openai.ChatCompletionMessageParamUnion{
			OfUser: &openai.ChatCompletionUserMessageParam{
				Content: openai.ChatCompletionUserMessageParamContentUnion{
					OfString: openai.String(msg.Content),
				},
			},
		}
	}
}

// convertActions renders the effective action set as provider tools.
func convertActions(actions []*action.Action) []openai.ChatCompletionToolParam {
	var result []openai.ChatCompletionToolParam
	for _, a := range actions {
		if a == nil || a.Name == "" {
			continue
		}
		result = append(result, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        a.Name,
				Description: openai.String(a.Description),
				Parameters:  shared.FunctionParameters(action.ParametersSchema(a.Parameters)),
			},
		})
	}
	return result
}

// applyForwarded folds per-request parameter overrides into the call.
func (a *Adapter) applyForwarded(params *openai.ChatCompletionNewParams, fwd *adapter.ForwardedParameters) {
	if fwd == nil {
		return
	}
	if fwd.Temperature != nil {
		params.Temperature = openai.Float(adapter.ClampTemperature(
			*fwd.Temperature, a.config.temperatureLow, a.config.temperatureHigh))
	}
	if fwd.MaxTokens != nil {
		params.MaxCompletionTokens = openai.Int(*fwd.MaxTokens)
	}
	if len(fwd.Stop) > 0 {
		// Use the first stop string for simplicity.
		params.Stop = openai.ChatCompletionNewParamsStopUnion{
			OfString: openai.String(fwd.Stop[0]),
		}
	}
	if fwd.ParallelToolCalls != nil {
		params.ParallelToolCalls = openai.Bool(*fwd.ParallelToolCalls)
	}
	switch fwd.ToolChoice {
	case adapter.ToolChoiceAuto, adapter.ToolChoiceNone:
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
			OfAuto: openai.String(fwd.ToolChoice),
		}
	case adapter.ToolChoiceFunction:
		if fwd.ToolChoiceFunctionName != "" {
			params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
				OfChatCompletionNamedToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
					Function: openai.ChatCompletionNamedToolChoiceFunctionParam{
						Name: fwd.ToolChoiceFunctionName,
					},
				},
			}
		}
	}
}

// decodeChunk maps one provider chunk onto the pipeline's chunk tuple.
func decodeChunk(chunk openai.ChatCompletionChunk) (action.Chunk, bool) {
	if len(chunk.Choices) == 0 {
		return action.Chunk{}, false
	}
	choice := chunk.Choices[0]
	decoded := action.Chunk{
		ID:           chunk.ID,
		TextDelta:    choice.Delta.Content,
		FinishReason: choice.FinishReason,
	}
	if len(choice.Delta.ToolCalls) > 0 {
		call := choice.Delta.ToolCalls[0]
		decoded.ToolCallID = call.ID
		decoded.ToolCallName = call.Function.Name
		decoded.ArgsDelta = call.Function.Arguments
	}
	if decoded.Empty() {
		return action.Chunk{}, false
	}
	return decoded, true
}
