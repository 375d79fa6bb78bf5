package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"google.golang.org/genai"
)

// GeminiProvider implements Provider using the Google Gemini API.
type GeminiProvider struct {
	apiKey         string
	model          string
	thinkingBudget int
}

func NewGeminiProvider(apiKey, model string, thinkingBudget int) *GeminiProvider {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiProvider{
		apiKey:         apiKey,
		model:          model,
		thinkingBudget: thinkingBudget,
	}
}

func (p *GeminiProvider) Name() string {
	if p.thinkingBudget > 0 {
		return fmt.Sprintf("Gemini (%s, thinkingBudget=%d)", p.model, p.thinkingBudget)
	}
	return fmt.Sprintf("Gemini (%s)", p.model)
}

func (p *GeminiProvider) Capabilities() Capabilities {
	return Capabilities{ToolCalls: true, Thinking: p.thinkingBudget > 0}
}

func (p *GeminiProvider) newClient(ctx context.Context) (*genai.Client, error) {
	return genai.NewClient(ctx, &genai.ClientConfig{APIKey: p.apiKey})
}

func (p *GeminiProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		client, err := p.newClient(ctx)
		if err != nil {
			return fmt.Errorf("failed to create gemini client: %w", err)
		}

		system, contents := buildGeminiContents(req.Messages)
		if len(contents) == 0 {
			return fmt.Errorf("no user content provided")
		}

		config := &genai.GenerateContentConfig{}
		if system != "" {
			config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
		}
		if req.Temperature > 0 {
			t := req.Temperature
			config.Temperature = &t
		}
		if req.TopP > 0 {
			tp := req.TopP
			config.TopP = &tp
		}
		if req.MaxOutputTokens > 0 {
			config.MaxOutputTokens = int32(req.MaxOutputTokens)
		}

		budget := p.thinkingBudget
		if req.ThinkingBudget > 0 {
			budget = req.ThinkingBudget
		}
		if budget > 0 {
			b := int32(budget)
			config.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: &b}
		}

		if len(req.Tools) > 0 {
			config.Tools = buildGeminiTools(req.Tools)
			config.ToolConfig = buildGeminiToolConfig(req.ToolChoice)
		}

		var lastResp *genai.GenerateContentResponse
		var lastThoughtSig []byte
		for resp, err := range client.Models.GenerateContentStream(ctx, chooseModel(req.Model, p.model), contents, config) {
			if err != nil {
				return fmt.Errorf("gemini streaming error: %w", err)
			}
			lastResp = resp
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			for _, part := range resp.Candidates[0].Content.Parts {
				if part.Thought {
					if len(part.ThoughtSignature) > 0 {
						lastThoughtSig = part.ThoughtSignature
					}
					if part.Text != "" {
						events <- Event{Type: EventThinkingDelta, Text: part.Text}
					}
					continue
				}
				if part.Text != "" {
					events <- Event{Type: EventTextDelta, Text: part.Text}
				}
				if part.FunctionCall != nil {
					argsJSON, _ := json.Marshal(part.FunctionCall.Args)
					// Gemini 3 thought signatures must ride back with the result.
					thoughtSig := part.ThoughtSignature
					if thoughtSig == nil {
						thoughtSig = lastThoughtSig
					}
					events <- Event{Type: EventToolCall, Tool: &ToolCall{
						ID:         part.FunctionCall.ID,
						Name:       part.FunctionCall.Name,
						Arguments:  json.RawMessage(argsJSON),
						ThoughtSig: thoughtSig,
					}}
				}
			}
		}

		emitGeminiUsage(events, lastResp)
		events <- Event{Type: EventDone}
		return nil
	}), nil
}

func emitGeminiUsage(events chan<- Event, resp *genai.GenerateContentResponse) {
	if resp == nil || resp.UsageMetadata == nil {
		return
	}
	if resp.UsageMetadata.TotalTokenCount > 0 {
		events <- Event{Type: EventUsage, Use: &Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}}
	}
}

func buildGeminiTools(specs []ToolSpec) []*genai.Tool {
	if len(specs) == 0 {
		return nil
	}
	tools := make([]*genai.Tool, 0, len(specs))
	for _, spec := range specs {
		tools = append(tools, &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{geminiFunctionDecl(spec)},
		})
	}
	return tools
}

// geminiFunctionDecl converts a tool spec into a Gemini function declaration.
// The genai schema is built directly from the keywords Gemini accepts; JSON
// Schema keywords it rejects ($schema, format, length and bound constraints,
// additionalProperties) are never read, and the spec's schema map is left
// untouched.
func geminiFunctionDecl(spec ToolSpec) *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        spec.Name,
		Description: spec.Description,
		Parameters:  genaiSchema(spec.Schema),
	}
}

func genaiSchema(node map[string]interface{}) *genai.Schema {
	if node == nil {
		return &genai.Schema{Type: genai.TypeString}
	}

	s := &genai.Schema{Type: genaiType(node["type"])}
	if desc, ok := node["description"].(string); ok {
		s.Description = desc
	}

	if props, ok := node["properties"].(map[string]interface{}); ok && len(props) > 0 {
		s.Properties = make(map[string]*genai.Schema, len(props))
		required := make([]string, 0, len(props))
		for name, raw := range props {
			child, _ := raw.(map[string]interface{})
			s.Properties[name] = genaiSchema(child)
			required = append(required, name)
		}
		// Gemini wants every property marked required, whatever the
		// schema declared.
		sort.Strings(required)
		s.Required = required
	} else {
		s.Required = stringList(node["required"])
	}

	if items, ok := node["items"].(map[string]interface{}); ok {
		s.Items = genaiSchema(items)
	}
	if vals := stringList(node["enum"]); len(vals) > 0 {
		s.Enum = vals
	}
	if alts, ok := node["anyOf"].([]interface{}); ok {
		for _, raw := range alts {
			if alt, ok := raw.(map[string]interface{}); ok {
				s.AnyOf = append(s.AnyOf, genaiSchema(alt))
			}
		}
	}
	return s
}

func genaiType(v interface{}) genai.Type {
	t, _ := v.(string)
	switch t {
	case "object":
		return genai.TypeObject
	case "array":
		return genai.TypeArray
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}

// stringList accepts both decoded-JSON ([]interface{}) and native []string
// shapes for keywords like required and enum.
func stringList(v interface{}) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []interface{}:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func buildGeminiContents(messages []Message) (string, []*genai.Content) {
	var system string
	contents := make([]*genai.Content, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			if text := collectTextParts(msg.Parts); text != "" {
				if system != "" {
					system += "\n\n"
				}
				system += text
			}
		case RoleUser:
			if content := buildGeminiContent(genai.RoleUser, msg.Parts); content != nil {
				contents = append(contents, content)
			}
		case RoleAssistant:
			if content := buildGeminiContent(genai.RoleModel, msg.Parts); content != nil {
				contents = append(contents, content)
			}
		case RoleTool:
			if content := buildGeminiToolResultContent(msg.Parts); content != nil {
				contents = append(contents, content)
			}
		}
	}

	return system, contents
}

func buildGeminiContent(role string, parts []Part) *genai.Content {
	content := &genai.Content{Role: role}
	for _, part := range parts {
		switch part.Type {
		case PartText:
			if part.Text != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: part.Text})
			}
		case PartToolCall:
			if part.ToolCall == nil {
				continue
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					ID:   part.ToolCall.ID,
					Name: part.ToolCall.Name,
					Args: toolArgsToMap(part.ToolCall.Arguments),
				},
				ThoughtSignature: part.ToolCall.ThoughtSig,
			})
		}
	}
	if len(content.Parts) == 0 {
		return nil
	}
	return content
}

func buildGeminiToolResultContent(parts []Part) *genai.Content {
	content := &genai.Content{Role: genai.RoleUser}
	for _, part := range parts {
		switch part.Type {
		case PartText:
			if part.Text != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: part.Text})
			}
		case PartToolResult:
			if part.ToolResult == nil {
				continue
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       part.ToolResult.ID,
					Name:     part.ToolResult.Name,
					Response: map[string]any{"output": part.ToolResult.Content},
				},
				ThoughtSignature: part.ToolResult.ThoughtSig,
			})
		}
	}
	if len(content.Parts) == 0 {
		return nil
	}
	return content
}

func toolArgsToMap(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err == nil {
		return args
	}
	return map[string]any{"_raw": string(raw)}
}

func buildGeminiToolConfig(choice ToolChoice) *genai.ToolConfig {
	mode := genai.FunctionCallingConfigModeAuto
	var allowed []string

	switch choice.Mode {
	case ToolChoiceNone:
		mode = genai.FunctionCallingConfigModeNone
	case ToolChoiceRequired:
		mode = genai.FunctionCallingConfigModeAny
	case ToolChoiceName:
		if choice.Name != "" {
			mode = genai.FunctionCallingConfigModeAny
			allowed = []string{choice.Name}
		}
	}

	return &genai.ToolConfig{
		FunctionCallingConfig: &genai.FunctionCallingConfig{
			Mode:                 mode,
			AllowedFunctionNames: allowed,
		},
	}
}
