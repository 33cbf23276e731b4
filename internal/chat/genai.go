package chat

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/iliyamo/community-gate/internal/command"
)

const systemPrompt = `You are the assistant of a gated community visitor desk.
You can approve, deny, check in, check out and list visitors by calling the provided functions.
Only call a function when the user clearly asks for that action and you know the visitor id.
Answer briefly.`

// GenAICompleter implements Completer with the Gemini API.
type GenAICompleter struct {
	client *genai.Client
	model  string
}

// NewGenAICompleter creates a client for the Gemini API.
func NewGenAICompleter(ctx context.Context, apiKey, model string) (*GenAICompleter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GenAICompleter{client: client, model: model}, nil
}

// Plan asks the model for a reply or a function call.
func (g *GenAICompleter) Plan(ctx context.Context, history []Turn, message string) (string, *ToolCall, error) {
	contents := append(toContents(history), genai.NewContentFromText(message, genai.RoleUser))
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Tools:             []*genai.Tool{{FunctionDeclarations: ToolDeclarations()}},
	})
	if err != nil {
		return "", nil, fmt.Errorf("GenAI generate failed: %w", err)
	}
	if calls := resp.FunctionCalls(); len(calls) > 0 {
		return "", &ToolCall{Name: calls[0].Name, Args: calls[0].Args}, nil
	}
	return resp.Text(), nil, nil
}

// Summarize sends the function result back so the model can phrase it.
func (g *GenAICompleter) Summarize(ctx context.Context, history []Turn, message string, call ToolCall, outcome string) (string, error) {
	contents := append(toContents(history),
		genai.NewContentFromText(message, genai.RoleUser),
		genai.NewContentFromParts([]*genai.Part{genai.NewPartFromFunctionCall(call.Name, call.Args)}, genai.RoleModel),
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromFunctionResponse(call.Name, map[string]any{"output": outcome}),
		}, genai.RoleUser),
	)
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
	})
	if err != nil {
		return "", fmt.Errorf("GenAI summarize failed: %w", err)
	}
	return resp.Text(), nil
}

func toContents(history []Turn) []*genai.Content {
	out := make([]*genai.Content, 0, len(history)+3)
	for _, t := range history {
		var role genai.Role = genai.RoleUser
		if t.Role == RoleAssistant {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(t.Content, role))
	}
	return out
}

// ToolDeclarations describes the command intents as model functions.
func ToolDeclarations() []*genai.FunctionDeclaration {
	visitorID := &genai.Schema{Type: genai.TypeString, Description: "The visitor id"}
	byID := func(desc string) *genai.Schema {
		return &genai.Schema{
			Type:        genai.TypeObject,
			Description: desc,
			Properties:  map[string]*genai.Schema{"visitorId": visitorID},
			Required:    []string{"visitorId"},
		}
	}
	return []*genai.FunctionDeclaration{
		{Name: string(command.IntentApprove), Description: "Approve a pending visitor (admins only).", Parameters: byID("Visitor to approve")},
		{
			Name:        string(command.IntentDeny),
			Description: "Deny a pending visitor (admins only).",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"visitorId": visitorID,
					"reason":    {Type: genai.TypeString, Description: "Why the visitor is denied"},
				},
				Required: []string{"visitorId"},
			},
		},
		{Name: string(command.IntentCheckIn), Description: "Check in an approved visitor at the gate.", Parameters: byID("Visitor to check in")},
		{Name: string(command.IntentCheckOut), Description: "Check out a visitor who is inside.", Parameters: byID("Visitor to check out")},
		{
			Name:        string(command.IntentList),
			Description: "List visitors, optionally filtered by status.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"status": {
						Type: genai.TypeString,
						Enum: []string{"all", "pending", "approved", "denied", "checked_in", "checked_out"},
					},
				},
			},
		},
	}
}
