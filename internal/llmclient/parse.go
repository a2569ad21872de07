// internal/llmclient/parse.go
package llmclient

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xkilldash9x/cua-tester/api/schemas"
)

// wireAction is the union of every field a computer_call action may carry.
type wireAction struct {
	Type    string          `json:"type"`
	Button  string          `json:"button"`
	X       int             `json:"x"`
	Y       int             `json:"y"`
	Path    []schemas.Point `json:"path"`
	Keys    []string        `json:"keys"`
	Text    string          `json:"text"`
	ScrollX int             `json:"scroll_x"`
	ScrollY int             `json:"scroll_y"`
}

// ParseNextAction extracts the prescribed action from a reply. Reasoning
// summaries and assistant text are collected from every item; the first
// computer or function call wins when the reply holds more than one.
func ParseNextAction(resp *Response) (*schemas.NextAction, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: nil response", ErrNoAction)
	}

	next := &schemas.NextAction{ResponseID: resp.ID}
	var messages []string
	found := false

	for _, item := range resp.Output {
		switch item.Type {
		case ItemReasoning:
			for _, part := range item.Summary {
				if part.Text != "" {
					next.Reasoning = append(next.Reasoning, part.Text)
				}
			}
		case ItemMessage:
			for _, part := range item.Content {
				if part.Text != "" {
					messages = append(messages, part.Text)
				}
			}
		case ItemComputerCall:
			if found {
				continue
			}
			action, err := decodeComputerAction(item.Action)
			if err != nil {
				return nil, fmt.Errorf("computer call %s: %w", item.CallID, err)
			}
			next.CallID = item.CallID
			next.Action = action
			for _, sc := range item.PendingSafetyChecks {
				next.PendingSafetyChecks = append(next.PendingSafetyChecks, schemas.SafetyCheck(sc))
			}
			found = true
		case ItemFunctionCall:
			if found {
				continue
			}
			if item.Name != MarkDoneFunction {
				return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, item.Name)
			}
			next.CallID = item.CallID
			next.Action = schemas.MarkDone{Arguments: item.Arguments}
			found = true
		}
	}

	next.Message = strings.Join(messages, "\n")
	if !found {
		return nil, fmt.Errorf("%w (response %s)", ErrNoAction, resp.ID)
	}
	if next.CallID == "" {
		return nil, fmt.Errorf("%w: call without call_id", ErrNoAction)
	}
	return next, nil
}

func decodeComputerAction(raw json.RawMessage) (schemas.Action, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: missing action", ErrUnknownAction)
	}
	var w wireAction
	if err := codec.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("failed to decode action: %w", err)
	}

	switch schemas.ActionKind(w.Type) {
	case schemas.KindClick:
		button := schemas.MouseButton(w.Button)
		if button == "" {
			button = schemas.ButtonLeft
		}
		return schemas.ClickAction{Button: button, X: w.X, Y: w.Y}, nil
	case schemas.KindDoubleClick:
		return schemas.DoubleClickAction{X: w.X, Y: w.Y}, nil
	case schemas.KindDrag:
		return schemas.DragAction{Path: w.Path}, nil
	case schemas.KindMove:
		return schemas.MoveAction{X: w.X, Y: w.Y}, nil
	case schemas.KindType:
		return schemas.TypeAction{Text: w.Text}, nil
	case schemas.KindKeypress:
		return schemas.KeypressAction{Keys: w.Keys}, nil
	case schemas.KindScroll:
		return schemas.ScrollAction{X: w.X, Y: w.Y, ScrollX: w.ScrollX, ScrollY: w.ScrollY}, nil
	case schemas.KindWait:
		return schemas.WaitAction{}, nil
	case schemas.KindScreenshot:
		return schemas.ScreenshotAction{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, w.Type)
	}
}
