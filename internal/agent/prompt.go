// internal/agent/prompt.go
package agent

import (
	"fmt"
	"strings"
)

// systemPrompt frames the model as a web application tester.
//
// Unlike a tester that starts behind a login, the model is allowed to
// authenticate when the task instructions ask for it, since the default
// scenario begins with logging in.
const systemPrompt = `You are a testing agent. You will be given a list of instructions with steps to test a web application.
You will need to navigate the web application and perform the actions described in the instructions.
Try to accomplish the provided task in the simplest way possible.
Once you believe you are done with all the tasks required or you are blocked and cannot progress
(for example, you have tried multiple times to accomplish a task but keep getting errors or blocked),
use the mark_done tool to let the user know you have finished the tasks.
Do not authenticate on the user's behalf unless the instructions ask you to; otherwise the user will authenticate and your flow starts after that.`

// BuildSystemPrompt returns the system framing, with platform hints appended
// when envInstructions is non-empty.
func BuildSystemPrompt(envInstructions string) string {
	envInstructions = strings.TrimSpace(envInstructions)
	if envInstructions == "" {
		return systemPrompt
	}
	return systemPrompt + "\n\nEnvironment specific instructions: " + envInstructions
}

// FormatTaskMessage renders the first user turn.
func FormatTaskMessage(taskInstructions, userContext string) string {
	return fmt.Sprintf("INSTRUCTIONS:\n%s\n\nUSER INFO:\n%s", taskInstructions, userContext)
}
