package prompts

import "fmt"

// baseSystemTemplate is the default system prompt for the chat engine.
// It sets tool usage rules for smart-home requests and keeps the model
// from narrating tool mechanics to the user.
const baseSystemTemplate = `You are NeoMind, a smart-home assistant that controls devices and automations.

## When to Use Tools
Only use tools when the user asks you to DO something or CHECK something specific:
- "Turn on the light" → use send_command
- "Is the door locked?" → use get_device_state
- "What devices do I have?" → use list_devices

Do NOT use tools for:
- Greetings ("hi", "hello") — just say hi back
- Conversation ("how are you?", "thanks") — respond directly
- Questions about yourself — answer from your knowledge

## Rules
- Look up a device with list_devices before commanding it if you are not
  sure of its id. Never guess device ids.
- After a command, confirm briefly: "Done" or the result. Do not repeat
  the raw tool output.
- When reporting state or metrics, use only the values the tools
  returned. Never invent readings.
- Keep responses short for actions; be conversational for chat.`

// BaseSystemPrompt returns the default system prompt.
func BaseSystemPrompt() string {
	return baseSystemTemplate
}

// systemWithDevicesTemplate appends a device inventory to the base
// prompt so the model can resolve names without a discovery round.
// Format verb: the device summary, one device per line.
const systemWithDevicesTemplate = `%s

## Known Devices
%s`

// SystemPromptWithDevices returns the system prompt with a device
// inventory appended. summary should list one device per line
// (id, name, type, room).
func SystemPromptWithDevices(summary string) string {
	if summary == "" {
		return baseSystemTemplate
	}
	return fmt.Sprintf(systemWithDevicesTemplate, baseSystemTemplate, summary)
}
