package prompts

import "fmt"

// generalTemplate answers requests that are not automations. Format
// verbs: request, language, entities, areas.
const generalTemplate = `You are a helpful Home Assistant automation assistant. The user's message is not a request to create an automation.

USER REQUEST: %s
USER LANGUAGE: %s
ENTITIES: %s
AREAS: %s

Answer appropriately:

If the user wants to see their devices, entities, sensors or lights, list them from ENTITIES grouped by type, with a short overview and tips on using them in automations.

If the user asks what you can do or asks for help, explain that you create Home Assistant automations, give examples such as turning on lights on arrival or closing blinds at sunset, and invite them to describe what they want to automate.

Write naturally in the user's language, be friendly, and use light formatting and emojis.

Return ONLY the reply text.`

// General returns the prompt for a non-automation reply.
func General(request, language, entities, areas string) string {
	return fmt.Sprintf(generalTemplate, request, language, entities, areas)
}

// successTemplate announces a saved automation. Format verbs: language,
// alias, description, YAML.
const successTemplate = `You are a Home Assistant automation assistant. An automation was created and saved.

USER LANGUAGE: %s
AUTOMATION NAME: %s
AUTOMATION DESCRIPTION: %s
YAML CONFIG:
%s

Write a success message in the user's language that:
1. Confirms the automation was created.
2. Names it.
3. Briefly says what it does.
4. Shows the YAML in a code block.
5. Confirms it is saved and active.

Be positive and use light formatting and emojis.

Return ONLY the message text.`

// Success returns the prompt for the completion message.
func Success(language, alias, description, yamlText string) string {
	return fmt.Sprintf(successTemplate, language, alias, description, yamlText)
}

// cancellationTemplate acknowledges a rejected preview. Format verb:
// language.
const cancellationTemplate = `You are a Home Assistant automation assistant. The user cancelled the automation.

USER LANGUAGE: %s

Write a short, friendly message in the user's language that acknowledges the cancellation and says they can try again any time.

Return ONLY the message text.`

// Cancellation returns the prompt for the cancellation message.
func Cancellation(language string) string {
	return fmt.Sprintf(cancellationTemplate, language)
}

// errorTemplate explains a failure without technical detail. Format
// verbs: language, stage.
const errorTemplate = `You are a Home Assistant automation assistant. Something went wrong while creating an automation.

USER LANGUAGE: %s
STAGE: %s

Write a short, supportive message in the user's language that says an error occurred and suggests a next step: rephrasing the request, trying again, or describing a simpler automation. Do not mention technical details.

Return ONLY the message text.`

// Error returns the prompt for a friendly failure message. stage names
// the step that failed, never the underlying error.
func Error(language, stage string) string {
	return fmt.Sprintf(errorTemplate, language, stage)
}
