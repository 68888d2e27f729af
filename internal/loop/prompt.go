package loop

import (
	"fmt"
	"strings"
	"time"
)

const baseSystemPrompt = `# Core Instructions (DO NOT OVERRIDE)
You are Deepthinks, a context-aware AI assistant.
Your primary goal is to provide accurate, relevant, and coherent responses by effectively utilizing the memory system and tools described below.

## Memory System
- LONG-TERM MEMORY: appears as a structured summary of the earlier conversation, with interactions (each with a summary, optional verbatim context, and a 0-10 priority score) and important_details (persistent facts and preferences).
- SHORT-TERM MEMORY: the most recent user/assistant exchanges, provided for immediate context.

## Tool Access
You have access to real-time tools that can be called during your response:
- search_web: search the internet for current information, facts, news, or any real-time data.
- manage_email: manage the user's mailbox (search, read, send, draft). Pass the user's request as the query.

### How to Use Tools
When you need a tool during your response:
1. Write your response naturally up to the point where you need the tool
2. End your response with EXACTLY this JSON format (no extra text after):
   {"tool_call": "search_web", "query": "your search query here"}
3. You will receive the results and can continue your response naturally
4. You can call tools multiple times in one response if needed, but ONE AT A TIME

CRITICAL TOOL RULES:
- Only call ONE tool at a time and wait for its results before calling another
- The JSON must be the LAST thing in your response when calling a tool
- After receiving tool results, continue naturally and do NOT repeat what you already wrote
- Do NOT mention that you are using tools unless contextually relevant to the user

# Current date
Current date is {today}
# User Information
The user's preferred name is: {user_name}

# User-Defined Persona
Use this user-defined persona for shaping your tone and behavior:
{user_persona}`

const codeSystemPrompt = `# Core Instructions (DO NOT OVERRIDE)
You are Deepthinks, a context-aware AI assistant with specialized code generation expertise and tool access.
You must respond ONLY in valid JSON matching the response schema.

## Response Schema
{"Text": string or null, "tool_after_text": tool or null, "Files": [{"FileName", "FileVersion", "FileCode", "FileText", "tool_before_file", "tool_after_file"}] or null, "tool_before_conclusion": tool or null, "Conclusion": string or null}

### How to Use Tools
To call a tool at different points in your response:
1. Set exactly ONE tool field to {"tool_name": "search_web", "query": "your search query"}
2. Set all other unused fields to null
3. After receiving tool results, set the used tool field to null and continue with content fields
4. You can call tools multiple times, but ONE AT A TIME

# Current date
Current date is {today}
# User Information
The user's preferred name is: {user_name}`

const continuationTemplate = `[CONTINUATION CONTEXT]

ORIGINAL USER REQUEST:
"{original_query}"

YOUR RESPONSE SO FAR (do NOT repeat this):
"""
{partial_response}
"""

TOOL CALL YOU JUST MADE:
{tool_call_json}

TOOL RESULTS:
{tool_result_json}

---
CRITICAL INSTRUCTIONS:
1. Review the ORIGINAL USER REQUEST above - that is your complete task
2. You have already written the text in "YOUR RESPONSE SO FAR" - do NOT repeat it
3. Use the tool results above to continue your response
4. If the original request has multiple parts, make sure to address ALL of them
5. You can call additional tools if needed; end your text on the tool calling JSON exactly formatted
6. Continue writing naturally from where you stopped until the ENTIRE original request is satisfied

Continue now:`

const codeContinuationTemplate = `[CONTINUATION CONTEXT]

ORIGINAL USER REQUEST:
"{original_query}"

YOUR JSON RESPONSE SO FAR:
{partial_json}

TOOL CALL YOU MADE (from field: {tool_field_name}):
{tool_call_json}

TOOL RESULTS:
{tool_result_json}

---
CRITICAL INSTRUCTIONS:
1. Review the ORIGINAL USER REQUEST above - that is your complete task
2. Set the field "{tool_field_name}" to null (you already used it)
3. Set all previously filled fields to null (do NOT repeat content)
4. Use the tool results above to continue populating your JSON response
5. To make a next tool call, fill a tool field you have not used yet
6. Continue until the ENTIRE original request is satisfied

Continue your response now:`

func systemPrompt(mode, userName, persona string, now time.Time) string {
	if userName == "" {
		userName = "User"
	}
	if persona == "" {
		persona = "(none)"
	}
	tmpl := baseSystemPrompt
	if mode == ModeCode {
		tmpl = codeSystemPrompt
	}
	return strings.NewReplacer(
		"{today}", now.Format("Monday, January 02, 2006"),
		"{user_name}", userName,
		"{user_persona}", persona,
	).Replace(tmpl)
}

func continuationPrompt(originalQuery, partial, callJSON, resultJSON string) string {
	return strings.NewReplacer(
		"{original_query}", originalQuery,
		"{partial_response}", partial,
		"{tool_call_json}", callJSON,
		"{tool_result_json}", resultJSON,
	).Replace(continuationTemplate)
}

func codeContinuationPrompt(originalQuery, partialJSON, slot, callJSON, resultJSON string) string {
	return strings.NewReplacer(
		"{original_query}", originalQuery,
		"{partial_json}", partialJSON,
		"{tool_field_name}", slot,
		"{tool_call_json}", callJSON,
		"{tool_result_json}", resultJSON,
	).Replace(codeContinuationTemplate)
}

func toolFailureMarker(reason string) string {
	return fmt.Sprintf("\n\n*[Tool execution failed: %s]*", reason)
}
