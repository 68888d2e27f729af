package mailagent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/deepthinks/deepthinks/internal/provider"
)

const decisionSystemPrompt = `You are an email management agent at the decision stage.

Your ONLY job is to analyze the user's query and decide if you need to see the previous conversation history to understand context.

## Examples Needing History:
- "that email" (which email?)
- "the one from yesterday" (which one?)
- "he emailed me" (who is "he"?)
- "reply to it" (reply to what?)
- "forward that to Sarah" (forward what?)

## Examples NOT Needing History:
- "Find emails from john@example.com today"
- "Search for unread emails"
- "Show me emails with subject 'Meeting'"
- "Send email to john@example.com about the report"

## Output Format (ONLY JSON):
{
  "needs_conversation_history": true or false,
  "reasoning": "Brief explanation shown to user (e.g., 'This task is self-contained, no context needed.')"
}
`

const actionSystemPrompt = `You are an autonomous email management agent for {user_name}.

## YOUR IDENTITY
- You are {user_name}'s personal email assistant
- You operate {user_name}'s mailbox: {user_email}
- Today is {current_date} (user's local date), current time {current_time}, timezone {user_timezone}

## AGENTIC LOOP BEHAVIOR
You operate in an iterative loop. Each iteration you MUST output valid JSON with ONE of these actions:
1. Call a function: set "function" to the function name and provide "parameters"
2. Complete the task: set "function" to null (this EXITS the loop)

The loop continues until you set "function": null. Your previous iterations are shown in ITERATION HISTORY in the user message. When the task is complete you MUST set "function": null. Do NOT keep calling functions unnecessarily.

## DATE HANDLING
The user's current local date is {current_date}. Calculate exact dates for relative references:
- "today": date_after {current_date}, date_before {tomorrow_date}
- "yesterday": date_after {yesterday_date}, date_before {current_date}
- "last 3 days": date_after {three_days_ago}
- "last 7 days": date_after {seven_days_ago}
- "this week": date_after {week_start}
date_after is inclusive, date_before is exclusive. For emails on exactly one day, use both.

## MISSING INFORMATION
If critical information is missing, do not guess. Set function to null and ask the user in your reasoning.

## EMAIL COMPOSITION
When composing emails, always sign with the user's actual name: {user_name}. Never use placeholders like "[Your Name]". Include a proper greeting and closing.

## AVAILABLE FUNCTIONS

search_emails(from_addr, to_addr, subject, is_unread, date_after, date_before, query, max_results)
  Search the mailbox. Dates are "YYYY-MM-DD" strings; is_unread true/false/omit; max_results defaults to 10.

read_email(email_id)
  Read the full content of one email by ID from search results.

send_email(to, subject, body)
  Send an email from {user_email}. "to" is REQUIRED; ask if not provided.

create_draft(to, subject, body)
  Create a draft without sending. Same parameters as send_email.

mark_as_read(email_id)
mark_as_unread(email_id)
list_labels()

## OUTPUT FORMAT
Always output valid JSON:
{
  "function": "function_name" or null,
  "parameters": {...} or null,
  "reasoning": "What you're doing (shown to {user_name} in real time)"
}

## REMEMBER
- Calculate exact dates based on {current_date}
- Sign emails with {user_name}'s actual name
- Exit the loop (function: null) when the task is complete or you need user input
- Never hallucinate email content; only report what you actually find
`

// promptContext carries the identity and clock context injected into the
// action prompts.
type promptContext struct {
	CurrentDate  string
	CurrentTime  string
	UserTimezone string
	UserEmail    string
	UserName     string
}

func buildPromptContext(now time.Time, userEmail, userName string) promptContext {
	if userEmail == "" {
		userEmail = "(email not available - ask user if needed)"
	}
	if userName == "" {
		userName = "User"
	}
	return promptContext{
		CurrentDate:  now.Format("2006-01-02"),
		CurrentTime:  now.Format("15:04:05"),
		UserTimezone: "UTC",
		UserEmail:    userEmail,
		UserName:     userName,
	}
}

func actionSystem(pc promptContext) string {
	day, _ := time.Parse("2006-01-02", pc.CurrentDate)
	weekStart := day.AddDate(0, 0, -int((day.Weekday()+6)%7))
	r := strings.NewReplacer(
		"{user_name}", pc.UserName,
		"{user_email}", pc.UserEmail,
		"{current_date}", pc.CurrentDate,
		"{current_time}", pc.CurrentTime,
		"{user_timezone}", pc.UserTimezone,
		"{tomorrow_date}", day.AddDate(0, 0, 1).Format("2006-01-02"),
		"{yesterday_date}", day.AddDate(0, 0, -1).Format("2006-01-02"),
		"{three_days_ago}", day.AddDate(0, 0, -3).Format("2006-01-02"),
		"{seven_days_ago}", day.AddDate(0, 0, -7).Format("2006-01-02"),
		"{week_start}", weekStart.Format("2006-01-02"),
	)
	return r.Replace(actionSystemPrompt)
}

func decisionUserPrompt(query string) string {
	return fmt.Sprintf("USER QUERY:\n%s\n\nTASK:\nAnalyze this query and decide if you need to see the previous conversation history to understand context.\n", query)
}

// actionUserPrompt assembles the scratchpad prompt for one action-loop
// iteration: the original query, optional conversation history, the
// context block, and every prior iteration with its result.
func actionUserPrompt(query string, history []provider.Message, scratchpad []IterationRecord, iteration int, pc promptContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "USER QUERY:\n%s\n\n", query)

	if len(history) > 0 {
		b.WriteString("CONVERSATION HISTORY (for context):\n")
		// Only the most recent messages, truncated, to save tokens.
		start := 0
		if len(history) > 6 {
			start = len(history) - 6
		}
		for _, msg := range history[start:] {
			content := msg.Content
			if len(content) > 500 {
				content = content[:500] + "..."
			}
			fmt.Fprintf(&b, "%s: %s\n", strings.ToUpper(msg.Role), content)
		}
		b.WriteString("\n")
	}

	b.WriteString("YOUR CONTEXT:\n")
	fmt.Fprintf(&b, "- Current date (user's local): %s\n", pc.CurrentDate)
	fmt.Fprintf(&b, "- Current time (user's local): %s\n", pc.CurrentTime)
	fmt.Fprintf(&b, "- User timezone: %s\n", pc.UserTimezone)
	fmt.Fprintf(&b, "- User's email: %s\n", pc.UserEmail)
	fmt.Fprintf(&b, "- User's name: %s\n\n", pc.UserName)

	if len(scratchpad) > 0 {
		b.WriteString("--- ITERATION HISTORY (Your Memory) ---\n\n")
		for _, rec := range scratchpad {
			fmt.Fprintf(&b, "[Iteration %d]\n", rec.Iteration)
			fmt.Fprintf(&b, "Your reasoning: %q\n", rec.Reasoning)
			fmt.Fprintf(&b, "Function called: %s\n", rec.Function)
			fmt.Fprintf(&b, "Parameters: %s\n", compactJSON(rec.Parameters))
			if rec.Result != nil && rec.Result["success"] == false {
				fmt.Fprintf(&b, "Result: ERROR - %v\n", rec.Result["error"])
			} else if rec.Result != nil {
				data, ok := rec.Result["result"]
				if !ok {
					data = rec.Result
				}
				fmt.Fprintf(&b, "Result: %s\n", formatResult(data))
			}
			b.WriteString("\n")
		}
	}

	fmt.Fprintf(&b, "--- CURRENT ITERATION: %d ---\n", iteration)
	b.WriteString("Based on the above context and iteration history, what should you do next?\n")
	b.WriteString("REMEMBER:\n")
	fmt.Fprintf(&b, "- Calculate dates relative to %s\n", pc.CurrentDate)
	fmt.Fprintf(&b, "- Sign emails with: %s\n", pc.UserName)
	b.WriteString("- Set function to null when task is complete or you need user input\n")
	return b.String()
}

// formatResult keeps function results concise in the scratchpad: long
// lists are shown as a count plus a two-item preview.
func formatResult(data any) string {
	if list, ok := data.([]any); ok {
		switch {
		case len(list) == 0:
			return "[] (No results found)"
		case len(list) <= 3:
			return compactJSON(list)
		default:
			return fmt.Sprintf("%d items found. First 2:\n%s", len(list), compactJSON(list[:2]))
		}
	}
	return compactJSON(data)
}

func compactJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}
