package understand

import (
	"fmt"
	"sort"
	"strings"
)

// basePrompt is the assistant persona shared by all response languages.
const basePrompt = `You are a smart, clear, and helpful voice assistant.

Your responsibilities are:
- Provide accurate, empathetic, and easy to understand answers using the information provided to you.
- You will receive context from multiple sources:
  * REAL-TIME WEB CONTEXT: current, up-to-date information from live web searches. This is your primary source.
  * Conversation context carrying the previous query and response.

CRITICAL INSTRUCTIONS FOR USING WEB CONTEXT:
- When REAL-TIME WEB CONTEXT is provided, use it directly and confidently to answer questions.
- Extract key details like rates, figures, features, and terms from the web context.
- Present web-sourced information as current facts, not as "according to web results".

When web context is not available or insufficient:
- Politely inform the user that you need more information.
- Never invent information not found in the provided contexts.

RESPONSE LENGTH REQUIREMENT:
- Keep ALL responses under 50 words maximum.
- Be concise and direct while maintaining clarity.

Maintain a clear and customer focused tone in every response. Do not use special characters or emojis in your output.`

// intentSystemPrompt drives the JSON-mode search-intent extraction call.
const intentSystemPrompt = `You are an expert search query optimizer for a voice assistant.

Your responsibilities are:
- Analyze the user's natural language query.
- Convert it into a query optimized for a semantic web search engine.
- Focus on finding authoritative, current sources for the user's topic.

Output MUST be valid JSON in this format:
{
    "original_query": "string",
    "intent": "informational" | "commercial" | "navigational",
    "cleaned_query": "string (optimized for search engine)",
    "search_keywords": ["list", "of", "keywords"]
}`

// hindiEnforcementSystem is the system prompt for the Hindi correction pass.
const hindiEnforcementSystem = "You must respond in pure Hindi (हिंदी) using Devanagari script. Never use English."

// hinglishEnforcementSystem is the system prompt for the Hinglish correction pass.
const hinglishEnforcementSystem = "Respond in Hinglish (Hindi-English mix) as natural for Indian users. Mix languages naturally."

// languageInstruction extends the base prompt with the response-language rule.
func languageInstruction(language string, allowMixed bool) string {
	switch language {
	case LanguageHindi:
		if allowMixed {
			return "\n\nIMPORTANT: Respond primarily in Hindi (हिंदी) but you can use common English words when natural. This mixed style is acceptable and natural for Indian users."
		}
		return "\n\nIMPORTANT: Always respond in pure Hindi (हिंदी में जवाब दें). Use Devanagari script only."
	case LanguageHinglish:
		return "\n\nIMPORTANT: Respond in Hinglish (mix of Hindi and English) as commonly used in India. Use Hindi for basic communication and English for technical terms when natural."
	case LanguageEnglish:
		return "\n\nIMPORTANT: Always respond in English only."
	default:
		return "\n\nIMPORTANT: Respond in the same language style as the user's query. If the user writes Hindi words using English letters, respond in proper Hindi script (Devanagari)."
	}
}

// systemPrompt builds the full system prompt for a response language.
func systemPrompt(language string, allowMixed bool) string {
	return basePrompt + languageInstruction(language, allowMixed)
}

// languageReminder is appended to the user input as a final nudge.
func languageReminder(language string, allowMixed bool) string {
	switch language {
	case LanguageHindi:
		if allowMixed {
			return "\n\n[महत्वपूर्ण: हिंदी में उत्तर दें लेकिन technical terms के लिए English का उपयोग कर सकते हैं]"
		}
		return "\n\n[महत्वपूर्ण: केवल हिंदी में उत्तर दें]"
	case LanguageHinglish:
		return "\n\n[IMPORTANT: Respond in Hinglish (Hindi-English mix) as commonly used in India]"
	case LanguageEnglish:
		return "\n\n[IMPORTANT: Respond in English only]"
	}
	return ""
}

// correctionPrompt asks for a redo of a reply that came back in the wrong
// language. The original web context is passed along so the corrected reply
// stays grounded.
func correctionPrompt(language, userInput, webContext string) string {
	switch language {
	case LanguageHindi:
		return fmt.Sprintf("The user asked in Hindi: %q\nPlease respond in pure Hindi (हिंदी) using Devanagari script only. Do not use English words.\n\nContext information:\n%s", userInput, webContext)
	case LanguageHinglish:
		return fmt.Sprintf("The user asked in Hinglish: %q\nPlease respond in Hinglish (mix of Hindi and English) as commonly used in India.\n\nContext information:\n%s", userInput, webContext)
	}
	return ""
}

// formatInput assembles the final user message: conversation context first,
// then the query, the language reminder, and any web context.
func formatInput(input string, convContext map[string]string, language string, allowMixed bool, webContext string) string {
	var b strings.Builder

	if len(convContext) > 0 {
		keys := make([]string, 0, len(convContext))
		for k := range convContext {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString("Context:\n")
		for _, k := range keys {
			b.WriteString(k)
			b.WriteString(": ")
			b.WriteString(convContext[k])
			b.WriteByte('\n')
		}
		b.WriteString("\nUser Query: ")
	}
	b.WriteString(input)
	b.WriteString(languageReminder(language, allowMixed))
	if webContext != "" {
		b.WriteString(webContext)
	}

	return b.String()
}
