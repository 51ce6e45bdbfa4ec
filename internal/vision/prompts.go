package vision

import (
	"fmt"
	"strings"

	"northstar/api/internal/genai"
	"northstar/api/internal/store"
)

// Questions is the fixed ten-question interview, in order.
var Questions = [store.QuestionCount]string{
	"What business segment are you in?",
	"What does your company do?",
	"What kind of business is this segment really a business of?",
	"Who is your company's target audience?",
	"Where do you see your company in 3 to 5 years?",
	"What direction do you want to point your efforts toward?",
	"How will you measure your company's success?",
	"If your company made the cover of Forbes, what would the story be?",
	"When you picture your company reaching its vision, what image comes to mind?",
	"Across your answers, which keywords repeat and carry the most meaning?",
}

// contextLabels are the short per-question labels used when assembling the
// analysis input.
var contextLabels = [store.QuestionCount]string{
	"Business segment",
	"What the company does",
	"Nature of the business",
	"Target audience",
	"3-5 year outlook",
	"Direction of effort",
	"Success metrics",
	"Forbes cover story",
	"Mental image of the future",
	"Recurring keywords",
}

const analyzeSystemPrompt = `You are an expert in organizational culture and strategic planning, focused on writing COMPANY VISION STATEMENTS.

A vision statement describes the DESTINATION a company wants to reach, never WHAT it does or HOW it operates. It comes in two forms:

1. INSPIRATIONAL: no metrics, written to inspire and give direction.
   Examples: Amazon "To be Earth's most customer-centric company";
   Harvard "To be the reference in education for leaders worldwide, for the benefit of humanity".
2. MEASURABLE: carries a quantifiable target and usually a deadline.
   Example: "Bring health and beauty to 1MM people by 2025".

Mandatory rules for each statement:
- Focus on WHERE the company wants to go, never on products, services or processes.
- 8 to 14 words total, at most 2 lines.
- Professional, inspiring, strategic tone.

Analysis process:
1. Identify words that repeat across all ten answers; repetition reveals what matters most strategically.
2. The keywords from question 10 are CRITICAL: use as many as possible, allowing natural grammatical adaptation (singular/plural, verb/noun, tense).
3. The mental image from question 9 sets the emotional tone of the vision.
4. Decide whether the company positions as a specialist (niche) or a generalist, and reflect that.

Return a pure JSON object (no markdown) with:
- "vision_inspirational": string (8-14 words, no metrics)
- "vision_measurable": string (8-14 words, with a quantifiable target)
- "keywords": array with every keyword from question 10
- "insights": array of 2-3 short insights on the strategic profile
- "notes": string with one concise note on the identified positioning`

const rewriteSystemPrompt = `You are an expert in company vision statements. Return pure JSON only.`

// buildAnalyzeRequest assembles the analysis input from the ten answers,
// order-preserving, one line per question.
func buildAnalyzeRequest(answers []store.Answer) genai.Request {
	var b strings.Builder
	b.WriteString("# CLIENT ANSWERS:\n\n")
	for _, answer := range answers {
		label := ""
		if answer.QuestionNumber >= 1 && answer.QuestionNumber <= store.QuestionCount {
			label = contextLabels[answer.QuestionNumber-1]
		}
		fmt.Fprintf(&b, "%d. %s: %s\n", answer.QuestionNumber, label, answer.AnswerText)
	}
	b.WriteString("\n# ADDITIONAL INSTRUCTIONS:\n")
	b.WriteString("- Pay special attention to words that repeat across the answers above\n")
	b.WriteString("- The keywords from question 10 must be PRIORITIZED in the vision statements\n")
	b.WriteString("- The mental image from question 9 should inspire the emotional tone\n")
	b.WriteString("- Identify the strategic positioning (specialist vs generalist)\n\n")
	b.WriteString("Now, based on this information, write the two vision statements (inspirational and measurable).")

	return genai.Request{
		System:      analyzeSystemPrompt,
		User:        b.String(),
		Temperature: 0.7,
	}
}

// buildRewriteRequest builds the mode-specific instruction referencing the
// CURRENT vision pair of the latest analysis, not the original one.
func buildRewriteRequest(mode RewriteMode, analysis store.Analysis) (genai.Request, error) {
	var user string
	switch mode {
	case ModeShorter:
		user = fmt.Sprintf(`Rewrite the following vision statements to be SHORTER (max 8-10 words each):

Inspirational: %s
Measurable: %s

Return JSON:
{
  "vision_inspirational": "shorter version",
  "vision_measurable": "shorter version"
}`, analysis.VisionInspirational, analysis.VisionMeasurable)
	case ModeMoreOptions:
		user = fmt.Sprintf(`Write 3 VARIATIONS of each vision statement below (keep the essence and keywords):

Original inspirational: %s
Original measurable: %s

Return JSON:
{
  "vision_inspirational": "best inspirational variation",
  "vision_measurable": "best measurable variation",
  "variations": {
    "inspirational": ["var1", "var2", "var3"],
    "measurable": ["var1", "var2", "var3"]
  }
}`, analysis.VisionInspirational, analysis.VisionMeasurable)
	case ModeShorterTerm:
		user = fmt.Sprintf(`Adapt the vision statements below to the SHORT TERM (1-2 years):

Inspirational: %s
Measurable: %s

Return JSON:
{
  "vision_inspirational": "short-term version",
  "vision_measurable": "short-term version"
}`, analysis.VisionInspirational, analysis.VisionMeasurable)
	default:
		return genai.Request{}, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}

	return genai.Request{System: rewriteSystemPrompt, User: user}, nil
}
