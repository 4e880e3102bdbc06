package reply

import (
	"regexp"
	"strings"
)

// Sentiment classes
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
)

var positiveKeywords = compileKeywords(
	"interested", "yes", "sounds good", "sounds great", "let's talk", "lets talk",
	"schedule", "call", "meeting", "love to", "tell me more", "available",
	"sure", "perfect", "great", "demo", "pricing",
)

// Negative phrases are matched and removed first so "not interested" does not
// also count as "interested".
var negativeKeywords = compileKeywords(
	"not interested", "no thanks", "no thank you", "unsubscribe", "remove me",
	"stop emailing", "stop", "don't contact", "do not contact", "not a good fit",
	"no longer", "spam", "never", "not now",
)

func compileKeywords(words ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(words))
	for i, w := range words {
		out[i] = regexp.MustCompile(`\b` + regexp.QuoteMeta(w) + `\b`)
	}
	return out
}

// ClassifySentiment counts keyword hits on each side; the larger side wins and
// ties, including no hits at all, are neutral.
func ClassifySentiment(text string) string {
	lower := strings.ToLower(text)

	negative := 0
	for _, re := range negativeKeywords {
		if re.MatchString(lower) {
			negative++
			lower = re.ReplaceAllString(lower, " ")
		}
	}
	positive := 0
	for _, re := range positiveKeywords {
		if re.MatchString(lower) {
			positive++
		}
	}

	switch {
	case positive > negative:
		return SentimentPositive
	case negative > positive:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}
