package chunker

import "strings"

const tokensPerWord = 1.33

// EstimateTokens approximates a subword token count from the word count.
// Placeholder tokens attached to a word do not add words.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return max(int(float64(words)*tokensPerWord), 1)
}
