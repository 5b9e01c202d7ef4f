package pipeline

import (
	"strings"

	"scanocr/pkg/models"
)

// keepScript returns a copy of res without the tokens that carry letters
// outside script. The text is filtered word by word and keeps its line
// structure. res itself is left untouched.
func keepScript(res *models.RecognitionResult, script models.ScriptID) *models.RecognitionResult {
	if res == nil {
		return nil
	}

	tokens := make([]models.TokenConfidence, 0, len(res.Tokens))
	for _, t := range res.Tokens {
		if models.HasForeignLetters(t.Token, script) {
			continue
		}
		tokens = append(tokens, t)
	}

	lines := strings.Split(res.Text, "\n")
	for i, line := range lines {
		words := strings.Fields(line)
		kept := words[:0]
		for _, w := range words {
			if !models.HasForeignLetters(w, script) {
				kept = append(kept, w)
			}
		}
		lines[i] = strings.Join(kept, " ")
	}

	return &models.RecognitionResult{
		Text:   strings.TrimSpace(strings.Join(lines, "\n")),
		Tokens: tokens,
	}
}
