package agentloop

import (
	"crypto/sha256"
	"fmt"
)

// executionSignature computes a deterministic signature for a code block
// (language + hash of code).
func executionSignature(language, code string) string {
	h := sha256.Sum256([]byte(code))
	return fmt.Sprintf("%s:%x", language, h[:8])
}

// executionSignatures returns the signatures of the most recent executed
// blocks in chronological order.
func executionSignatures(history []Message, count int) []string {
	var sigs []string
	for i := len(history) - 1; i >= 0 && len(sigs) < count; i-- {
		m := history[i]
		if m.Role == RoleAssistant && m.Executed {
			sigs = append(sigs, executionSignature(m.Language, m.Code))
		}
	}
	for i, j := 0, len(sigs)-1; i < j; i, j = i+1, j-1 {
		sigs[i], sigs[j] = sigs[j], sigs[i]
	}
	return sigs
}

// DetectLoop checks if the last windowSize executed code blocks follow a
// repeating pattern of length 1, 2, or 3.
func DetectLoop(history []Message, windowSize int) bool {
	if windowSize <= 0 {
		return false
	}
	sigs := executionSignatures(history, windowSize)
	if len(sigs) < windowSize {
		return false
	}

	for patternLen := 1; patternLen <= 3; patternLen++ {
		if windowSize%patternLen != 0 {
			continue
		}
		pattern := sigs[:patternLen]
		allMatch := true
		for i := patternLen; i < windowSize && allMatch; i += patternLen {
			for j := 0; j < patternLen; j++ {
				if sigs[i+j] != pattern[j] {
					allMatch = false
					break
				}
			}
		}
		if allMatch {
			return true
		}
	}
	return false
}
