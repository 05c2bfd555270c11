package usecase

// EstimateTokens approximates token usage as one token per four bytes of
// text, rounded up. Good enough for usage accounting; exact tokenization is
// an upstream implementation detail we cannot observe.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + 3) / 4
}
