package resolve

// DiceSimilarity computes bigram Dice similarity between two strings: the
// overlap of character 2-grams, each string padded with one boundary space on
// either side. The result is bounded to [0,1]; intersection is a multiset
// intersection so repeated bigrams count.
func DiceSimilarity(a, b string) float64 {
	gramsA := bigrams(a)
	gramsB := bigrams(b)
	if len(gramsA) == 0 || len(gramsB) == 0 {
		return 0
	}

	counts := make(map[string]int, len(gramsA))
	for _, g := range gramsA {
		counts[g]++
	}
	overlap := 0
	for _, g := range gramsB {
		if counts[g] > 0 {
			counts[g]--
			overlap++
		}
	}
	return 2 * float64(overlap) / float64(len(gramsA)+len(gramsB))
}

func bigrams(s string) []string {
	runes := []rune(" " + s + " ")
	if len(runes) < 2 {
		return nil
	}
	grams := make([]string, 0, len(runes)-1)
	for i := 0; i < len(runes)-1; i++ {
		grams = append(grams, string(runes[i:i+2]))
	}
	return grams
}
