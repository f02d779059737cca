package correction

import "fmt"

// DefaultThreshold is the maximum relative Levenshtein distance a correction
// may have from its original before it is considered a rewrite rather than a
// correction.
const DefaultThreshold = 0.5

// ValidateCorrection checks that corrected is a plausible correction of
// original: non-empty source text and a relative edit distance within the
// threshold.
func ValidateCorrection(original, corrected string, threshold float64) error {
	rel, err := relativeDistance(original, corrected)
	if err != nil {
		return err
	}
	if rel > threshold {
		return fmt.Errorf("correction changes %.0f%% of the text (allowed %.0f%%)", rel*100, threshold*100)
	}
	return nil
}

// ValidateCorrections checks a batch of corrections against their originals.
// Both slices must have the same length. With allMustPass every single
// correction must stay within the threshold; otherwise only the average
// distance is checked.
func ValidateCorrections(original, corrections []string, threshold float64, allMustPass bool) error {
	if len(original) != len(corrections) {
		return fmt.Errorf("original and corrected lists must have the same length")
	}
	if len(original) == 0 {
		return nil
	}

	var total float64
	for i := range original {
		rel, err := relativeDistance(original[i], corrections[i])
		if err != nil {
			return fmt.Errorf("correction %d: %w", i, err)
		}
		if allMustPass && rel > threshold {
			return fmt.Errorf("correction %d changes %.0f%% of the text (allowed %.0f%%)", i, rel*100, threshold*100)
		}
		total += rel
	}

	if avg := total / float64(len(original)); avg > threshold {
		return fmt.Errorf("average correction distance %.0f%% exceeds threshold %.0f%%", avg*100, threshold*100)
	}
	return nil
}

// relativeDistance is the edit distance as a proportion of the original
// length in runes. An empty original rejects any correction.
func relativeDistance(original, corrected string) (float64, error) {
	runes := len([]rune(original))
	if runes == 0 {
		return 0, fmt.Errorf("original paragraph is empty")
	}
	dist := LevenshteinDistance(original, corrected)
	return float64(dist) / float64(runes), nil
}
