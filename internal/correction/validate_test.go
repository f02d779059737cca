package correction

import (
	"strings"
	"testing"
)

func TestValidateCorrection(t *testing.T) {
	tests := []struct {
		name      string
		original  string
		corrected string
		threshold float64
		wantErr   bool
	}{
		{"identical", "The cat sat.", "The cat sat.", DefaultThreshold, false},
		{"small fix", "The cat saat.", "The cat sat.", DefaultThreshold, false},
		{"empty original rejects", "", "Anything.", DefaultThreshold, true},
		{"complete rewrite rejected", "The cat sat on the mat.", "Unrelated sentence entirely elsewhere.", DefaultThreshold, true},
		{"strict threshold", "abcdefghij", "abcdefghix", 0.05, true},
		{"generous threshold", "abcdefghij", "xxxxxfghij", 0.5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCorrection(tt.original, tt.corrected, tt.threshold)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCorrection() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateCorrections(t *testing.T) {
	t.Run("length mismatch", func(t *testing.T) {
		err := ValidateCorrections([]string{"a"}, []string{"a", "b"}, DefaultThreshold, false)
		if err == nil {
			t.Error("expected error for mismatched lengths")
		}
	})

	t.Run("empty lists pass", func(t *testing.T) {
		if err := ValidateCorrections(nil, nil, DefaultThreshold, false); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("average mode tolerates one outlier", func(t *testing.T) {
		original := []string{
			"The rain fell for days.",
			"Nobody came to the door.",
			"The lamp burned low.",
		}
		corrections := []string{
			"The rain fell for days.",
			"Something else happened here instead.", // far off, but averaged away
			"The lamp burned low.",
		}
		if err := ValidateCorrections(original, corrections, DefaultThreshold, false); err != nil {
			t.Errorf("average mode should pass: %v", err)
		}
	})

	t.Run("all_must_pass rejects the outlier", func(t *testing.T) {
		original := []string{
			"The rain fell for days.",
			"Nobody came to the door.",
		}
		corrections := []string{
			"The rain fell for days.",
			"Something else happened here instead.",
		}
		err := ValidateCorrections(original, corrections, DefaultThreshold, true)
		if err == nil {
			t.Error("expected the outlier to fail in all_must_pass mode")
		}
		if err != nil && !strings.Contains(err.Error(), "correction 1") {
			t.Errorf("error should name the failing index: %v", err)
		}
	})

	t.Run("empty original inside batch rejects", func(t *testing.T) {
		err := ValidateCorrections([]string{"ok", ""}, []string{"ok", "new"}, DefaultThreshold, false)
		if err == nil {
			t.Error("expected error for empty original paragraph")
		}
	})
}
