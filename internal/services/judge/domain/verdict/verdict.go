// Package verdict models the structured adjudication outcome and parses
// it out of the reasoning model's raw output.
//
// The model is instructed to reply with a single JSON object and
// nothing else, but that contract is prompt-level only. Parse enforces
// it independently: anything that is not a structurally valid verdict
// for the submitted activities is a MODEL_OUTPUT_MALFORMED failure, and
// a verdict is never fabricated from partial output.
package verdict

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	apperrors "github.com/rplusq/run-judge/internal/platform/errors"
)

const (
	// MaxMessageLen bounds the per-activity analysis message.
	MaxMessageLen = 250
	// MaxOutcomeLen bounds the overall outcome narrative.
	MaxOutcomeLen = 500
)

// ActivityAnalysis is the model's judgment of a single activity.
type ActivityAnalysis struct {
	Valid      bool   `json:"valid"`
	Message    string `json:"message"`
	ActivityID int64  `json:"activityId"`
}

// Verdict is the validated adjudication outcome for one challenge.
// WinnerActivityID is nil only when no valid winner can be declared,
// which is a legitimate terminal outcome rather than an error.
type Verdict struct {
	Analysis         []ActivityAnalysis `json:"analysis"`
	WinnerActivityID *int64             `json:"winnerActivityId"`
	Outcome          string             `json:"analysisOutcome"`
}

// HasWinner reports whether the verdict names a winner.
func (v Verdict) HasWinner() bool {
	return v.WinnerActivityID != nil
}

// Parse extracts a Verdict from raw model output for the given pair of
// submitted activity ids.
func Parse(raw string, activityIDs [2]int64) (Verdict, error) {
	cleaned := StripCodeFences(raw)
	if strings.TrimSpace(cleaned) == "" {
		return Verdict{}, apperrors.New(apperrors.CodeModelOutputMalformed, "model output is empty")
	}

	var v Verdict
	decoder := json.NewDecoder(strings.NewReader(cleaned))
	if err := decoder.Decode(&v); err != nil {
		return Verdict{}, apperrors.Wrap(apperrors.CodeModelOutputMalformed, "model output is not valid JSON", err)
	}
	// Anything after the object, JSON or prose, means the output was
	// not a single object. Only a clean EOF is acceptable.
	var extra json.RawMessage
	if err := decoder.Decode(&extra); !errors.Is(err, io.EOF) {
		return Verdict{}, apperrors.New(apperrors.CodeModelOutputMalformed, "model output contains trailing content after JSON object")
	}

	if err := v.validate(activityIDs); err != nil {
		return Verdict{}, err
	}

	for i := range v.Analysis {
		v.Analysis[i].Message = truncate(v.Analysis[i].Message, MaxMessageLen)
	}
	v.Outcome = truncate(v.Outcome, MaxOutcomeLen)
	return v, nil
}

func (v Verdict) validate(activityIDs [2]int64) error {
	if len(v.Analysis) != len(activityIDs) {
		return apperrors.New(apperrors.CodeModelOutputMalformed,
			fmt.Sprintf("expected %d analysis entries, got %d", len(activityIDs), len(v.Analysis)))
	}
	if strings.TrimSpace(v.Outcome) == "" {
		return apperrors.New(apperrors.CodeModelOutputMalformed, "analysisOutcome is missing")
	}

	seen := make(map[int64]bool, len(activityIDs))
	valid := make(map[int64]bool, len(activityIDs))
	for _, entry := range v.Analysis {
		if entry.ActivityID != activityIDs[0] && entry.ActivityID != activityIDs[1] {
			return apperrors.New(apperrors.CodeModelOutputMalformed,
				fmt.Sprintf("analysis names unknown activity %d", entry.ActivityID))
		}
		if seen[entry.ActivityID] {
			return apperrors.New(apperrors.CodeModelOutputMalformed,
				fmt.Sprintf("analysis repeats activity %d", entry.ActivityID))
		}
		seen[entry.ActivityID] = true
		valid[entry.ActivityID] = entry.Valid
	}

	if v.WinnerActivityID != nil {
		winner := *v.WinnerActivityID
		if !seen[winner] {
			return apperrors.New(apperrors.CodeModelOutputMalformed,
				fmt.Sprintf("winner %d is not a submitted activity", winner))
		}
		if !valid[winner] {
			return apperrors.New(apperrors.CodeModelOutputMalformed,
				fmt.Sprintf("winner %d was judged invalid", winner))
		}
	}
	return nil
}

// StripCodeFences removes surrounding markdown code-fence markup the
// model may add despite instructions.
func StripCodeFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	// Drop an optional language tag on the opening fence line.
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		firstLine := strings.TrimSpace(trimmed[:idx])
		if firstLine == "" || isFenceLanguage(firstLine) {
			trimmed = trimmed[idx+1:]
		}
	}
	trimmed = strings.TrimSpace(trimmed)
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}

func isFenceLanguage(tag string) bool {
	for _, r := range tag {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
