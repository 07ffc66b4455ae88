package verdict

import (
	"errors"
	"strings"
	"testing"

	apperrors "github.com/rplusq/run-judge/internal/platform/errors"
)

var activities = [2]int64{101, 202}

const validOutput = `{
  "analysis": [
    {"valid": true, "message": "steady pace, heart rate recorded", "activityId": 101},
    {"valid": true, "message": "clean effort", "activityId": 202}
  ],
  "winnerActivityId": 202,
  "analysisOutcome": "202 wins at the normalized distance"
}`

func TestParseValidOutput(t *testing.T) {
	v, err := Parse(validOutput, activities)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.HasWinner() || *v.WinnerActivityID != 202 {
		t.Fatalf("expected winner 202, got %+v", v.WinnerActivityID)
	}
	if len(v.Analysis) != 2 {
		t.Fatalf("expected 2 analysis entries, got %d", len(v.Analysis))
	}
}

func TestParseStripsCodeFences(t *testing.T) {
	fenced := "```json\n" + validOutput + "\n```"
	v, err := Parse(fenced, activities)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.HasWinner() {
		t.Fatal("expected winner after fence stripping")
	}
}

func TestParseBareFence(t *testing.T) {
	fenced := "```\n" + validOutput + "\n```"
	if _, err := Parse(fenced, activities); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseNullWinnerBothInvalid(t *testing.T) {
	output := `{
	  "analysis": [
	    {"valid": false, "message": "no heart rate trace", "activityId": 101},
	    {"valid": false, "message": "flagged by the platform", "activityId": 202}
	  ],
	  "winnerActivityId": null,
	  "analysisOutcome": "both activities failed validation, no winner"
	}`
	v, err := Parse(output, activities)
	if err != nil {
		t.Fatalf("both-invalid must parse cleanly: %v", err)
	}
	if v.HasWinner() {
		t.Fatal("expected no winner")
	}
}

func TestParseRejectsProse(t *testing.T) {
	_, err := Parse("I think activity 101 looks better overall.", activities)
	assertMalformed(t, err)
}

func TestParseRejectsTrailingContent(t *testing.T) {
	trailers := []string{
		"\nHope that helps!",
		"\n{\"note\": \"a second object\"}",
		" null",
	}
	for _, trailer := range trailers {
		_, err := Parse(validOutput+trailer, activities)
		if err == nil {
			t.Fatalf("expected error for trailing %q", trailer)
		}
		assertMalformed(t, err)
	}
}

func TestParseRejectsWrongAnalysisCount(t *testing.T) {
	output := `{
	  "analysis": [{"valid": true, "message": "ok", "activityId": 101}],
	  "winnerActivityId": 101,
	  "analysisOutcome": "only one judged"
	}`
	_, err := Parse(output, activities)
	assertMalformed(t, err)
}

func TestParseRejectsUnknownWinner(t *testing.T) {
	output := strings.Replace(validOutput, `"winnerActivityId": 202`, `"winnerActivityId": 999`, 1)
	_, err := Parse(output, activities)
	assertMalformed(t, err)
}

func TestParseRejectsUnknownActivityInAnalysis(t *testing.T) {
	output := strings.Replace(validOutput, `"activityId": 202`, `"activityId": 777`, 1)
	_, err := Parse(output, activities)
	assertMalformed(t, err)
}

func TestParseRejectsInvalidWinner(t *testing.T) {
	output := `{
	  "analysis": [
	    {"valid": true, "message": "ok", "activityId": 101},
	    {"valid": false, "message": "no heart rate", "activityId": 202}
	  ],
	  "winnerActivityId": 202,
	  "analysisOutcome": "winner contradiction"
	}`
	_, err := Parse(output, activities)
	assertMalformed(t, err)
}

func TestParseRejectsMissingOutcome(t *testing.T) {
	output := `{
	  "analysis": [
	    {"valid": true, "message": "ok", "activityId": 101},
	    {"valid": true, "message": "ok", "activityId": 202}
	  ],
	  "winnerActivityId": 101
	}`
	_, err := Parse(output, activities)
	assertMalformed(t, err)
}

func TestParseTruncatesLongStrings(t *testing.T) {
	longMessage := strings.Repeat("x", MaxMessageLen+50)
	longOutcome := strings.Repeat("y", MaxOutcomeLen+50)
	output := `{
	  "analysis": [
	    {"valid": true, "message": "` + longMessage + `", "activityId": 101},
	    {"valid": true, "message": "ok", "activityId": 202}
	  ],
	  "winnerActivityId": 101,
	  "analysisOutcome": "` + longOutcome + `"
	}`
	v, err := Parse(output, activities)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len([]rune(v.Analysis[0].Message)) != MaxMessageLen {
		t.Fatalf("expected message truncated to %d, got %d", MaxMessageLen, len(v.Analysis[0].Message))
	}
	if len([]rune(v.Outcome)) != MaxOutcomeLen {
		t.Fatalf("expected outcome truncated to %d, got %d", MaxOutcomeLen, len(v.Outcome))
	}
}

func assertMalformed(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, apperrors.New(apperrors.CodeModelOutputMalformed, "")) {
		t.Fatalf("expected MODEL_OUTPUT_MALFORMED, got %v", err)
	}
}
