package adjudicate

import (
	"fmt"
	"strings"
)

// maxPaceSwingSecPerKm is the per-kilometer pace change beyond which a
// split is treated as a recording artifact or manipulation.
const maxPaceSwingSecPerKm = 90

// Rules builds the rule document sent with every adjudication request.
// The response-format contract at the end is prompt-level only; the
// verdict parser enforces it independently.
func Rules(distanceMeters int64) string {
	var b strings.Builder

	b.WriteString(`You are judging a two-person running challenge on Strava. You will
receive two activity screenshots, each preceded by a line naming its
activity ID. Apply the following rules exactly.

An activity is INVALID if any of these hold:
- There is no visible indication that heart rate data was recorded.
`)
	fmt.Fprintf(&b, `- Any split shows an abrupt pace change of more than %d seconds per
  kilometer relative to its neighbors, which indicates manipulation or
  a recording artifact.
`, maxPaceSwingSecPerKm)
	b.WriteString(`- The activity type is not a run.
- The page shows Strava's own "flagged" marker on the activity.

If both activities are valid, pick the winner like this:
`)
	if distanceMeters > 0 {
		fmt.Fprintf(&b, `- Normalize both activities to the challenge distance of %d meters
  using average pace scaling: scaled time = recorded time x (%d /
  recorded distance in meters).
`, distanceMeters, distanceMeters)
	} else {
		b.WriteString(`- Normalize both activities to the shorter of the two recorded
  distances using average pace scaling: scaled time = recorded time x
  (shorter distance / recorded distance).
`)
	}
	b.WriteString(`- The lower normalized completion time wins.
- On an exact tie, the activity with the lower average heart rate wins.

If exactly one activity is valid, it wins regardless of time.

If both activities are invalid, there is no winner: set
"winnerActivityId" to null. That is a legitimate outcome, not a
failure.

Reply with a single JSON object in exactly this format and nothing
else. No prose before or after it, no code fences.

{
  "analysis": [{
    "valid": boolean,
    "message": string,
    "activityId": number
  }],
  "winnerActivityId": number or null,
  "analysisOutcome": string
}

"valid" is your verdict on the activity under the rules above.
"message" is a brief summary of your analysis of that activity, in a
sassy and roasty tone, at most 250 characters. "activityId" echoes the
ID you received with that image. "winnerActivityId" is the activity ID
of the winner, or null when neither activity is valid.
"analysisOutcome" explains why the winner won, at most 500 characters.
ALWAYS reply in the JSON format. DO NOT output anything else.`)

	return b.String()
}
