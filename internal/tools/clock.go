// ABOUTME: current_time tool reporting the date and time in a chosen zone
// ABOUTME: Input schema is reflected from currentTimeInput

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type currentTimeInput struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA time zone name such as Asia/Seoul. Defaults to the bot's zone."`
}

// CurrentTime creates the current_time tool. now is injectable for tests.
func CurrentTime(defaultZone *time.Location, now func() time.Time) *Tool {
	if defaultZone == nil {
		defaultZone = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &Tool{
		Name:        "current_time",
		Description: "Get the current date and time",
		Parameters:  SchemaFor[currentTimeInput](),
		Handler: func(ctx context.Context, input json.RawMessage) (string, error) {
			var in currentTimeInput
			if err := json.Unmarshal(input, &in); err != nil {
				return "", fmt.Errorf("invalid input: %w", err)
			}
			loc := defaultZone
			if in.Timezone != "" {
				l, err := time.LoadLocation(in.Timezone)
				if err != nil {
					return "", fmt.Errorf("unknown time zone %q", in.Timezone)
				}
				loc = l
			}
			t := now().In(loc)
			return fmt.Sprintf("%s (%s)", t.Format(time.RFC3339), t.Format("Monday")), nil
		},
	}
}
