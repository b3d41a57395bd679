package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// validateResult is the validate command's output payload.
type validateResult struct {
	Journeys []validatedJourney `json:"journeys"`
}

type validatedJourney struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	WorkspaceID string `json:"workspace_id"`
	Steps       int    `json:"steps"`
}

func (r validateResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d journey(s) valid\n", len(r.Journeys))
	for _, j := range r.Journeys {
		fmt.Fprintf(&b, "  %s (%s): %d step(s), workspace %s\n", j.ID, j.Name, j.Steps, j.WorkspaceID)
	}
	return strings.TrimRight(b.String(), "\n")
}

// NewValidateCommand creates the validate command: it loads journey
// definitions and reports graph problems without touching a database.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <journeys-dir>",
		Short: "Validate journey definitions",
		Long: `Load journey definitions from CUE files and validate their step graphs:
exactly one START step, unique step ids, every destination resolving to
a step in the journey, well-formed windows and durations.

Example:
  waypoint validate ./journeys`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{
				Format:    rootOpts.Format,
				Writer:    cmd.OutOrStdout(),
				ErrWriter: cmd.ErrOrStderr(),
				Verbose:   rootOpts.Verbose,
			}

			journeys, err := LoadJourneys(args[0])
			if err != nil {
				code := ErrCodeInvalid
				var loadErr *LoadError
				if errors.As(err, &loadErr) {
					code = loadErr.Code
				}
				_ = formatter.Error(code, err.Error(), nil)
				return WrapExitError(ExitFailure, "validation failed", err)
			}

			result := validateResult{Journeys: make([]validatedJourney, 0, len(journeys))}
			for _, j := range journeys {
				result.Journeys = append(result.Journeys, validatedJourney{
					ID:          j.ID,
					Name:        j.Name,
					WorkspaceID: j.WorkspaceID,
					Steps:       len(j.Steps),
				})
			}
			return formatter.Success(result)
		},
	}
	return cmd
}
