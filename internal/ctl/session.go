package ctl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/claude/fitforge/internal/client"
	"github.com/claude/fitforge/internal/models"
	"github.com/claude/fitforge/internal/session"
	"github.com/spf13/cobra"
)

// statusView is what status prints in --json mode.
type statusView struct {
	Offline bool                   `json:"offline"`
	Active  *session.ActiveSession `json:"active,omitempty"`
	Cached  *models.WorkoutSession `json:"cached,omitempty"`
}

func (a *app) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the active workout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, m, err := a.remote()
			if err != nil {
				return err
			}

			active, err := c.Active(ctx, 0)
			switch {
			case client.IsNotFound(err):
				if err := m.Clear(ctx, a.mirrorKey()); err != nil {
					return err
				}
				if a.jsonOut {
					return a.printJSON(statusView{})
				}
				a.printf("No active workout.\n")
				return nil
			case isOffline(err):
				cached, lerr := m.Load(ctx, a.mirrorKey())
				if lerr != nil {
					return lerr
				}
				if a.jsonOut {
					return a.printJSON(statusView{Offline: true, Cached: cached})
				}
				a.printf("Server unreachable (%v).\n", err)
				if cached == nil {
					a.printf("No cached workout.\n")
					return nil
				}
				a.printf("Last known workout:\n")
				a.printSession(cached)
				return nil
			case err != nil:
				return err
			}

			if err := m.Save(ctx, a.mirrorKey(), active.Session); err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(statusView{Active: active})
			}
			a.printSession(active.Session)
			st := active.Staleness
			a.printf("Idle:      %d min (%s, %s)\n", st.IdleMinutes, st.IdleSource, st.WarningLevel)
			if st.ShouldAutoAbandon {
				a.printf("This workout is past the auto-abandon threshold.\n")
			} else if st.NeedsUserDecision {
				a.printf("Resume or abandon it with: fitforgectl resolve <resume|abandon>\n")
			}
			return nil
		},
	}
}

func (a *app) startCommand() *cobra.Command {
	var (
		name            string
		abandonExisting bool
	)
	cmd := &cobra.Command{
		Use:   "start <workout_type>",
		Short: "Start a workout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, m, err := a.remote()
			if err != nil {
				return err
			}
			resp, err := c.Start(ctx, session.StartRequest{
				WorkoutType:     args[0],
				Name:            name,
				AbandonExisting: abandonExisting,
			})
			var ce *client.ConflictError
			if errors.As(err, &ce) {
				if a.jsonOut {
					if jerr := a.printJSON(ce.Decision); jerr != nil {
						return jerr
					}
					return err
				}
				a.printf("Another workout is still open: %s\n", ce.Decision.Reason)
				for _, h := range ce.Decision.Hints {
					a.printf("  - %s\n", h)
				}
				a.printf("Re-run with --abandon-existing, or use: fitforgectl resolve <resume|abandon>\n")
				return err
			}
			if err != nil {
				return err
			}

			if err := m.Save(ctx, a.mirrorKey(), resp.Session); err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(resp)
			}
			if resp.AbandonedSessionID != "" {
				a.printf("Abandoned previous workout %s.\n", resp.AbandonedSessionID)
			}
			a.printf("Started %s workout %s (#%d).\n", args[0], resp.SessionID, resp.LegacyID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name for the workout")
	cmd.Flags().BoolVar(&abandonExisting, "abandon-existing", false, "abandon an open workout instead of stopping")
	return cmd
}

func (a *app) logCommand() *cobra.Command {
	var (
		ref    string
		weight float64
		reps   int
		setNo  int
		rpe    float64
		notes  string
	)
	cmd := &cobra.Command{
		Use:   "log <exercise_id>",
		Short: "Log a set for an exercise in the active workout",
		Long: `Log a set. Without --set the next set number for the exercise is used;
an existing set number replaces that set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, m, err := a.remote()
			if err != nil {
				return err
			}
			cur, err := a.target(ctx, c, ref)
			if err != nil {
				return err
			}
			exerciseID := args[0]
			if setNo == 0 {
				setNo = 1
				if i := cur.ExerciseIndex(exerciseID); i >= 0 {
					setNo = len(cur.Exercises[i].Sets) + 1
				}
			}
			in := session.SetInput{Weight: weight, Reps: reps, Notes: notes}
			if cmd.Flags().Changed("rpe") {
				in.RPE = &rpe
			}

			res, err := c.LogSet(ctx, cur.ID, exerciseID, setNo, in)
			if err != nil {
				return err
			}
			if updated, err := c.Get(ctx, cur.ID); err == nil {
				if err := m.Save(ctx, a.mirrorKey(), updated); err != nil {
					return err
				}
			}
			if a.jsonOut {
				return a.printJSON(res)
			}
			a.printf("%s set %d: %g x %d. Total volume %g.\n", exerciseID, setNo, weight, reps, res.TotalVolume)
			return nil
		},
	}
	cmd.Flags().StringVar(&ref, "session", "", "session id (defaults to the active workout)")
	cmd.Flags().Float64Var(&weight, "weight", 0, "weight lifted")
	cmd.Flags().IntVar(&reps, "reps", 0, "repetitions")
	cmd.Flags().IntVar(&setNo, "set", 0, "set number (1-based)")
	cmd.Flags().Float64Var(&rpe, "rpe", 0, "rate of perceived exertion")
	cmd.Flags().StringVar(&notes, "notes", "", "set notes")
	_ = cmd.MarkFlagRequired("reps")
	return cmd
}

func (a *app) completeCommand() *cobra.Command {
	var (
		ref    string
		rating int
		notes  string
	)
	cmd := &cobra.Command{
		Use:   "complete",
		Short: "Complete the active workout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, m, err := a.remote()
			if err != nil {
				return err
			}
			cur, err := a.target(ctx, c, ref)
			if err != nil {
				return err
			}
			in := session.CompleteInput{Notes: notes}
			if cmd.Flags().Changed("rating") {
				in.Rating = &rating
			}
			sum, err := c.Complete(ctx, cur.ID, in)
			if err != nil {
				return err
			}
			if err := m.Clear(ctx, a.mirrorKey()); err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(sum)
			}
			a.printf("Completed %s workout: %d min, %d sets, volume %g, ~%d kcal.\n",
				sum.WorkoutType, sum.DurationMinutes, sum.CompletedSets, sum.TotalVolume, sum.CaloriesBurned)
			return nil
		},
	}
	cmd.Flags().StringVar(&ref, "session", "", "session id (defaults to the active workout)")
	cmd.Flags().IntVar(&rating, "rating", 0, "rating from 1 to 5")
	cmd.Flags().StringVar(&notes, "notes", "", "workout notes")
	return cmd
}

func (a *app) abandonCommand() *cobra.Command {
	var ref, reason string
	cmd := &cobra.Command{
		Use:   "abandon",
		Short: "Abandon the active workout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, m, err := a.remote()
			if err != nil {
				return err
			}
			cur, err := a.target(ctx, c, ref)
			if err != nil {
				return err
			}
			s, err := c.Abandon(ctx, cur.ID, reason)
			if err != nil {
				return err
			}
			if err := m.Clear(ctx, a.mirrorKey()); err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(s)
			}
			a.printf("Abandoned %s workout %s.\n", s.WorkoutType, s.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&ref, "session", "", "session id (defaults to the active workout)")
	cmd.Flags().StringVar(&reason, "reason", "", "why the workout was abandoned")
	return cmd
}

func (a *app) resolveCommand() *cobra.Command {
	var ref string
	cmd := &cobra.Command{
		Use:       "resolve <resume|abandon>",
		Short:     "Decide what happens to a stale open workout",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{session.ChoiceResume, session.ChoiceAbandon},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, m, err := a.remote()
			if err != nil {
				return err
			}
			cur, err := a.target(ctx, c, ref)
			if err != nil {
				return err
			}
			s, err := c.Resolve(ctx, cur.ID, args[0])
			if err != nil {
				return err
			}
			if err := m.Save(ctx, a.mirrorKey(), s); err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(s)
			}
			a.printf("Workout %s is now %s.\n", s.ID, s.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&ref, "session", "", "session id (defaults to the active workout)")
	return cmd
}

// target returns the session named by ref, or the active one when ref is empty.
func (a *app) target(ctx context.Context, c *client.Client, ref string) (*models.WorkoutSession, error) {
	if ref != "" {
		return c.Get(ctx, ref)
	}
	active, err := c.Active(ctx, 0)
	if client.IsNotFound(err) {
		return nil, errors.New("no active workout; start one with: fitforgectl start <workout_type>")
	}
	if err != nil {
		return nil, err
	}
	return active.Session, nil
}

func (a *app) printSession(s *models.WorkoutSession) {
	a.printf("Workout:   %s (%s)\n", s.WorkoutType, s.ID)
	if s.Name != "" {
		a.printf("Name:      %s\n", s.Name)
	}
	a.printf("Status:    %s\n", s.Status)
	a.printf("Started:   %s\n", s.StartTime.Local().Format(time.RFC3339))
	a.printf("Sets:      %d across %d exercises, volume %g\n", s.CompletedSets(), len(s.Exercises), s.TotalVolume)
	for i, ex := range s.Exercises {
		marker := " "
		if i == s.CurrentExercise {
			marker = ">"
		}
		label := ex.ExerciseID
		if ex.Name != "" {
			label = fmt.Sprintf("%s (%s)", ex.Name, ex.ExerciseID)
		}
		a.printf("  %s %s: %d sets\n", marker, label, len(ex.Sets))
	}
}

// isOffline reports whether err came from the transport rather than a
// server response.
func isOffline(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}
