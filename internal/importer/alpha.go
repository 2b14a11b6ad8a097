package importer

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/claude/fitforge/internal/models"
	"github.com/google/uuid"
)

// Alpha Progression CSV exports look like:
//
//	"Push · Day 1";"2026-02-17 5:04 h";"1:12 hr"
//	"1. Bench Press · Barbell · 6 reps";"WU1 · 22,5 kg · 10 reps<br>WU2 · 47,5 kg · 8 reps"
//	#;KG;REPS;RIR
//	1;102,5;6;0
//
// Sessions are separated by blank lines. Decimals use commas and "+N" marks
// bodyweight plus N kg.
var (
	alphaSessionRe  = regexp.MustCompile(`^"(.+)";"(\d{4}-\d{2}-\d{2}\s+\d+:\d+)\s+h";"(.+)"$`)
	alphaExerciseRe = regexp.MustCompile(`^"(\d+)\.\s+(.+?)(?:\s+·\s+(\S.*?))?\s+·\s+(\d+)\s+reps(.*?)"(?:;"(.+)")?$`)
	alphaSetRe      = regexp.MustCompile(`^(\d+);(.+);(\d+);(.+)$`)
	alphaWarmupRe   = regexp.MustCompile(`WU(\d+)\s+·\s+(.+?)\s+kg\s+·\s+(\d+)\s+reps`)
	alphaDurationRe = regexp.MustCompile(`^(?:(\d+):(\d{2})\s*hr|(\d+)\s*min)$`)
)

const (
	alphaColumns   = "#;KG;REPS;RIR"
	warmupNote     = "warmup"
	bodyweightNote = "bodyweight plus"
)

// alphaNamespace seeds session ids so re-importing an export is idempotent.
var alphaNamespace = uuid.MustParse("6f1c1a52-3c1e-4d0e-9a53-1b7e4c0b9f21")

// parseAlpha reads an Alpha Progression export into completed sessions for
// userID. Warmups are kept as sets that are not completed so they carry no
// volume; reps-in-reserve becomes RPE (10 - RIR).
func parseAlpha(r io.Reader, userID int) ([]models.WorkoutSession, error) {
	scanner := bufio.NewScanner(r)
	var (
		sessions []models.WorkoutSession
		cur      *models.WorkoutSession
		ex       *models.ExerciseLog
	)
	flushExercise := func() {
		if cur != nil && ex != nil {
			cur.Exercises = append(cur.Exercises, *ex)
		}
		ex = nil
	}
	flushSession := func() {
		flushExercise()
		if cur != nil {
			finishAlpha(cur)
			sessions = append(sessions, *cur)
		}
		cur = nil
	}

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			flushSession()
			continue
		}
		if text == alphaColumns {
			continue
		}

		if m := alphaSessionRe.FindStringSubmatch(text); m != nil {
			flushSession()
			start, err := parseAlphaDate(m[2])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			cur = &models.WorkoutSession{
				ID:          uuid.NewSHA1(alphaNamespace, []byte(strconv.Itoa(userID)+"|"+m[2]+"|"+m[1])).String(),
				UserID:      userID,
				WorkoutType: alphaWorkoutType(m[1]),
				Name:        m[1],
				Status:      models.StatusCompleted,
				StartTime:   start,
				Exercises:   []models.ExerciseLog{},
			}
			if mins, ok := parseAlphaDuration(m[3]); ok {
				cur.DurationMinutes = &mins
			}
			continue
		}

		if m := alphaExerciseRe.FindStringSubmatch(text); m != nil {
			if cur == nil {
				return nil, fmt.Errorf("line %d: exercise without session", line)
			}
			flushExercise()
			name := strings.TrimSpace(m[2])
			display := name
			if equip := strings.TrimSpace(m[3]); equip != "" {
				display += " (" + equip + ")"
			}
			ex = &models.ExerciseLog{ExerciseID: slug(name), Name: display, Sets: []models.SetRecord{}}
			if m[6] != "" {
				ex.Sets = append(ex.Sets, parseAlphaWarmups(m[6], cur.StartTime)...)
			}
			continue
		}

		if m := alphaSetRe.FindStringSubmatch(text); m != nil {
			if ex == nil {
				return nil, fmt.Errorf("line %d: set without exercise", line)
			}
			weight, bw := parseAlphaWeight(m[2])
			reps, _ := strconv.Atoi(m[3])
			set := models.SetRecord{
				Weight:    weight,
				Reps:      reps,
				Completed: true,
				Timestamp: cur.StartTime,
			}
			if rir, err := parseDecimal(m[4]); err == nil {
				rpe := min(max(10-rir, 1), 10)
				set.RPE = &rpe
			}
			if bw {
				set.Notes = bodyweightNote
			}
			ex.Sets = append(ex.Sets, set)
		}
		// Anything else is free text from the app and is ignored.
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flushSession()
	return sessions, nil
}

// finishAlpha fills the derived completion fields.
func finishAlpha(s *models.WorkoutSession) {
	if len(s.Exercises) > 0 {
		s.CurrentExercise = len(s.Exercises) - 1
	}
	volume := s.RecalculateVolume()
	mins := 0
	if s.DurationMinutes != nil {
		mins = *s.DurationMinutes
	}
	end := s.StartTime.Add(time.Duration(mins) * time.Minute)
	s.EndTime = &end
	s.LastActivity = &end
	calories := models.EstimateCalories(mins, volume)
	s.CaloriesBurned = &calories
}

func parseAlphaDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02 3:04"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse date %q", s)
}

// parseAlphaDuration accepts "1:02 hr" and "45 min".
func parseAlphaDuration(s string) (int, bool) {
	m := alphaDurationRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, false
	}
	if m[3] != "" {
		n, _ := strconv.Atoi(m[3])
		return n, true
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	return h*60 + mm, true
}

// parseAlphaWarmups reads "WU1 · 37,5 kg · 9 reps<br>WU2 · ...".
func parseAlphaWarmups(s string, at time.Time) []models.SetRecord {
	var sets []models.SetRecord
	for _, part := range strings.Split(s, "<br>") {
		m := alphaWarmupRe.FindStringSubmatch(part)
		if m == nil {
			continue
		}
		weight, _ := parseAlphaWeight(m[2])
		reps, _ := strconv.Atoi(m[3])
		sets = append(sets, models.SetRecord{Weight: weight, Reps: reps, Notes: warmupNote, Timestamp: at})
	}
	return sets
}

// parseAlphaWeight returns the weight and whether it was "+N" bodyweight notation.
func parseAlphaWeight(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	bw := strings.HasPrefix(s, "+")
	w, _ := parseDecimal(strings.TrimPrefix(s, "+"))
	return w, bw
}

func parseDecimal(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", "."), 64)
}

// alphaWorkoutType takes the first "·" segment of a session name, so
// "Legs · Day 2 · Week 4" becomes "legs".
func alphaWorkoutType(name string) string {
	first, _, _ := strings.Cut(name, "·")
	wt := slug(first)
	if wt == "" {
		wt = "strength"
	}
	if len(wt) > models.MaxWorkoutTypeLength {
		wt = wt[:models.MaxWorkoutTypeLength]
	}
	return wt
}

// slug lowercases s and joins its alphanumeric runs with underscores.
func slug(s string) string {
	var b strings.Builder
	sep := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if sep && b.Len() > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
			sep = false
		default:
			sep = true
		}
	}
	return b.String()
}
