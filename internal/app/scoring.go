package app

import (
	"math"
	"sort"
	"time"

	"quizzana/internal/domain"
)

// scoreAnswer grades a choice against the question and returns (correct, points).
func scoreAnswer(question domain.Question, choice domain.Choice, cfg domain.QuizConfig) (bool, int) {
	if question.IsCorrect(choice) {
		return true, cfg.Points()
	}
	return false, 0
}

// TallyResults sums every player's answers into one result row per player.
// CompletedAt is the time of the player's last answer, or fallback if they never answered.
func TallyResults(roomID string, players []domain.Player, answers []domain.Answer, fallback time.Time) []domain.Result {
	byPlayer := make(map[string]*domain.Result, len(players))
	results := make([]domain.Result, 0, len(players))
	for _, p := range players {
		results = append(results, domain.Result{
			RoomID:     roomID,
			PlayerID:   p.ID,
			PlayerName: p.Name,
		})
	}
	for i := range results {
		byPlayer[results[i].PlayerID] = &results[i]
	}

	for _, a := range answers {
		r, ok := byPlayer[a.PlayerID]
		if !ok {
			continue
		}
		if a.Correct {
			r.CorrectCount++
			r.TotalPoints += a.Points
		}
		if a.AnsweredAt.After(r.CompletedAt) {
			r.CompletedAt = a.AnsweredAt
		}
	}
	for i := range results {
		if results[i].CompletedAt.IsZero() {
			results[i].CompletedAt = fallback
		}
	}
	return results
}

// RankResults orders results by points, then correct answers, then who finished first.
// Name and id break the remaining ties so the order is total.
func RankResults(results []domain.Result) []domain.RankingEntry {
	sorted := append([]domain.Result(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.TotalPoints != b.TotalPoints {
			return a.TotalPoints > b.TotalPoints
		}
		if a.CorrectCount != b.CorrectCount {
			return a.CorrectCount > b.CorrectCount
		}
		if !a.CompletedAt.Equal(b.CompletedAt) {
			return a.CompletedAt.Before(b.CompletedAt)
		}
		if a.PlayerName != b.PlayerName {
			return a.PlayerName < b.PlayerName
		}
		return a.PlayerID < b.PlayerID
	})

	entries := make([]domain.RankingEntry, 0, len(sorted))
	for i, r := range sorted {
		entries = append(entries, domain.RankingEntry{
			Rank:         i + 1,
			PlayerID:     r.PlayerID,
			PlayerName:   r.PlayerName,
			CorrectCount: r.CorrectCount,
			TotalPoints:  r.TotalPoints,
			CompletedAt:  r.CompletedAt,
		})
	}
	return entries
}

// QuestionStats counts correct and incorrect answers per question in play order.
// Unanswered timeouts count as incorrect.
func QuestionStats(room domain.Room, quiz domain.Quiz, answers []domain.Answer) []domain.QuestionStat {
	order := room.QuestionIDs
	if len(order) == 0 {
		order = quiz.QuestionIDs
	}
	stats := make([]domain.QuestionStat, 0, len(order))
	index := make(map[string]int, len(order))
	for i, id := range order {
		prompt := ""
		if q, ok := quiz.Question(id); ok {
			prompt = q.Prompt
		}
		index[id] = i
		stats = append(stats, domain.QuestionStat{QuestionID: id, Prompt: prompt, Position: i + 1})
	}

	for _, a := range answers {
		i, ok := index[a.QuestionID]
		if !ok {
			continue
		}
		if a.Correct {
			stats[i].CorrectCount++
		} else {
			stats[i].IncorrectCount++
		}
	}
	for i := range stats {
		if total := stats[i].Total(); total > 0 {
			stats[i].PercentCorrect = round1(float64(stats[i].CorrectCount) * 100 / float64(total))
		}
	}
	return stats
}

// General summarises results: mean correct answers to one decimal, mean points to a whole number.
func General(results []domain.Result) domain.GeneralStats {
	g := domain.GeneralStats{Participants: len(results)}
	if len(results) == 0 {
		return g
	}
	var correct, points int
	for _, r := range results {
		correct += r.CorrectCount
		points += r.TotalPoints
	}
	n := float64(len(results))
	g.AverageCorrect = round1(float64(correct) / n)
	g.AveragePoints = math.Round(float64(points) / n)
	return g
}

const highlightLimit = 5

// Detail builds the owner-only breakdown from per-question stats.
func Detail(stats []domain.QuestionStat) domain.ResultsDetail {
	answered := make([]domain.QuestionStat, 0, len(stats))
	for _, s := range stats {
		if s.Total() > 0 {
			answered = append(answered, s)
		}
	}

	missed := append([]domain.QuestionStat(nil), answered...)
	sort.SliceStable(missed, func(i, j int) bool {
		return missed[i].IncorrectCount > missed[j].IncorrectCount
	})
	correct := append([]domain.QuestionStat(nil), answered...)
	sort.SliceStable(correct, func(i, j int) bool {
		return correct[i].CorrectCount > correct[j].CorrectCount
	})

	detail := domain.ResultsDetail{
		Questions:   stats,
		MostMissed:  make([]domain.QuestionHighlight, 0, highlightLimit),
		MostCorrect: make([]domain.QuestionHighlight, 0, highlightLimit),
		Performance: make([]domain.PerformancePoint, 0, len(stats)),
	}
	for i := 0; i < len(missed) && i < highlightLimit; i++ {
		s := missed[i]
		detail.MostMissed = append(detail.MostMissed, domain.QuestionHighlight{
			QuestionID: s.QuestionID,
			Prompt:     s.Prompt,
			Count:      s.IncorrectCount,
			Total:      s.Total(),
			Percent:    round1(100 - s.PercentCorrect),
		})
	}
	for i := 0; i < len(correct) && i < highlightLimit; i++ {
		s := correct[i]
		detail.MostCorrect = append(detail.MostCorrect, domain.QuestionHighlight{
			QuestionID: s.QuestionID,
			Prompt:     s.Prompt,
			Count:      s.CorrectCount,
			Total:      s.Total(),
			Percent:    s.PercentCorrect,
		})
	}
	for _, s := range stats {
		detail.Performance = append(detail.Performance, domain.PerformancePoint{
			Position: s.Position,
			Prompt:   s.Prompt,
			Percent:  s.PercentCorrect,
		})
	}
	return detail
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
