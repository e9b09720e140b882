package domain

import "time"

// RankingEntry is one row of the ranking table.
type RankingEntry struct {
	Rank         int       `json:"rank"`
	PlayerID     string    `json:"playerId"`
	PlayerName   string    `json:"playerName"`
	CorrectCount int       `json:"correctCount"`
	TotalPoints  int       `json:"totalPoints"`
	CompletedAt  time.Time `json:"completedAt"`
}

// QuestionStat aggregates answers to one question of a room.
type QuestionStat struct {
	QuestionID     string  `json:"questionId"`
	Prompt         string  `json:"prompt"`
	Position       int     `json:"position"`
	CorrectCount   int     `json:"correctCount"`
	IncorrectCount int     `json:"incorrectCount"`
	PercentCorrect float64 `json:"percentCorrect"`
}

// Total is the number of answers counted for the question.
func (s QuestionStat) Total() int {
	return s.CorrectCount + s.IncorrectCount
}

// GeneralStats is the public summary of a room.
type GeneralStats struct {
	Participants   int     `json:"participants"`
	AverageCorrect float64 `json:"averageCorrect"`
	AveragePoints  float64 `json:"averagePoints"`
}

// QuestionHighlight feeds the most-missed and most-correct lists.
type QuestionHighlight struct {
	QuestionID string  `json:"questionId"`
	Prompt     string  `json:"prompt"`
	Count      int     `json:"count"`
	Total      int     `json:"total"`
	Percent    float64 `json:"percent"`
}

// PerformancePoint is one bar of the per-question performance chart.
type PerformancePoint struct {
	Position int     `json:"position"`
	Prompt   string  `json:"prompt"`
	Percent  float64 `json:"percent"`
}

// ResultsDetail is only visible to the quiz owner.
type ResultsDetail struct {
	Questions   []QuestionStat      `json:"questions"`
	MostMissed  []QuestionHighlight `json:"mostMissed"`
	MostCorrect []QuestionHighlight `json:"mostCorrect"`
	Performance []PerformancePoint  `json:"performance"`
}

// RoomResults is what the results page renders.
type RoomResults struct {
	RoomID  string         `json:"roomId"`
	Status  RoomStatus     `json:"status"`
	IsOwner bool           `json:"isOwner"`
	Ranking []RankingEntry `json:"ranking"`
	General GeneralStats   `json:"general"`
	Detail  *ResultsDetail `json:"detail,omitempty"`
}

// QuizPage is one page of an owner's quiz listing.
type QuizPage struct {
	Quizzes    []Quiz `json:"quizzes"`
	Page       int    `json:"page"`
	Limit      int    `json:"limit"`
	Total      int    `json:"total"`
	TotalPages int    `json:"totalPages"`
}

// DashboardStats is the admin home page.
type DashboardStats struct {
	TotalQuizzes   int    `json:"totalQuizzes"`
	TotalQuestions int    `json:"totalQuestions"`
	ActiveQuizzes  int    `json:"activeQuizzes"`
	LatestActive   []Quiz `json:"latestActive"`
	Recent         []Quiz `json:"recent"`
}
