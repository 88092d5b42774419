package docgen

import (
	"strings"
)

// QualityMetrics grades generated documentation on a 0-100 scale.
type QualityMetrics struct {
	Completeness int `json:"completeness"`
	Clarity      int `json:"clarity"`
	Accuracy     int `json:"accuracy"`
	OverallScore int `json:"overall_score"`
}

// Scorer applies structural heuristics. It stands in for the full quality
// subsystem, which lives outside the job engine.
type Scorer struct{}

func NewScorer() *Scorer {
	return &Scorer{}
}

func (s *Scorer) Score(documents map[string]string) QualityMetrics {
	if len(documents) == 0 {
		return QualityMetrics{}
	}
	var completeness, clarity, accuracy int
	for _, content := range documents {
		completeness += scoreCompleteness(content)
		clarity += scoreClarity(content)
		accuracy += 80 // fixed baseline for deterministic rendering
	}
	n := len(documents)
	m := QualityMetrics{
		Completeness: completeness / n,
		Clarity:      clarity / n,
		Accuracy:     accuracy / n,
	}
	m.OverallScore = (m.Completeness + m.Clarity + m.Accuracy) / 3
	return m
}

func scoreCompleteness(content string) int {
	score := 40
	if len(content) > 200 {
		score += 20
	}
	if len(content) > 1000 {
		score += 20
	}
	if strings.Contains(content, "Operations") || strings.Contains(content, "## ") {
		score += 20
	}
	if score > 100 {
		score = 100
	}
	return score
}

func scoreClarity(content string) int {
	lines := strings.Count(content, "\n") + 1
	score := 50
	if lines > 10 {
		score += 25
	}
	if lines > 40 {
		score += 15
	}
	if score > 100 {
		score = 100
	}
	return score
}
