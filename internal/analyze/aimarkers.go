package analyze

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"siteintel/pkg/types"
)

// AILikelihood is the payload for the ai_generated_likelihood data point.
type AILikelihood struct {
	Score   float64  `json:"score"`
	Markers []string `json:"markers"`
}

// Stock phrases heavily over-represented in machine-generated copy.
var aiPhrases = []string{
	"in today's fast-paced world",
	"in today's digital age",
	"it's important to note",
	"it is important to note",
	"delve into",
	"unlock the power",
	"unleash",
	"elevate your",
	"look no further",
	"seamlessly integrate",
	"game-changer",
	"whether you're a",
	"in conclusion,",
	"embark on a journey",
}

// ScoreAILikelihood estimates how likely the homepage copy is
// machine-generated. This is a coarse heuristic over phrase frequency
// and sentence-length uniformity, not a classifier; the score is a
// float in [0, 1].
func ScoreAILikelihood(homepage *types.Page) (*types.DataPoint, error) {
	doc, err := parseDoc(homepage)
	if err != nil {
		return nil, err
	}
	text := visibleText(doc)
	lower := strings.ToLower(text)

	var markers []string
	score := 0.0

	phraseHits := 0
	for _, phrase := range aiPhrases {
		if strings.Contains(lower, phrase) {
			phraseHits++
			markers = append(markers, "phrase:"+phrase)
		}
	}
	score += math.Min(float64(phraseHits)*0.15, 0.45)

	sentences := splitSentences(text)
	if uniformity := sentenceUniformity(sentences); uniformity > 0.8 && len(sentences) >= 8 {
		score += 0.25
		markers = append(markers, "uniform_sentence_length")
	}

	if len(sentences) >= 8 && contractionRate(lower) < 0.002 {
		score += 0.15
		markers = append(markers, "no_contractions")
	}

	if strings.Contains(lower, "lorem ipsum") {
		score += 0.3
		markers = append(markers, "placeholder_text")
	}

	if score > 1 {
		score = 1
	}

	payload, err := json.Marshal(AILikelihood{Score: round2(score), Markers: markers})
	if err != nil {
		return nil, fmt.Errorf("marshal ai likelihood: %w", err)
	}

	var sources []string
	if homepage.URL != nil {
		sources = []string{homepage.URL.String()}
	}
	return &types.DataPoint{
		Key:         types.KeyAILikelihood,
		Label:       "AI-generated content likelihood",
		Payload:     payload,
		Sources:     sources,
		ExtractedAt: time.Now(),
	}, nil
}

func splitSentences(text string) []string {
	raw := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	sentences := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if len(s) >= 20 {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// sentenceUniformity returns 1 - (stddev/mean) of sentence lengths,
// clamped to [0, 1]. Human copy tends to vary; templated copy does not.
func sentenceUniformity(sentences []string) float64 {
	if len(sentences) < 2 {
		return 0
	}
	var sum float64
	for _, s := range sentences {
		sum += float64(len(s))
	}
	mean := sum / float64(len(sentences))
	if mean == 0 {
		return 0
	}
	var variance float64
	for _, s := range sentences {
		d := float64(len(s)) - mean
		variance += d * d
	}
	variance /= float64(len(sentences))
	cv := math.Sqrt(variance) / mean
	uniformity := 1 - cv
	if uniformity < 0 {
		return 0
	}
	if uniformity > 1 {
		return 1
	}
	return uniformity
}

func contractionRate(lower string) float64 {
	words := strings.Fields(lower)
	if len(words) == 0 {
		return 0
	}
	hits := 0
	for _, w := range words {
		if strings.Contains(w, "'") {
			hits++
		}
	}
	return float64(hits) / float64(len(words))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
