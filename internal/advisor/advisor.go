// Package advisor описывает интерфейсы внешних советников: источника
// рыночного сентимента и LLM-советника. Ядро потребляет эти интерфейсы,
// но не реализует их — отсутствующий советник (nil) означает чисто
// технический режим.
package advisor

import (
	"context"

	"github.com/skalibog/bfts/pkg/models"
)

// Recommendation рекомендация советника
type Recommendation string

const (
	RecStrongBuy  Recommendation = "STRONG_BUY"
	RecBuy        Recommendation = "BUY"
	RecHold       Recommendation = "HOLD"
	RecSell       Recommendation = "SELL"
	RecStrongSell Recommendation = "STRONG_SELL"
)

// Direction возвращает направление тренда, на которое указывает рекомендация
func (r Recommendation) Direction() models.Trend {
	switch r {
	case RecStrongBuy, RecBuy:
		return models.TrendBullish
	case RecStrongSell, RecSell:
		return models.TrendBearish
	default:
		return models.TrendNeutral
	}
}

// Strong сообщает, является ли рекомендация сильной
func (r Recommendation) Strong() bool {
	return r == RecStrongBuy || r == RecStrongSell
}

// Sentiment дайджест рыночного сентимента по символу
type Sentiment struct {
	Symbol  string
	Score   float64 // -1..1
	Summary string
}

// Bias смещение, выданное советником
type Bias struct {
	Direction      models.Trend
	Confidence     float64
	Recommendation Recommendation
	Rationale      string
}

// SentimentSource источник рыночного сентимента
type SentimentSource interface {
	FetchSentiment(ctx context.Context, symbols []string) (map[string]*Sentiment, error)
}

// Advisor внешний советник, дающий смещение к техническому анализу
type Advisor interface {
	Advise(ctx context.Context, symbol string, analysis *models.AnalysisResult, sentiment *Sentiment) (*Bias, error)
}
