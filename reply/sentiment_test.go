package reply

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifySentiment(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"Yes, I'm interested. Let's schedule a call.", SentimentPositive},
		{"Not interested, please remove me from your list", SentimentNegative},
		{"NOT INTERESTED", SentimentNegative},
		{"Thanks for reaching out", SentimentNeutral},
		{"", SentimentNeutral},
		{"I was out yesterday", SentimentNeutral},
		{"Great timing, but not now. No thanks.", SentimentNegative},
		{"Interested, but not now", SentimentNeutral},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifySentiment(tt.text))
		})
	}
}
