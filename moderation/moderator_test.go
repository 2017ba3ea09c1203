package moderation

import (
	"log/slog"
	"testing"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

// Words are chosen so they never occur inside ordinary words of the inputs.
func TestFilter_Censor(t *testing.T) {
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	filter, err := NewFilter([]string{"badger", "snake", "mushroom"}, DefaultMask, log)
	require.NoError(t, err)

	tests := []struct {
		name     string
		input    string
		expected string
		words    []string
	}{
		{"Single word", "The badger is here", "The ****** is here", []string{"badger"}},
		{"Repeated word", "badger badger", "****** ******", []string{"badger", "badger"}},
		{"Leet and inner punctuation", "Look at B.4.d.g.3r now", "Look at ********** now", []string{"badger"}},
		{"Uppercase with dashes", "S-N-A-K-E here", "********* here", []string{"snake"}},
		{"Accented text around", "Un été avec un badger", "Un été avec un ******", []string{"badger"}},
		{"Trailing punctuation kept", "I love mushroom.", "I love ********.", []string{"mushroom"}},
		{"Nothing to mask", "Good morning", "Good morning", nil},
		{"Empty", "", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			content, words := filter.Censor(tt.input)
			req.Equal(tt.expected, content)
			req.Equal(tt.words, words)
		})
	}
}

func TestFilter_EmptyDictionary(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	// Given only words made of noise
	filter, err := NewFilter([]string{"...", ",,,", ""}, DefaultMask, log)
	req.NoError(err)

	// Then nothing is ever masked
	content, words := filter.Censor("Hello ... badger")
	req.Equal("Hello ... badger", content)
	req.Nil(words)

	var nilFilter *Filter
	content, _ = nilFilter.Censor("as is")
	req.Equal("as is", content)
}
