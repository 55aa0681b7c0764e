package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"My Reading List":    "my-reading-list",
		"Moby  Dick!":        "moby-dick",
		"  spaced  out  ":    "spaced-out",
		"Déjà Vu":            "déjà-vu",
		"---":                "",
		"Already-Sluggy":     "already-sluggy",
		"numbers 123 stay":   "numbers-123-stay",
		"":                   "",
	}
	for input, want := range cases {
		assert.Equal(t, want, Slugify(input), "Slugify(%q)", input)
	}
}
