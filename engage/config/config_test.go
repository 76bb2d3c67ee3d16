package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bluesky-social/banter/engage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goodConfig = `
templates:
  reply:
    - name: friendly
      body: "Say something kind about {{ text }}"
    - name: cats
      probability: 0.5
      conditions:
        - field: text
          operator: contains
          value: cat
      body: "Talk about cats"
  post:
    - name: musing
      body: "Muse about the weather"
      metadata:
        temperature: 0.9
specialInteractions:
  "@friend.test":
    topics: [gardening, bread]
    probability: 0.8
    cooldown: 12h
    templates:
      - name: banter
        body: "Tease {{ author_handle }} about {{ topic }}"
  noprob.test:
    templates:
      - name: x
        body: x
  badcooldown.test:
    probability: 1
    cooldown: soon
    templates:
      - name: x
        body: x
  Other.Test:
    probability: 0.1
    templates:
      - name: y
        body: y
`

func TestLoad(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	cfg, err := Load(strings.NewReader(goodConfig), nil)
	require.NoError(err)

	assert.Equal(2, len(cfg.Catalog["reply"]))
	assert.Equal(0.5, cfg.Catalog["reply"][1].EffectiveProbability())
	assert.Equal("cat", cfg.Catalog["reply"][1].Conditions[0].Value)
	assert.Equal(0.9, cfg.Catalog["post"][0].Metadata["temperature"])
	assert.NoError(cfg.RequireGroups("reply", "post"))
	assert.Error(cfg.RequireGroups("mention"))

	require.Equal(2, len(cfg.Special))
	friend := cfg.Special[0]
	assert.Equal("friend.test", friend.Handle)
	assert.Equal([]string{"gardening", "bread"}, friend.Topics)
	assert.Equal(12*time.Hour, friend.Cooldown)
	assert.Equal(0.8, friend.Probability)
	// handles are lower-cased
	assert.Equal("other.test", cfg.Special[1].Handle)

	assert.Equal(2, len(cfg.Dropped))
	for _, err := range cfg.Dropped {
		var verr *engage.ValidationError
		assert.True(errors.As(err, &verr))
	}
}

func TestLoadConfigErrors(t *testing.T) {
	assert := assert.New(t)

	cases := map[string]string{
		"empty":     ``,
		"no groups": `templates: {}`,
		"bad op": `
templates:
  reply:
    - name: a
      body: a
      conditions:
        - field: text
          operator: startsWith
          value: x
`,
		"dupe names": `
templates:
  reply:
    - name: a
      body: a
    - name: a
      body: b
`,
		"unknown key": `
templates:
  reply:
    - name: a
      body: a
limits: {}
`,
	}
	for name, raw := range cases {
		_, err := Load(strings.NewReader(raw), nil)
		var cerr *engage.ConfigError
		assert.True(errors.As(err, &cerr), name)
	}
}

func TestExampleConfig(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	cfg, err := LoadFile("../../cmd/banter/banter.example.yaml", nil)
	require.NoError(err)
	assert.Empty(cfg.Dropped)
	assert.NoError(cfg.RequireGroups("reply", "post"))
	require.Len(cfg.Special, 1)
	assert.Equal("friend.example.com", cfg.Special[0].Handle)
	assert.Equal(12*time.Hour, cfg.Special[0].Cooldown)
}
