package domain

import "time"

// CardLimits caps how many cards of each kind a deck serves per session.
// A zero limit means unlimited. Suspended is the lapse count at which a
// card is automatically suspended; every multiple of it triggers again.
// Zero disables automatic suspension.
type CardLimits struct {
	New       int `koanf:"new" validate:"gte=0"`
	Review    int `koanf:"review" validate:"gte=0"`
	Learning  int `koanf:"learning" validate:"gte=0"`
	Suspended int `koanf:"suspended" validate:"gte=0"`
}

// DeckParameters configure the memory model for the cards of one deck.
type DeckParameters struct {
	Weights          []float64       `koanf:"weights" validate:"required"`
	RequestRetention float64         `koanf:"request_retention" validate:"gt=0,lte=1"`
	MaximumInterval  int             `koanf:"maximum_interval" validate:"gte=1,lte=36500"`
	EnableFuzz       bool            `koanf:"enable_fuzz"`
	LearningSteps    []time.Duration `koanf:"learning_steps" validate:"min=1,dive,gt=0"`
	RelearningSteps  []time.Duration `koanf:"relearning_steps" validate:"min=1,dive,gt=0"`
	Limits           CardLimits      `koanf:"limits"`
}

// Deck groups cards that share memory model parameters.
type Deck struct {
	ID         string
	UserID     string
	Name       string
	Parameters DeckParameters
}
