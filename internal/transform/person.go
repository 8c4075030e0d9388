// Package transform derives processed people from raw SWAPI records.
package transform

import (
	"context"
	"math"
	"time"

	"swapijob/internal/core/domain"
)

// Person derives the processed form of p. It is pure apart from the
// processing timestamp taken from now.
func Person(p domain.Person, now time.Time) domain.ProcessedPerson {
	height := leadingInt(p.Height)
	mass := leadingInt(p.Mass)

	species := domain.UnknownSpecies
	if len(p.Species) > 0 && p.Species[0] != "" {
		species = p.Species[0]
	}

	return domain.ProcessedPerson{
		ID:            p.ID,
		Name:          p.Name,
		Height:        height,
		Mass:          mass,
		BMI:           bmi(height, mass),
		FilmCount:     len(p.Films),
		VehicleCount:  len(p.Vehicles),
		StarshipCount: len(p.Starships),
		Species:       species,
		Homeworld:     p.Homeworld,
		ProcessedAt:   now.UTC(),
	}
}

// bmi is mass / (height in metres)^2 rounded to two decimals, or nil when
// either input is missing.
func bmi(heightCM, massKG int) *float64 {
	if heightCM <= 0 || massKG <= 0 {
		return nil
	}
	m := float64(heightCM) / 100
	v := math.Round(float64(massKG)/(m*m)*100) / 100
	return &v
}

// leadingInt reads an optional sign and the leading decimal digits of s,
// ignoring leading whitespace. "1,358" yields 1 and "unknown" yields 0.
func leadingInt(s string) int {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n') {
		i++
	}
	neg := false
	if i < len(s) && (s[i] == '-' || s[i] == '+') {
		neg = s[i] == '-'
		i++
	}
	n := 0
	for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		n = n*10 + int(s[i]-'0')
	}
	if neg {
		return -n
	}
	return n
}

// Delayed is a ports.Transformer that simulates slow processing by waiting
// Delay before deriving each person.
type Delayed struct {
	Delay time.Duration
	Now   func() time.Time
}

// NewDelayed returns a Delayed transformer using the wall clock.
func NewDelayed(delay time.Duration) *Delayed {
	return &Delayed{Delay: delay, Now: time.Now}
}

func (d *Delayed) Transform(ctx context.Context, p domain.Person) (domain.ProcessedPerson, error) {
	if d.Delay > 0 {
		t := time.NewTimer(d.Delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return domain.ProcessedPerson{}, ctx.Err()
		}
	}
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	return Person(p, now()), nil
}
