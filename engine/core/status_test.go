package core

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAsEnvelope(t *testing.T) {
	t.Run("Should keep the status of typed errors", func(t *testing.T) {
		env := AsEnvelope(NotFoundf("Space '%s' not found", "demo"))
		assert.Equal(t, StatusNotFound, env.Status)
		assert.Equal(t, "Space 'demo' not found", env.Message)
	})
	t.Run("Should unwrap typed errors", func(t *testing.T) {
		wrapped := fmt.Errorf("consolidation: %w", Conflictf("Consolidation already running"))
		env := AsEnvelope(wrapped)
		assert.Equal(t, StatusConflict, env.Status)
	})
	t.Run("Should map plain errors to the error status", func(t *testing.T) {
		env := AsEnvelope(errors.New("boom"))
		assert.Equal(t, StatusError, env.Status)
		assert.Equal(t, "boom", env.Message)
	})
}

func TestISOFormat(t *testing.T) {
	t.Run("Should render UTC with an explicit offset", func(t *testing.T) {
		ts := time.Date(2026, 2, 20, 18, 0, 0, 123456000, time.UTC)
		assert.Equal(t, "2026-02-20T18:00:00.123456+00:00", ISOFormat(ts))
	})
	t.Run("Should normalize other zones to UTC", func(t *testing.T) {
		loc := time.FixedZone("CET", 3600)
		ts := time.Date(2026, 2, 20, 18, 0, 0, 0, loc)
		assert.Equal(t, "2026-02-20T17:00:00.000000+00:00", ISOFormat(ts))
	})
}
