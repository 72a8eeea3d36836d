package domain

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassification(t *testing.T) {
	t.Run("KindOf finds the kind through wrapping", func(t *testing.T) {
		base := E(KindDownload, "fetch archive", "260/2023", errors.New("connection refused"))
		wrapped := fmt.Errorf("station 260: %w", base)

		assert.Equal(t, KindDownload, KindOf(wrapped))
	})

	t.Run("unclassified errors report empty kind", func(t *testing.T) {
		assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
		assert.Equal(t, Kind(""), KindOf(nil))
	})

	t.Run("Unwrap exposes the cause", func(t *testing.T) {
		err := E(KindCache, "read entry", "batch_result_260_2023", fs.ErrNotExist)
		assert.True(t, errors.Is(err, fs.ErrNotExist))
	})

	t.Run("message includes op and key", func(t *testing.T) {
		err := Errorf(KindValidation, "validate data", "260/2023", "no records")
		require.EqualError(t, err, "validate data 260/2023: no records")
	})

	t.Run("message without key", func(t *testing.T) {
		err := Errorf(KindGeneration, "write output", "", "disk full")
		require.EqualError(t, err, "write output: disk full")
	})
}
