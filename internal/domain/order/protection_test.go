package order

import (
	"bytes"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeGenerator_Generate(t *testing.T) {
	format := regexp.MustCompile(`^PP-[ABCDEFGHJKMNPQRSTUVWXYZ2-9]{6}$`)
	g := NewCodeGenerator(nil)

	seen := make(map[string]struct{})
	for range 1000 {
		code, err := g.Generate()
		require.NoError(t, err)
		require.Regexp(t, format, code)
		seen[code] = struct{}{}
	}
	assert.Greater(t, len(seen), 990, "codes should rarely collide")
}

func TestCodeGenerator_Deterministic(t *testing.T) {
	// 248 and 255 fall outside the unbiased range and are redrawn; 31 wraps
	// back to A and 30 is the last symbol.
	g := NewCodeGenerator(bytes.NewReader([]byte{0, 1, 2, 3, 248, 255, 31, 30}))
	code, err := g.Generate()
	require.NoError(t, err)
	assert.Equal(t, "PP-ABCDA9", code)

	_, err = g.Generate()
	require.Error(t, err, "exhausted source")
}

func TestMatches(t *testing.T) {
	tests := []struct {
		stored, input string
		want          bool
	}{
		{"PP-AB12CD", " PP-AB12CD ", true},
		{"PP-AB12CD", "pp-ab12cd", true},
		{"pp-ab12cd", " PP-AB12CD ", true},
		{"PP-AB12CD", "PP-AB12CE", false},
		{"PP-AB12CD", "PP-AB12C", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.stored+"/"+strings.TrimSpace(tt.input), func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.stored, tt.input))
		})
	}
}

func TestVerify(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fresh := ProtectionCode{Code: "PP-AB12CD"}

	t.Run("mismatch does not consume", func(t *testing.T) {
		pc, applied, err := Verify(fresh, "PP-ZZZZZZ", now)
		require.ErrorIs(t, err, ErrCodeMismatch)
		assert.False(t, applied)
		assert.False(t, pc.Used)
		assert.Nil(t, pc.VerifiedAt)
	})

	t.Run("match consumes", func(t *testing.T) {
		pc, applied, err := Verify(fresh, " pp-ab12cd ", now)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.True(t, pc.Used)
		require.NotNil(t, pc.VerifiedAt)
		assert.True(t, pc.VerifiedAt.Equal(now))
	})

	used := ProtectionCode{Code: "PP-AB12CD", Used: true, VerifiedAt: &now}

	t.Run("same code after use is idempotent", func(t *testing.T) {
		pc, applied, err := Verify(used, "PP-AB12CD", now.Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Equal(t, used, pc)
	})

	t.Run("different code after use", func(t *testing.T) {
		pc, applied, err := Verify(used, "PP-XXXXXX", now.Add(time.Hour))
		require.ErrorIs(t, err, ErrInvalidTransition)
		assert.False(t, applied)
		assert.True(t, pc.Used)
	})
}
