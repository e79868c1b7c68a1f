// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package gpio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEdge(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Edge
		wantErr bool
	}{
		{"falling", "falling", Falling, false},
		{"rising", "rising", Rising, false},
		{"empty defaults to falling", "", Falling, false},
		{"case insensitive", "RISING", Rising, false},
		{"unknown", "both", Falling, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEdge(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePull(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Pull
		wantErr bool
	}{
		{"up", "up", PullUp, false},
		{"down", "down", PullDown, false},
		{"none", "none", PullNone, false},
		{"float alias", "float", PullNone, false},
		{"empty defaults to up", "", PullUp, false},
		{"case insensitive", "Down", PullDown, false},
		{"unknown", "weak", PullUp, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePull(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEdgeString(t *testing.T) {
	assert.Equal(t, "falling", Falling.String())
	assert.Equal(t, "rising", Rising.String())
}

func TestPullString(t *testing.T) {
	assert.Equal(t, "up", PullUp.String())
	assert.Equal(t, "down", PullDown.String())
	assert.Equal(t, "none", PullNone.String())
}
