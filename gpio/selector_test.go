// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package gpio

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gerritdv/edge-sensing/pkg/errors"
)

// registerFailing installs a factory under name that always fails and
// records the attempt.
func registerFailing(name string, attempts *[]string) {
	Register(name, func(_ Options) (Backend, error) {
		*attempts = append(*attempts, name)
		return nil, fmt.Errorf("%s: not available", name)
	})
}

// registerWorking installs a factory under name backed by the simulator.
func registerWorking(name string, attempts *[]string) {
	Register(name, func(_ Options) (Backend, error) {
		*attempts = append(*attempts, name)
		return NewSim(), nil
	})
}

func TestSelectorFallsThroughToFirstWorking(t *testing.T) {
	var attempts []string
	registerFailing("t_broken_a", &attempts)
	registerFailing("t_broken_b", &attempts)
	registerWorking("t_working", &attempts)

	sel := NewSelector([]string{"t_broken_a", "t_broken_b", "t_working"}, nil, Options{})
	backend, err := sel.Select()
	require.NoError(t, err)
	defer sel.Close()

	assert.Equal(t, "sim", backend.Name())
	assert.Equal(t, []string{"t_broken_a", "t_broken_b", "t_working"}, attempts,
		"backends must be tried in configured order")
	assert.Same(t, backend, sel.Active())
}

func TestSelectorAllFail(t *testing.T) {
	var attempts []string
	registerFailing("t_fail_1", &attempts)
	registerFailing("t_fail_2", &attempts)

	sel := NewSelector([]string{"t_fail_1", "t_fail_2"}, nil, Options{})
	backend, err := sel.Select()

	require.ErrorIs(t, err, errors.ErrNoBackend)
	assert.Nil(t, backend)
	assert.Nil(t, sel.Active())
	assert.Equal(t, "", sel.ActiveName())
}

func TestSelectorSkip(t *testing.T) {
	var attempts []string
	registerWorking("t_skipped", &attempts)
	registerWorking("t_chosen", &attempts)

	sel := NewSelector([]string{"t_skipped", "t_chosen"}, []string{"t_skipped"}, Options{})
	_, err := sel.Select()
	require.NoError(t, err)
	defer sel.Close()

	assert.Equal(t, []string{"t_chosen"}, attempts, "skipped backend must never be constructed")
}

func TestSelectorUnknownName(t *testing.T) {
	var attempts []string
	registerWorking("t_known", &attempts)

	sel := NewSelector([]string{"t_no_such_backend", "t_known"}, nil, Options{})
	backend, err := sel.Select()
	require.NoError(t, err)
	defer sel.Close()

	assert.NotNil(t, backend)
}

func TestSelectorCloseResetsActive(t *testing.T) {
	var attempts []string
	registerWorking("t_closer", &attempts)

	sel := NewSelector([]string{"t_closer"}, nil, Options{})
	_, err := sel.Select()
	require.NoError(t, err)

	sel.Close()
	assert.Nil(t, sel.Active())

	// Closing twice is harmless.
	sel.Close()
}

func TestSimBackendDoubleClaim(t *testing.T) {
	backend := NewSim()

	line, err := backend.ClaimLine(LineRequest{Line: 4, Edge: Falling, Pull: PullUp}, func(time.Time) {})
	require.NoError(t, err)

	_, err = backend.ClaimLine(LineRequest{Line: 4, Edge: Falling, Pull: PullUp}, func(time.Time) {})
	require.ErrorIs(t, err, errors.ErrLineClaimed)

	require.NoError(t, line.Release())
	_, err = backend.ClaimLine(LineRequest{Line: 4, Edge: Falling, Pull: PullUp}, func(time.Time) {})
	assert.NoError(t, err)
}
