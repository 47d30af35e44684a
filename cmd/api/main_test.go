package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestReleaseClosesInReverseAndJoinsErrors(t *testing.T) {
	var order []string
	closer := func(name string, err error) func() error {
		return func() error {
			order = append(order, name)
			return err
		}
	}

	err := release([]func() error{
		closer("database", errors.New("db busy")),
		closer("redis", nil),
		closer("pubsub", errors.New("topic gone")),
	})

	require.Equal(t, []string{"pubsub", "redis", "database"}, order)
	require.Len(t, multierr.Errors(err), 2)
	require.ErrorContains(t, err, "db busy")
	require.ErrorContains(t, err, "topic gone")
}

func TestReleaseWithNothingAcquired(t *testing.T) {
	require.NoError(t, release(nil))
}
