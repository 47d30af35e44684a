package cron

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func TestRegistryKeepsOrderAndCopies(t *testing.T) {
	jobA := &stubJob{name: "temp-cleanup"}
	jobB := &stubJob{name: "provisional-sweep"}
	registry, err := NewRegistry(jobA, nil, jobB)
	require.NoError(t, err)

	jobs := registry.Jobs()
	require.Equal(t, []Job{jobA, jobB}, jobs)

	jobs[0] = nil
	require.NotNil(t, registry.Jobs()[0], "internal slice leaked")

	found, ok := registry.Lookup(" provisional-sweep ")
	require.True(t, ok)
	require.Same(t, jobB, found)
}

func TestRegistryRejectsDuplicateAndBlankNames(t *testing.T) {
	_, err := NewRegistry(&stubJob{name: "temp-cleanup"}, &stubJob{name: "temp-cleanup"})
	require.Error(t, err)

	_, err = NewRegistry(&stubJob{name: "  "})
	require.Error(t, err)
}

func TestRegistryOnly(t *testing.T) {
	jobA := &stubJob{name: "temp-cleanup"}
	jobB := &stubJob{name: "provisional-sweep"}
	registry, err := NewRegistry(jobA, jobB)
	require.NoError(t, err)

	subset, err := registry.Only("provisional-sweep")
	require.NoError(t, err)
	require.Equal(t, []Job{jobB}, subset.Jobs())

	_, err = registry.Only("reindex")
	require.Error(t, err)
}
