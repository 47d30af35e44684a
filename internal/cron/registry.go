package cron

import (
	"context"
	"fmt"
	"strings"
)

// Job is one unit of maintenance work run by the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry holds jobs by unique name in registration order.
type Registry struct {
	jobs   []Job
	byName map[string]Job
}

// NewRegistry registers jobs in order. Nil jobs are skipped.
func NewRegistry(jobs ...Job) (*Registry, error) {
	registry := &Registry{byName: map[string]Job{}}
	for _, job := range jobs {
		if err := registry.Register(job); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (r *Registry) Register(job Job) error {
	if job == nil {
		return nil
	}
	name := strings.TrimSpace(job.Name())
	if name == "" {
		return fmt.Errorf("cron job name is required")
	}
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("cron job %q registered twice", name)
	}
	r.byName[name] = job
	r.jobs = append(r.jobs, job)
	return nil
}

// Jobs returns a copy of the registered jobs in the order they were added.
func (r *Registry) Jobs() []Job {
	jobs := make([]Job, len(r.jobs))
	copy(jobs, r.jobs)
	return jobs
}

func (r *Registry) Lookup(name string) (Job, bool) {
	job, ok := r.byName[strings.TrimSpace(name)]
	return job, ok
}

// Only returns a registry restricted to names, keeping registration order.
func (r *Registry) Only(names ...string) (*Registry, error) {
	wanted := map[string]bool{}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := r.byName[name]; !ok {
			return nil, fmt.Errorf("unknown cron job %q", name)
		}
		wanted[name] = true
	}
	subset, _ := NewRegistry()
	for _, job := range r.jobs {
		if wanted[job.Name()] {
			if err := subset.Register(job); err != nil {
				return nil, err
			}
		}
	}
	return subset, nil
}
