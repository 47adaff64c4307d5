package instance

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Adapter for engine and restart-executor tests.
type Fake struct {
	mu        sync.Mutex
	alive     map[string]bool // "zone/name" -> exists
	patterns  map[string]VMLocation
	createErr map[string]error // zone -> error to return from CreateInstance
	created   []string
}

func NewFake() *Fake {
	return &Fake{alive: map[string]bool{}, patterns: map[string]VMLocation{}, createErr: map[string]error{}}
}

func key(zone, name string) string { return zone + "/" + name }

func (f *Fake) SetAlive(zone, name string, alive bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive[key(zone, name)] = alive
}

func (f *Fake) SetPatternMatch(runID string, loc VMLocation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patterns[runID] = loc
}

func (f *Fake) FailZone(zone string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createErr[zone] = err
}

func (f *Fake) Created() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.created...)
}

func (f *Fake) VMExists(_ context.Context, _, zone, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[key(zone, name)], nil
}

func (f *Fake) VMSearchByPattern(_ context.Context, _, namePattern string) (*VMLocation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for runID, loc := range f.patterns {
		if runID != "" && containsRunID(namePattern, runID) {
			l := loc
			return &l, nil
		}
	}
	return nil, nil
}

func containsRunID(pattern, runID string) bool {
	for i := 0; i+len(runID) <= len(pattern); i++ {
		if pattern[i:i+len(runID)] == runID {
			return true
		}
	}
	return false
}

func (f *Fake) CreateInstance(_ context.Context, _, zone string, spec Spec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.createErr[zone]; ok && err != nil {
		return "", err
	}
	if zone == "" {
		return "", fmt.Errorf("zone required")
	}
	f.alive[key(zone, spec.Name)] = true
	f.created = append(f.created, spec.Name+"@"+zone)
	return spec.Name, nil
}
