package agent

import (
	"context"
	"sync"

	"github.com/warmloop/agent/internal/browser"
	"github.com/warmloop/agent/internal/llm"
	"github.com/warmloop/agent/internal/macro"
	"github.com/warmloop/agent/internal/snapshot"
)

// fakeCandidate performs by invoking a closure, like the production
// candidate type does.
type fakeCandidate struct {
	desc string
	run  func(ctx context.Context) error
}

func (c fakeCandidate) Describe() string                  { return c.desc }
func (c fakeCandidate) Perform(ctx context.Context) error { return c.run(ctx) }

// fakeDriver records navigation and resolves every action to a single
// candidate unless told otherwise.
type fakeDriver struct {
	navigated    []string
	reloads      int
	backs        int
	performs     []string
	noCandidates bool
	performErr   error
}

func (d *fakeDriver) Navigate(_ context.Context, url string) error {
	d.navigated = append(d.navigated, url)
	return nil
}

func (d *fakeDriver) Reload(context.Context) error {
	d.reloads++
	return nil
}

func (d *fakeDriver) Back(context.Context) error {
	d.backs++
	return nil
}

func (d *fakeDriver) CurrentURL(context.Context) (string, error) {
	if len(d.navigated) == 0 {
		return "", nil
	}
	return d.navigated[len(d.navigated)-1], nil
}

func (d *fakeDriver) Observe(_ context.Context, action string) ([]browser.Candidate, error) {
	if d.noCandidates {
		return nil, nil
	}
	return []browser.Candidate{fakeCandidate{
		desc: action,
		run: func(context.Context) error {
			if d.performErr != nil {
				return d.performErr
			}
			d.performs = append(d.performs, action)
			return nil
		},
	}}, nil
}

// fakeLLM replays canned responses, sticking on the last one.
type fakeLLM struct {
	replies    []string
	calls      int
	err        error
	lastSystem string
	lastUser   string
}

func (f *fakeLLM) Generate(_ context.Context, req llm.Request) (llm.Response, error) {
	if f.err != nil {
		return llm.Response{}, f.err
	}
	f.lastSystem = req.System
	f.lastUser = req.User
	i := f.calls
	f.calls++
	if i >= len(f.replies) {
		i = len(f.replies) - 1
	}
	return llm.Response{Text: f.replies[i]}, nil
}

func (f *fakeLLM) Name() string { return "fake" }

// memStore is an in-memory macro.Store with call accounting.
type memStore struct {
	mu   sync.Mutex
	data map[string]macro.Macro
	gets int
	sets int
}

func newMemStore() *memStore {
	return &memStore{data: map[string]macro.Macro{}}
}

func (s *memStore) Get(_ context.Context, domain, intent, fp string) (macro.Macro, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	m, ok := s.data[macro.Key(domain, intent, fp)]
	return m, ok
}

func (s *memStore) Set(_ context.Context, domain, intent, fp string, m macro.Macro) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets++
	s.data[macro.Key(domain, intent, fp)] = m
}

func (s *memStore) Stats() macro.Stats { return macro.Stats{} }

// seqObserve yields summaries in order, repeating the last one.
func seqObserve(sums ...snapshot.Summary) ObserveFunc {
	i := 0
	return func(context.Context) (snapshot.Summary, error) {
		s := sums[i]
		if i < len(sums)-1 {
			i++
		}
		return s, nil
	}
}

// memSink collects emitted events.
type memSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *memSink) Emit(_ context.Context, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *memSink) types() []EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventType, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Type)
	}
	return out
}
