package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ironsheep/omr-grader-mcp/internal/omr"
)

// Memory keeps everything in process memory. Values are copied in and out so
// callers never share maps with the store.
type Memory struct {
	mu      sync.RWMutex
	schemes map[string]omr.MarkScheme
	scripts map[string][]uuid.UUID
	byID    map[uuid.UUID]Script
}

func NewMemory() *Memory {
	return &Memory{
		schemes: make(map[string]omr.MarkScheme),
		scripts: make(map[string][]uuid.UUID),
		byID:    make(map[uuid.UUID]Script),
	}
}

func (m *Memory) GetScheme(ctx context.Context, testID string) (*omr.MarkScheme, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.schemes[testID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyScheme(&s), nil
}

func (m *Memory) SaveScheme(ctx context.Context, s *omr.MarkScheme) (int, error) {
	if err := s.Validate(); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	next := copyScheme(s)
	m.mu.Lock()
	defer m.mu.Unlock()
	next.Version = m.schemes[s.TestID].Version + 1
	m.schemes[s.TestID] = *next
	return next.Version, nil
}

func (m *Memory) SaveScript(ctx context.Context, rec *omr.AnswerRecord, res *omr.GradingResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if key := studentIndex(rec); key != "" {
		ids := m.scripts[rec.TestID]
		for i, id := range ids {
			prev := m.byID[id].Record
			if id == rec.ID || studentIndex(prev) != key {
				continue
			}
			if prev.CreatedAt.After(rec.CreatedAt) {
				// A newer scan of the same student already replaced this one.
				return nil
			}
			m.scripts[rec.TestID] = append(ids[:i:i], ids[i+1:]...)
			delete(m.byID, id)
			break
		}
	}

	if _, ok := m.byID[rec.ID]; !ok {
		m.scripts[rec.TestID] = append(m.scripts[rec.TestID], rec.ID)
	}
	m.byID[rec.ID] = Script{Record: copyRecord(rec), Result: copyResult(res)}
	return nil
}

func (m *Memory) ListScripts(ctx context.Context, testID string) ([]Script, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.scripts[testID]
	out := make([]Script, 0, len(ids))
	for _, id := range ids {
		sc := m.byID[id]
		out = append(out, Script{Record: copyRecord(sc.Record), Result: copyResult(sc.Result)})
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }

func copyScheme(s *omr.MarkScheme) *omr.MarkScheme {
	c := *s
	c.Answers = make(map[int]omr.Symbol, len(s.Answers))
	for q, a := range s.Answers {
		c.Answers[q] = a
	}
	return &c
}

func copyRecord(r *omr.AnswerRecord) *omr.AnswerRecord {
	c := *r
	c.Answers = make(map[int]omr.Symbol, len(r.Answers))
	for q, a := range r.Answers {
		c.Answers[q] = a
	}
	c.Warnings = append([]omr.Warning(nil), r.Warnings...)
	return &c
}

func copyResult(r *omr.GradingResult) *omr.GradingResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Correct = make(map[int]bool, len(r.Correct))
	for q, ok := range r.Correct {
		c.Correct[q] = ok
	}
	return &c
}
