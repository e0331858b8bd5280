package embed

import (
	"context"
)

// Mock returns canned vectors for tests. Vectors are served per input text;
// unknown text falls back to Default.
type Mock struct {
	Vectors map[string][]float64
	Default []float64
	Err     error
	Calls   int
}

func (m *Mock) Model() string { return "mock" }

func (m *Mock) Dimensions() int {
	if len(m.Default) > 0 {
		return len(m.Default)
	}
	return 3
}

func (m *Mock) Embed(_ context.Context, text string) ([]float64, error) {
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	if v, ok := m.Vectors[text]; ok {
		return v, nil
	}
	if m.Default != nil {
		return m.Default, nil
	}
	return []float64{1, 0, 0}, nil
}
