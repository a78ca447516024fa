package inference

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunInteractive(t *testing.T) {
	model := &fakeModel{label: 1, confidence: 0.875}
	svc, _ := newFakeService(t, model, Options{})

	in := strings.NewReader("I love this\n\n  QUIT  \nnever read\n")
	var out bytes.Buffer
	require.NoError(t, RunInteractive(context.Background(), in, &out, svc))

	got := out.String()
	assert.Contains(t, got, "sentiment: positive (confidence: 0.88)\ninput text: I love this")
	assert.Contains(t, got, "error: input text must not be empty")
	assert.True(t, strings.HasSuffix(got, Goodbye+"\n"))
	assert.NotContains(t, got, "never read")
	assert.Equal(t, 1, model.calls)
	assert.Equal(t, 3, strings.Count(got, Prompt))
}

func TestRunInteractiveEOF(t *testing.T) {
	svc, _ := newFakeService(t, &fakeModel{}, Options{})
	var out bytes.Buffer
	require.NoError(t, RunInteractive(context.Background(), strings.NewReader(""), &out, svc))
	assert.Equal(t, Prompt+"\n", out.String())
}

func TestRunInteractiveCancelled(t *testing.T) {
	svc, _ := newFakeService(t, &fakeModel{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out bytes.Buffer
	require.NoError(t, RunInteractive(ctx, strings.NewReader("hello\n"), &out, svc))
	assert.Empty(t, out.String())
}

func TestRunInteractiveOversizedLine(t *testing.T) {
	model := &fakeModel{label: 1, confidence: 0.9}
	svc, _ := newFakeService(t, model, Options{})

	huge := strings.Repeat("a", 2<<20)
	in := strings.NewReader(huge + "\nI love this\nquit\n")
	var out bytes.Buffer
	require.NoError(t, RunInteractive(context.Background(), in, &out, svc))

	got := out.String()
	assert.Contains(t, got, "error: input text must not exceed 500 characters")
	assert.Contains(t, got, "input text: I love this")
	assert.True(t, strings.HasSuffix(got, Goodbye+"\n"))
	assert.Equal(t, 1, model.calls)
}

func TestRunInteractiveLastLineWithoutNewline(t *testing.T) {
	model := &fakeModel{label: 0, confidence: 0.7}
	svc, _ := newFakeService(t, model, Options{})

	var out bytes.Buffer
	require.NoError(t, RunInteractive(context.Background(), strings.NewReader("bad film\r\n  "), &out, svc))
	assert.Contains(t, out.String(), "input text: bad film\n")
	assert.Contains(t, out.String(), "error: input text must not be empty")
	assert.True(t, strings.HasSuffix(out.String(), Prompt+"\n"))
}
