package tokens

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetctl/fleetctl/internal/ferrors"
)

func TestIssueConsume(t *testing.T) {
	clk := newMockClock(time.Now())
	s := New(clk)

	tok, err := s.Issue(map[string]string{"op": "reconfigure"}, time.Minute)
	require.NoError(t, err)

	payload, err := s.Consume(tok)
	require.NoError(t, err)
	assert.Equal(t, "reconfigure", payload.(map[string]string)["op"])
}

func TestConsumeTwiceFails(t *testing.T) {
	clk := newMockClock(time.Now())
	s := New(clk)

	tok, err := s.Issue("x", time.Minute)
	require.NoError(t, err)

	_, err = s.Consume(tok)
	require.NoError(t, err)

	_, err = s.Consume(tok)
	require.Error(t, err)
	ferr, ok := err.(*ferrors.Error)
	require.True(t, ok)
	assert.Equal(t, ferrors.KindTokenAlreadyConsumed, ferr.Kind)
}

func TestExpiredToken(t *testing.T) {
	clk := newMockClock(time.Now())
	s := New(clk)

	tok, err := s.Issue("x", time.Minute)
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)

	_, err = s.Consume(tok)
	require.Error(t, err)
	ferr := err.(*ferrors.Error)
	assert.Equal(t, ferrors.KindTokenExpired, ferr.Kind)
}

func TestUnknownToken(t *testing.T) {
	clk := newMockClock(time.Now())
	s := New(clk)

	_, err := s.Consume("does-not-exist")
	require.Error(t, err)
	ferr := err.(*ferrors.Error)
	assert.Equal(t, ferrors.KindTokenNotFound, ferr.Kind)
}

func TestSweepRemovesExpired(t *testing.T) {
	clk := newMockClock(time.Now())
	s := New(clk)

	_, _ = s.Issue("a", time.Minute)
	clk.Advance(2 * time.Minute)

	removed := s.Sweep()
	assert.Equal(t, 1, removed)
}
