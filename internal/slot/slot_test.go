package slot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/padel-scheduler/internal/agent"
)

func TestParseClockTime(t *testing.T) {
	cases := []struct {
		in   string
		out  string
		fail bool
	}{
		{in: "7pm", out: "19:00:00"},
		{in: "7:30pm", out: "19:30:00"},
		{in: "11am", out: "11:00:00"},
		{in: "12pm", out: "12:00:00"},
		{in: "12am", out: "00:00:00"},
		{in: "12:45am", out: "00:45:00"},
		{in: " 8 PM ", out: "20:00:00"},
		{in: "19:00", fail: true},
		{in: "13pm", fail: true},
		{in: "0am", fail: true},
		{in: "7:65pm", fail: true},
		{in: "", fail: true},
		{in: "evening", fail: true},
	}
	for _, c := range cases {
		got, err := ParseClockTime(c.in)
		if c.fail {
			assert.ErrorIs(t, err, ErrInvalidTimeFormat, "input %q", c.in)
			continue
		}
		require.NoError(t, err, "input %q", c.in)
		assert.Equal(t, c.out, got, "input %q", c.in)
	}
}

func descriptor(label string, booked, total int, court string) agent.SlotDescriptor {
	return agent.SlotDescriptor{Label: label, BookedCount: booked, TotalCount: total, ResourceLabel: court}
}

func TestSelectPrimaryWins(t *testing.T) {
	avail := []agent.SlotDescriptor{
		descriptor("2026-02-15 19:00:00", 1, 4, "Court 1"),
		descriptor("2026-02-15 20:00:00", 0, 4, "Court 2"),
	}
	fb := "8pm"
	sel, ok, err := Select("2026-02-15", "7pm", &fb, avail)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "7pm", sel.Option)
	assert.Equal(t, "Court 1", sel.Descriptor.ResourceLabel)
}

func TestSelectFallsBackWhenPrimaryFull(t *testing.T) {
	avail := []agent.SlotDescriptor{
		descriptor("2026-02-15 19:00:00", 4, 4, "Court 1"),
		descriptor("2026-02-15 20:00:00", 2, 4, "Court 2"),
	}
	fb := "8pm"
	sel, ok, err := Select("2026-02-15", "7pm", &fb, avail)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "8pm", sel.Option)
	assert.Equal(t, "2026-02-15 20:00:00", sel.Descriptor.Label)
}

func TestSelectNothingUsable(t *testing.T) {
	avail := []agent.SlotDescriptor{
		descriptor("2026-02-15 19:00:00", 4, 4, "Court 1"),
		// Right time, wrong date.
		descriptor("2026-02-16 20:00:00", 0, 4, "Court 2"),
	}
	fb := "8pm"
	_, ok, err := Select("2026-02-15", "7pm", &fb, avail)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSelectNoFallback(t *testing.T) {
	avail := []agent.SlotDescriptor{
		descriptor("2026-02-15 20:00:00", 0, 4, "Court 2"),
	}
	_, ok, err := Select("2026-02-15", "7pm", nil, avail)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSelectBadPhrase(t *testing.T) {
	_, _, err := Select("2026-02-15", "sevenish", nil, nil)
	assert.ErrorIs(t, err, ErrInvalidTimeFormat)
}
