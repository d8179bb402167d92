package wow64

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fennimore/dbicore/pkg/abi/win"
)

func TestTableForSelectsWin8Generation(t *testing.T) {
	table := TableFor(win.KernelWin8)
	assert.Same(t, &patternsWin8[0], &table[0])

	table = TableFor(win.KernelWin8_1)
	assert.Same(t, &patternsWin8[0], &table[0])
}

func TestTableForSelectsWin10Generation(t *testing.T) {
	table := TableFor(win.KernelWin10_1809)
	assert.Same(t, &patternsWin10[0], &table[0])
}

func TestTableForUnknownGenerationReturnsNil(t *testing.T) {
	assert.Nil(t, TableFor(win.KernelVersion(0)))
}

func TestMatchPatternFirstMatchWins(t *testing.T) {
	table := []pattern{
		{bytes: []byte{0xAA}, rewrite: RewriteStackSlot},
		{bytes: []byte{0xAA, 0xBB}, rewrite: RewriteR14Slot},
	}
	rw, ok := matchPattern(table, []byte{0xAA, 0xBB, 0xCC})
	assert.True(t, ok)
	assert.Equal(t, RewriteStackSlot, rw)
}

func TestMatchPatternNoMatch(t *testing.T) {
	table := []pattern{{bytes: []byte{0xAA}, rewrite: RewriteStackSlot}}
	_, ok := matchPattern(table, []byte{0xBB, 0xCC})
	assert.False(t, ok)
}

func TestMatchPatternRejectsShorterInput(t *testing.T) {
	table := []pattern{{bytes: []byte{0xAA, 0xBB, 0xCC}, rewrite: RewriteR8Reg}}
	_, ok := matchPattern(table, []byte{0xAA})
	assert.False(t, ok)
}

func TestWin8TableMatchesEachDocumentedEntry(t *testing.T) {
	cases := []struct {
		bytes []byte
		want  Rewrite
	}{
		{[]byte{0x4C, 0x89, 0x34, 0x24}, RewriteStackSlot},
		{[]byte{0x44, 0x8B, 0x04, 0x24}, RewriteR8Reg},
		{[]byte{0x45, 0x89, 0xC9}, RewriteR9Reg},
		{[]byte{0x41, 0xFF, 0xE6}, RewriteR14Slot},
	}
	for _, c := range cases {
		rw, ok := matchPattern(patternsWin8, c.bytes)
		assert.True(t, ok)
		assert.Equal(t, c.want, rw)
	}
}

func TestWin10TableMatchesEachDocumentedEntry(t *testing.T) {
	cases := []struct {
		bytes []byte
		want  Rewrite
	}{
		{[]byte{0x4C, 0x89, 0x34, 0x24}, RewriteStackSlot},
		{[]byte{0x4D, 0x89, 0x36}, RewriteR14Slot},
		{[]byte{0x44, 0x8B, 0x04, 0x24}, RewriteR8Reg},
		{[]byte{0x45, 0x89, 0xC9}, RewriteR9Reg},
		{[]byte{0x4D, 0x8B, 0x36}, RewriteR14Slot},
		{[]byte{0x41, 0x8B, 0x06}, RewriteR8Reg},
	}
	for _, c := range cases {
		rw, ok := matchPattern(patternsWin10, c.bytes)
		assert.True(t, ok)
		assert.Equal(t, c.want, rw)
	}
}
