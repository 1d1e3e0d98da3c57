package lsp

import "sort"

// PositionConverter translates between LSP positions (0-based line, UTF-16
// character) and byte or rune offsets into a fixed piece of content.
type PositionConverter struct {
	content string
	lines   []lineInfo
}

// lineInfo stores information about a line for position conversion.
type lineInfo struct {
	byteOffset int // Byte offset of line start
	runeOffset int // Rune offset of line start
	byteLen    int // Length in bytes, excluding the newline
	runeLen    int // Length in runes, excluding the newline
}

// NewPositionConverter creates a new converter for the given content.
func NewPositionConverter(content string) *PositionConverter {
	pc := &PositionConverter{content: content}
	pc.buildLineIndex()
	return pc
}

func (pc *PositionConverter) buildLineIndex() {
	runeOffset := 0
	lineStart := 0
	runeLineStart := 0

	for i, r := range pc.content {
		if r == '\n' {
			pc.lines = append(pc.lines, lineInfo{
				byteOffset: lineStart,
				runeOffset: runeLineStart,
				byteLen:    i - lineStart,
				runeLen:    runeOffset - runeLineStart,
			})
			lineStart = i + 1
			runeLineStart = runeOffset + 1
		}
		runeOffset++
	}

	// Last line (may not end with newline)
	pc.lines = append(pc.lines, lineInfo{
		byteOffset: lineStart,
		runeOffset: runeLineStart,
		byteLen:    len(pc.content) - lineStart,
		runeLen:    runeOffset - runeLineStart,
	})
}

// LineCount returns the number of lines.
func (pc *PositionConverter) LineCount() int {
	return len(pc.lines)
}

// RuneCount returns the total number of runes in the content.
func (pc *PositionConverter) RuneCount() int {
	last := pc.lines[len(pc.lines)-1]
	return last.runeOffset + last.runeLen
}

func (pc *PositionConverter) lineText(line lineInfo) string {
	return pc.content[line.byteOffset : line.byteOffset+line.byteLen]
}

// ByteOffsetToPosition converts a byte offset to an LSP Position.
// Offsets past the end clamp to the end of the content.
func (pc *PositionConverter) ByteOffsetToPosition(byteOffset int) Position {
	if byteOffset <= 0 {
		return Position{}
	}
	lineNum := sort.Search(len(pc.lines), func(i int) bool {
		return pc.lines[i].byteOffset > byteOffset
	}) - 1
	line := pc.lines[lineNum]

	charOffset := min(byteOffset-line.byteOffset, line.byteLen)
	return Position{
		Line:      lineNum,
		Character: byteToUTF16Offset(pc.lineText(line), charOffset),
	}
}

// PositionToByteOffset converts an LSP Position to a byte offset.
// Lines past the end map to the end of the content; characters past the end
// of a line map to the end of that line.
func (pc *PositionConverter) PositionToByteOffset(pos Position) int {
	if pos.Line < 0 {
		return 0
	}
	if pos.Line >= len(pc.lines) {
		return len(pc.content)
	}
	line := pc.lines[pos.Line]
	return line.byteOffset + utf16ToByteOffset(pc.lineText(line), pos.Character)
}

// RuneOffsetToPosition converts a rune offset to an LSP Position.
func (pc *PositionConverter) RuneOffsetToPosition(runeOffset int) Position {
	if runeOffset <= 0 {
		return Position{}
	}
	lineNum := sort.Search(len(pc.lines), func(i int) bool {
		return pc.lines[i].runeOffset > runeOffset
	}) - 1
	line := pc.lines[lineNum]

	runeInLine := min(runeOffset-line.runeOffset, line.runeLen)
	return Position{
		Line:      lineNum,
		Character: runeToUTF16Offset(pc.lineText(line), runeInLine),
	}
}

// PositionToRuneOffset converts an LSP Position to a rune offset.
func (pc *PositionConverter) PositionToRuneOffset(pos Position) int {
	if pos.Line < 0 {
		return 0
	}
	if pos.Line >= len(pc.lines) {
		return pc.RuneCount()
	}
	line := pc.lines[pos.Line]
	return line.runeOffset + utf16ToRuneOffset(pc.lineText(line), pos.Character)
}

// RuneOffsetsToRange converts start and end rune offsets to an LSP Range.
func (pc *PositionConverter) RuneOffsetsToRange(start, end int) Range {
	return Range{
		Start: pc.RuneOffsetToPosition(start),
		End:   pc.RuneOffsetToPosition(end),
	}
}

// RangeToByteOffsets converts an LSP Range to start and end byte offsets.
func (pc *PositionConverter) RangeToByteOffsets(rng Range) (start, end int) {
	return pc.PositionToByteOffset(rng.Start), pc.PositionToByteOffset(rng.End)
}

// --- UTF-16 conversion helpers ---

func utf16Width(r rune) int {
	if r >= 0x10000 {
		return 2 // Surrogate pair
	}
	return 1
}

// byteToUTF16Offset converts a byte offset within s to a UTF-16 offset.
func byteToUTF16Offset(s string, byteOff int) int {
	utf16Off := 0
	for i, r := range s {
		if i >= byteOff {
			break
		}
		utf16Off += utf16Width(r)
	}
	return utf16Off
}

// utf16ToByteOffset converts a UTF-16 offset within s to a byte offset.
func utf16ToByteOffset(s string, utf16Off int) int {
	count := 0
	for i, r := range s {
		if count >= utf16Off {
			return i
		}
		count += utf16Width(r)
	}
	return len(s)
}

// runeToUTF16Offset converts a rune offset within s to a UTF-16 offset.
func runeToUTF16Offset(s string, runeOff int) int {
	runes := 0
	utf16Off := 0
	for _, r := range s {
		if runes >= runeOff {
			break
		}
		utf16Off += utf16Width(r)
		runes++
	}
	return utf16Off
}

// utf16ToRuneOffset converts a UTF-16 offset within s to a rune offset.
func utf16ToRuneOffset(s string, utf16Off int) int {
	count := 0
	runes := 0
	for _, r := range s {
		if count >= utf16Off {
			break
		}
		count += utf16Width(r)
		runes++
	}
	return runes
}

// ComparePositions returns -1 if a < b, 0 if a == b, 1 if a > b.
func ComparePositions(a, b Position) int {
	switch {
	case a.Line < b.Line:
		return -1
	case a.Line > b.Line:
		return 1
	case a.Character < b.Character:
		return -1
	case a.Character > b.Character:
		return 1
	}
	return 0
}
