// Package tvar extracts structured Thought-Verify-Action-Result reasoning
// blocks from free-form assistant text and classifies them into one of the
// five engagement phases.
package tvar

import "regexp"

// blockPattern matches a <thought> immediately followed (after optional
// whitespace) by a <verify>, with an optional <action> and <result>.
// A lone <thought> with no following <verify> simply never matches.
var blockPattern = regexp.MustCompile(
	`(?is)<thought>(.*?)</thought>\s*<verify>(.*?)</verify>(?:\s*<action>(.*?)</action>)?(?:\s*<result>(.*?)</result>)?`,
)

// Block is one parsed TVAR reasoning block.
type Block struct {
	Thought string
	Verify  string
	Action  string
	Result  string
	Phase   string

	// Start and End are byte offsets of the full matched range in the
	// source text, used by Strip to remove exactly the parsed ranges.
	Start int
	End   int
}

// Parse scans text for TVAR blocks in order of appearance.
func Parse(text string) []Block {
	matches := blockPattern.FindAllStringSubmatchIndex(text, -1)
	blocks := make([]Block, 0, len(matches))
	for _, m := range matches {
		b := Block{
			Start:   m[0],
			End:     m[1],
			Thought: submatch(text, m, 2),
			Verify:  submatch(text, m, 4),
			Action:  submatch(text, m, 6),
			Result:  submatch(text, m, 8),
		}
		b.Phase = ClassifyPhase(b.Thought + " " + b.Verify)
		blocks = append(blocks, b)
	}
	return blocks
}

func submatch(text string, m []int, idx int) string {
	start, end := m[idx], m[idx+1]
	if start < 0 || end < 0 {
		return ""
	}
	return text[start:end]
}

// Strip removes the byte ranges of the given blocks from text, highest
// index first so earlier removals never shift a later range. Reparsing
// the result yields zero blocks.
func Strip(text string, blocks []Block) string {
	if len(blocks) == 0 {
		return text
	}
	ordered := append([]Block(nil), blocks...)
	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			if ordered[j].Start > ordered[i].Start {
				ordered[i], ordered[j] = ordered[j], ordered[i]
			}
		}
	}
	for _, b := range ordered {
		text = text[:b.Start] + text[b.End:]
	}
	return text
}
