package tutor

import (
	"regexp"
	"strings"
)

// quizMarker 匹配 [QUIZ_MODE: <field1> | <field2>]，字段非空且不能包含方括号或竖线。
var quizMarker = regexp.MustCompile(`\[QUIZ_MODE:\s*([^\[\]|\s][^\[\]|]*?)\s*\|\s*([^\[\]|\s][^\[\]|]*?)\s*\]`)

// QuizTrigger 是从 assistant 回复中解析出的测验触发信息。
type QuizTrigger struct {
	RawMarker        string `json:"rawMarker"`
	DifficultyOrMode string `json:"difficultyOrMode"`
	Topic            string `json:"topic"`
}

// ScanQuizMarker 返回文本中第一个测验标记。格式不完整的标记视为普通文本。
func ScanQuizMarker(text string) (QuizTrigger, bool) {
	m := quizMarker.FindStringSubmatch(text)
	if m == nil {
		return QuizTrigger{}, false
	}
	return QuizTrigger{
		RawMarker:        m[0],
		DifficultyOrMode: strings.TrimSpace(m[1]),
		Topic:            strings.TrimSpace(m[2]),
	}, true
}

// StripQuizMarkers 删除所有格式正确的测验标记，用于展示。
// 只整理标记两侧留下的空白，标记以外的文本保持原样。
func StripQuizMarkers(text string) string {
	locs := quizMarker.FindAllStringIndex(text, -1)
	// 从后往前删除，前面标记的下标不受影响。
	for i := len(locs) - 1; i >= 0; i-- {
		text = spliceMarker(text, locs[i][0], locs[i][1])
	}
	return text
}

// spliceMarker 删除 text[start:end] 处的标记及其同一行上相邻的空格和制表符。
func spliceMarker(text string, start, end int) string {
	for start > 0 && isBlank(text[start-1]) {
		start--
	}
	for end < len(text) && isBlank(text[end]) {
		end++
	}
	before, after := text[:start], text[end:]

	switch {
	case before == "":
		return strings.TrimLeft(after, "\n")
	case after == "":
		return strings.TrimRight(before, "\n")
	case strings.HasSuffix(before, "\n") || strings.HasPrefix(after, "\n"):
		// 标记在行首、行尾或独占一行：保留两侧较长的换行，不额外制造空行。
		head := strings.TrimRight(before, "\n")
		tail := strings.TrimLeft(after, "\n")
		breaks := max(len(before)-len(head), len(after)-len(tail))
		return head + strings.Repeat("\n", breaks) + tail
	default:
		return before + " " + after
	}
}

func isBlank(b byte) bool {
	return b == ' ' || b == '\t'
}
