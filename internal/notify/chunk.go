package notify

import (
	"strings"
	"unicode/utf8"
)

// MaxMessageLength - лимит одного сообщения Telegram с запасом
const MaxMessageLength = 4000

// Chunk режет текст на части не длиннее limit символов по границам строк.
//
// Перевод строки остаётся в конце своей части, поэтому склейка частей
// в точности даёт исходный текст. Строка длиннее limit режется по символам.
func Chunk(text string, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageLength
	}
	if utf8.RuneCountInString(text) <= limit {
		if text == "" {
			return nil
		}
		return []string{text}
	}

	var (
		chunks []string
		cur    strings.Builder
		curLen int
	)
	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		n := utf8.RuneCountInString(line)
		if curLen+n > limit {
			flush()
		}
		for n > limit {
			head, tail := splitRunes(line, limit)
			chunks = append(chunks, head)
			line = tail
			n -= limit
		}
		cur.WriteString(line)
		curLen += n
	}
	flush()
	return chunks
}

// splitRunes делит строку после n-го символа
func splitRunes(s string, n int) (string, string) {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos], s[pos:]
		}
		i++
	}
	return s, ""
}
