package ml

import (
	"regexp"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// 两个及以上的单词字符
var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// Tokenize 规范化文本（NFKC、小写）并切分为词，保留停用词，见ContentTokens
func Tokenize(text string) []string {
	// Caser有状态，每次调用新建
	normalized := cases.Lower(language.Und).String(norm.NFKC.String(text))
	return tokenPattern.FindAllString(normalized, -1)
}

// ContentTokens 去除英文停用词后的Tokenize
func ContentTokens(text string) []string {
	tokens := Tokenize(text)
	out := tokens[:0]
	for _, tok := range tokens {
		if !IsStopWord(tok) {
			out = append(out, tok)
		}
	}
	return out
}
