package i18n

import (
	"fmt"
	"strings"

	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/constants"

	"github.com/gin-gonic/gin"
	"golang.org/x/text/language"
)

const (
	// LocaleES 默认语言
	LocaleES = constants.LocaleEs
	LocaleEN = constants.LocaleEn

	// LocaleContextKey 中间件或处理器可预先写入的语言
	LocaleContextKey = "locale"
)

var (
	supportedTags = []language.Tag{language.Spanish, language.English}
	matcher       = language.NewMatcher(supportedTags)
)

// NormalizeLocale 将任意语言标签归一为已支持的语言
func NormalizeLocale(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return LocaleES
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return LocaleES
	}
	_, index, confidence := matcher.Match(tag)
	if confidence == language.No {
		return LocaleES
	}
	return localeOf(index)
}

// ResolveLocale 依次读取上下文、?lang= 与 Accept-Language
func ResolveLocale(c *gin.Context) string {
	if c == nil {
		return LocaleES
	}
	if value, ok := c.Get(LocaleContextKey); ok {
		if locale, ok := value.(string); ok && locale != "" {
			return NormalizeLocale(locale)
		}
	}
	if lang := strings.TrimSpace(c.Query("lang")); lang != "" {
		return NormalizeLocale(lang)
	}
	header := strings.TrimSpace(c.GetHeader("Accept-Language"))
	if header == "" {
		return LocaleES
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return LocaleES
	}
	_, index, confidence := matcher.Match(tags...)
	if confidence == language.No {
		return LocaleES
	}
	return localeOf(index)
}

// T 按语言取文案，缺失时回退到默认语言，再回退到 key 本身
func T(locale, key string) string {
	if msg, ok := lookup(NormalizeLocale(locale), key); ok {
		return msg
	}
	if msg, ok := lookup(LocaleES, key); ok {
		return msg
	}
	return key
}

// Sprintf 带参数的文案
func Sprintf(locale, key string, args ...interface{}) string {
	return fmt.Sprintf(T(locale, key), args...)
}

func lookup(locale, key string) (string, bool) {
	table, ok := messages[locale]
	if !ok {
		return "", false
	}
	msg, ok := table[key]
	return msg, ok
}

func localeOf(index int) string {
	if index >= 0 && index < len(supportedTags) && supportedTags[index] == language.English {
		return LocaleEN
	}
	return LocaleES
}
