// Package prompt builds the text sent to the model: the system context of a
// conversation and the user question with its optional code attachment.
package prompt

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/conversation"
	"github.com/rs/zerolog/log"
)

const DefaultSystemContext = `You are ChatGPT helping the User with coding. ` +
	`You are intelligent, helpful and an expert developer, who always gives the correct answer and only does what instructed. ` +
	`If the user is asking for a code change or new code, only respond with new code, do not give explanations. ` +
	`When responding to the following prompt, please make sure to properly style your response using Github Flavored Markdown. ` +
	`Use markdown syntax for things like headings, lists, colored text, code blocks, highlights etc. ` +
	`Make sure not to mention markdown or styling in your actual response.`

var verbosityDirectives = map[conversation.Verbosity]string{
	conversation.VerbosityCode:    "Only respond with code. Do not give any explanations.",
	conversation.VerbosityConcise: "Keep your explanations short and concise.",
	conversation.VerbosityNormal:  "",
	conversation.VerbosityFull:    "Explain your answer in detail, step by step.",
}

// SystemData is what the system context template can refer to.
type SystemData struct {
	Model     string
	Language  string
	Verbosity conversation.Verbosity
	Date      time.Time
}

type Builder struct {
	literal string
	system  *template.Template
}

// NewBuilder parses the system context as a text/template with the sprig
// functions available. An empty context uses DefaultSystemContext. A context
// that is not a valid template is used as is.
func NewBuilder(systemContext string) *Builder {
	if strings.TrimSpace(systemContext) == "" {
		systemContext = DefaultSystemContext
	}
	ret := &Builder{literal: strings.TrimSpace(systemContext)}
	tmpl, err := template.New("system").Funcs(sprig.FuncMap()).Parse(systemContext)
	if err != nil {
		log.Warn().Err(err).Msg("system context is not a valid template, using it verbatim")
		return ret
	}
	ret.system = tmpl
	return ret
}

// SystemMessage renders the system context. If rendering fails the context is
// returned verbatim.
func (b *Builder) SystemMessage(data SystemData) string {
	if b.system == nil {
		return b.literal
	}
	if data.Date.IsZero() {
		data.Date = time.Now()
	}
	var buf bytes.Buffer
	if err := b.system.Execute(&buf, data); err != nil {
		log.Warn().Err(err).Msg("could not render system context, using it verbatim")
		return b.literal
	}
	return strings.TrimSpace(buf.String())
}

// Question is a user question with an optional code attachment.
type Question struct {
	Text      string
	Code      string
	Language  string
	Verbosity conversation.Verbosity
}

// Build returns the prompt text for q. Attached code is fenced and tagged with
// its language when one is known.
func (q Question) Build() string {
	var sb strings.Builder
	sb.WriteString(strings.TrimRight(q.Text, " \t\r\n"))

	if q.Code != "" {
		if q.Language != "" {
			fmt.Fprintf(&sb, " (The following code is in %s programming language)", q.Language)
		}
		sb.WriteString(":\n\n")
		sb.WriteString(FenceCode(q.Code, q.Language))
	}

	if d := Directive(q.Verbosity); d != "" {
		sb.WriteString("\n\n")
		sb.WriteString(d)
	}
	return sb.String()
}

// Directive is the instruction appended to a question for the given verbosity.
func Directive(v conversation.Verbosity) string {
	return verbosityDirectives[v]
}

// FenceCode wraps code in a markdown fence. The fence grows when the code
// itself contains backtick runs.
func FenceCode(code string, language string) string {
	fence := "```"
	for strings.Contains(code, fence) {
		fence += "`"
	}
	code = strings.TrimRight(code, "\n")
	return fence + language + "\n" + code + "\n" + fence
}

var extensionLanguages = map[string]string{
	".go":    "go",
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".rs":    "rust",
	".java":  "java",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".cs":    "csharp",
	".rb":    "ruby",
	".php":   "php",
	".sh":    "shellscript",
	".sql":   "sql",
	".yaml":  "yaml",
	".yml":   "yaml",
	".json":  "json",
	".md":    "markdown",
	".html":  "html",
	".css":   "css",
	".kt":    "kotlin",
	".swift": "swift",
}

// LanguageFromPath guesses an editor language id from a file name.
func LanguageFromPath(path string) string {
	return extensionLanguages[strings.ToLower(filepath.Ext(path))]
}
