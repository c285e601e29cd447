// Package sysprompt assembles the message list handed to the Runtime
// Adapter for one persona's turn: a system message built from the
// persona's base prompt, tone, and catchphrases (plus an optional RAG
// section), an optional extra instruction message, the trailing history
// window, and a final user-role message.
//
// System-injected content is wrapped in <persona-system> tags so a
// consumer that wants to hide it from a transcript view can strip it.
package sysprompt

import (
	"regexp"
	"strings"

	"github.com/kandev/personaorch/internal/runtime"
	v1 "github.com/kandev/personaorch/pkg/api/v1"
)

const (
	// TagStart marks the beginning of system-injected content.
	TagStart = "<persona-system>"
	// TagEnd marks the end of system-injected content.
	TagEnd = "</persona-system>"
)

var systemTagRegex = regexp.MustCompile(`<persona-system>[\s\S]*?</persona-system>\s*`)

// StripSystemContent removes every <persona-system>...</persona-system>
// block from text, for displaying a transcript without injected framing.
func StripSystemContent(text string) string {
	return systemTagRegex.ReplaceAllString(text, "")
}

// Wrap marks content as system-injected.
func Wrap(content string) string {
	return TagStart + content + TagEnd
}

// RAGHeader is the fixed header under which retrieved knowledge is
// inserted into a persona's system message.
const RAGHeader = "RELEVANT BACKGROUND KNOWLEDGE:"

// ContinuationInvite is the trailing user-role content used for a
// continuation turn: it invites but does not compel a response, since the
// step was triggered by another persona's mention rather than the user.
const ContinuationInvite = "(the conversation continues; reply only if you have something to add)"

// Bundle is everything needed to assemble a persona's prompt messages for
// one turn.
type Bundle struct {
	Persona        v1.PersonaRef
	ExtraInstruction string
	RAGChunks      []v1.KnowledgeDoc
	History        []v1.Message
	LatestUserText string
	IsContinuation bool
}

// basePrompt renders the persona's identity into the leading block of the
// system message: base prompt, tone, and catchphrases, each optional.
func basePrompt(p v1.PersonaRef) string {
	var b strings.Builder
	if p.BasePrompt != "" {
		b.WriteString(p.BasePrompt)
	}
	if p.Tone != "" {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("Tone: " + p.Tone)
	}
	if len(p.Catchphrases) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Characteristic phrases you may use: " + strings.Join(p.Catchphrases, "; "))
	}
	return b.String()
}

// ragSection renders retrieved chunks under the fixed header, or "" if
// there is nothing to show.
func ragSection(docs []v1.KnowledgeDoc) string {
	if len(docs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(RAGHeader)
	for _, d := range docs {
		b.WriteString("\n- ")
		b.WriteString(d.PageContent)
	}
	return b.String()
}

// systemMessage assembles the persona's full system message: base prompt
// block, then an optional RAG section, both wrapped as system-injected.
func systemMessage(b Bundle) string {
	parts := []string{basePrompt(b.Persona)}
	if rag := ragSection(b.RAGChunks); rag != "" {
		parts = append(parts, rag)
	}
	return Wrap(strings.Join(parts, "\n\n"))
}

// Assemble builds the ordered message list the Runtime Adapter streams
// against: system message, optional extra instruction, the trailing
// history window rendered as "{sender}: {content}", and a final
// user-role message.
func Assemble(b Bundle) []runtime.Message {
	messages := []runtime.Message{
		{Role: runtime.RoleSystem, Content: systemMessage(b)},
	}
	if b.ExtraInstruction != "" {
		messages = append(messages, runtime.Message{Role: runtime.RoleSystem, Content: b.ExtraInstruction})
	}
	for _, m := range b.History {
		messages = append(messages, runtime.Message{
			Role:    runtime.RoleUser,
			Content: m.Sender + ": " + m.Content,
		})
	}

	trailing := b.LatestUserText
	if b.IsContinuation {
		trailing = ContinuationInvite
	}
	messages = append(messages, runtime.Message{Role: runtime.RoleUser, Content: trailing})
	return messages
}

// TrimHistory returns the trailing window of history: at most window
// entries if window > 0, or the whole slice if window < 0 (unbounded).
// window == 0 is forbidden by the caller (PersonaRef.EffectiveMemoryWindow
// already normalises it) but is treated as "no history" defensively.
func TrimHistory(history []v1.Message, window int) []v1.Message {
	if window < 0 || window >= len(history) {
		return history
	}
	if window == 0 {
		return nil
	}
	return history[len(history)-window:]
}
