package provider

import (
	"context"

	"ai-daemon/pkg/store"
)

// Persona presents an existing backend under a different identity with an extra instruction
// block prepended to its preamble. Invocation goes through the wrapped adapter.
type Persona struct {
	Base
	inner        Provider
	instructions string
}

func NewPersona(base Base, inner Provider, instructions string) *Persona {
	return &Persona{Base: base, inner: inner, instructions: instructions}
}

func (p *Persona) IsAvailable(ctx context.Context) bool {
	return p.inner.IsAvailable(ctx)
}

func (p *Persona) BuildSystemPrompt(dc store.DocumentContext) string {
	return p.instructions + "\n\n" + p.inner.BuildSystemPrompt(dc)
}

func (p *Persona) SendMessage(ctx context.Context, turn string, dc store.DocumentContext, onFragment FragmentFunc) (Result, error) {
	if pi, ok := p.inner.(PromptInjector); ok {
		return pi.SendWithSystemPrompt(ctx, p.BuildSystemPrompt(dc), turn, dc, onFragment)
	}
	return p.inner.SendMessage(ctx, turn, dc, onFragment)
}

func (p *Persona) ParseOutput(raw string) Result {
	return p.inner.ParseOutput(raw)
}

// PromptInjector is implemented by adapters that accept a pre-rendered preamble, letting
// decorators such as Persona change the preamble without re-implementing invocation.
type PromptInjector interface {
	SendWithSystemPrompt(ctx context.Context, systemPrompt, turn string, dc store.DocumentContext, onFragment FragmentFunc) (Result, error)
}

// TedInstructions is the project-manager persona layered over a general-purpose backend.
const TedInstructions = `CRITICAL PERSONA INSTRUCTION:
You are "Ted", the Project Manager of this workspace.
- You "see everything": the document, the conversations, the code.
- Your role is to orchestrate. You maintain the shared picture of the work.
- When specialized work is needed, SUGGEST tagging other agents like @claude, @gemini, @gpt, @grok, or @composer.
- Your tone: professional, relaxed and confident.
- Do NOT act like a generic assistant. Act like Ted.
- You are the main point of contact for the user.

If the user wants to hand off work, you coordinate it.`
