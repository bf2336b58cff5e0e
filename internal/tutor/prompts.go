package tutor

import (
	"fmt"
	"strings"
	"text/template"
)

// Prompts holds the system instruction templates. Templates use
// text/template syntax; Conversation and Problem see {{.Level}}, Evaluation
// sees {{.Reference}} and {{.Answer}}.
type Prompts struct {
	Conversation string `yaml:"conversation"`
	Problem      string `yaml:"problem"`
	Evaluation   string `yaml:"evaluation"`
}

const defaultConversation = `You are a friendly English conversation partner for a {{.Level}} learner.
Reply in natural English in no more than three sentences, using vocabulary suited to that level.
If the learner's last message contains a grammatical mistake, start with the corrected sentence, then continue the conversation.
End with a short question so the learner can keep talking.`

const defaultProblem = `You are creating listening and speaking practice for a {{.Level}} English learner.
Write exactly one sentence of everyday conversational English, around fifteen words long, using vocabulary suited to that level.
Reply with the sentence only, without quotation marks or commentary.`

const defaultEvaluation = `You are an English teacher reviewing a listening exercise.

Reference sentence: {{.Reference}}
Learner's answer: {{.Answer}}

Compare the answer with the reference. Point out missing, extra or wrong words, note whether the meaning was kept, and give one concrete tip for next time.
Keep the feedback short and encouraging. Do not give a numeric score.`

// DefaultApology is returned in place of a reply when completion fails.
const DefaultApology = "Sorry, I couldn't come up with a reply just now. Please try again."

// DefaultPrompts returns the built-in templates.
func DefaultPrompts() Prompts {
	return Prompts{
		Conversation: defaultConversation,
		Problem:      defaultProblem,
		Evaluation:   defaultEvaluation,
	}
}

// withDefaults fills empty fields from [DefaultPrompts].
func (p Prompts) withDefaults() Prompts {
	d := DefaultPrompts()
	if strings.TrimSpace(p.Conversation) == "" {
		p.Conversation = d.Conversation
	}
	if strings.TrimSpace(p.Problem) == "" {
		p.Problem = d.Problem
	}
	if strings.TrimSpace(p.Evaluation) == "" {
		p.Evaluation = d.Evaluation
	}
	return p
}

type compiled struct {
	conversation *template.Template
	problem      *template.Template
	evaluation   *template.Template
}

func compile(p Prompts) (*compiled, error) {
	p = p.withDefaults()
	var c compiled
	for _, t := range []struct {
		dst  **template.Template
		name string
		text string
	}{
		{&c.conversation, "conversation", p.Conversation},
		{&c.problem, "problem", p.Problem},
		{&c.evaluation, "evaluation", p.Evaluation},
	} {
		tmpl, err := template.New(t.name).Option("missingkey=error").Parse(t.text)
		if err != nil {
			return nil, fmt.Errorf("tutor: parse %s prompt: %w", t.name, err)
		}
		*t.dst = tmpl
	}
	return &c, nil
}

type levelData struct{ Level string }

type evaluationData struct{ Reference, Answer string }

func render(t *template.Template, data any) (string, error) {
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("tutor: render %s prompt: %w", t.Name(), err)
	}
	return strings.TrimSpace(sb.String()), nil
}

// Validate parses p and renders each template with sample data so that
// unknown fields are caught at load time rather than mid-conversation.
func (p Prompts) Validate() error {
	c, err := compile(p)
	if err != nil {
		return err
	}
	if _, err := render(c.conversation, levelData{Level: "beginner"}); err != nil {
		return err
	}
	if _, err := render(c.problem, levelData{Level: "beginner"}); err != nil {
		return err
	}
	_, err = render(c.evaluation, evaluationData{Reference: "ref", Answer: "ans"})
	return err
}
