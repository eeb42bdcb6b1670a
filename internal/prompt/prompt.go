// Package prompt assembles model messages for every generation task from
// the templates compiled in from templates.yaml.
package prompt

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/jacobjmc/lightpad/internal/errs"
	"github.com/jacobjmc/lightpad/internal/llm"
)

//go:embed templates.yaml
var templatesYAML []byte

// Task selects an instruction template.
type Task int

const (
	Continue Task = iota + 1
	Improve
	Shorten
	Lengthen
	Fix
	Zap
	ChatQA
	PostGeneration
)

// AllTasks lists every task; Load fails unless each has a template.
var AllTasks = []Task{Continue, Improve, Shorten, Lengthen, Fix, Zap, ChatQA, PostGeneration}

func (t Task) String() string {
	switch t {
	case Continue:
		return "continue"
	case Improve:
		return "improve"
	case Shorten:
		return "shorter"
	case Lengthen:
		return "longer"
	case Fix:
		return "fix"
	case Zap:
		return "zap"
	case ChatQA:
		return "chat_qa"
	case PostGeneration:
		return "post_generation"
	}
	return fmt.Sprintf("Task(%d)", int(t))
}

// ParseOption maps a completion option from the wire to its task.
func ParseOption(option string) (Task, error) {
	switch option {
	case "continue":
		return Continue, nil
	case "improve":
		return Improve, nil
	case "shorter":
		return Shorten, nil
	case "longer":
		return Lengthen, nil
	case "fix":
		return Fix, nil
	case "zap":
		return Zap, nil
	}
	return 0, errs.Newf(errs.InvalidArgument, "unknown option %q", option)
}

// Source is a note shown to the model as context or as an example.
type Source struct {
	Title   string `yaml:"title"`
	Content string `yaml:"content"`
}

type Payload struct {
	Text    string // prompt text for completion tasks
	Command string // zap only
	Notes   []Source
	History []llm.Message
}

type phraseRule struct {
	Phrase      string `yaml:"phrase"`
	Replacement string `yaml:"replacement"`
}

type taskTemplate struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

type resource struct {
	AffirmationGuard string                  `yaml:"affirmation_guard"`
	ExcludedPhrases  []phraseRule            `yaml:"excluded_phrases"`
	Cleanup          string                  `yaml:"cleanup"`
	Tasks            map[string]taskTemplate `yaml:"tasks"`
	Samples          struct {
		Posts       []Source `yaml:"posts"`
		ShowAndTell []Source `yaml:"show_and_tell"`
	} `yaml:"samples"`
}

type compiled struct {
	system *template.Template
	user   *template.Template
}

// Assembler renders prompts. It is safe for concurrent use.
type Assembler struct {
	guard       string
	excluded    []phraseRule
	samples     []Source
	showAndTell []Source
	cleanup     *template.Template
	tasks       map[Task]compiled
	stripper    *stripper
}

type templateData struct {
	Text        string
	Command     string
	Guard       string
	Notes       []Source
	ShowAndTell []Source
	Excluded    []string
}

var funcs = template.FuncMap{
	"join":  strings.Join,
	"notes": FormatNotes,
}

// Load parses the embedded templates.
func Load() (*Assembler, error) {
	return Parse(templatesYAML)
}

// Parse builds an Assembler from a templates document.
func Parse(data []byte) (*Assembler, error) {
	var res resource
	if err := yaml.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("parse prompt templates: %w", err)
	}
	if len(res.Samples.Posts) == 0 || len(res.Samples.ShowAndTell) == 0 {
		return nil, fmt.Errorf("prompt templates: sample posts are missing")
	}
	if len(res.ExcludedPhrases) == 0 {
		return nil, fmt.Errorf("prompt templates: excluded phrases are missing")
	}

	a := &Assembler{
		guard:       strings.TrimSpace(res.AffirmationGuard),
		excluded:    res.ExcludedPhrases,
		samples:     res.Samples.Posts,
		showAndTell: res.Samples.ShowAndTell,
		tasks:       make(map[Task]compiled, len(AllTasks)),
	}

	var err error
	if a.cleanup, err = template.New("cleanup").Funcs(funcs).Parse(res.Cleanup); err != nil {
		return nil, fmt.Errorf("prompt templates: cleanup: %w", err)
	}
	if a.stripper, err = newStripper(res.ExcludedPhrases); err != nil {
		return nil, err
	}

	for _, task := range AllTasks {
		tt, ok := res.Tasks[task.String()]
		if !ok || strings.TrimSpace(tt.System) == "" {
			return nil, fmt.Errorf("prompt templates: no template for task %q", task)
		}
		var c compiled
		if c.system, err = template.New(task.String()).Funcs(funcs).Parse(tt.System); err != nil {
			return nil, fmt.Errorf("prompt templates: %s system: %w", task, err)
		}
		if tt.User != "" {
			if c.user, err = template.New(task.String() + "_user").Funcs(funcs).Parse(tt.User); err != nil {
				return nil, fmt.Errorf("prompt templates: %s user: %w", task, err)
			}
		}
		if task.isCompletion() && c.user == nil {
			return nil, fmt.Errorf("prompt templates: task %q needs a user template", task)
		}
		a.tasks[task] = c
	}
	return a, nil
}

func (t Task) isCompletion() bool {
	switch t {
	case Continue, Improve, Shorten, Lengthen, Fix, Zap:
		return true
	}
	return false
}

// Assemble renders the messages for task. Post-generation falls back to
// the built-in sample posts when p.Notes is empty; chat QA never does.
func (a *Assembler) Assemble(task Task, p Payload) ([]llm.Message, error) {
	c, ok := a.tasks[task]
	if !ok {
		return nil, fmt.Errorf("prompt: unknown task %v", task)
	}
	data := templateData{
		Text:        p.Text,
		Command:     p.Command,
		Guard:       a.guard,
		Notes:       p.Notes,
		ShowAndTell: a.showAndTell,
	}

	switch task {
	case Continue, Improve, Shorten, Lengthen, Fix, Zap:
		system, err := render(c.system, data)
		if err != nil {
			return nil, err
		}
		user, err := render(c.user, data)
		if err != nil {
			return nil, err
		}
		return []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: user},
		}, nil

	case ChatQA:
		system, err := render(c.system, data)
		if err != nil {
			return nil, err
		}
		return withHistory(system, p.History), nil

	case PostGeneration:
		if len(data.Notes) == 0 {
			data.Notes = a.samples
		}
		system, err := render(c.system, data)
		if err != nil {
			return nil, err
		}
		return withHistory(system, p.History), nil
	}
	return nil, fmt.Errorf("prompt: unknown task %v", task)
}

func withHistory(system string, history []llm.Message) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+1)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: system})
	return append(msgs, history...)
}

func render(t *template.Template, data templateData) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", t.Name(), err)
	}
	return b.String(), nil
}

// FormatNotes renders notes as "Title: ...\n\nContent:\n..." blocks.
func FormatNotes(notes []Source) string {
	parts := make([]string, len(notes))
	for i, n := range notes {
		parts[i] = fmt.Sprintf("Title: %s\n\nContent:\n%s", n.Title, n.Content)
	}
	return strings.Join(parts, "\n\n")
}

// SamplePosts returns the built-in example posts.
func (a *Assembler) SamplePosts() []Source {
	return append([]Source(nil), a.samples...)
}

// ExcludedPhrases returns the phrases post-generation output must not contain.
func (a *Assembler) ExcludedPhrases() []string {
	out := make([]string, len(a.excluded))
	for i, r := range a.excluded {
		out[i] = r.Phrase
	}
	return out
}

// CleanupPrompt builds the instruction for the second model pass.
func (a *Assembler) CleanupPrompt(text string) (string, error) {
	var b strings.Builder
	err := a.cleanup.Execute(&b, templateData{Text: text, Excluded: a.ExcludedPhrases()})
	if err != nil {
		return "", fmt.Errorf("render cleanup prompt: %w", err)
	}
	return b.String(), nil
}

// StripExcluded removes every excluded phrase from text, case-insensitively.
func (a *Assembler) StripExcluded(text string) string {
	return a.stripper.strip(text)
}
