package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/jacobjmc/lightpad/internal/errs"
	"github.com/jacobjmc/lightpad/internal/llm"
)

type fataler interface {
	Helper()
	Fatalf(format string, args ...any)
}

func mustLoad(t fataler) *Assembler {
	t.Helper()
	a, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return a
}

func TestLoad_EveryTaskHasTemplate(t *testing.T) {
	a := mustLoad(t)
	for _, task := range AllTasks {
		_, ok := a.tasks[task]
		assert.True(t, ok, "task %s has no template", task)
	}
}

func TestParse_MissingTaskIsError(t *testing.T) {
	doc := strings.Replace(string(templatesYAML), "  zap:\n", "  zapped:\n", 1)
	_, err := Parse([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"zap"`)
}

func TestParseOption(t *testing.T) {
	for option, want := range map[string]Task{
		"continue": Continue,
		"improve":  Improve,
		"shorter":  Shorten,
		"longer":   Lengthen,
		"fix":      Fix,
		"zap":      Zap,
	} {
		got, err := ParseOption(option)
		require.NoError(t, err, option)
		assert.Equal(t, want, got)
		assert.Equal(t, option, got.String())
	}

	for _, bad := range []string{"", "Continue", "summarise", "chat_qa", "post_generation"} {
		_, err := ParseOption(bad)
		assert.True(t, errs.Is(err, errs.InvalidArgument), "option %q", bad)
	}
}

func TestAssemble_CompletionTasks(t *testing.T) {
	a := mustLoad(t)
	for _, task := range []Task{Continue, Improve, Shorten, Lengthen, Fix, Zap} {
		msgs, err := a.Assemble(task, Payload{Text: "the cat sat", Command: "make it rhyme"})
		require.NoError(t, err, task.String())
		require.Len(t, msgs, 2)
		assert.Equal(t, llm.RoleSystem, msgs[0].Role)
		assert.Contains(t, msgs[0].Content, "without unnecessary affirmations")
		assert.Equal(t, llm.RoleUser, msgs[1].Role)
		assert.Contains(t, msgs[1].Content, "the cat sat")
	}

	msgs, err := a.Assemble(Zap, Payload{Text: "the cat sat", Command: "make it rhyme"})
	require.NoError(t, err)
	assert.Equal(t, "For this text: the cat sat. You have to respect the command: make it rhyme", msgs[1].Content)

	msgs, err = a.Assemble(Continue, Payload{Text: "once upon"})
	require.NoError(t, err)
	assert.Equal(t, "once upon", msgs[1].Content)
}

func TestAssemble_UnknownTask(t *testing.T) {
	a := mustLoad(t)
	_, err := a.Assemble(Task(99), Payload{})
	assert.Error(t, err)
}

func TestAssemble_PostGenerationFallsBackToSamples(t *testing.T) {
	a := mustLoad(t)
	history := []llm.Message{{Role: llm.RoleUser, Content: "Painting and sandpit today"}}

	msgs, err := a.Assemble(PostGeneration, Payload{History: history})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	system := msgs[0].Content
	for _, s := range a.SamplePosts() {
		assert.Contains(t, system, "Title: "+s.Title+"\n\nContent:\n"+s.Content)
	}
	assert.Contains(t, system, "Exploring the Letter J")
	assert.Equal(t, history[0], msgs[1])

	notes := []Source{{Title: "Water play", Content: "The children filled buckets."}}
	msgs, err = a.Assemble(PostGeneration, Payload{Notes: notes, History: history})
	require.NoError(t, err)
	system = msgs[0].Content
	assert.Contains(t, system, "Title: Water play\n\nContent:\nThe children filled buckets.")
	for _, s := range a.SamplePosts() {
		assert.NotContains(t, system, s.Content)
	}
}

func TestAssemble_ChatQANeverUsesSamples(t *testing.T) {
	a := mustLoad(t)

	msgs, err := a.Assemble(ChatQA, Payload{History: []llm.Message{{Role: llm.RoleUser, Content: "what did we do?"}}})
	require.NoError(t, err)
	system := msgs[0].Content
	assert.NotContains(t, system, "relevant notes")
	for _, s := range a.SamplePosts() {
		assert.NotContains(t, system, s.Title)
	}

	msgs, err = a.Assemble(ChatQA, Payload{Notes: []Source{{Title: "Monday", Content: "Obstacle course"}}})
	require.NoError(t, err)
	assert.Contains(t, msgs[0].Content, "Title: Monday\n\nContent:\nObstacle course")
}

func TestCleanupPrompt(t *testing.T) {
	a := mustLoad(t)
	p, err := a.CleanupPrompt("Title: Fun day")
	require.NoError(t, err)
	assert.Contains(t, p, "<excluded>sparking,spark,sparked,at our childcare centre,")
	assert.True(t, strings.HasSuffix(p, "content: Title: Fun day"))
}

func testStripExcludedRemovesEveryPhrase(t *rapid.T) {
	a := mustLoad(t)
	phrases := a.ExcludedPhrases()

	n := rapid.IntRange(0, 8).Draw(t, "pieces")
	var b strings.Builder
	for i := 0; i < n; i++ {
		if rapid.Bool().Draw(t, "phrase") {
			p := rapid.SampledFrom(phrases).Draw(t, "excluded")
			if rapid.Bool().Draw(t, "upper") {
				p = strings.ToUpper(p)
			}
			b.WriteString(p)
		} else {
			b.WriteString(rapid.StringMatching(`[a-zA-Z ,.]{0,10}`).Draw(t, "filler"))
		}
	}

	out := strings.ToLower(a.StripExcluded(b.String()))
	for _, p := range phrases {
		if strings.Contains(out, p) {
			t.Fatalf("output %q still contains %q", out, p)
		}
	}
}

func TestStripExcludedRemovesEveryPhrase(t *testing.T) {
	rapid.Check(t, testStripExcludedRemovesEveryPhrase)
}

func FuzzStripExcludedRemovesEveryPhrase(f *testing.F) {
	f.Fuzz(rapid.MakeFuzz(testStripExcludedRemovesEveryPhrase))
}

func TestStripExcluded(t *testing.T) {
	a := mustLoad(t)
	tests := []struct {
		in, want string
	}{
		{"The children sparked joy.", "The children inspired joy."},
		{"Diving into books was fun.", "Exploring books was fun."},
		{"A magical array of colours.", "A wonderful range of colours."},
		{"We played at our childcare centre today.", "We played today."},
		{"No excluded words here.", "No excluded words here."},
		{"Lovely day at our childcare centre.", "Lovely day."},
		{"Magical bikes  and sand", "Wonderful bikes  and sand"},
		{"  - We ended the day with a song", "  - We also enjoyed a song"},
		{"Version 2 .0 was a magical step", "Version 2 .0 was a wonderful step"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, a.StripExcluded(tt.in), tt.in)
	}
}

func TestStripExcluded_CleanTextIsByteIdentical(t *testing.T) {
	a := mustLoad(t)
	in := "- Outdoor play\n  - bikes  and sand\n\t- Version 2 .0 done\n\n  trailing space \n"
	assert.Equal(t, in, a.StripExcluded(in))
}

func TestStripExcluded_InWordMatchIsDeletedNotReplaced(t *testing.T) {
	a := mustLoad(t)
	out := a.StripExcluded("The sparkly shoes and a dovetail joint.")
	assert.NotContains(t, strings.ToLower(out), "spark")
	assert.NotContains(t, out, "inspire")
	assert.Contains(t, out, "dovetail joint.")
}

func testStripExcludedLeavesCleanTextAlone(t *rapid.T) {
	a := mustLoad(t)
	in := rapid.StringMatching(`[a-z0-9 \t\n.,\-]{0,40}`).Draw(t, "text")
	lower := strings.ToLower(in)
	for _, p := range a.ExcludedPhrases() {
		if strings.Contains(lower, p) {
			t.Skip("contains an excluded phrase")
		}
	}
	if out := a.StripExcluded(in); out != in {
		t.Fatalf("StripExcluded(%q) = %q, want unchanged", in, out)
	}
}

func TestStripExcludedLeavesCleanTextAlone(t *testing.T) {
	rapid.Check(t, testStripExcludedLeavesCleanTextAlone)
}
