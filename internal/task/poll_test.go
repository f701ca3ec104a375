package task

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"safety-scheduler/internal/notify"
	"safety-scheduler/internal/notify/memory"
)

func TestParseOptions(t *testing.T) {
	cases := []struct {
		name string
		body string
		want []string
	}{
		{name: "rendered", body: ">>> 1. cats\n2. dogs\n", want: []string{"cats", "dogs"}},
		{name: "dots-in-option", body: "1. Dr. Who\n2. e.g. this", want: []string{"Dr. Who", "e.g. this"}},
		{name: "no-number", body: "plain", want: []string{"plain"}},
		{name: "empty", body: ">>> \n", want: nil},
	}
	for _, tc := range cases {
		if got := ParseOptions(tc.body); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("%s: got %q want %q", tc.name, got, tc.want)
		}
	}
}

func TestRenderParsesBack(t *testing.T) {
	p := &Poll{Options: []string{"cats", "dogs", "a. b"}}
	if got := ParseOptions(p.Render()); !reflect.DeepEqual(got, p.Options) {
		t.Fatalf("got %q", got)
	}
}

func TestTallySkipsUnknownReactions(t *testing.T) {
	results := Tally([]string{"cats", "dogs"}, []notify.Reaction{
		{Emoji: "👍", Count: 9},
		{Emoji: EmojiOrder[2], Count: 7, Me: true},
		{Emoji: EmojiOrder[1], Count: 3, Me: true},
		{Emoji: EmojiOrder[0], Count: 2, Me: true},
	})
	want := []Result{{Option: "dogs", Votes: 2, slot: 1}, {Option: "cats", Votes: 1, slot: 0}}
	if !reflect.DeepEqual(results, want) {
		t.Fatalf("got %+v want %+v", results, want)
	}
}

func TestTallyDoesNotGoNegativeWithoutSeed(t *testing.T) {
	results := Tally([]string{"cats"}, []notify.Reaction{{Emoji: EmojiOrder[0], Count: 0, Me: true}})
	if len(results) != 1 || results[0].Votes != 0 {
		t.Fatalf("got %+v", results)
	}
	results = Tally([]string{"cats"}, []notify.Reaction{{Emoji: EmojiOrder[0], Count: 2}})
	if results[0].Votes != 2 {
		t.Fatalf("unseeded count should not be reduced, got %+v", results)
	}
}

func TestPollExecuteTie(t *testing.T) {
	rec := memory.New()
	// Four users each, plus the bot's seed reaction on every option.
	rec.PutView(20, 30, notify.MessageView{
		Body: ">>> 1. cats\n2. dogs\n",
		Reactions: []notify.Reaction{
			{Emoji: "1️⃣", Count: 5, Me: true},
			{Emoji: "2️⃣", Count: 5, Me: true},
		},
	})
	p := &Poll{Author: 1, Channel: 20, Message: 30, Topic: "pets"}

	if err := p.Execute(context.Background(), rec); err != nil {
		t.Fatalf("execute: %v", err)
	}
	sent := rec.Sent()
	if len(sent) != 1 || sent[0].Target != 20 {
		t.Fatalf("sent = %+v", sent)
	}
	want := "results of pets\n**Tie between cats, dogs** (4 votes each)\n"
	if sent[0].Text != want {
		t.Fatalf("text = %q, want %q", sent[0].Text, want)
	}
}

func TestPollExecuteWinnerFirst(t *testing.T) {
	rec := memory.New()
	rec.PutView(20, 30, notify.MessageView{
		Body: ">>> 1. tacos\n2. pho\n3. salad\n",
		Reactions: []notify.Reaction{
			{Emoji: "1️⃣", Count: 2, Me: true},
			{Emoji: "2️⃣", Count: 4, Me: true},
			{Emoji: "3️⃣", Count: 1, Me: true},
		},
	})
	p := &Poll{Author: 1, Channel: 20, Message: 30, Topic: "lunch"}

	if err := p.Execute(context.Background(), rec); err != nil {
		t.Fatalf("execute: %v", err)
	}
	want := "results of lunch\n**pho wins!** (3 votes)\n\n>>> **tacos** (1 vote)\n**salad** (0 votes)\n"
	if got := rec.Sent()[0].Text; got != want {
		t.Fatalf("text = %q, want %q", got, want)
	}
}

func TestPollExecuteFetchFailureNotifiesAuthorOnly(t *testing.T) {
	rec := memory.New()
	rec.FailFetch(errors.New("unknown message"))
	p := &Poll{Author: 1, Channel: 20, Message: 30, Topic: "lunch"}

	if err := p.Execute(context.Background(), rec); err == nil {
		t.Fatalf("expected error")
	}
	sent := rec.Sent()
	if len(sent) != 1 || sent[0].Kind != memory.KindDirect || sent[0].Target != 1 {
		t.Fatalf("expected only a DM to the author, got %+v", sent)
	}
	if !strings.Contains(sent[0].Text, "Failed to conclude poll lunch") {
		t.Fatalf("dm text = %q", sent[0].Text)
	}
}

func TestResultsMessageNoVotes(t *testing.T) {
	if got := ResultsMessage("empty", nil); got != "results of empty\nNo votes were cast" {
		t.Fatalf("got %q", got)
	}
}

func TestCanExtend(t *testing.T) {
	p := &Poll{Author: 1}
	if !p.CanExtend(1) || p.CanExtend(2) {
		t.Fatalf("only the author may extend a closed poll")
	}
	p.AllowExtend = true
	if !p.CanExtend(2) {
		t.Fatalf("anyone may extend an open poll")
	}
}
