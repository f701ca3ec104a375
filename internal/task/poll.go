package task

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"safety-scheduler/internal/notify"
)

var ErrNoOptions = errors.New("poll message has no options")

// Poll closes a reaction poll when it comes due and posts the results.
type Poll struct {
	Author  uint64 `msgpack:"author" json:"author"`
	Channel uint64 `msgpack:"channel" json:"channel"`
	// Message is the id of the chat message carrying the poll and its reactions.
	Message uint64   `msgpack:"message" json:"message"`
	Topic   string   `msgpack:"topic" json:"topic"`
	Options []string `msgpack:"options" json:"options"`
	// AllowExtend lets users other than the author add options.
	AllowExtend bool `msgpack:"allow_extend" json:"allow_extend"`
}

func (p *Poll) Kind() Kind { return KindPoll }

func (p *Poll) isTask() {}

// CanExtend reports whether user may add options to the poll.
func (p *Poll) CanExtend(user uint64) bool {
	return user == p.Author || p.AllowExtend
}

// Render produces the quoted, numbered option list the tally parses back.
func (p *Poll) Render() string {
	var b strings.Builder
	b.WriteString(">>> ")
	for i, opt := range p.Options {
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(opt)
		b.WriteString("\n")
	}
	return b.String()
}

func (p *Poll) Execute(ctx context.Context, n notify.Notifier) error {
	view, err := n.FetchMessage(ctx, p.Channel, p.Message)
	if err != nil {
		p.reportFailure(ctx, n, err)
		return fmt.Errorf("fetch poll %q: %w", p.Topic, err)
	}

	options := ParseOptions(view.Body)
	if len(options) == 0 {
		p.reportFailure(ctx, n, ErrNoOptions)
		return fmt.Errorf("poll %q: %w", p.Topic, ErrNoOptions)
	}

	msg := ResultsMessage(p.Topic, Tally(options, view.Reactions))
	if err := n.SendMessage(ctx, p.Channel, msg); err != nil {
		p.reportFailure(ctx, n, err)
		return fmt.Errorf("send poll results %q: %w", p.Topic, err)
	}
	return nil
}

func (p *Poll) reportFailure(ctx context.Context, n notify.Notifier, cause error) {
	_ = n.DirectMessage(ctx, p.Author, fmt.Sprintf("Failed to conclude poll %s: %v", p.Topic, cause))
}

// ParseOptions reads the option list out of a rendered poll body. Each line
// looks like "N. option"; everything after the first ". " is the option.
func ParseOptions(body string) []string {
	body = strings.TrimRight(body, " \t\r\n")
	body = strings.TrimPrefix(body, ">>> ")
	if strings.TrimSpace(body) == "" {
		return nil
	}
	lines := strings.Split(body, "\n")
	options := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if idx := strings.Index(line, ". "); idx >= 0 {
			line = line[idx+2:]
		}
		options = append(options, line)
	}
	return options
}

type Result struct {
	Option string
	Votes  int
	slot   int
}

// Tally counts votes per option. A reaction the bot seeded itself (Me) does
// not count as a vote. Reactions that map to no option slot are skipped.
// Results are ordered by votes, highest first, then by option position.
func Tally(options []string, reactions []notify.Reaction) []Result {
	results := make([]Result, 0, len(options))
	seen := make(map[int]bool, len(options))
	for _, r := range reactions {
		slot := Slot(r.Emoji)
		if slot < 0 || slot >= len(options) || seen[slot] {
			continue
		}
		seen[slot] = true
		votes := r.Count
		if r.Me {
			votes--
		}
		if votes < 0 {
			votes = 0
		}
		results = append(results, Result{Option: options[slot], Votes: votes, slot: slot})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Votes != results[j].Votes {
			return results[i].Votes > results[j].Votes
		}
		return results[i].slot < results[j].slot
	})
	return results
}

// Winners returns the leading results: every option tied at the maximum.
func Winners(results []Result) []Result {
	if len(results) == 0 {
		return nil
	}
	n := 1
	for n < len(results) && results[n].Votes == results[0].Votes {
		n++
	}
	return results[:n]
}

func ResultsMessage(topic string, results []Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "results of %s\n", topic)

	winners := Winners(results)
	if len(winners) == 0 {
		b.WriteString("No votes were cast")
		return b.String()
	}

	top := winners[0].Votes
	if len(winners) > 1 {
		names := make([]string, len(winners))
		for i, w := range winners {
			names[i] = w.Option
		}
		fmt.Fprintf(&b, "**Tie between %s** (%d %s each)\n", strings.Join(names, ", "), top, voteStr(top))
	} else {
		fmt.Fprintf(&b, "**%s wins!** (%d %s)\n", winners[0].Option, top, voteStr(top))
	}

	rest := results[len(winners):]
	if len(rest) == 0 {
		return b.String()
	}
	b.WriteString("\n>>> ")
	for _, r := range rest {
		fmt.Fprintf(&b, "**%s** (%d %s)\n", r.Option, r.Votes, voteStr(r.Votes))
	}
	return b.String()
}

func voteStr(count int) string {
	if count == 1 {
		return "vote"
	}
	return "votes"
}
