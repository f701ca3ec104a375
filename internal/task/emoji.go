package task

// EmojiOrder lists the reactions seeded on a poll, one per option slot.
var EmojiOrder = []string{
	"1️⃣", "2️⃣", "3️⃣", "4️⃣", "5️⃣",
	"6️⃣", "7️⃣", "8️⃣", "9️⃣", "\U0001f51f",
	"\U0001f1e6", "\U0001f1e7", "\U0001f1e8", "\U0001f1e9", "\U0001f1ea",
	"\U0001f1eb", "\U0001f1ec", "\U0001f1ed", "\U0001f1ee", "\U0001f1ef",
}

// MaxPollOptions is the number of distinct reaction slots a poll can use.
var MaxPollOptions = len(EmojiOrder)

// Slot returns the option index emoji stands for, or -1.
func Slot(emoji string) int {
	for i, e := range EmojiOrder {
		if e == emoji {
			return i
		}
	}
	return -1
}
