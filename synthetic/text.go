package synthetic

import (
	"math/rand/v2"
	"strconv"
	"strings"
)

var (
	openers = []string{
		"Congratulations", "URGENT", "Dear customer", "FREE", "Hello friend",
		"Limited offer", "Final notice", "Winner", "Act now", "Exclusive deal",
	}
	verbs = []string{
		"claim", "win", "get", "receive", "unlock", "collect", "redeem", "grab",
	}
	prizes = []string{
		"a free cruise", "$1000 cash", "a new phone", "cheap meds", "a gift card",
		"a luxury watch", "your bonus", "a holiday voucher", "100 free minutes",
	}
	calls = []string{
		"text WIN to 80082", "call 0800 123 456 now", "reply YES today",
		"visit our website", "click the link below", "send your details",
	}
	tails = []string{
		"", "T&Cs apply.", "Offer ends soon!", "Std rates apply.", "Reply STOP to opt out.",
	}
)

// Texts returns n distinct spam-like short messages. src may be nil.
func Texts(n int, src rand.Source) []string {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	rng := rand.New(src)

	seen := make(map[string]struct{}, n)
	out := make([]string, 0, n)
	for len(out) < n {
		var sb strings.Builder
		sb.WriteString(openers[rng.IntN(len(openers))])
		sb.WriteString("! ")
		verb := verbs[rng.IntN(len(verbs))]
		sb.WriteString(strings.ToUpper(verb[:1]))
		sb.WriteString(verb[1:])
		sb.WriteString(" ")
		sb.WriteString(prizes[rng.IntN(len(prizes))])
		sb.WriteString(", ")
		sb.WriteString(calls[rng.IntN(len(calls))])
		sb.WriteString(". ")
		sb.WriteString(tails[rng.IntN(len(tails))])
		s := strings.TrimSpace(sb.String())

		// the phrase space is small, so number duplicates apart
		if _, ok := seen[s]; ok {
			s = s + " #" + strconv.Itoa(len(out))
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
