package services

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/tyler-smith/go-bip39/wordlists"
)

// wordlist is the BIP39 English wordlist (2048 words).
var wordlist = wordlists.English

// NameGenerator produces display names for guests who join without one.
// Names are not unique; members may share a name.
type NameGenerator struct {
	intN func(n int) int
}

func NewNameGenerator() *NameGenerator {
	return &NameGenerator{intN: rand.IntN}
}

// GenerateName returns a PascalCase name like "HappyTiger42".
func (g *NameGenerator) GenerateName() string {
	word1 := wordlist[g.intN(len(wordlist))]
	word2 := wordlist[g.intN(len(wordlist))]
	num := g.intN(100)
	return fmt.Sprintf("%s%s%d", capitalize(word1), capitalize(word2), num)
}

// capitalize returns the string with its first letter uppercased.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
