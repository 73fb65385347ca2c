package xxe

import "math/rand"

const (
	entityMinLen = 4
	entityMaxLen = 7
	letters      = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// EntityGenerator produces random entity names of 4 to 7 ASCII letters.
// Letters only keeps the name legal in any XML entity declaration.
type EntityGenerator struct {
	intn func(n int) int
}

// NewEntityGenerator returns a generator backed by the global math/rand
// source, safe for concurrent use.
func NewEntityGenerator() *EntityGenerator {
	return &EntityGenerator{intn: rand.Intn}
}

// NewSeededEntityGenerator returns a deterministic generator. It is not safe
// for concurrent use.
func NewSeededEntityGenerator(seed int64) *EntityGenerator {
	return &EntityGenerator{intn: rand.New(rand.NewSource(seed)).Intn}
}

// Generate returns a fresh entity name.
func (g *EntityGenerator) Generate() string {
	n := entityMinLen + g.intn(entityMaxLen-entityMinLen+1)
	name := make([]byte, n)
	for i := range name {
		name[i] = letters[g.intn(len(letters))]
	}
	return string(name)
}
