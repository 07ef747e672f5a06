package fixture

import (
	"fmt"
	"strings"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/katasec/mssql-fixture/config"
	"github.com/samber/lo"
)

// Description buckets
const (
	ShortText = iota
	MediumText
	LongText
)

// DefaultTextSizes are the maximum lengths of the short, medium and long descriptions
var DefaultTextSizes = [3]int{1 * 1024, 1024 * 1024, 4 * 1024 * 1024}

// bucketWeights are the chances of picking the short, medium and long description
var bucketWeights = []float32{0.65, 0.30, 0.05}

// Row is one customers record
type Row struct {
	Name        string
	Age         int
	Description string
}

// GeneratorOptions configures a Generator
type GeneratorOptions struct {
	// Seed makes the generator reproducible when non-zero
	Seed int64
	// NameStyle is config.NameStyleFake or config.NameStyleIndexed
	NameStyle string
	// TextSizes overrides DefaultTextSizes when set
	TextSizes [3]int
}

// Generator produces synthetic customers rows
type Generator struct {
	faker   *gofakeit.Faker
	texts   []string
	buckets []any
	indexed bool
}

// NewGenerator builds the three description texts up front
func NewGenerator(opts GeneratorOptions) *Generator {
	sizes := opts.TextSizes
	if sizes == [3]int{} {
		sizes = DefaultTextSizes
	}

	faker := NewFaker(opts.Seed)
	texts := lo.Map(sizes[:], func(size int, _ int) string {
		return generateText(faker, size)
	})

	return &Generator{
		faker:   faker,
		texts:   texts,
		buckets: []any{ShortText, MediumText, LongText},
		indexed: opts.NameStyle == config.NameStyleIndexed,
	}
}

// NewFaker returns a faker seeded with seed, or randomly when seed is zero
func NewFaker(seed int64) *gofakeit.Faker {
	return gofakeit.New(seed)
}

// Texts returns the short, medium and long descriptions
func (g *Generator) Texts() []string {
	return g.texts
}

// Description picks one of the bucket texts by weighted random choice
func (g *Generator) Description() string {
	return g.texts[g.bucket()]
}

func (g *Generator) bucket() int {
	choice, err := g.faker.Weighted(g.buckets, bucketWeights)
	if err != nil {
		// Weighted only fails on mismatched inputs, which are fixed above.
		panic(err)
	}
	return choice.(int)
}

// Name returns the name of the row with 1-based sequence seq within its table
func (g *Generator) Name(seq int) string {
	if g.indexed {
		return CandidateName(seq)
	}
	return g.faker.Name()
}

// Batch returns n rows following offset rows already generated for the table.
// Age holds each row's position within the batch.
func (g *Generator) Batch(n, offset int) []Row {
	return lo.Times(n, func(i int) Row {
		return Row{
			Name:        g.Name(offset + i + 1),
			Age:         i,
			Description: g.Description(),
		}
	})
}

// CandidateName is the name the remover deletes by
func CandidateName(n int) string {
	return fmt.Sprintf("user_%d", n)
}

// generateText returns sentences of fake text no longer than maxChars
func generateText(faker *gofakeit.Faker, maxChars int) string {
	var b strings.Builder
	b.Grow(maxChars)

	for sentences := 0; ; sentences++ {
		sentence := faker.Sentence(faker.Number(6, 14))
		sep := lo.Ternary(sentences%5 == 4, "\n", " ")
		if b.Len() == 0 {
			sep = ""
		}
		if b.Len()+len(sep)+len(sentence) > maxChars {
			if b.Len() == 0 {
				return sentence[:maxChars]
			}
			return b.String()
		}
		b.WriteString(sep)
		b.WriteString(sentence)
	}
}
