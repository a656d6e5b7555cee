package chunker

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"docchat/internal/model"
)

var ErrInvalidOptions = errors.New("chunk overlap must be smaller than chunk size")

// Chunk is a passage candidate: packed sentences plus the metadata of the unit it came from.
type Chunk struct {
	Text     string
	Metadata map[string]string
}

// SentenceChunker packs whole sentences into passages of at most chunkSize runes. Consecutive
// passages repeat up to overlap runes of trailing sentences.
type SentenceChunker struct {
	chunkSize int
	overlap   int
}

func NewSentenceChunker(chunkSize, overlap int) (*SentenceChunker, error) {
	if chunkSize <= 0 || overlap < 0 || overlap >= chunkSize {
		return nil, ErrInvalidOptions
	}
	return &SentenceChunker{chunkSize: chunkSize, overlap: overlap}, nil
}

// ChunkUnits splits every unit in order. Units without text produce nothing.
func (c *SentenceChunker) ChunkUnits(units []model.Unit) []Chunk {
	var chunks []Chunk
	for _, unit := range units {
		for _, text := range c.Split(unit.Text) {
			chunks = append(chunks, Chunk{Text: text, Metadata: cloneMetadata(unit.Metadata)})
		}
	}
	return chunks
}

func (c *SentenceChunker) Split(text string) []string {
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var (
		chunks []string
		cur    []string
		curLen int
		fresh  bool
	)
	flush := func() {
		if fresh && len(cur) > 0 {
			chunks = append(chunks, strings.Join(cur, " "))
		}
		fresh = false
	}

	for _, s := range sentences {
		n := utf8.RuneCountInString(s)
		if n > c.chunkSize {
			flush()
			chunks = append(chunks, hardSplit(s, c.chunkSize)...)
			cur, curLen = nil, 0
			continue
		}

		if len(cur) > 0 && curLen+1+n > c.chunkSize {
			flush()
			cur = overlapTail(cur, c.overlap)
			curLen = joinedLen(cur)
			for len(cur) > 0 && curLen+1+n > c.chunkSize {
				cur = cur[1:]
				curLen = joinedLen(cur)
			}
		}

		if len(cur) > 0 {
			curLen++
		}
		cur = append(cur, s)
		curLen += n
		fresh = true
	}
	flush()
	return chunks
}

// SplitSentences breaks text on . ! ? followed by whitespace or end of text, on the CJK
// terminators 。！？ and on blank lines. Whitespace inside a sentence is collapsed.
func SplitSentences(text string) []string {
	runes := []rune(text)
	var (
		sentences []string
		start     int
	)
	emit := func(end int) {
		s := strings.Join(strings.Fields(string(runes[start:end])), " ")
		if s != "" {
			sentences = append(sentences, s)
		}
		start = end
	}

	for i := 0; i < len(runes); i++ {
		switch r := runes[i]; {
		case r == '。' || r == '！' || r == '？':
			emit(i + 1)
		case r == '.' || r == '!' || r == '?':
			if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
				emit(i + 1)
			}
		case r == '\n':
			j := i + 1
			for j < len(runes) && runes[j] != '\n' && unicode.IsSpace(runes[j]) {
				j++
			}
			if j < len(runes) && runes[j] == '\n' {
				emit(i)
				i = j
			}
		}
	}
	emit(len(runes))
	return sentences
}

func hardSplit(s string, size int) []string {
	runes := []rune(s)
	out := make([]string, 0, len(runes)/size+1)
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		if piece := strings.TrimSpace(string(runes[i:end])); piece != "" {
			out = append(out, piece)
		}
	}
	return out
}

// overlapTail keeps the longest run of trailing sentences whose joined length fits overlap.
func overlapTail(sentences []string, overlap int) []string {
	if overlap == 0 {
		return nil
	}
	total := 0
	i := len(sentences)
	for i > 0 {
		n := utf8.RuneCountInString(sentences[i-1])
		if i < len(sentences) {
			n++
		}
		if total+n > overlap {
			break
		}
		total += n
		i--
	}
	out := make([]string, len(sentences)-i)
	copy(out, sentences[i:])
	return out
}

func joinedLen(sentences []string) int {
	if len(sentences) == 0 {
		return 0
	}
	n := len(sentences) - 1
	for _, s := range sentences {
		n += utf8.RuneCountInString(s)
	}
	return n
}

func cloneMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
