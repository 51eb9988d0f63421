package tokenizer

import (
	"bytes"
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dlclark/regexp2"
)

type loadOptions struct {
	encoding string
	pattern  string
	specials map[string]int32
}

type LoadOption func(*loadOptions)

// WithEncoding selects the tiktoken preset used for a bare rank file. It is
// ignored for BPE models.
func WithEncoding(name string) LoadOption {
	return func(o *loadOptions) {
		o.encoding = name
	}
}

// WithPattern overrides the pretokenizer pattern of the model.
func WithPattern(pattern string) LoadOption {
	return func(o *loadOptions) {
		o.pattern = pattern
	}
}

// WithSpecialTokens replaces the special tokens of a tiktoken preset, or adds
// to those of a BPE model.
func WithSpecialTokens(specials map[string]int32) LoadOption {
	return func(o *loadOptions) {
		o.specials = specials
	}
}

// Load reads a model from a file or a directory. Directories are searched for
// tokenizer.json, vocab.json with merges.txt, then *.tiktoken or
// tokenizer.model.
func Load(name string, opts ...LoadOption) (Tokenizer, error) {
	fi, err := os.Stat(name)
	if err != nil {
		return nil, &ModelLoadError{Path: name, Err: err}
	}

	if fi.IsDir() {
		return loadFS(os.DirFS(name), ".", name, opts...)
	}

	return loadFS(os.DirFS(filepath.Dir(name)), filepath.Base(name), name, opts...)
}

// LoadFS is Load over an fs.FS.
func LoadFS(fsys fs.FS, name string, opts ...LoadOption) (Tokenizer, error) {
	return loadFS(fsys, name, name, opts...)
}

func loadFS(fsys fs.FS, name, display string, opts ...LoadOption) (Tokenizer, error) {
	o := loadOptions{encoding: DefaultEncoding}
	for _, opt := range opts {
		opt(&o)
	}

	t, err := load(fsys, name, o)
	if err != nil {
		var mme *MalformedModelError
		if errors.As(err, &mme) && mme.Path == "" {
			mme.Path = display
		}

		return nil, &ModelLoadError{Path: display, Err: err}
	}

	slog.Debug("loaded tokenizer", "path", display, "type", t.Type(),
		"vocab", t.Vocabulary().Size(), "merges", t.Merges().Len(),
		"special", len(t.Vocabulary().SpecialTokens()))
	return t, nil
}

func load(fsys fs.FS, name string, o loadOptions) (Tokenizer, error) {
	fi, err := fs.Stat(fsys, name)
	if err != nil {
		return nil, err
	}

	if fi.IsDir() {
		return loadDir(fsys, name, o)
	}

	bts, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, err
	}

	if trimmed := bytes.TrimLeft(bts, " \t\r\n"); len(trimmed) > 0 && trimmed[0] == '{' {
		return parseTokenizerJSON(bts, o)
	}

	return parseTiktoken(bts, o)
}

func loadDir(fsys fs.FS, dir string, o loadOptions) (Tokenizer, error) {
	exists := func(name string) bool {
		fi, err := fs.Stat(fsys, path.Join(dir, name))
		return err == nil && !fi.IsDir()
	}

	switch {
	case exists("tokenizer.json"):
		return load(fsys, path.Join(dir, "tokenizer.json"), o)
	case exists("vocab.json") && exists("merges.txt"):
		return loadVocabMerges(fsys, dir, o)
	}

	matches, err := fs.Glob(fsys, path.Join(dir, "*.tiktoken"))
	if err != nil {
		return nil, err
	}

	if exists("tokenizer.model") {
		matches = append(matches, path.Join(dir, "tokenizer.model"))
	}

	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: no tokenizer.json, vocab.json and merges.txt, or *.tiktoken in %s", fs.ErrNotExist, dir)
	}

	return load(fsys, matches[0], o)
}

func parseTiktoken(bts []byte, o loadOptions) (Tokenizer, error) {
	enc, ok := LookupEncoding(o.encoding)
	if !ok {
		return nil, fmt.Errorf("unknown encoding %q, expected one of %s", o.encoding, strings.Join(Encodings(), ", "))
	}

	mergeable, err := ReadTiktokenRanks(bytes.NewReader(bts))
	if err != nil {
		return nil, err
	}

	var next int
	if len(mergeable) > 0 {
		next = int(mergeable[len(mergeable)-1].ID) + 1
	}

	specials := enc.SpecialTokens(next)
	if o.specials != nil {
		specials = tokensFromMap(o.specials)
	}

	vocab, err := NewVocabulary(mergeable, specials)
	if err != nil {
		return nil, err
	}
	vocab.setMarkers(enc.BOS, enc.EOS)

	pre, err := NewPretokenizer(cmp.Or(o.pattern, enc.Pattern))
	if err != nil {
		return nil, err
	}

	return NewTiktoken(vocab, pre, enc.Name), nil
}

// candidate BOS/EOS names for BPE models, most specific first
var (
	bosNames = []string{"<|begin_of_text|>", "<|startoftext|>", "<s>"}
	eosNames = []string{"<|end_of_text|>", "<|eot_id|>", "<|endoftext|>", "<|im_end|>", "</s>"}
)

func parseTokenizerJSON(bts []byte, o loadOptions) (Tokenizer, error) {
	var raw struct {
		AddedTokens []struct {
			ID      int32  `json:"id"`
			Content string `json:"content"`
			Special bool   `json:"special"`
		} `json:"added_tokens"`
		PreTokenizer json.RawMessage `json:"pre_tokenizer"`
		Decoder      json.RawMessage `json:"decoder"`
		Model        struct {
			Type         string           `json:"type"`
			Vocab        map[string]int32 `json:"vocab"`
			Merges       json.RawMessage  `json:"merges"`
			IgnoreMerges bool             `json:"ignore_merges"`
		} `json:"model"`
	}

	if err := json.Unmarshal(bts, &raw); err != nil {
		return nil, &MalformedModelError{Reason: fmt.Sprintf("parse tokenizer.json: %v", err)}
	}

	if raw.Model.Type != "BPE" {
		return nil, fmt.Errorf("%w: model type %q", ErrUnsupportedModel, raw.Model.Type)
	}

	if isSentencePiece(raw.Decoder) {
		return nil, fmt.Errorf("%w: sentencepiece style decoder", ErrUnsupportedModel)
	}

	specials := make(map[string]int32, len(raw.AddedTokens)+len(o.specials))
	for _, t := range raw.AddedTokens {
		specials[t.Content] = t.ID
	}
	maps.Copy(specials, o.specials)

	merges, err := parseJSONMerges(raw.Model.Merges)
	if err != nil {
		return nil, err
	}

	patterns, err := pretokenizerPatterns(raw.PreTokenizer)
	if err != nil {
		return nil, err
	}

	if o.pattern != "" {
		patterns = []string{o.pattern}
	}

	return newBytePairEncoding(raw.Model.Vocab, merges, specials, markerNames{bos: bosNames, eos: eosNames}, patterns, raw.Model.IgnoreMerges)
}

func loadVocabMerges(fsys fs.FS, dir string, o loadOptions) (Tokenizer, error) {
	bts, err := fs.ReadFile(fsys, path.Join(dir, "vocab.json"))
	if err != nil {
		return nil, err
	}

	var vocab map[string]int32
	if err := json.Unmarshal(bts, &vocab); err != nil {
		return nil, &MalformedModelError{Path: path.Join(dir, "vocab.json"), Reason: err.Error()}
	}

	f, err := fsys.Open(path.Join(dir, "merges.txt"))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	merges, err := ReadMerges(f, DecodeByteLevel)
	if err != nil {
		var mme *MalformedModelError
		if errors.As(err, &mme) {
			mme.Path = path.Join(dir, "merges.txt")
		}
		return nil, err
	}

	specials, markers, err := vocabSpecials(fsys, dir, vocab, merges)
	if err != nil {
		return nil, err
	}
	maps.Copy(specials, o.specials)

	return newBytePairEncoding(vocab, merges, specials, markers, []string{cmp.Or(o.pattern, PatternGPT2)}, false)
}

// addedToken is a special token named either by its content or by an
// object with a content field.
type addedToken string

func (t *addedToken) UnmarshalJSON(bts []byte) error {
	if bytes.Equal(bts, []byte("null")) {
		return nil
	}

	var s string
	if err := json.Unmarshal(bts, &s); err == nil {
		*t = addedToken(s)
		return nil
	}

	var v struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(bts, &v); err != nil {
		return err
	}

	*t = addedToken(v.Content)
	return nil
}

type specialTokensMap struct {
	BOS        addedToken   `json:"bos_token"`
	EOS        addedToken   `json:"eos_token"`
	UNK        addedToken   `json:"unk_token"`
	PAD        addedToken   `json:"pad_token"`
	Additional []addedToken `json:"additional_special_tokens"`
}

type markerNames struct {
	bos, eos []string
}

// readOptionalJSON decodes name into v. A missing file leaves v unchanged.
func readOptionalJSON(fsys fs.FS, name string, v any) error {
	bts, err := fs.ReadFile(fsys, name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return err
	}

	if err := json.Unmarshal(bts, v); err != nil {
		return &MalformedModelError{Path: name, Reason: err.Error()}
	}

	return nil
}

// vocabSpecials collects the special tokens of a vocab.json model from
// added_tokens.json, the token names in tokenizer_config.json and
// special_tokens_map.json, and well known marker names in the vocabulary
// that no merge uses.
func vocabSpecials(fsys fs.FS, dir string, symbols map[string]int32, rules []MergeRule) (map[string]int32, markerNames, error) {
	specials := make(map[string]int32)
	if err := readOptionalJSON(fsys, path.Join(dir, "added_tokens.json"), &specials); err != nil {
		return nil, markerNames{}, err
	}

	// special_tokens_map.json overrides the names in tokenizer_config.json
	var stm specialTokensMap
	for _, name := range []string{"tokenizer_config.json", "special_tokens_map.json"} {
		if err := readOptionalJSON(fsys, path.Join(dir, name), &stm); err != nil {
			return nil, markerNames{}, err
		}
	}

	// tokens taking part in a merge stay mergeable
	merged := make(map[string]bool, 3*len(rules))
	for _, rule := range rules {
		merged[rule.Left] = true
		merged[rule.Right] = true
		merged[rule.Left+rule.Right] = true
	}

	names := slices.Concat(bosNames, eosNames, []string{string(stm.BOS), string(stm.EOS), string(stm.UNK), string(stm.PAD)})
	for _, name := range stm.Additional {
		names = append(names, string(name))
	}

	for _, name := range names {
		if _, ok := specials[name]; ok || name == "" || merged[name] {
			continue
		}

		if id, ok := symbols[EncodeByteLevel(name)]; ok {
			specials[name] = id
		}
	}

	markers := markerNames{
		bos: slices.Concat([]string{string(stm.BOS)}, bosNames),
		eos: slices.Concat([]string{string(stm.EOS)}, eosNames),
	}

	return specials, markers, nil
}

// newBytePairEncoding assembles a BPE tokenizer from byte-level vocabulary
// symbols, merge rules over raw bytes and literal special tokens. Vocabulary
// entries sharing an id with a special token are treated as special only.
func newBytePairEncoding(symbols map[string]int32, rules []MergeRule, specials map[string]int32, markers markerNames, patterns []string, ignoreMerges bool) (Tokenizer, error) {
	specialIDs := make(map[int32]bool, len(specials))
	for _, id := range specials {
		specialIDs[id] = true
	}

	mergeable := make([]Token, 0, len(symbols))
	for symbol, id := range symbols {
		if specialIDs[id] {
			continue
		}

		value, err := DecodeByteLevel(symbol)
		if err != nil {
			return nil, &MalformedModelError{Reason: err.Error()}
		}

		mergeable = append(mergeable, Token{ID: id, Value: value})
	}

	vocab, err := NewVocabulary(mergeable, tokensFromMap(specials))
	if err != nil {
		return nil, err
	}
	vocab.setMarkers(firstPresent(vocab, markers.bos), firstPresent(vocab, markers.eos))

	merges, err := NewMergeTable(vocab, rules)
	if err != nil {
		return nil, err
	}

	pre := NoSplit()
	if len(patterns) > 0 {
		pre, err = NewPretokenizer(patterns...)
		if err != nil {
			return nil, err
		}
	}

	return NewBytePairEncoding(vocab, merges, pre, ignoreMerges), nil
}

// parseJSONMerges accepts merges as []string ("a b") or [][]string.
func parseJSONMerges(raw json.RawMessage) ([]MergeRule, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var pairs [][2]string
	var lines []string
	if err := json.Unmarshal(raw, &lines); err == nil {
		pairs = make([][2]string, len(lines))
		for i, line := range lines {
			left, right, ok := strings.Cut(line, " ")
			if !ok || left == "" || right == "" || strings.Contains(right, " ") {
				return nil, &MalformedModelError{Reason: fmt.Sprintf("merge %d: expected \"left right\", got %q", i, line)}
			}
			pairs[i] = [2]string{left, right}
		}
	} else {
		var arrays [][]string
		if err := json.Unmarshal(raw, &arrays); err != nil {
			return nil, &MalformedModelError{Reason: fmt.Sprintf("could not parse merges, expected []string or [][]string: %v", err)}
		}

		pairs = make([][2]string, len(arrays))
		for i, pair := range arrays {
			if len(pair) != 2 {
				return nil, &MalformedModelError{Reason: fmt.Sprintf("merge %d: expected pair of length 2, got %d", i, len(pair))}
			}
			pairs[i] = [2]string{pair[0], pair[1]}
		}
	}

	rules := make([]MergeRule, len(pairs))
	for i, pair := range pairs {
		left, err := DecodeByteLevel(pair[0])
		if err != nil {
			return nil, &MalformedModelError{Reason: fmt.Sprintf("merge %d: %v", i, err)}
		}

		right, err := DecodeByteLevel(pair[1])
		if err != nil {
			return nil, &MalformedModelError{Reason: fmt.Sprintf("merge %d: %v", i, err)}
		}

		rules[i] = MergeRule{Left: left, Right: right, Rank: i}
	}

	return rules, nil
}

type pretokenizerStep struct {
	Type    string `json:"type"`
	Pattern struct {
		Regex  string  `json:"Regex"`
		String *string `json:"String"`
	} `json:"pattern"`
	Behavior         string             `json:"behavior"`
	IndividualDigits bool               `json:"individual_digits"`
	UseRegex         *bool              `json:"use_regex"`
	PreTokenizers    []pretokenizerStep `json:"pretokenizers"`
}

// pretokenizerPatterns extracts split patterns from a tokenizer.json
// pre_tokenizer. No patterns means the text is merged whole, which is also
// what a missing or null pre_tokenizer means.
func pretokenizerPatterns(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var pt pretokenizerStep
	if err := json.Unmarshal(raw, &pt); err != nil {
		return nil, &MalformedModelError{Reason: fmt.Sprintf("parse pre_tokenizer: %v", err)}
	}

	steps := []pretokenizerStep{pt}
	if pt.Type == "Sequence" {
		steps = pt.PreTokenizers
	}

	var patterns []string
	for _, step := range steps {
		switch step.Type {
		case "Split":
			// matches and the text between them are both chunks, so invert
			// gives the same boundaries
			if step.Behavior != "" && step.Behavior != "Isolated" {
				return nil, fmt.Errorf("%w: split behavior %q", ErrUnsupportedModel, step.Behavior)
			}

			switch {
			case step.Pattern.Regex != "":
				patterns = append(patterns, step.Pattern.Regex)
			case step.Pattern.String != nil && *step.Pattern.String != "":
				patterns = append(patterns, regexp2.Escape(*step.Pattern.String))
			default:
				return nil, &MalformedModelError{Reason: "split pre_tokenizer has no pattern"}
			}
		case "Digits":
			if step.IndividualDigits {
				patterns = append(patterns, `\p{N}`)
			} else {
				patterns = append(patterns, `\p{N}+`)
			}
		case "ByteLevel":
			if step.UseRegex == nil || *step.UseRegex {
				patterns = append(patterns, PatternGPT2)
			}
		default:
			return nil, fmt.Errorf("%w: pre_tokenizer %q", ErrUnsupportedModel, step.Type)
		}
	}

	return patterns, nil
}

type decoderStep struct {
	Type    string `json:"type"`
	Pattern struct {
		String string `json:"String"`
	} `json:"pattern"`
}

// isSentencePiece reports a decoder that replaces ▁ with spaces, which marks
// a SentencePiece vocabulary rather than a byte-level one.
func isSentencePiece(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}

	var seq struct {
		Type     string        `json:"type"`
		Decoders []decoderStep `json:"decoders"`
	}

	if err := json.Unmarshal(raw, &seq); err != nil || seq.Type != "Sequence" {
		return false
	}

	return slices.ContainsFunc(seq.Decoders, func(d decoderStep) bool {
		return d.Type == "Replace" && d.Pattern.String == "▁"
	})
}

func tokensFromMap(m map[string]int32) []Token {
	tokens := make([]Token, 0, len(m))
	for _, s := range slices.Sorted(maps.Keys(m)) {
		tokens = append(tokens, Token{ID: m[s], Value: s})
	}
	return tokens
}

func firstPresent(vocab *Vocabulary, names []string) []string {
	for _, name := range names {
		if _, ok := vocab.SpecialID(name); ok {
			return []string{name}
		}
	}
	return nil
}

