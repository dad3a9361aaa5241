//go:build ORT || ALL

package backends

import (
	"github.com/daulet/tokenizers"
)

type RustTokenizer struct {
	Tokenizer *tokenizers.Tokenizer
}

func loadRustTokenizer(tokenizerBytes []byte) (*Tokenizer, error) {
	tk, err := tokenizers.FromBytes(tokenizerBytes)
	if err != nil {
		return nil, err
	}
	return &Tokenizer{Runtime: "RUST", RustTokenizer: &RustTokenizer{Tokenizer: tk}, Destroy: func() error {
		return tk.Close()
	}}, nil
}

func tokenizeRust(tk *Tokenizer, input string, addSpecialTokens bool) ([]uint32, []string) {
	return tk.RustTokenizer.Tokenizer.Encode(input, addSpecialTokens)
}

func decodeRust(tokens []uint32, tk *Tokenizer, skipSpecialTokens bool) string {
	return tk.RustTokenizer.Tokenizer.Decode(tokens, skipSpecialTokens)
}
