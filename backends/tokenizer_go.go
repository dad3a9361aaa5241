package backends

import (
	"bytes"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"

	"github.com/knights-analytics/hugot-serverless/util/safeconv"
)

type GoTokenizer struct {
	Tokenizer *tokenizer.Tokenizer
}

func loadGoTokenizer(tokenizerBytes []byte) (*Tokenizer, error) {
	tk, err := pretrained.FromReader(bytes.NewReader(tokenizerBytes))
	if err != nil {
		return nil, err
	}
	return &Tokenizer{Runtime: "GO", GoTokenizer: &GoTokenizer{Tokenizer: tk}, Destroy: func() error {
		return nil
	}}, nil
}

func tokenizeGo(tk *Tokenizer, input string, addSpecialTokens bool) ([]uint32, []string, error) {
	output, err := tk.GoTokenizer.Tokenizer.EncodeSingle(input, addSpecialTokens)
	if err != nil {
		return nil, nil, err
	}
	return safeconv.IntSliceToUint32Slice(output.Ids), output.Tokens, nil
}

func decodeGo(tokens []uint32, tk *Tokenizer, skipSpecialTokens bool) string {
	return tk.GoTokenizer.Tokenizer.Decode(safeconv.Uint32SliceToIntSlice(tokens), skipSpecialTokens)
}
