//go:build !ORT && !ALL

package backends

import "errors"

type RustTokenizer struct{}

func loadRustTokenizer(_ []byte) (*Tokenizer, error) {
	return nil, errors.New("rust tokenizer is not enabled, build with the ORT tag")
}

func tokenizeRust(_ *Tokenizer, _ string, _ bool) ([]uint32, []string) {
	return nil, nil
}

func decodeRust(_ []uint32, _ *Tokenizer, _ bool) string {
	return ""
}
