package toy

import "fmt"

// EOSToken is the byte tokenizer's end-of-sequence id, one past the byte
// range.
const EOSToken = 256

// TokenizerVocab is the vocabulary size a model paired with ByteTokenizer
// must carry.
const TokenizerVocab = 257

// ByteTokenizer maps bytes to token ids one-to-one.  It stands in for a
// real subword tokenizer wherever the toolkit needs an opaque
// encode/decode collaborator.
type ByteTokenizer struct{}

// Encode implements decode.Tokenizer.
func (ByteTokenizer) Encode(text string) ([]int, error) {
	ids := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		ids[i] = int(text[i])
	}
	return ids, nil
}

// Decode implements decode.Tokenizer.
func (ByteTokenizer) Decode(ids []int) (string, error) {
	b := make([]byte, len(ids))
	for i, id := range ids {
		if id < 0 || id > 255 {
			return "", fmt.Errorf("toy: token %d outside byte range", id)
		}
		b[i] = byte(id)
	}
	return string(b), nil
}

// EOS implements decode.Tokenizer.
func (ByteTokenizer) EOS() int { return EOSToken }
