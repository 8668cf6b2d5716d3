package lineproc

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrEncoding reports an unknown charset or a decoder failure.
var ErrEncoding = errors.New("encoding error")

// DefaultCharset is used when no charset is configured.
const DefaultCharset = "utf-8"

// LookupCharset resolves a charset name. Common serial console encodings
// are matched directly; anything else goes through the IANA registry.
func LookupCharset(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return unicode.UTF8, nil
	case "latin1", "latin-1", "iso-8859-1":
		return charmap.ISO8859_1, nil
	case "cp437", "ibm437":
		return charmap.CodePage437, nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("%w: unknown charset %q", ErrEncoding, name)
	}
	return enc, nil
}

// Decoder converts a byte stream to UTF-8 chunk by chunk. A multi-byte
// sequence split across chunks is held back until the rest arrives; invalid
// input decodes to U+FFFD.
type Decoder struct {
	t       transform.Transformer
	pending []byte
	dst     []byte
}

// NewDecoder returns a streaming decoder for the named charset.
func NewDecoder(charset string) (*Decoder, error) {
	enc, err := LookupCharset(charset)
	if err != nil {
		return nil, err
	}
	return &Decoder{t: enc.NewDecoder(), dst: make([]byte, 4096)}, nil
}

// Decode returns the UTF-8 text for chunk plus any bytes held from the
// previous call.
func (d *Decoder) Decode(chunk []byte) ([]byte, error) {
	src := chunk
	if len(d.pending) > 0 {
		src = append(d.pending, chunk...)
		d.pending = nil
	}
	out := make([]byte, 0, len(src)+len(src)/4)
	for len(src) > 0 {
		nDst, nSrc, err := d.t.Transform(d.dst, src, false)
		out = append(out, d.dst[:nDst]...)
		src = src[nSrc:]
		switch {
		case err == nil:
			if nSrc == 0 {
				return out, nil
			}
		case errors.Is(err, transform.ErrShortDst):
			if nDst == 0 && nSrc == 0 {
				d.dst = make([]byte, 2*len(d.dst))
			}
		case errors.Is(err, transform.ErrShortSrc):
			d.pending = append([]byte(nil), src...)
			return out, nil
		default:
			d.t.Reset()
			return out, fmt.Errorf("%w: %w", ErrEncoding, err)
		}
	}
	return out, nil
}

// Pending reports how many bytes are held for the next chunk.
func (d *Decoder) Pending() int { return len(d.pending) }

// Reset drops held bytes and decoder state.
func (d *Decoder) Reset() {
	d.t.Reset()
	d.pending = nil
}
