package ustr

import (
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ToUCS16 encodes a UTF-8 Ustr as little-endian UCS-16, the directory
// entry name encoding some vnode adapters (e.g. a FAT-style vnode) use
// on the wire. Characters outside the BMP are encoded as UTF-16
// surrogate pairs, which FromUCS16 reassembles; ucs16_test.go checks
// the round trip for BMP strings.
func (us Ustr) ToUCS16() ([]byte, error) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
	return transform.Bytes(enc, []byte(us))
}

// FromUCS16 decodes little-endian UCS-16 bytes into a Ustr.
func FromUCS16(b []byte) (Ustr, error) {
	dec := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	out, err := transform.Bytes(dec, b)
	if err != nil {
		return nil, err
	}
	return Ustr(out), nil
}
