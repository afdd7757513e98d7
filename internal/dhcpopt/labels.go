package dhcpopt

import (
	"bytes"
	"strings"
)

// maxLabelLen is the maximum length of a single domain name label.
const maxLabelLen = 63

// LabelsLen returns the length of the RFC 1035 encoding of name.
func LabelsLen(name string) (n int) {
	fqdn := strings.HasSuffix(name, ".")
	name = strings.TrimSuffix(name, ".")
	if name != "" {
		for label := range strings.SplitSeq(name, ".") {
			n += 1 + len(label)
		}
	}

	if fqdn {
		n++
	}

	return n
}

// AppendLabels appends the RFC 1035 encoding of name to b.  Only fully
// qualified names, the ones ending with a dot, get the terminating zero-length
// label.  Each label of name must not be longer than 63 bytes.
func AppendLabels(b []byte, name string) (res []byte) {
	fqdn := strings.HasSuffix(name, ".")
	name = strings.TrimSuffix(name, ".")
	if name != "" {
		for label := range strings.SplitSeq(name, ".") {
			b = append(b, byte(len(label)))
			b = append(b, label...)
		}
	}

	if fqdn {
		b = append(b, 0)
	}

	return b
}

// DecodeLabels decodes back-to-back RFC 1035 names from data.  Names ended by
// the zero-length label get the trailing dot, and a name cut by the end of data
// is returned as a partial name without it.  Compression pointers and labels
// containing dots aren't allowed.
func DecodeLabels(data []byte) (names []string, err error) {
	var sb strings.Builder
	partial := false
	for len(data) > 0 {
		l := int(data[0])
		data = data[1:]
		if l == 0 {
			sb.WriteByte('.')
			names = append(names, sb.String())
			sb.Reset()
			partial = false

			continue
		}

		if l > maxLabelLen || l > len(data) {
			return nil, ErrMalformedOption
		}

		label := data[:l]
		if bytes.IndexByte(label, '.') >= 0 {
			// A dot inside a label can't be told from a label separator.
			return nil, ErrMalformedOption
		}

		if partial {
			sb.WriteByte('.')
		}

		sb.Write(label)
		data = data[l:]
		partial = true
	}

	if partial {
		names = append(names, sb.String())
	}

	return names, nil
}
