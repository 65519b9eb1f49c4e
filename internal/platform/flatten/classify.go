package flatten

import (
	"fmt"

	"github.com/flourish/export/internal/platform/crypto"
	"github.com/flourish/export/internal/platform/schema"
)

// Classification is the export-relevant classification of one field.
type Classification struct {
	Sensitive bool
	Timestamp bool
}

// Classify reads the static descriptor; unknown fields are neither sensitive
// nor temporal.
func Classify(fd *schema.FieldDescriptor) Classification {
	if fd == nil {
		return Classification{}
	}
	return Classification{
		Sensitive: fd.Type.Sensitive(),
		Timestamp: fd.Type.Temporal(),
	}
}

// Redactor encrypts sensitive field values in place of their plaintext. A
// nil encryptor (development, no key configured) leaves values untouched.
type Redactor struct {
	enc *crypto.FieldEncryptor
}

func NewRedactor(enc *crypto.FieldEncryptor) *Redactor {
	return &Redactor{enc: enc}
}

// Redact returns a copy of row with every sensitive field of desc encrypted.
// Values stay scalar; nil values stay nil.
func (r *Redactor) Redact(row Row, desc *schema.ModelDescriptor) (Row, error) {
	out := make(Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	if r == nil || r.enc == nil || desc == nil {
		return out, nil
	}
	for i := range desc.Fields {
		fd := &desc.Fields[i]
		if !Classify(fd).Sensitive {
			continue
		}
		v, ok := out[fd.Name]
		if !ok || v == nil {
			continue
		}
		ct, err := r.enc.Encrypt(fmt.Sprint(v))
		if err != nil {
			return nil, fmt.Errorf("redact %s.%s: %w", desc.Name, fd.Name, err)
		}
		out[fd.Name] = ct
	}
	return out, nil
}
