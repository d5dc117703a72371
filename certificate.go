/*
 * Copyright (c) 2025-2026 Joe Siltberg
 *
 * You should have received a copy of the MIT license along with this project.
 * If not, see <https://opensource.org/licenses/MIT>.
 */

package certpin

import (
	"encoding/asn1"
	"fmt"
	"math"
	"math/big"
	"time"
)

// An AttributeTypeAndValue is a single attribute of a distinguished
// name, for instance the common name or the country.
type AttributeTypeAndValue struct {
	Type  asn1.ObjectIdentifier
	Value string
}

// A Certificate is a summary of an X.509 certificate up to and
// including its public key, which is what a pinning client typically
// wants to show or log about a peer. Unique identifiers and extensions
// after the public key are left unparsed.
type Certificate struct {
	Raw                     []byte
	RawTBSCertificate       []byte
	RawSubjectPublicKeyInfo []byte

	Version            int
	SerialNumber       *big.Int
	SignatureAlgorithm asn1.ObjectIdentifier
	Issuer             []AttributeTypeAndValue
	Subject            []AttributeTypeAndValue
	NotBefore          time.Time
	NotAfter           time.Time
	PublicKeyAlgorithm asn1.ObjectIdentifier
	PublicKey          []byte
	Signature          []byte
}

// ParseCertificate decodes the fixed part of a DER encoded X.509
// certificate with the same walker SubjectPublicKeyInfo uses. It fails
// with ErrMalformedEncoding or ErrUnsupportedEncoding under the same
// conditions and never returns a partially filled certificate.
func ParseCertificate(der []byte) (*Certificate, error) {
	outer := newCursor(der)

	body, err := outer.enter(constructedSequence) // Certificate
	if err != nil {
		return nil, err
	}
	cert := &Certificate{Raw: der[:outer.off]}

	tbsStart := body.off
	tbs, err := body.enter(constructedSequence) // TBSCertificate
	if err != nil {
		return nil, err
	}
	cert.RawTBSCertificate = der[tbsStart:body.off]

	cert.Version = 1
	tag, err := tbs.peek()
	if err != nil {
		return nil, err
	}
	if tag == contextZero {
		version, err := tbs.enter(contextZero)
		if err != nil {
			return nil, err
		}
		value, err := version.smallInt()
		if err != nil {
			return nil, err
		}
		if !version.done() {
			return nil, fmt.Errorf("%w: trailing bytes in version field", ErrMalformedEncoding)
		}
		cert.Version = value + 1
	}

	serial, err := tbs.content(tagInteger)
	if err != nil {
		return nil, err
	}
	if len(serial) == 0 {
		return nil, fmt.Errorf("%w: empty serial number", ErrMalformedEncoding)
	}
	cert.SerialNumber = new(big.Int).SetBytes(serial)

	if cert.SignatureAlgorithm, err = tbs.algorithmIdentifier(); err != nil {
		return nil, err
	}

	if cert.Issuer, err = tbs.name(); err != nil {
		return nil, err
	}

	validity, err := tbs.enter(constructedSequence)
	if err != nil {
		return nil, err
	}
	if cert.NotBefore, err = validity.timeValue(); err != nil {
		return nil, err
	}
	if cert.NotAfter, err = validity.timeValue(); err != nil {
		return nil, err
	}

	if cert.Subject, err = tbs.name(); err != nil {
		return nil, err
	}

	spkiStart := tbs.off
	spki, err := tbs.enter(constructedSequence)
	if err != nil {
		return nil, err
	}
	cert.RawSubjectPublicKeyInfo = der[spkiStart:tbs.off]

	if cert.PublicKeyAlgorithm, err = spki.algorithmIdentifier(); err != nil {
		return nil, err
	}
	if cert.PublicKey, err = spki.bitString(); err != nil {
		return nil, err
	}

	// The rest of the TBSCertificate (unique identifiers, extensions)
	// stays unparsed, but the outer signature still follows it.
	if _, err := body.algorithmIdentifier(); err != nil {
		return nil, err
	}
	if cert.Signature, err = body.bitString(); err != nil {
		return nil, err
	}
	if !body.done() {
		return nil, fmt.Errorf("%w: %d trailing bytes inside certificate", ErrMalformedEncoding, body.end-body.off)
	}

	return cert, nil
}

// algorithmIdentifier decodes an AlgorithmIdentifier and returns the
// algorithm OID. Parameters are skipped without interpretation.
func (c *derCursor) algorithmIdentifier() (asn1.ObjectIdentifier, error) {
	alg, err := c.enter(constructedSequence)
	if err != nil {
		return nil, err
	}
	return alg.oidValue()
}

func (c *derCursor) oidValue() (asn1.ObjectIdentifier, error) {
	content, err := c.content(tagOID)
	if err != nil {
		return nil, err
	}
	return decodeOID(content)
}

func decodeOID(content []byte) (asn1.ObjectIdentifier, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("%w: empty object identifier", ErrMalformedEncoding)
	}

	oid := make(asn1.ObjectIdentifier, 0, len(content)+1)
	component := 0
	for i, octet := range content {
		// A component must not start with a 0x80 padding octet
		if component == 0 && octet == 0x80 {
			return nil, fmt.Errorf("%w: padded object identifier component", ErrMalformedEncoding)
		}
		if component > math.MaxInt32>>7 {
			return nil, fmt.Errorf("%w: object identifier component out of range", ErrUnsupportedEncoding)
		}
		component = component<<7 | int(octet&0x7f)
		if octet&0x80 != 0 {
			if i == len(content)-1 {
				return nil, fmt.Errorf("%w: truncated object identifier", ErrMalformedEncoding)
			}
			continue
		}
		if len(oid) == 0 {
			// The first two components share one encoded value
			if component < 80 {
				oid = append(oid, component/40, component%40)
			} else {
				oid = append(oid, 2, component-80)
			}
		} else {
			oid = append(oid, component)
		}
		component = 0
	}
	return oid, nil
}

// name decodes an RDNSequence into a flat attribute list, keeping the
// order the attributes appear in.
func (c *derCursor) name() ([]AttributeTypeAndValue, error) {
	rdns, err := c.enter(constructedSequence)
	if err != nil {
		return nil, err
	}

	attributes := make([]AttributeTypeAndValue, 0, 4)
	for !rdns.done() {
		set, err := rdns.enter(constructedSet)
		if err != nil {
			return nil, err
		}
		for !set.done() {
			attribute, err := set.enter(constructedSequence)
			if err != nil {
				return nil, err
			}
			oid, err := attribute.oidValue()
			if err != nil {
				return nil, err
			}
			tag, err := attribute.peek()
			if err != nil {
				return nil, err
			}
			value, err := attribute.content(tag)
			if err != nil {
				return nil, err
			}
			attributes = append(attributes, AttributeTypeAndValue{Type: oid, Value: string(value)})
		}
	}
	return attributes, nil
}

// timeValue decodes a Time, which DER encodes as UTCTime up to 2049
// and as GeneralizedTime from 2050 on.
func (c *derCursor) timeValue() (time.Time, error) {
	tag, err := c.peek()
	if err != nil {
		return time.Time{}, err
	}
	switch tag {
	case tagUTCTime:
		content, err := c.content(tagUTCTime)
		if err != nil {
			return time.Time{}, err
		}
		return parseUTCTime(string(content))
	case tagGeneralizedTime:
		content, err := c.content(tagGeneralizedTime)
		if err != nil {
			return time.Time{}, err
		}
		parsed, err := time.Parse("20060102150405Z0700", string(content))
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: bad generalized time %q", ErrMalformedEncoding, content)
		}
		return parsed, nil
	}
	return time.Time{}, fmt.Errorf("%w: identifier 0x%02x where a time was expected", ErrMalformedEncoding, tag)
}

func parseUTCTime(s string) (time.Time, error) {
	parsed, err := time.Parse("060102150405Z0700", s)
	if err != nil {
		parsed, err = time.Parse("0601021504Z0700", s)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad UTC time %q", ErrMalformedEncoding, s)
	}
	// UTCTime cannot express years from 2050 on, two digit years wrap
	// around to the earlier century
	if parsed.Year() >= 2050 {
		parsed = parsed.AddDate(-100, 0, 0)
	}
	return parsed, nil
}

// smallInt decodes an INTEGER expected to fit an int, such as the
// version field.
func (c *derCursor) smallInt() (int, error) {
	content, err := c.content(tagInteger)
	if err != nil {
		return 0, err
	}
	if len(content) == 0 {
		return 0, fmt.Errorf("%w: empty integer", ErrMalformedEncoding)
	}
	if len(content) > 4 {
		return 0, fmt.Errorf("%w: %d octet integer where a small value was expected",
			ErrUnsupportedEncoding, len(content))
	}

	value := 0
	for _, octet := range content {
		value = value<<8 | int(octet)
	}
	return value, nil
}
