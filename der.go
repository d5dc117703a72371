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
)

const (
	// Identifier octets for the fields the certificate walker expects.
	constructedSequence = 0x20 | asn1.TagSequence
	constructedSet      = 0x20 | asn1.TagSet
	contextZero         = 0xa0 // the explicit [0] version tag

	tagInteger         = asn1.TagInteger
	tagBitString       = asn1.TagBitString
	tagOID             = asn1.TagOID
	tagUTCTime         = asn1.TagUTCTime
	tagGeneralizedTime = asn1.TagGeneralizedTime

	longFormMask    = 0x80
	maxLengthOctets = 4
)

// A derCursor walks TLV elements in a DER encoded buffer between off
// and end. Entering a constructed element yields a new cursor bounded
// by that element, so a length that runs past its enclosing structure
// is always caught.
type derCursor struct {
	buf []byte
	off int
	end int
}

func newCursor(buf []byte) derCursor {
	return derCursor{buf: buf, off: 0, end: len(buf)}
}

// done reports whether the cursor has consumed its whole region.
func (c *derCursor) done() bool {
	return c.off >= c.end
}

// peek returns the identifier octet at the cursor without moving it.
func (c *derCursor) peek() (byte, error) {
	if c.off >= c.end {
		return 0, fmt.Errorf("%w: unexpected end of data at offset %d", ErrMalformedEncoding, c.off)
	}
	return c.buf[c.off], nil
}

// length decodes the length octets starting at off and returns the
// content length together with the offset of the first content octet.
// Both short form and long form lengths are handled. Indefinite
// lengths, lengths wider than maxLengthOctets and long forms that
// should have been short belong to encodings outside the DER subset.
func (c *derCursor) length(off int) (int, int, error) {
	if off >= c.end {
		return 0, 0, fmt.Errorf("%w: truncated length at offset %d", ErrMalformedEncoding, off)
	}
	first := c.buf[off]
	off++
	if first&longFormMask == 0 {
		return int(first), off, nil
	}

	numOctets := int(first &^ longFormMask)
	if numOctets == 0 {
		return 0, 0, fmt.Errorf("%w: indefinite length at offset %d", ErrUnsupportedEncoding, off-1)
	}
	if numOctets > maxLengthOctets {
		return 0, 0, fmt.Errorf("%w: %d length octets at offset %d", ErrUnsupportedEncoding, numOctets, off-1)
	}
	if off+numOctets > c.end {
		return 0, 0, fmt.Errorf("%w: truncated length at offset %d", ErrMalformedEncoding, off-1)
	}

	var length uint32
	for i := 0; i < numOctets; i++ {
		length = length<<8 | uint32(c.buf[off+i])
	}
	if length < 0x80 || (numOctets > 1 && c.buf[off] == 0) {
		return 0, 0, fmt.Errorf("%w: non minimal length at offset %d", ErrUnsupportedEncoding, off-1)
	}
	if length > math.MaxInt32 {
		return 0, 0, fmt.Errorf("%w: length %d out of range at offset %d", ErrUnsupportedEncoding, length, off-1)
	}
	return int(length), off + numOctets, nil
}

// header decodes the identifier and length octets of the element at the
// cursor without moving it. It returns the identifier octet, the offset
// of the first content octet and the content length.
func (c *derCursor) header() (byte, int, int, error) {
	tag, err := c.peek()
	if err != nil {
		return 0, 0, 0, err
	}
	if tag&0x1f == 0x1f {
		return 0, 0, 0, fmt.Errorf("%w: multi byte tag at offset %d", ErrUnsupportedEncoding, c.off)
	}
	length, contentOff, err := c.length(c.off + 1)
	if err != nil {
		return 0, 0, 0, err
	}
	if length > c.end-contentOff {
		return 0, 0, 0, fmt.Errorf("%w: element at offset %d overruns its enclosing structure",
			ErrMalformedEncoding, c.off)
	}
	return tag, contentOff, length, nil
}

// expect decodes the element at the cursor and checks its identifier
// octet against want.
func (c *derCursor) expect(want byte) (int, int, error) {
	tag, contentOff, length, err := c.header()
	if err != nil {
		return 0, 0, err
	}
	if tag != want {
		return 0, 0, fmt.Errorf("%w: identifier 0x%02x at offset %d where 0x%02x was expected",
			ErrMalformedEncoding, tag, c.off, want)
	}
	return contentOff, length, nil
}

// skip moves the cursor past the element at the cursor.
func (c *derCursor) skip(want byte) error {
	contentOff, length, err := c.expect(want)
	if err != nil {
		return err
	}
	c.off = contentOff + length
	return nil
}

// content returns the content octets of the element at the cursor and
// moves past it.
func (c *derCursor) content(want byte) ([]byte, error) {
	contentOff, length, err := c.expect(want)
	if err != nil {
		return nil, err
	}
	c.off = contentOff + length
	return c.buf[contentOff:c.off], nil
}

// span returns the full encoding of the element at the cursor,
// identifier and length octets included, and moves past it.
func (c *derCursor) span(want byte) ([]byte, error) {
	start := c.off
	contentOff, length, err := c.expect(want)
	if err != nil {
		return nil, err
	}
	c.off = contentOff + length
	return c.buf[start:c.off], nil
}

// enter moves the cursor past the constructed element at the cursor and
// returns a new cursor bounded to its content octets.
func (c *derCursor) enter(want byte) (derCursor, error) {
	contentOff, length, err := c.expect(want)
	if err != nil {
		return derCursor{}, err
	}
	c.off = contentOff + length
	return derCursor{buf: c.buf, off: contentOff, end: contentOff + length}, nil
}

// bitString decodes a BIT STRING and returns its contents. Only octet
// aligned strings are handled, which covers every key and signature
// field a certificate carries.
func (c *derCursor) bitString() ([]byte, error) {
	content, err := c.content(tagBitString)
	if err != nil {
		return nil, err
	}
	if len(content) == 0 {
		return nil, fmt.Errorf("%w: empty bit string", ErrMalformedEncoding)
	}
	if content[0] != 0 {
		return nil, fmt.Errorf("%w: bit string with %d unused bits", ErrUnsupportedEncoding, content[0])
	}
	return content[1:], nil
}

// SubjectPublicKeyInfo returns the subjectPublicKeyInfo field of a DER
// encoded X.509 certificate, identifier and length octets included.
// The returned slice aliases der, nothing is copied or re-encoded.
//
// The walker descends into the TBSCertificate and steps over the fixed
// run of fields that precede the public key: the optional [0] version,
// the serial number, the signature algorithm, issuer, validity and
// subject. Nothing after the located field is inspected.
func SubjectPublicKeyInfo(der []byte) ([]byte, error) {
	cert := newCursor(der)

	body, err := cert.enter(constructedSequence) // Certificate
	if err != nil {
		return nil, err
	}

	tbs, err := body.enter(constructedSequence) // TBSCertificate
	if err != nil {
		return nil, err
	}

	// v1 certificates omit the version field entirely since DER drops
	// values equal to their DEFAULT, so only skip it when the context
	// tag is actually there.
	tag, err := tbs.peek()
	if err != nil {
		return nil, err
	}
	if tag == contextZero {
		if err := tbs.skip(contextZero); err != nil {
			return nil, err
		}
	}

	if err := tbs.skip(tagInteger); err != nil { // serialNumber
		return nil, err
	}

	// signature, issuer, validity and subject all precede the key
	for i := 0; i < 4; i++ {
		if err := tbs.skip(constructedSequence); err != nil {
			return nil, err
		}
	}

	return tbs.span(constructedSequence)
}

// PublicKey returns the raw subjectPublicKey bits of a DER encoded
// X.509 certificate, with the bit string's leading unused bits octet
// stripped. For an EC certificate this is the encoded curve point, for
// RSA the DER of the RSAPublicKey structure.
func PublicKey(der []byte) ([]byte, error) {
	span, err := SubjectPublicKeyInfo(der)
	if err != nil {
		return nil, err
	}

	outer := newCursor(span)
	spki, err := outer.enter(constructedSequence)
	if err != nil {
		return nil, err
	}
	if err := spki.skip(constructedSequence); err != nil { // algorithm
		return nil, err
	}
	return spki.bitString()
}
