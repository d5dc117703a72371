/*
 * Copyright (c) 2025-2026 Joe Siltberg
 *
 * You should have received a copy of the MIT license along with this project.
 * If not, see <https://opensource.org/licenses/MIT>.
 */

package certpin

import "errors"

// The two failure classes for certificate decoding, distinguished with
// errors.Is. ErrMalformedEncoding means the input violates DER structure
// (unexpected identifier, truncated element, length running past the
// enclosing structure). ErrUnsupportedEncoding means a construct that is
// recognized but outside the DER subset this package handles, such as
// indefinite lengths or lengths wider than four octets.
var (
	ErrMalformedEncoding   = errors.New("certpin: malformed DER encoding")
	ErrUnsupportedEncoding = errors.New("certpin: unsupported DER encoding")
)
