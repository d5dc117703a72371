/*
 * Copyright (c) 2025-2026 Joe Siltberg
 *
 * You should have received a copy of the MIT license along with this project.
 * If not, see <https://opensource.org/licenses/MIT>.
 */

package pinlist

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
)

func verify(signed, jwks []byte) (*PinList, error) {
	keyset, err := jwk.Parse(jwks)

	if err != nil {
		return nil, fmt.Errorf("Failed to parse JWKS: %v", err)
	}

	message, err := jws.Parse(signed)
	if err != nil {
		return nil, fmt.Errorf("Failed to parse JWS: %v", err)
	}

	payload, err := jws.Verify(signed,
		jws.WithKeySet(keyset, jws.WithInferAlgorithmFromKey(true), jws.WithRequireKid(false)))

	if err != nil {
		return nil, fmt.Errorf("Failed to verify JWS: %v", err)
	}

	if expstr, ok := message.Signatures()[0].ProtectedHeaders().Get("exp"); ok {
		exp := time.Unix(int64(expstr.(float64)), 0)

		if time.Now().After(exp) {
			return nil, fmt.Errorf("Pin list expired at %v, current time: %v", exp, time.Now())
		}
	}

	var result PinList

	err = json.Unmarshal(payload, &result)

	if err != nil {
		return nil, err
	}

	return &result, nil
}
