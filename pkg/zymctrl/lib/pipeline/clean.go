// Copyright 2025 Latch Bio, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pipeline

import (
	"errors"
	"strings"

	"github.com/latchbio/zymctrl/pkg/zymctrl/lib/tokenizers"
)

// ErrNoSeparator marks a decoded candidate that lacks the <sep> marker
// between the label echo and the generated payload. Callers drop the single
// candidate and continue the batch.
var ErrNoSeparator = errors.New("decoded text has no <sep> marker")

// Clean extracts the protein sequence from a decoded candidate. The text is
// expected to read "<label><sep><payload>"; everything before the first
// <sep> is the label echo and is discarded, then every structural token
// occurrence is stripped from the payload.
func Clean(decoded string) (string, error) {
	_, payload, found := strings.Cut(decoded, tokenizers.TokenSep)
	if !found {
		return "", ErrNoSeparator
	}
	for _, tok := range tokenizers.StructuralTokens() {
		payload = strings.ReplaceAll(payload, tok, "")
	}
	return payload, nil
}
