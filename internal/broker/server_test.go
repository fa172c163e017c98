// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package broker

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

var sessionIDPattern = regexp.MustCompile(`^sonj_[0-9]+_[0-9a-z]{6}$`)

func TestNewSessionID_MatchesExpectedFormat(t *testing.T) {
	id := newSessionID()
	assert.Regexp(t, sessionIDPattern, id)
}

func TestNewSessionID_IsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := newSessionID()
		assert.False(t, seen[id], "duplicate session id %s", id)
		seen[id] = true
	}
}
