// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateConfigAcceptsWellFormedConfig(t *testing.T) {
	raw := []byte(`{"addr": "nats://localhost:4222", "team-size": 8}`)
	assert.NoError(t, validateConfig(raw))
}

func TestValidateConfigRejectsWrongFieldType(t *testing.T) {
	raw := []byte(`{"team-size": "eight"}`)
	assert.Error(t, validateConfig(raw))
}

func TestValidateConfigRejectsNonPositiveTeamSize(t *testing.T) {
	raw := []byte(`{"team-size": 0}`)
	assert.Error(t, validateConfig(raw))
}
