package main

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestFailure(t *testing.T) {
	defer func(prev bool) { noColor = prev }(noColor)

	t.Run("no color prints plain text", func(t *testing.T) {
		noColor = true

		var buf bytes.Buffer
		failure(&buf, errors.New("could not connect"))

		assert.Equal(t, "schemata: could not connect\n", buf.String())
	})

	t.Run("colored output wraps the prefix in escape codes", func(t *testing.T) {
		noColor = false

		var buf bytes.Buffer
		failure(&buf, errors.New("could not connect"))

		assert.Contains(t, buf.String(), "\x1b[")
		assert.Contains(t, buf.String(), "could not connect")
	})
}
