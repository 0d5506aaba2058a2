package main

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	pipeerrs "github.com/sifangyu/weipc/internal/core/errors"
)

func TestExitCodeFor_CredentialsExpiredMapsToTwo(t *testing.T) {
	logger := zerolog.Nop()
	err := fmt.Errorf("discover articles: %w", pipeerrs.ErrCredentialsExpired)

	assert.Equal(t, exitCredentialsExpired, exitCodeFor(err, &logger))
}

func TestExitCodeFor_RateLimitedMapsToThree(t *testing.T) {
	logger := zerolog.Nop()
	err := fmt.Errorf("fetch page: %w", pipeerrs.ErrRateLimited)

	assert.Equal(t, exitRateLimited, exitCodeFor(err, &logger))
}

func TestExitCodeFor_OtherErrorMapsToGenericFailure(t *testing.T) {
	logger := zerolog.Nop()
	err := fmt.Errorf("database error: %w", pipeerrs.ErrDatabase)

	assert.Equal(t, exitGenericFailure, exitCodeFor(err, &logger))
}
