package proxy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoinFetchBothSucceed(t *testing.T) {
	v, err := JoinFetch(42, nil, nil)
	assert.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestJoinFetchIgnoresBrokenPipeFromDriver(t *testing.T) {
	workerErr := errors.New("boom")
	driverErr := errors.New("write: broken pipe")
	_, err := JoinFetch(0, workerErr, driverErr)
	assert.Equal(t, workerErr, err)
}

func TestJoinFetchCombinesUnrelatedFailures(t *testing.T) {
	workerErr := errors.New("boom")
	driverErr := errors.New("registry timeout")
	_, err := JoinFetch(0, workerErr, driverErr)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "registry timeout")
	assert.Contains(t, err.Error(), "boom")
}

func TestJoinFetchDriverOnlyFailure(t *testing.T) {
	driverErr := errors.New("registry timeout")
	_, err := JoinFetch(0, nil, driverErr)
	assert.Equal(t, driverErr, err)
}

func TestJoinFetchWorkerOnlyFailure(t *testing.T) {
	workerErr := errors.New("boom")
	_, err := JoinFetch(0, workerErr, nil)
	assert.Equal(t, workerErr, err)
}
