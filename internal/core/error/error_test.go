package errx

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{"no results", NoResults(), http.StatusNotFound, NoResultsMessage},
		{"wrapped no results", fmt.Errorf("retrieve: %w", NoResults()), http.StatusNotFound, NoResultsMessage},
		{"validation", Validation("bad file"), http.StatusBadRequest, "bad file"},
		{"store", WrapStore(errors.New("dial tcp")), http.StatusBadGateway, StoreErrorMessage},
		{"redis nil", WrapRedis(redis.Nil), http.StatusNotFound, RedisNotFoundMessage},
		{"redis other", WrapRedis(errors.New("conn reset")), http.StatusBadGateway, RedisErrorMessage},
		{"plain", errors.New("boom"), http.StatusInternalServerError, SystemErrorMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, msg := StatusOf(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantMsg, msg)
		})
	}
}

func TestSentinelMatching(t *testing.T) {
	assert.ErrorIs(t, NoResults(), ErrNoResults)
	assert.ErrorIs(t, fmt.Errorf("outer: %w", NoResults()), ErrNoResults)
	assert.ErrorIs(t, Validation("x"), ErrValidation)
	assert.NotErrorIs(t, WrapStore(errors.New("x")), ErrNoResults)
}

func TestWrapStoreKeepsAppError(t *testing.T) {
	inner := NoResults()
	assert.Same(t, inner, WrapStore(inner))
	assert.Nil(t, WrapStore(nil))
	assert.Nil(t, WrapModel(nil))
}
