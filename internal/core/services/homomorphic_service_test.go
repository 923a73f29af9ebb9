package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHomomorphicRoundTrip(t *testing.T) {
	svc := NewHomomorphicService()

	first := testGradients(1.0, 2.0)
	second := testGradients(3.0, 4.0)

	summed, err := svc.AggregateEncrypted([]map[string][]int64{
		svc.Encrypt(first),
		svc.Encrypt(second),
	})
	require.NoError(t, err)

	shapes := map[string][]int{"layer": {2}}
	decoded, err := svc.Decrypt(summed, shapes, 2)
	require.NoError(t, err)

	assert.InDelta(t, 2.0, decoded["layer"].Data[0], 1e-5)
	assert.InDelta(t, 3.0, decoded["layer"].Data[1], 1e-5)
}

func TestHomomorphicAggregateEmpty(t *testing.T) {
	svc := NewHomomorphicService()

	_, err := svc.AggregateEncrypted(nil)
	assert.Error(t, err)
}

func TestHomomorphicDecryptValidation(t *testing.T) {
	svc := NewHomomorphicService()
	encrypted := svc.Encrypt(testGradients(1.0))

	_, err := svc.Decrypt(encrypted, map[string][]int{"layer": {1}}, 0)
	assert.Error(t, err)

	_, err = svc.Decrypt(encrypted, map[string][]int{}, 1)
	assert.Error(t, err)
}
