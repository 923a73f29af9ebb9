package models

import (
	"testing"

	"github.com/gin-gonic/gin/binding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunRoundRequestBindingValidatesElements(t *testing.T) {
	var req RunRoundRequest
	err := binding.JSON.BindBody([]byte(`{"epoch":1,"updates":[{"client_id":0,"sample_count":5}]}`), &req)
	assert.Error(t, err, "an update without a model must fail element validation")

	req = RunRoundRequest{}
	err = binding.JSON.BindBody([]byte(`{"epoch":1,"updates":[{"client_id":0,"sample_count":0,"model":{"layer":{"shape":[1],"data":[2.5]}}}]}`), &req)
	require.NoError(t, err, "a zero sample count is valid")
	require.Len(t, req.Updates, 1)
}

func TestToClientUpdate(t *testing.T) {
	req := ClientUpdateRequest{
		ClientID:    3,
		Model:       map[string]TensorRequest{"layer": {Shape: []int{2}, Data: []float64{1, 2}}},
		SampleCount: 0,
	}

	update, err := req.ToClientUpdate()
	require.NoError(t, err)
	assert.Equal(t, 3, update.ClientID)
	assert.Equal(t, []float64{1, 2}, update.Model["layer"].Data)

	req.SampleCount = -1
	_, err = req.ToClientUpdate()
	assert.Error(t, err, "negative sample counts must be rejected")

	req.SampleCount = 1
	req.Model = map[string]TensorRequest{"layer": {Shape: []int{3}, Data: []float64{1, 2}}}
	_, err = req.ToClientUpdate()
	assert.Error(t, err, "shape and data length must agree")
}
