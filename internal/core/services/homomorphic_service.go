package services

import (
	"fmt"

	"github.com/sentinelmesh/fedagg/internal/core/models"
	"github.com/sentinelmesh/fedagg/pkg/gologger"
)

// HomomorphicService is a structural placeholder for aggregation over
// encrypted updates. Values are scaled to fixed-point integers and summed;
// there is no actual encryption. Not for production use.
type HomomorphicService struct {
	scale float64
}

func NewHomomorphicService() *HomomorphicService {
	log := gologger.WithComponent("homomorphic")
	log.Warn().Msg("Homomorphic aggregation is a placeholder and provides no confidentiality")
	return &HomomorphicService{scale: 1e6}
}

// Encrypt converts a model to fixed-point representation.
func (h *HomomorphicService) Encrypt(model models.ModelState) map[string][]int64 {
	encrypted := make(map[string][]int64, len(model))
	for key, tensor := range model {
		values := make([]int64, len(tensor.Data))
		for i, v := range tensor.Data {
			values[i] = int64(v * h.scale)
		}
		encrypted[key] = values
	}
	return encrypted
}

// AggregateEncrypted sums fixed-point models element-wise without decoding.
func (h *HomomorphicService) AggregateEncrypted(encrypted []map[string][]int64) (map[string][]int64, error) {
	if len(encrypted) == 0 {
		return nil, fmt.Errorf("no encrypted models to aggregate")
	}

	sum := make(map[string][]int64, len(encrypted[0]))
	for key, values := range encrypted[0] {
		out := make([]int64, len(values))
		copy(out, values)
		sum[key] = out
	}

	for _, model := range encrypted[1:] {
		for key, values := range model {
			dst, ok := sum[key]
			if !ok || len(dst) != len(values) {
				return nil, fmt.Errorf("encrypted model structure mismatch on layer %q", key)
			}
			for i, v := range values {
				dst[i] += v
			}
		}
	}
	return sum, nil
}

// Decrypt decodes a summed fixed-point model back to floats, dividing by
// numClients to recover the average.
func (h *HomomorphicService) Decrypt(encrypted map[string][]int64, shapes map[string][]int, numClients int) (models.ModelState, error) {
	if numClients <= 0 {
		return nil, fmt.Errorf("numClients must be positive, got %d", numClients)
	}

	model := make(models.ModelState, len(encrypted))
	for key, values := range encrypted {
		shape, ok := shapes[key]
		if !ok {
			return nil, fmt.Errorf("missing shape for layer %q", key)
		}
		tensor, err := models.NewTensor(shape, make([]float64, len(values)))
		if err != nil {
			return nil, fmt.Errorf("layer %q: %w", key, err)
		}
		for i, v := range values {
			tensor.Data[i] = float64(v) / h.scale / float64(numClients)
		}
		model[key] = tensor
	}
	return model, nil
}
