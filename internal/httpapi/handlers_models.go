package httpapi

import (
	"net/http"

	"github.com/raeburn-ai/raeburn/internal/providers"
	"github.com/raeburn-ai/raeburn/internal/registry"
)

// ModelStatus is one registry entry joined with its adapter's live health.
type ModelStatus struct {
	registry.Descriptor
	Health providers.HealthSnapshot `json:"health"`
}

// ModelsResponse is the JSON body returned by GET /v1/models.
type ModelsResponse struct {
	Count  int           `json:"count"`
	Models []ModelStatus `json:"models"`
}

// ModelsHandler lists every registry model with its health snapshot.
func ModelsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		descriptors := d.Registry.Models()
		models := make([]ModelStatus, 0, len(descriptors))
		for _, desc := range descriptors {
			models = append(models, ModelStatus{
				Descriptor: *desc,
				Health:     d.Registry.AdapterFor(desc).Health(),
			})
		}
		writeJSON(w, ModelsResponse{Count: len(models), Models: models})
	}
}

// ModelsProbeHandler health-probes every model and reports pass/fail per
// name. Probes call upstream providers, so this endpoint is a POST.
func ModelsProbeHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := d.Registry.ProbeAll(r.Context())
		writeJSON(w, map[string]any{"count": len(results), "results": results})
	}
}
