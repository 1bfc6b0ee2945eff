// Package classify maps proxied MLflow calls to human-readable labels.
package classify

import (
	"fmt"
	"net/http"
	"strings"
)

const (
	trackingPrefix       = "/api/2.0/mlflow"
	registeredModelsPath = "/api/2.0/preview/mlflow/registered-models"
	modelVersionsPath    = "/api/2.0/preview/mlflow/model-versions"
)

// Fixed classification labels.
const (
	CreateRun        = "MLflow Tracking: Create Run"
	GetRun           = "MLflow Tracking: Get Run"
	UpdateRun        = "MLflow Tracking: Update Run"
	LogMetrics       = "MLflow Tracking: Log Metrics"
	LogParameters    = "MLflow Tracking: Log Parameters"
	LogTags          = "MLflow Tracking: Log Tags"
	LogArtifact      = "MLflow Tracking: Log Artifact"
	GetArtifact      = "MLflow Tracking: Get Artifact"
	CreateExperiment = "MLflow Tracking: Create Experiment"
	GetExperiment    = "MLflow Tracking: Get Experiment"
	UpdateExperiment = "MLflow Tracking: Update Experiment"
	TrackingAPI      = "MLflow Tracking API"

	CreateModel   = "MLflow Registry: Create Model"
	GetModel      = "MLflow Registry: Get Model"
	RegistryAPI   = "MLflow Registry API"
	ModelVersions = "MLflow Registry: Model Versions"
)

var known = map[string]bool{
	CreateRun: true, GetRun: true, UpdateRun: true,
	LogMetrics: true, LogParameters: true, LogTags: true,
	LogArtifact: true, GetArtifact: true,
	CreateExperiment: true, GetExperiment: true, UpdateExperiment: true,
	TrackingAPI: true,
	CreateModel: true, GetModel: true, RegistryAPI: true, ModelVersions: true,
}

// Classify returns the label for a request. Rules are checked in order and
// the first match wins; anything unrecognized gets a label built from the
// method and path.
func Classify(path, method string) string {
	switch {
	case strings.Contains(path, trackingPrefix):
		return classifyTracking(path, method)
	case strings.Contains(path, registeredModelsPath):
		switch method {
		case http.MethodPost:
			return CreateModel
		case http.MethodGet:
			return GetModel
		}
		return RegistryAPI
	case strings.Contains(path, modelVersionsPath):
		return ModelVersions
	}
	return fmt.Sprintf("MLflow API: %s %s", method, path)
}

func classifyTracking(path, method string) string {
	switch {
	case strings.Contains(path, "/runs/"):
		switch method {
		case http.MethodPost:
			return CreateRun
		case http.MethodGet:
			return GetRun
		case http.MethodPatch:
			return UpdateRun
		}
	case strings.Contains(path, "/metrics/"):
		return LogMetrics
	case strings.Contains(path, "/params/"):
		return LogParameters
	case strings.Contains(path, "/tags/"):
		return LogTags
	case strings.Contains(path, "/artifacts/"):
		if method == http.MethodPost {
			return LogArtifact
		}
		return GetArtifact
	case strings.Contains(path, "/experiments/"):
		switch method {
		case http.MethodPost:
			return CreateExperiment
		case http.MethodGet:
			return GetExperiment
		case http.MethodPatch:
			return UpdateExperiment
		}
	}
	return TrackingAPI
}

// Known reports whether label is one of the fixed labels rather than a
// fallback built from a raw path.
func Known(label string) bool {
	return known[label]
}
