package batch

import (
	"github.com/MeKo-Tech/omr/internal/pipeline"
)

// buildPipeline creates a grading pipeline from the batch configuration.
func buildPipeline(config *Config) (*pipeline.Pipeline, error) {
	return pipeline.NewBuilderFromConfig(config.Pipeline).
		WithWorkers(config.Workers).
		Build()
}

// progressCallback picks the reporter for a run: a console bar when
// progress is shown, periodic log lines otherwise.
func progressCallback(config *Config) pipeline.ProgressCallback {
	switch {
	case config.Quiet:
		return pipeline.NoOpProgressCallback{}
	case config.ShowProgress:
		return pipeline.NewConsoleProgressCallback(progressOutput, "Grading: ").
			WithUpdateInterval(config.ProgressInterval)
	default:
		return pipeline.NewLogProgressCallback(nil, 50)
	}
}
