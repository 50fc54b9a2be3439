package main

import (
	"github.com/hupe1980/agentgraph/agent"
	"github.com/hupe1980/agentgraph/model"
)

// validationModels satisfies agent construction without contacting a
// provider; validation never calls the model.
func validationModels(cfg agent.Config) (model.Model, error) {
	return model.NewMockModel(cfg.Model, cfg.Provider), nil
}
