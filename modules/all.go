// Package modules lists the component namespaces compiled into trainspec.
package modules

import (
	"github.com/vk/trainspec/internal/registry"
	"github.com/vk/trainspec/modules/data"
	"github.com/vk/trainspec/modules/genomics"
	"github.com/vk/trainspec/modules/losses"
	"github.com/vk/trainspec/modules/metrics"
	"github.com/vk/trainspec/modules/nn"
	"github.com/vk/trainspec/modules/optim"
	"github.com/vk/trainspec/modules/training"
)

// All returns one instance of every built-in module.
func All() []registry.Module {
	return []registry.Module{
		&data.Module{},
		&genomics.Module{},
		&losses.Module{},
		&metrics.Module{},
		&nn.Module{},
		&optim.Module{},
		&training.Module{},
	}
}
