package app

import (
	"github.com/vk/rankgrid/internal/registry"
	"github.com/vk/rankgrid/modules/busy_cpu"
	"github.com/vk/rankgrid/modules/candidates"
	"github.com/vk/rankgrid/modules/concat"
	"github.com/vk/rankgrid/modules/filter"
	"github.com/vk/rankgrid/modules/fixed_source"
	"github.com/vk/rankgrid/modules/follow"
	"github.com/vk/rankgrid/modules/hydrate"
	"github.com/vk/rankgrid/modules/media"
	printop "github.com/vk/rankgrid/modules/print"
	"github.com/vk/rankgrid/modules/recommendation"
	"github.com/vk/rankgrid/modules/remote_score"
	"github.com/vk/rankgrid/modules/sleep"
	sortop "github.com/vk/rankgrid/modules/sort"
	"github.com/vk/rankgrid/modules/take"
	"github.com/vk/rankgrid/modules/viewer"
	"github.com/vk/rankgrid/modules/viewer_fetch_cached_recommendation"
	"github.com/vk/rankgrid/modules/viewer_follow"
	"github.com/vk/rankgrid/modules/vm"
)

// coreModules is the definitive list of all operator modules compiled into
// the rankgrid binary.
var coreModules = []registry.Module{
	&fixed_source.Module{},
	&candidates.Module{},
	&sleep.Module{},
	&filter.Module{},
	&vm.Module{},
	&sortop.Module{},
	&take.Module{},
	&concat.Module{},
	&follow.Module{},
	&viewer.Module{},
	&viewer_follow.Module{},
	&viewer_fetch_cached_recommendation.Module{},
	&recommendation.Module{},
	&media.Module{},
	&hydrate.Module{},
	&remote_score.Module{},
	&printop.Module{},
	&busy_cpu.Module{},
}
