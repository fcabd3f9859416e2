package importer

import (
	"github.com/iota-uz/exam-scheduler/modules/importer/presentation/controllers"
	"github.com/iota-uz/exam-scheduler/modules/importer/services"
	"github.com/iota-uz/exam-scheduler/pkg/application"
)

type ModuleOptions struct {
	Import        services.Options
	MaxUploadSize int64
}

func NewModule(opts ModuleOptions) application.Module {
	return &Module{opts: opts}
}

type Module struct {
	opts ModuleOptions
}

func (m *Module) Register(app application.Application) error {
	if app.DB() == nil {
		return errNoPool
	}
	app.RegisterServices(
		services.NewImportService(app.DB(), m.opts.Import),
	)
	app.RegisterControllers(
		controllers.NewImportController(app, m.opts.MaxUploadSize),
	)
	return nil
}

func (m *Module) Name() string {
	return "importer"
}
