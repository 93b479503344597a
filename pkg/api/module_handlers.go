package api

import (
	"net/http"
	"sort"

	"github.com/gorilla/mux"

	"github.com/debjordan/ModuleHeatmap/pkg/analytics"
	"github.com/debjordan/ModuleHeatmap/pkg/httputil"
	"github.com/debjordan/ModuleHeatmap/pkg/observability"
	"github.com/debjordan/ModuleHeatmap/pkg/validation"
)

const maxModuleNameLength = 100

// ModuleHandlers manages the module registry.
type ModuleHandlers struct {
	registry analytics.ModuleRegistry
	logger   *observability.Logger
}

// NewModuleHandlers creates registry handlers.
func NewModuleHandlers(registry analytics.ModuleRegistry, logger *observability.Logger) *ModuleHandlers {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &ModuleHandlers{registry: registry, logger: logger}
}

// RegisterRoutes registers module registry routes
func (h *ModuleHandlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/applications/{applicationId}/modules", h.listModules).Methods(http.MethodGet)
	r.HandleFunc("/api/applications/{applicationId}/modules/{moduleName}", h.upsertModule).Methods(http.MethodPut)
}

// listModules handles GET /api/applications/{applicationId}/modules
func (h *ModuleHandlers) listModules(w http.ResponseWriter, r *http.Request) {
	appID, ok := httputil.ParsePathStringOrError(w, r, "applicationId")
	if !ok {
		return
	}

	descriptors, err := h.registry.ListModuleDescriptors(r.Context(), appID)
	if err != nil {
		httputil.RequestLogger(r, h.logger).WithError(err).Error("failed to list modules")
		httputil.WriteServiceUnavailable(w, "module registry unavailable")
		return
	}
	sort.Slice(descriptors, func(i, j int) bool { return descriptors[i].Name < descriptors[j].Name })

	resp := ModuleListResponse{
		ApplicationID: appID,
		Modules:       make([]ModuleDescriptorDTO, 0, len(descriptors)),
		Count:         len(descriptors),
	}
	for _, d := range descriptors {
		resp.Modules = append(resp.Modules, toDescriptorDTO(d))
	}
	httputil.WriteSuccess(w, resp)
}

// upsertModule handles PUT /api/applications/{applicationId}/modules/{moduleName}
func (h *ModuleHandlers) upsertModule(w http.ResponseWriter, r *http.Request) {
	appID, ok := httputil.ParsePathStringOrError(w, r, "applicationId")
	if !ok {
		return
	}
	name, ok := httputil.ParsePathStringOrError(w, r, "moduleName")
	if !ok {
		return
	}
	if len(name) > maxModuleNameLength {
		httputil.WriteBadRequest(w, "module_name must be at most 100 characters")
		return
	}

	var req UpsertModuleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if errs := validation.Struct(req); len(errs) > 0 {
		httputil.WriteValidationErrors(w, validation.Messages(errs))
		return
	}

	descriptor := toModuleDescriptor(appID, name, req)
	if err := h.registry.UpsertModuleDescriptor(r.Context(), descriptor); err != nil {
		httputil.RequestLogger(r, h.logger).WithError(err).WithField("module", name).Error("failed to upsert module")
		httputil.WriteServiceUnavailable(w, "module registry unavailable")
		return
	}

	stored, err := h.registry.FetchModuleDescriptor(r.Context(), appID, name)
	if err != nil || stored == nil {
		httputil.WriteSuccess(w, toDescriptorDTO(*descriptor))
		return
	}
	httputil.WriteSuccess(w, toDescriptorDTO(*stored))
}
